package channels

import (
	"sync"

	"github.com/lnrebalance/rebalanced/rlog"
)

// Ownership is the Channel Ownership Record table of spec §3: at most one
// record per channelId, recording which remote mesh peer owns the far side
// of each watched channel.
type Ownership struct {
	mu      sync.Mutex
	byChan  map[string]Record
}

// Record is one Channel Ownership Record.
type Record struct {
	ChannelID      string
	RemotePeer     string // mesh public key
	RemoteLnPubKey string
}

// NewOwnership creates an empty ownership table.
func NewOwnership() *Ownership {
	return &Ownership{byChan: make(map[string]Record)}
}

// Get returns the current owner of channelID, if any.
func (o *Ownership) Get(channelID string) (Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.byChan[channelID]
	return rec, ok
}

// bind replaces any prior record for channelID with rec, last-writer-wins
// (spec §4.4 conflicting-greeting policy). Returns the previous record, if
// any, so the caller can log a replacement.
func (o *Ownership) bind(rec Record) (Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	prev, hadPrev := o.byChan[rec.ChannelID]
	o.byChan[rec.ChannelID] = rec
	return prev, hadPrev
}

// removeByPeer discards every record owned by peer and returns the
// affected channelIds, used on session teardown (spec §4.2).
func (o *Ownership) removeByPeer(peer string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var removed []string
	for id, rec := range o.byChan {
		if rec.RemotePeer == peer {
			delete(o.byChan, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// remove discards the record for channelID, if any, used when a channel
// disappears from a refreshed view.
func (o *Ownership) remove(channelID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.byChan, channelID)
}

// DiscoverOnGreeting implements spec §4.4: on a peer's hello, compute the
// intersection of {channels in the refreshed view} ∩ {channels whose
// remote LN pubkey equals the greeter's publicKey}, bind each to this
// peer (last writer wins, replacing any prior binding), and add it to the
// watch list.
func DiscoverOnGreeting(view *View, ownership *Ownership, watch *WatchList,
	greeterMeshPub, greeterLnPub string) []string {

	shared := view.ByRemoteLnPubKey(greeterLnPub)
	bound := make([]string, 0, len(shared))

	for _, c := range shared {
		rec := Record{
			ChannelID:      c.ID,
			RemotePeer:     greeterMeshPub,
			RemoteLnPubKey: greeterLnPub,
		}

		prev, hadPrev := ownership.bind(rec)
		if hadPrev && prev.RemotePeer != greeterMeshPub {
			rlog.Chan.Warnf(
				"channel %s ownership moved from peer %s to %s "+
					"on conflicting hello for LN pubkey %s",
				c.ID, prev.RemotePeer, greeterMeshPub, greeterLnPub,
			)
		}

		watch.Add(c.ID)
		bound = append(bound, c.ID)
	}

	return bound
}

// Disconnect implements the peer-churn side of spec §4.2/§4.4/invariant 5:
// when a mesh peer disconnects, every Channel Ownership Record it owned is
// removed, and the corresponding channels stop being watched.
func Disconnect(ownership *Ownership, watch *WatchList, peer string) {
	for _, channelID := range ownership.removeByPeer(peer) {
		watch.Remove(channelID)
	}
}

// Reconcile implements the Watch List side of a periodic refresh (spec
// §4.5 step 2): any watched channel missing from the now-refreshed view is
// dropped from the watch list and its ownership record removed.
func Reconcile(view *View, ownership *Ownership, watch *WatchList) (missing []string) {
	for _, channelID := range watch.All() {
		if !view.Contains(channelID) {
			watch.Remove(channelID)
			ownership.remove(channelID)
			missing = append(missing, channelID)
		}
	}
	return missing
}
