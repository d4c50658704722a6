// Package channels implements the Channel Registry, Channel-to-Peer
// Binding, and Watch List of spec §4.4, grounded on the teacher's
// channeldb package: a cache rebuilt whole on each refresh (channeldb's
// FetchAllChannels pattern), never mutated entity-by-entity.
package channels

import (
	"context"
	"sync"

	"github.com/lnrebalance/rebalanced/lnclient"
	"github.com/lnrebalance/rebalanced/rerrors"
)

// View is the current cache of LN channels (spec §3 Channel View). A
// refresh always replaces the view wholesale; no entity survives a refresh
// by identity, so callers that suspend across an await must re-read rather
// than cache a pointer (spec §5).
type View struct {
	mu     sync.RWMutex
	byID   map[string]*lnclient.Channel
}

// NewView creates an empty channel view.
func NewView() *View {
	return &View{byID: make(map[string]*lnclient.Channel)}
}

// Refresh asks the LN collaborator for the current channel list and
// replaces the cached view in full (spec §4.4).
func (v *View) Refresh(ctx context.Context, client lnclient.Client) error {
	chans, err := client.GetChannels(ctx)
	if err != nil {
		return rerrors.Collaborator(err)
	}

	byID := make(map[string]*lnclient.Channel, len(chans))
	for _, c := range chans {
		byID[c.ID] = c
	}

	v.mu.Lock()
	v.byID = byID
	v.mu.Unlock()

	return nil
}

// Get returns the channel with the given id from the current view.
func (v *View) Get(id string) (*lnclient.Channel, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	c, ok := v.byID[id]
	return c, ok
}

// Contains reports whether id is present in the current view.
func (v *View) Contains(id string) bool {
	_, ok := v.Get(id)
	return ok
}

// All returns a snapshot slice of every channel currently in the view.
func (v *View) All() []*lnclient.Channel {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]*lnclient.Channel, 0, len(v.byID))
	for _, c := range v.byID {
		out = append(out, c)
	}
	return out
}

// ByRemoteLnPubKey returns every channel in the view whose remote LN
// endpoint matches pubKey, used by the binding logic on greeting (spec
// §4.4).
func (v *View) ByRemoteLnPubKey(pubKey string) []*lnclient.Channel {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []*lnclient.Channel
	for _, c := range v.byID {
		if c.RemotePubKey == pubKey {
			out = append(out, c)
		}
	}
	return out
}
