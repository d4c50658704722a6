// Package mesh implements spec §4.2: rendezvous join, the active-session
// table keyed by remote mesh public key, and outbound dispatch. It plays
// the role of the teacher's server.go peers map + newPeers/donePeers
// channels, but guards the table with one mutex rather than routing
// registration through channels. Each session dispatches from its own read
// goroutine, so handlers for different peers can run concurrently; the
// shared tables they touch (view, ownership, watch list) carry their own
// locks.
package mesh

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lnrebalance/rebalanced/channels"
	"github.com/lnrebalance/rebalanced/meshcrypto"
	"github.com/lnrebalance/rebalanced/meshpeer"
	"github.com/lnrebalance/rebalanced/meshwire"
	"github.com/lnrebalance/rebalanced/rerrors"
	"github.com/lnrebalance/rebalanced/rlog"
	"github.com/lnrebalance/rebalanced/transport"
)

// Topic derives the rendezvous topic from the cluster secret (spec §3:
// "The rendezvous topic is SHA-256(secret)").
func Topic(secret []byte) [32]byte {
	var topic [32]byte
	copy(topic[:], chainhash.HashB(secret))
	return topic
}

// Identity is the local node's mesh + LN identity, advertised in hello.
type Identity struct {
	MeshPublicKey string
	LnPublicKey   string
	Alias         string
}

// PayInvoiceHandler is called for an inbound, verified payInvoice; it
// returns the paymentResult to send back. Bound to policy.Accept by the
// top-level wiring.
type PayInvoiceHandler func(ctx context.Context, msg *meshwire.PayInvoice) *meshwire.PaymentResult

// PaymentResultHandler is called for an inbound, verified paymentResult.
// Bound to (*rebalance.Coordinator).OnPaymentResult by the top-level
// wiring.
type PaymentResultHandler func(msg *meshwire.PaymentResult)

// Mesh owns the rendezvous membership and the table of active Peer
// Sessions.
type Mesh struct {
	transport transport.Transport
	codec     *meshcrypto.Codec
	identity  Identity

	view      *channels.View
	ownership *channels.Ownership
	watch     *channels.WatchList

	onPayInvoice     PayInvoiceHandler
	onPaymentResult  PaymentResultHandler

	mu       sync.Mutex
	sessions map[string]*meshpeer.Session

	wg sync.WaitGroup
}

// New builds a Mesh. Join must be called before Dial/Send are useful.
func New(t transport.Transport, codec *meshcrypto.Codec, identity Identity,
	view *channels.View, ownership *channels.Ownership, watch *channels.WatchList,
	onPayInvoice PayInvoiceHandler, onPaymentResult PaymentResultHandler) *Mesh {

	return &Mesh{
		transport:       t,
		codec:           codec,
		identity:        identity,
		view:            view,
		ownership:       ownership,
		watch:           watch,
		onPayInvoice:    onPayInvoice,
		onPaymentResult: onPaymentResult,
		sessions:        make(map[string]*meshpeer.Session),
	}
}

// Join publishes our presence under the secret-derived rendezvous topic
// and starts accepting inbound connections (spec §4.2 "Mesh join").
func (m *Mesh) Join(secret []byte) error {
	topic := Topic(secret)
	if err := m.transport.Join(topic, m.identity.MeshPublicKey); err != nil {
		return rerrors.Transport(err)
	}

	m.wg.Add(1)
	go m.acceptLoop()
	return nil
}

// Leave tears down rendezvous membership and closes every active session
// (spec §5 Cancellation).
func (m *Mesh) Leave() error {
	err := m.transport.Leave()

	m.mu.Lock()
	sessions := make([]*meshpeer.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	m.wg.Wait()

	if err != nil {
		return rerrors.Transport(err)
	}
	return nil
}

func (m *Mesh) acceptLoop() {
	defer m.wg.Done()

	for {
		conn, err := m.transport.Accept()
		if err != nil {
			rlog.Mesh.Debugf("mesh accept loop exiting: %v", err)
			return
		}

		session := meshpeer.New(conn, m.codec, true, m)
		m.register(session)

		if err := session.Start(); err != nil {
			rlog.Mesh.Errorf("starting inbound session with %s failed: %v",
				session.RemotePublicKey, err)
			session.Close()
			continue
		}

		m.greet(session)
	}
}

// Dial opens an outbound session to a mesh peer already discovered under
// the rendezvous topic.
func (m *Mesh) Dial(peerMeshPub string) error {
	conn, err := m.transport.Dial(peerMeshPub)
	if err != nil {
		return rerrors.Transport(err)
	}

	session := meshpeer.New(conn, m.codec, false, m)
	m.register(session)

	if err := session.Start(); err != nil {
		session.Close()
		return err
	}

	m.greet(session)
	return nil
}

func (m *Mesh) greet(session *meshpeer.Session) {
	hello := &meshwire.Hello{
		PublicKey: m.identity.LnPublicKey,
		Alias:     m.identity.Alias,
	}
	if err := session.Send(m.identity.MeshPublicKey, hello); err != nil {
		rlog.Mesh.Errorf("sending hello to %s failed: %v", session.RemotePublicKey, err)
	}
}

// register installs session in the active-session table, dropping and
// replacing any existing session for the same remote key (spec §4.2:
// "last-writer-wins; avoids duplicate sockets after reconnects").
func (m *Mesh) register(session *meshpeer.Session) {
	m.mu.Lock()
	prev, ok := m.sessions[session.RemotePublicKey]
	m.sessions[session.RemotePublicKey] = session
	m.mu.Unlock()

	if ok {
		rlog.Mesh.Infof("replacing existing session for peer %s", session.RemotePublicKey)
		prev.Close()
	}
}

// Send looks up the session for peerPubKey and writes payload to it. If no
// session exists, the message is logged and dropped — spec §4.2 explicitly
// forbids queuing for an absent peer.
func (m *Mesh) Send(peerPubKey string, payload meshwire.Payload) error {
	m.mu.Lock()
	session, ok := m.sessions[peerPubKey]
	m.mu.Unlock()

	if !ok {
		rlog.Mesh.Warnf("dropping %s for unreachable peer %s", payload.Type(), peerPubKey)
		return rerrors.Transportf("no active session for peer %s", peerPubKey)
	}

	return session.Send(m.identity.MeshPublicKey, payload)
}

// OnMessage implements meshpeer.Handler: the dispatch table of spec §4.3.
func (m *Mesh) OnMessage(session *meshpeer.Session, payload meshwire.Payload) {
	switch msg := payload.(type) {
	case *meshwire.Hello:
		bound := channels.DiscoverOnGreeting(m.view, m.ownership, m.watch,
			session.RemotePublicKey, msg.PublicKey)
		rlog.Mesh.Infof("greeted by %s (%s), bound channels: %v",
			msg.Alias, msg.PublicKey, bound)

	case *meshwire.PayInvoice:
		result := m.onPayInvoice(context.Background(), msg)
		if err := session.Send(m.identity.MeshPublicKey, result); err != nil {
			rlog.Mesh.Errorf("sending paymentResult to %s failed: %v",
				session.RemotePublicKey, err)
		}

	case *meshwire.PaymentResult:
		m.onPaymentResult(msg)

	default:
		rlog.Mesh.Warnf("dropping message of unhandled type %T from %s",
			payload, session.RemotePublicKey)
	}
}

// OnClose implements meshpeer.Handler: session teardown (spec §4.2 and
// invariant 5).
func (m *Mesh) OnClose(session *meshpeer.Session) {
	m.mu.Lock()
	if current, ok := m.sessions[session.RemotePublicKey]; ok && current == session {
		delete(m.sessions, session.RemotePublicKey)
	}
	m.mu.Unlock()

	channels.Disconnect(m.ownership, m.watch, session.RemotePublicKey)
}

// Sessions returns a snapshot of active remote public keys, for status
// introspection.
func (m *Mesh) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		out = append(out, k)
	}
	return out
}
