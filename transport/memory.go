package transport

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// pipeConn adapts net.Conn (from net.Pipe) to the Conn interface.
// SetKeepAlive is a no-op, the way a real socket's SO_KEEPALIVE is
// fire-and-forget from the application's point of view. SetReadTimeout
// records d and sets one read deadline d from the time of the call; later
// reads do not extend it.
type pipeConn struct {
	net.Conn
	remotePubKey string

	mu          sync.Mutex
	readTimeout time.Duration
}

func (c *pipeConn) RemotePublicKey() string { return c.remotePubKey }

func (c *pipeConn) SetKeepAlive(d time.Duration) error {
	return nil
}

func (c *pipeConn) SetReadTimeout(d time.Duration) error {
	c.mu.Lock()
	c.readTimeout = d
	c.mu.Unlock()
	return c.Conn.SetReadDeadline(time.Now().Add(d))
}

// MemoryTransport is an in-memory reference Transport for tests: a shared
// registry of joined nodes per topic, connected via net.Pipe instead of a
// real rendezvous network. It plays the same role the teacher's tests play
// for connmgr-driven peers: a deterministic stand-in for the real network.
type MemoryTransport struct {
	mu       sync.Mutex
	registry *memoryRegistry
	topic    [32]byte
	pubKey   string
	accept   chan Conn
	left     bool
}

// memoryRegistry is shared across every MemoryTransport created with the
// same backing registry, so peers can discover each other by topic.
type memoryRegistry struct {
	mu    sync.Mutex
	nodes map[[32]byte]map[string]*MemoryTransport
}

// NewMemoryRegistry creates a fresh shared registry. Call NewTransport on
// it once per simulated node.
func NewMemoryRegistry() *memoryRegistry {
	return &memoryRegistry{nodes: make(map[[32]byte]map[string]*MemoryTransport)}
}

// NewTransport creates a node bound to this registry; call Join to publish
// it under a topic.
func (r *memoryRegistry) NewTransport() *MemoryTransport {
	return &MemoryTransport{
		registry: r,
		accept:   make(chan Conn, 8),
	}
}

func (t *MemoryTransport) Join(topic [32]byte, localPubKey string) error {
	t.mu.Lock()
	t.topic = topic
	t.pubKey = localPubKey
	t.mu.Unlock()

	r := t.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	peers, ok := r.nodes[topic]
	if !ok {
		peers = make(map[string]*MemoryTransport)
		r.nodes[topic] = peers
	}
	peers[localPubKey] = t
	return nil
}

func (t *MemoryTransport) Accept() (Conn, error) {
	conn, ok := <-t.accept
	if !ok {
		return nil, fmt.Errorf("transport left")
	}
	return conn, nil
}

func (t *MemoryTransport) Dial(peerPubKey string) (Conn, error) {
	t.mu.Lock()
	topic, self := t.topic, t.pubKey
	t.mu.Unlock()

	r := t.registry
	r.mu.Lock()
	peer, ok := r.nodes[topic][peerPubKey]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("peer %s not found under topic", peerPubKey)
	}

	clientSide, serverSide := net.Pipe()

	peer.mu.Lock()
	left := peer.left
	peer.mu.Unlock()
	if left {
		clientSide.Close()
		serverSide.Close()
		return nil, fmt.Errorf("peer %s has left", peerPubKey)
	}

	peer.accept <- &pipeConn{Conn: serverSide, remotePubKey: self}
	return &pipeConn{Conn: clientSide, remotePubKey: peerPubKey}, nil
}

func (t *MemoryTransport) Leave() error {
	t.mu.Lock()
	if t.left {
		t.mu.Unlock()
		return nil
	}
	t.left = true
	t.mu.Unlock()

	close(t.accept)
	return nil
}

var _ Transport = (*MemoryTransport)(nil)
var _ Conn = (*pipeConn)(nil)
