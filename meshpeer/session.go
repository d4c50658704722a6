// Package meshpeer implements the Peer Session lifecycle of spec §4.2: a
// per-connection actor handling handshake, inbound dispatch, outbound
// write, and teardown. Modeled on the teacher's peer.go, which pairs a
// read goroutine with a write goroutine fed by an outbound queue; the
// queue here is github.com/lightningnetwork/lnd/queue's ConcurrentQueue,
// the packaged descendant of peer.go's ad hoc outgoingQueue channel.
package meshpeer

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lnrebalance/rebalanced/meshcrypto"
	"github.com/lnrebalance/rebalanced/meshwire"
	"github.com/lnrebalance/rebalanced/rerrors"
	"github.com/lnrebalance/rebalanced/rlog"
	"github.com/lnrebalance/rebalanced/transport"
)

const (
	// KeepAlive is the socket keepalive set at session bring-up (spec
	// §4.2, §5 Timeouts).
	KeepAlive = 5 * time.Second

	// ReadTimeout is the socket read timeout set at session bring-up.
	ReadTimeout = 7 * time.Second

	outboundQueueSize = 50
)

// State tracks the handshake progress of a Session.
type State int

const (
	// StateConnected is the state from creation until a valid hello is
	// received.
	StateConnected State = iota

	// StateGreeted is entered after a valid hello from the remote side.
	StateGreeted
)

// Handler receives dispatched inbound payloads and close notifications. It
// is implemented by the mesh package, which owns cross-session state
// (Watch List, Channel Ownership) that must react to these events.
type Handler interface {
	// OnMessage is called once per successfully verified inbound
	// message, in arrival order for a given session (spec §5 Ordering).
	OnMessage(s *Session, payload meshwire.Payload)

	// OnClose is called exactly once when the session's connection dies,
	// for any reason (close, protocol error causing an abort, or Leave).
	OnClose(s *Session)
}

// Session is one active connection to a remote mesh peer.
type Session struct {
	// RemotePublicKey is the stable identity of the far end (spec §3).
	RemotePublicKey string

	Inbound bool

	conn  transport.Conn
	codec *meshcrypto.Codec

	handler Handler

	mu            sync.RWMutex
	state         State
	lastRecv      time.Time

	outbound *queue.ConcurrentQueue

	quit     chan struct{}
	wg       sync.WaitGroup
	closed   sync.Once
}

// New creates a Session around an already-connected transport.Conn. The
// caller must call Start to begin the read/write loops.
func New(conn transport.Conn, codec *meshcrypto.Codec, inbound bool, handler Handler) *Session {
	s := &Session{
		RemotePublicKey: conn.RemotePublicKey(),
		Inbound:         inbound,
		conn:            conn,
		codec:           codec,
		handler:         handler,
		state:           StateConnected,
		outbound:        queue.NewConcurrentQueue(outboundQueueSize),
		quit:            make(chan struct{}),
	}
	return s
}

// Start applies the session's socket settings and launches the read and
// write loops (spec §4.2 session bring-up).
func (s *Session) Start() error {
	if err := s.conn.SetKeepAlive(KeepAlive); err != nil {
		return rerrors.Transport(err)
	}
	if err := s.conn.SetReadTimeout(ReadTimeout); err != nil {
		return rerrors.Transport(err)
	}

	s.outbound.Start()

	s.wg.Add(2)
	go s.writeLoop()
	go s.readLoop()

	return nil
}

// Greeted reports whether a valid hello has been received from the remote
// side.
func (s *Session) Greeted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateGreeted
}

func (s *Session) markGreeted() {
	s.mu.Lock()
	s.state = StateGreeted
	s.mu.Unlock()
}

// LastReceived returns the timestamp of the last message accepted from
// this session.
func (s *Session) LastReceived() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRecv
}

// Send signs payload under senderPublicKey (our own identity) and enqueues
// it for the write loop. Per spec §4.2 "Outbound send", there is no
// queuing beyond this buffered channel if the session is already gone —
// callers must look the session up first.
func (s *Session) Send(senderPublicKey string, payload meshwire.Payload) error {
	env, err := s.codec.Sign(senderPublicKey, payload)
	if err != nil {
		return err
	}

	raw, err := env.Marshal()
	if err != nil {
		return rerrors.Protocol(err)
	}

	rlog.Mesh.Tracef("sending to %s: %v", s.RemotePublicKey, rlog.NewLogClosure(func() string {
		return spew.Sdump(payload)
	}))

	select {
	case s.outbound.ChanIn() <- raw:
		return nil
	case <-s.quit:
		return rerrors.Transport(io.ErrClosedPipe)
	}
}

func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case item, ok := <-s.outbound.ChanOut():
			if !ok {
				return
			}
			raw := item.([]byte)
			raw = append(raw, '\n')
			if _, err := s.conn.Write(raw); err != nil {
				rlog.Mesh.Errorf("write to %s failed: %v", s.RemotePublicKey, err)
				s.Close()
				return
			}
		case <-s.quit:
			return
		}
	}
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	defer s.Close()

	reader := bufio.NewReaderSize(s.conn, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.handleLine(line)
		}
		if err != nil {
			if err != io.EOF {
				rlog.Mesh.Debugf("session %s read error: %v", s.RemotePublicKey, err)
			}
			return
		}
	}
}

func (s *Session) handleLine(line []byte) {
	env, err := meshwire.Unmarshal(line)
	if err != nil {
		rlog.Mesh.Debugf("dropping malformed envelope from %s: %v", s.RemotePublicKey, err)
		return
	}

	if err := s.codec.Verify(s.RemotePublicKey, env); err != nil {
		// Rejection is silent to the sender (spec §4.1); we only log
		// locally.
		rlog.Crypto.Debugf("rejecting message from %s: %v", s.RemotePublicKey, err)
		return
	}

	payload, err := meshwire.Decode(env.MessageType, env.Message)
	if err != nil {
		rlog.Mesh.Debugf("dropping unknown message type from %s: %v", s.RemotePublicKey, err)
		return
	}

	s.mu.Lock()
	s.lastRecv = time.Now()
	s.mu.Unlock()

	if payload.Type() == meshwire.TypeHello {
		s.markGreeted()
	}

	rlog.Mesh.Tracef("received from %s: %v", s.RemotePublicKey, rlog.NewLogClosure(func() string {
		return spew.Sdump(payload)
	}))

	s.handler.OnMessage(s, payload)
}

// Close tears the session down exactly once, notifying the handler.
func (s *Session) Close() {
	s.closed.Do(func() {
		close(s.quit)
		s.conn.Close()
		s.outbound.Stop()
		s.handler.OnClose(s)
	})
}

// Wait blocks until both the read and write loops have exited.
func (s *Session) Wait() {
	s.wg.Wait()
}
