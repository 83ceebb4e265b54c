// Package relay implements the Relay Socket of §4.11: a WebSocket
// bridge between two peers bound to a shared request id, with
// bind/unbind/reconnect semantics and control-frame flags. Grounded on
// the teacher's pkg/search/websocket.go — the readPump/writePump
// goroutine-pair-per-connection shape and ping/pong keep-alive are
// kept directly; the hub's single-purpose fan-out is generalized into
// the two-endpoint, two-task-per-endpoint bridge §4.11 describes.
// github.com/gorilla/websocket is the teacher's own direct dependency
// for the transport.
package relay

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ephemera/pkg/p2p"
)

// Packet flags, §4.11/§6.
const (
	FlagReady       byte = 0xF1
	FlagEstablished byte = 0xF2
	FlagDisconnected byte = 0xF3
	FlagWho         byte = 0xF4
	FlagHeartbeat   byte = 0xFE
	FlagError       byte = 0xFF
)

// IsControl reports whether b is a reserved control flag (>= 0xF0)
// rather than an opaque data frame.
func IsControl(b byte) bool { return b >= 0xF0 }

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// bufferedFrames bounds the channel pair that survives an unbound
	// endpoint between reconnects.
	bufferedFrames = 64
)

type endpoint struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	toPeer chan []byte // frames the peer has sent, waiting to be written to this endpoint's socket
	cancel func()
}

func newEndpoint() *endpoint {
	return &endpoint{toPeer: make(chan []byte, bufferedFrames)}
}

func (e *endpoint) bound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// session holds the two bidirectional endpoints for one request id.
type session struct {
	mu               sync.Mutex
	primary, secondary *endpoint
}

// Manager bridges relay WebSocket connections per §4.11, verifying
// membership against the P2P session manager.
type Manager struct {
	p2p *p2p.Manager

	mu       sync.Mutex
	sessions map[string]*session
}

func New(p2pMgr *p2p.Manager) *Manager {
	return &Manager{p2p: p2pMgr, sessions: make(map[string]*session)}
}

func (m *Manager) sessionFor(requestID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[requestID]
	if !ok {
		s = &session{primary: newEndpoint(), secondary: newEndpoint()}
		m.sessions[requestID] = s
	}
	return s
}

// Handle drives one relay WebSocket connection end to end: reads the
// Who handshake, verifies membership, binds to an endpoint, and runs
// the forwarding loop until the socket closes.
func (m *Manager) Handle(conn *websocket.Conn) error {
	requestID, clientID, err := readWho(conn)
	if err != nil {
		conn.Close()
		return err
	}
	if !m.p2p.Verify(requestID, clientID) {
		conn.WriteMessage(websocket.BinaryMessage, []byte{FlagError})
		conn.Close()
		return fmt.Errorf("relay: %s is not a member of request %s", clientID, requestID)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{FlagReady}); err != nil {
		conn.Close()
		return err
	}

	s := m.sessionFor(requestID)
	ep, peer, err := s.bind(conn)
	if err != nil {
		conn.Close()
		return err
	}

	if ep.bound() && peer.bound() {
		ep.send([]byte{FlagEstablished})
		peer.send([]byte{FlagEstablished})
	}

	m.run(s, ep, peer)
	m.cleanupIfFullyUnbound(requestID, s)
	return nil
}

// bind attaches conn to primary if unbound (including the initial
// state), else secondary; a third binding is rejected.
func (s *session) bind(conn *websocket.Conn) (ep, peer *endpoint, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.primary.bound() {
		s.primary.mu.Lock()
		s.primary.conn = conn
		s.primary.mu.Unlock()
		return s.primary, s.secondary, nil
	}
	if !s.secondary.bound() {
		s.secondary.mu.Lock()
		s.secondary.conn = conn
		s.secondary.mu.Unlock()
		return s.secondary, s.primary, nil
	}
	return nil, nil, fmt.Errorf("relay: both endpoints already bound")
}

func (e *endpoint) send(frame []byte) {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.BinaryMessage, frame)
}

// run drives the two forwarding tasks for ep until its socket closes,
// then transitions ep to unbound and notifies peer.
func (m *Manager) run(s *session, ep, peer *endpoint) {
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	ep.mu.Lock()
	conn := ep.conn
	ep.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)

	// Socket -> peer's channel.
	go func() {
		defer wg.Done()
		defer stop()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if len(frame) == 0 || IsControl(frame[0]) {
				continue // control frames from a peer are not forwarded
			}
			select {
			case peer.toPeer <- frame:
			case <-done:
				return
			}
		}
	}()

	// ep's own channel -> socket (frames the peer sent toward ep).
	go func() {
		defer wg.Done()
		defer stop()
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case frame := <-ep.toPeer:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	wg.Wait()
	conn.Close()

	ep.mu.Lock()
	ep.conn = nil
	ep.mu.Unlock()

	peer.send([]byte{FlagDisconnected})
}

func (m *Manager) cleanupIfFullyUnbound(requestID string, s *session) {
	if s.primary.bound() || s.secondary.bound() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, requestID)
}

// readWho reads the mandatory first frame: [FlagWho][16-byte
// request_id][16-byte client_id], both encoded as raw UUID bytes.
func readWho(conn *websocket.Conn) (requestID, clientID string, err error) {
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return "", "", err
	}
	if len(frame) != 33 || frame[0] != FlagWho {
		return "", "", fmt.Errorf("relay: expected a 33-byte Who frame, got %d bytes", len(frame))
	}
	requestID = formatUUIDBytes(frame[1:17])
	clientID = formatUUIDBytes(frame[17:33])
	return requestID, clientID, nil
}

func formatUUIDBytes(b []byte) string {
	var hi, lo uint64
	hi = binary.BigEndian.Uint64(b[0:8])
	lo = binary.BigEndian.Uint64(b[8:16])
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		uint32(hi>>32), uint16(hi>>16), uint16(hi),
		uint16(lo>>48), lo&0xFFFFFFFFFFFF)
}
