// Package p2p implements the P2P Session Manager of §4.10: PIN-based
// pairing requests between two notification clients, protocol
// arbitration, signaling relay, and TTL expiry. Grounded on the
// teacher's session-bookkeeping shape in pkg/syncutil (locked map +
// background sweep) generalized from a blob-sync session to the
// sender/receiver pairing session of §4.10; broadcasts go out through
// pkg/notify exactly as perkeep's importer sessions push progress
// through pkg/blobserver's hub.
package p2p

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"ephemera/pkg/apperr"
	"ephemera/pkg/notify"
)

// TTL is the session expiry window of §4.10 and §5.
const TTL = 5 * time.Minute

// Protocol is the transport arbitration outcome.
type Protocol string

const (
	ProtocolWebRTC     Protocol = "webrtc"
	ProtocolWebSocket  Protocol = "websocket"
)

// Priority is the caller's transport preference from create_request.
type Priority string

const (
	PriorityWebRTC Priority = "webrtc"
	PriorityWS     Priority = "websocket"
	PriorityAuto   Priority = ""
)

type session struct {
	sender, receiver     string
	supportsRTCSender    bool
	supportsRTCReceiver  bool
	priority             Priority
	established          bool
	lastTouch            time.Time
}

// Manager holds in-flight pairing sessions.
type Manager struct {
	bus *notify.Bus

	mu       sync.Mutex
	sessions map[string]*session

	stop chan struct{}
}

func New(bus *notify.Bus) *Manager {
	m := &Manager{bus: bus, sessions: make(map[string]*session), stop: make(chan struct{})}
	go m.sweepLoop()
	return m
}

// Close stops the expiry sweeper.
func (m *Manager) Close() { close(m.stop) }

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(TTL)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	now := time.Now()
	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.lastTouch) > TTL {
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
}

// CreateRequest looks up targetPIN among active clients and opens a
// new pairing session scoped to it.
func (m *Manager) CreateRequest(senderID, targetPIN string, supportsRTC bool, priority Priority) (requestID string, err error) {
	receiverID, ok := m.bus.LookupByPIN(targetPIN)
	if !ok {
		return "", apperr.NotFound("no active client with that PIN")
	}
	if !m.bus.IsActive(senderID) {
		return "", apperr.BadRequest("sender is not an active client")
	}

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.established && (s.sender == senderID || s.receiver == senderID || s.sender == receiverID || s.receiver == receiverID) {
			m.mu.Unlock()
			return "", apperr.Conflict("party already in an established session", "")
		}
	}
	requestID = uuid.NewString()
	m.sessions[requestID] = &session{
		sender: senderID, receiver: receiverID,
		supportsRTCSender: supportsRTC, priority: priority,
		lastTouch: time.Now(),
	}
	m.mu.Unlock()

	m.bus.Broadcast(notify.Only(receiverID), notify.Event{Type: "P2P_REQUEST", Payload: requestID})
	return requestID, nil
}

// AcceptRequest marks a session established, decides transport
// protocol, and (after a 1-second delay per §4.10) broadcasts
// P2P_EXCHANGE to both parties.
func (m *Manager) AcceptRequest(requestID, receiverID string, supportsRTC bool) error {
	m.mu.Lock()
	s, ok := m.sessions[requestID]
	if !ok || s.receiver != receiverID {
		m.mu.Unlock()
		return apperr.BadRequest("no such pending request for this receiver")
	}
	s.supportsRTCReceiver = supportsRTC
	s.established = true
	s.lastTouch = time.Now()
	sender, receiver := s.sender, s.receiver
	protocol := decideProtocol(s)
	m.mu.Unlock()

	go func() {
		time.Sleep(1 * time.Second)
		payload := map[string]interface{}{
			"request_id":   requestID,
			"protocol":     protocol,
			"participants": []string{sender, receiver},
		}
		m.bus.Broadcast(notify.OnlySet([]string{sender, receiver}), notify.Event{Type: "P2P_EXCHANGE", Payload: payload})
	}()
	return nil
}

func decideProtocol(s *session) Protocol {
	if s.supportsRTCSender && s.supportsRTCReceiver && s.priority != PriorityWS {
		return ProtocolWebRTC
	}
	return ProtocolWebSocket
}

// DiscardRequest removes a session and notifies the other party:
// P2P_CANCELED if the caller was the sender, P2P_REJECT otherwise.
func (m *Manager) DiscardRequest(requestID, byID string) error {
	m.mu.Lock()
	s, ok := m.sessions[requestID]
	if !ok {
		m.mu.Unlock()
		return apperr.NotFound("no such request")
	}
	delete(m.sessions, requestID)
	m.mu.Unlock()

	eventType, other := "P2P_REJECT", s.sender
	if byID == s.sender {
		eventType, other = "P2P_CANCELED", s.receiver
	}
	m.bus.Broadcast(notify.Only(other), notify.Event{Type: eventType, Payload: requestID})
	return nil
}

// Signaling forwards an opaque payload to the other party of an
// established (or pending) session.
func (m *Manager) Signaling(requestID, fromID string, payload interface{}) error {
	m.mu.Lock()
	s, ok := m.sessions[requestID]
	if !ok {
		m.mu.Unlock()
		return apperr.NotFound("no such request")
	}
	s.lastTouch = time.Now()
	var other string
	switch fromID {
	case s.sender:
		other = s.receiver
	case s.receiver:
		other = s.sender
	default:
		m.mu.Unlock()
		return apperr.BadRequest("caller is not a party to this request")
	}
	m.mu.Unlock()

	m.bus.Broadcast(notify.Only(other), notify.Event{Type: "P2P_SIGNALING", Payload: payload})
	return nil
}

// Verify is the relay's membership check: does clientID belong to
// requestID's session.
func (m *Manager) Verify(requestID, clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[requestID]
	if !ok {
		return false
	}
	return s.sender == clientID || s.receiver == clientID
}

// Downgrade forces a session (typically one that failed a WebRTC
// attempt) to the WebSocket protocol and re-broadcasts P2P_EXCHANGE —
// the supplemented /api/p2p/downgrade operation.
func (m *Manager) Downgrade(requestID, byID string) error {
	m.mu.Lock()
	s, ok := m.sessions[requestID]
	if !ok || !s.established || (s.sender != byID && s.receiver != byID) {
		m.mu.Unlock()
		return apperr.BadRequest("no such established request for this client")
	}
	s.priority = PriorityWS
	s.lastTouch = time.Now()
	sender, receiver := s.sender, s.receiver
	m.mu.Unlock()

	payload := map[string]interface{}{
		"request_id":   requestID,
		"protocol":     ProtocolWebSocket,
		"participants": []string{sender, receiver},
	}
	m.bus.Broadcast(notify.OnlySet([]string{sender, receiver}), notify.Event{Type: "P2P_EXCHANGE", Payload: payload})
	return nil
}
