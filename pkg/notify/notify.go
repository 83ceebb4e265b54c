// Package notify implements the Notification Bus of §4.9: SSE client
// registration with resume-on-reconnect, scoped broadcast fan-out, and
// an inactive-client LRU with weak removal observers for the relay.
// Grounded on the teacher's pkg/blobserver/blobhub.go (the registered-
// channel-per-listener fan-out shape, each send done in its own
// goroutine so one slow receiver can't block the rest) generalized
// from a single blob-ref event to the typed event envelope and scope
// table of §4.9. github.com/gorilla/securecookie authenticates and encrypts the
// resume_secret cookie (perkeep has no cookie of its own; securecookie
// is the DOMAIN STACK's answer for ephemera's auth cookie surface).
package notify

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"ephemera/pkg/lru"
)

// Scope selects which connected clients receive a broadcast event, the
// tagged union of §4.9's fan-out table.
type Scope struct {
	kind scopeKind
	id   string
	set  map[string]bool
}

type scopeKind int

const (
	scopeAll scopeKind = iota
	scopeOnly
	scopeOnlySet
	scopeExcept
	scopeExceptSet
)

func All() Scope                    { return Scope{kind: scopeAll} }
func Only(id string) Scope          { return Scope{kind: scopeOnly, id: id} }
func Except(id string) Scope        { return Scope{kind: scopeExcept, id: id} }
func OnlySet(ids []string) Scope    { return Scope{kind: scopeOnlySet, set: toSet(ids)} }
func ExceptSet(ids []string) Scope  { return Scope{kind: scopeExceptSet, set: toSet(ids)} }

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func (s Scope) includes(clientID string) bool {
	switch s.kind {
	case scopeAll:
		return true
	case scopeOnly:
		return clientID == s.id
	case scopeOnlySet:
		return s.set[clientID]
	case scopeExcept:
		return clientID != s.id
	case scopeExceptSet:
		return !s.set[clientID]
	default:
		return false
	}
}

// Event is the SSE envelope of §6: {type, payload}.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// busCapacity bounds each subscriber's channel per §5's "bounded
// capacity (8 messages)" backpressure policy.
const busCapacity = 8

// inactiveCapacity is the inactive-client LRU size of §4.9.
const inactiveCapacity = 32

type client struct {
	id     string
	pin    string
	events chan Event
}

// RemovedObserver is notified, without holding a strong reference to
// the bus, with the resume token of every entry that leaves the
// inactive LRU: evicted past capacity, or removed because its client
// resumed. Grounded on §9's "never store owning back-pointers"
// cycle-avoidance note. No package in this module registers one.
type RemovedObserver = lru.RemovalObserver

// Bus is the SSE client registry: active clients plus an inactive LRU
// of recently disconnected ones keyed by resume secret.
type Bus struct {
	mu       sync.Mutex
	active   map[string]*client
	pins     map[string]string // pin -> client id
	inactive *lru.Cache[inactiveEntry]
	secrets  *securecookie.SecureCookie
}

type inactiveEntry struct {
	clientID string
	pin      string
}

func New(hashKey, blockKey []byte) *Bus {
	return &Bus{
		active:   make(map[string]*client),
		pins:     make(map[string]string),
		inactive: lru.New[inactiveEntry](inactiveCapacity),
		secrets:  securecookie.New(hashKey, blockKey),
	}
}

// EncodeResumeSecret produces the cookie value for a given resume
// token (itself a random 32-byte value, §4.9).
func (b *Bus) EncodeResumeSecret(token string) (string, error) {
	return b.secrets.Encode("resume_secret", token)
}

// DecodeResumeSecret recovers the resume token from a cookie value.
func (b *Bus) DecodeResumeSecret(cookie string) (string, error) {
	var token string
	if err := b.secrets.Decode("resume_secret", cookie, &token); err != nil {
		return "", err
	}
	return token, nil
}

// Connect registers a client, reusing id/pin from resumeToken if it
// matches an inactive entry (and rotating the secret), or allocating a
// fresh id and PIN otherwise. Returns the client's events channel (the
// caller drains it for the SSE stream), its id, pin, and a fresh
// resume token to set as the cookie.
func (b *Bus) Connect(resumeToken string) (events <-chan Event, id, pin, newResumeToken string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if resumeToken != "" {
		if entry, ok := b.inactive.Remove(resumeToken); ok {
			c := b.registerLocked(entry.clientID, entry.pin)
			newToken := newToken()
			return c.events, c.id, c.pin, newToken
		}
	}

	id = newClientID()
	pin = b.freshPINLocked()
	c := b.registerLocked(id, pin)
	return c.events, c.id, c.pin, newToken()
}

func (b *Bus) registerLocked(id, pin string) *client {
	c := &client{id: id, pin: pin, events: make(chan Event, busCapacity)}
	b.active[id] = c
	b.pins[pin] = id
	return c
}

// Disconnect moves id out of the active set into the inactive LRU,
// keyed by the resume token the client will present on reconnect.
func (b *Bus) Disconnect(id, resumeToken string) {
	b.mu.Lock()
	c, ok := b.active[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.active, id)
	delete(b.pins, c.pin)
	b.inactive.Add(resumeToken, inactiveEntry{clientID: id, pin: c.pin})
	remaining := len(b.active)
	b.mu.Unlock()

	if remaining > 0 {
		b.Broadcast(All(), Event{Type: "USER_DISCONNECTED", Payload: id})
	}
}

// Broadcast delivers event to every active client matched by scope.
// Each send is non-blocking, mirroring blobhub.go's per-listener
// dispatch without its goroutine-per-send step (a buffered try-send
// needs no goroutine to avoid blocking); a full channel is a dropped
// message per §5's backpressure rule, not a blocking send.
func (b *Bus) Broadcast(scope Scope, event Event) {
	b.mu.Lock()
	targets := make([]*client, 0, len(b.active))
	for id, c := range b.active {
		if scope.includes(id) {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		c := c
		select {
		case c.events <- event:
		default:
			// Dropped: notifications are hints, not authoritative
			// state (§5). The subscriber logs and keeps consuming.
		}
	}
}

// Connection is one active client's public identity, for
// /api/sse/connections.
type Connection struct {
	ID  string `json:"id"`
	PIN string `json:"pin"`
}

// ActiveConnections lists the ids and PINs of currently active
// clients, for /api/sse/connections.
func (b *Bus) ActiveConnections() []Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Connection, 0, len(b.active))
	for id, c := range b.active {
		out = append(out, Connection{ID: id, PIN: c.pin})
	}
	return out
}

// LookupByPIN resolves an active client id by its PIN, used by the
// P2P manager's create_request.
func (b *Bus) LookupByPIN(pin string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.pins[pin]
	return id, ok
}

// IsActive reports whether id is currently a connected client.
func (b *Bus) IsActive(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.active[id]
	return ok
}

// ObserveRemovals registers obs as a weak observer of the inactive
// LRU's eviction/removal events (§4.9's "Observers" clause).
func (b *Bus) ObserveRemovals(obs *RemovedObserver) {
	b.inactive.Observe(obs)
}

func (b *Bus) freshPINLocked() string {
	for {
		pin := randomPIN()
		if _, taken := b.pins[pin]; !taken {
			return pin
		}
	}
}

func randomPIN() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return fmt.Sprintf("%06d", n.Int64())
}

func newClientID() string { return uuid.NewString() }
func newToken() string    { return randomBase64(32) }

func randomBase64(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
