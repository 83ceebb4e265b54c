package relay

import (
	"testing"

	"github.com/google/uuid"

	"ephemera/pkg/notify"
	"ephemera/pkg/p2p"
)

func TestFormatUUIDBytesRoundTrips(t *testing.T) {
	id := uuid.New()
	got := formatUUIDBytes(id[:])
	if got != id.String() {
		t.Fatalf("formatUUIDBytes = %q, want %q", got, id.String())
	}
}

// TestVerifyAcceptsBusIssuedClientID drives Verify with a client id
// that actually came out of notify.Connect and through the wire
// round-trip readWho performs (raw UUID bytes -> formatUUIDBytes),
// catching any representation mismatch between the bus's client ids
// and what the relay's Who handshake reconstructs.
func TestVerifyAcceptsBusIssuedClientID(t *testing.T) {
	bus := notify.New([]byte("01234567890123456789012345678901"), []byte("0123456789012345"))
	_, senderID, _, _ := bus.Connect("")
	_, receiverID, receiverPIN, _ := bus.Connect("")

	mgr := p2p.New(bus)
	defer mgr.Close()

	requestID, err := mgr.CreateRequest(senderID, receiverPIN, false, p2p.PriorityAuto)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if err := mgr.AcceptRequest(requestID, receiverID, false); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}

	parsed, err := uuid.Parse(senderID)
	if err != nil {
		t.Fatalf("bus-issued client id %q is not a UUID: %v", senderID, err)
	}
	onWire := formatUUIDBytes(parsed[:])
	if onWire != senderID {
		t.Fatalf("wire round-trip of client id = %q, want %q", onWire, senderID)
	}

	if !mgr.Verify(requestID, onWire) {
		t.Fatalf("Verify(%q, %q) = false, want true for the session's sender", requestID, onWire)
	}
	if mgr.Verify(requestID, "not-a-party") {
		t.Fatalf("Verify should reject a client id outside the session")
	}
}

func TestIsControlFlag(t *testing.T) {
	cases := []struct {
		b    byte
		want bool
	}{
		{0x01, false},
		{0xEF, false},
		{0xF0, true},
		{FlagReady, true},
		{FlagHeartbeat, true},
	}
	for _, c := range cases {
		if got := IsControl(c.b); got != c.want {
			t.Fatalf("IsControl(0x%02x) = %v, want %v", c.b, got, c.want)
		}
	}
}
