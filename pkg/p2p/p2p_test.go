package p2p

import (
	"testing"
	"time"

	"ephemera/pkg/notify"
)

func newTestManager(t *testing.T) (*Manager, *notify.Bus) {
	t.Helper()
	bus := notify.New([]byte("01234567890123456789012345678901"), []byte("0123456789012345"))
	m := New(bus)
	t.Cleanup(m.Close)
	return m, bus
}

func drain(t *testing.T, ch <-chan notify.Event) notify.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return notify.Event{}
	}
}

func TestCreateRequestDeliversToReceiver(t *testing.T) {
	m, bus := newTestManager(t)
	_, idA, _, _ := bus.Connect("")
	eventsB, _, pinB, _ := bus.Connect("")

	rid, err := m.CreateRequest(idA, pinB, true, PriorityAuto)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	evt := drain(t, eventsB)
	if evt.Type != "P2P_REQUEST" || evt.Payload != rid {
		t.Fatalf("got %+v, want P2P_REQUEST with payload %q", evt, rid)
	}
}

func TestCreateRequestUnknownPIN(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateRequest("someone", "000000", true, PriorityAuto)
	if err == nil {
		t.Fatalf("expected NotFound for unknown PIN")
	}
}

func TestAcceptRequestArbitratesWebRTC(t *testing.T) {
	m, bus := newTestManager(t)
	_, idA, _, _ := bus.Connect("")
	eventsB, idB, pinB, _ := bus.Connect("")
	_ = idA

	rid, err := m.CreateRequest(idA, pinB, true, PriorityAuto)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	evt := drain(t, eventsB)
	if evt.Type != "P2P_REQUEST" {
		t.Fatalf("expected P2P_REQUEST, got %s", evt.Type)
	}

	if err := m.AcceptRequest(rid, idB, true); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	evt = drain(t, eventsB)
	if evt.Type != "P2P_EXCHANGE" {
		t.Fatalf("expected P2P_EXCHANGE, got %s", evt.Type)
	}
	payload := evt.Payload.(map[string]interface{})
	if payload["protocol"] != ProtocolWebRTC {
		t.Fatalf("protocol = %v, want webrtc", payload["protocol"])
	}
}

func TestAcceptRequestFallsBackToWebSocketWithoutBothRTC(t *testing.T) {
	m, bus := newTestManager(t)
	_, idA, _, _ := bus.Connect("")
	eventsB, idB, pinB, _ := bus.Connect("")

	rid, _ := m.CreateRequest(idA, pinB, true, PriorityAuto)
	drain(t, eventsB) // P2P_REQUEST
	if err := m.AcceptRequest(rid, idB, false); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	evt := drain(t, eventsB)
	payload := evt.Payload.(map[string]interface{})
	if payload["protocol"] != ProtocolWebSocket {
		t.Fatalf("protocol = %v, want websocket", payload["protocol"])
	}
}

func TestDiscardRequestBySenderEmitsCanceled(t *testing.T) {
	m, bus := newTestManager(t)
	_, idA, _, _ := bus.Connect("")
	eventsB, idB, pinB, _ := bus.Connect("")
	_ = idB

	rid, _ := m.CreateRequest(idA, pinB, true, PriorityAuto)
	drain(t, eventsB) // P2P_REQUEST
	if err := m.DiscardRequest(rid, idA); err != nil {
		t.Fatalf("DiscardRequest: %v", err)
	}
	evt := drain(t, eventsB)
	if evt.Type != "P2P_CANCELED" {
		t.Fatalf("expected P2P_CANCELED, got %s", evt.Type)
	}
}

func TestVerifyMembership(t *testing.T) {
	m, bus := newTestManager(t)
	_, idA, _, _ := bus.Connect("")
	eventsB, idB, pinB, _ := bus.Connect("")

	rid, _ := m.CreateRequest(idA, pinB, true, PriorityAuto)
	drain(t, eventsB)
	if !m.Verify(rid, idA) || !m.Verify(rid, idB) {
		t.Fatalf("expected both parties verified as members")
	}
	if m.Verify(rid, "stranger") {
		t.Fatalf("stranger should not verify")
	}
}
