package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type receivedEvent struct {
	deviceID string
	params   json.RawMessage
}

func TestPushEventDispatch(t *testing.T) {
	s, ts := newTestServer(t)

	events := make(chan receivedEvent, 1)
	s.OnEvent("console_log", func(d *Device, params json.RawMessage) {
		events <- receivedEvent{deviceID: d.ID, params: params}
	})

	conn, _ := dialDevice(t, ts, testHandshake("device-1"))

	push := map[string]any{
		"method": "console_log",
		"params": map[string]string{"level": "warn", "message": "low memory"},
	}
	if err := conn.WriteJSON(push); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.deviceID != "device-1" {
			t.Errorf("expected event from device-1, got %s", ev.deviceID)
		}
		var params map[string]string
		if err := json.Unmarshal(ev.params, &params); err != nil {
			t.Fatalf("failed to parse params: %v", err)
		}
		if params["message"] != "low memory" {
			t.Errorf("unexpected params: %v", params)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("push event never dispatched")
	}
}

func TestPushEventLastRegistrationWins(t *testing.T) {
	s, ts := newTestServer(t)

	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)
	s.OnEvent("console_log", func(d *Device, params json.RawMessage) {
		first <- struct{}{}
	})
	s.OnEvent("console_log", func(d *Device, params json.RawMessage) {
		second <- struct{}{}
	})

	conn, _ := dialDevice(t, ts, testHandshake("device-1"))

	if err := conn.WriteJSON(map[string]any{"method": "console_log"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement handler never fired")
	}

	select {
	case <-first:
		t.Fatal("replaced handler should not fire")
	default:
	}
}

func TestPushEventWithoutHandlerDropped(t *testing.T) {
	s, ts := newTestServer(t)

	conn, _ := dialDevice(t, ts, testHandshake("device-1"))

	if err := conn.WriteJSON(map[string]any{"method": "nobody_listens"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The connection must survive: a command round-trip still works.
	outcome := sendAsync(s, "device-1", "ping", nil)
	env := readEnvelope(t, conn)
	if err := conn.WriteJSON(map[string]any{"id": env.ID, "result": "pong"}); err != nil {
		t.Fatalf("failed to send reply: %v", err)
	}
	out := <-outcome
	if out.err != nil {
		t.Fatalf("expected success after dropped event, got %v", out.err)
	}
}

func TestOnEventNilHandlerUnregisters(t *testing.T) {
	s, ts := newTestServer(t)

	fired := make(chan struct{}, 1)
	s.OnEvent("console_log", func(d *Device, params json.RawMessage) {
		fired <- struct{}{}
	})
	s.OnEvent("console_log", nil)

	conn, _ := dialDevice(t, ts, testHandshake("device-1"))

	if err := conn.WriteJSON(map[string]any{"method": "console_log"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Give dispatch a moment, then confirm nothing fired.
	time.Sleep(100 * time.Millisecond)
	select {
	case <-fired:
		t.Fatal("unregistered handler fired")
	default:
	}
}

func TestMalformedInboundMessagesDropped(t *testing.T) {
	s, ts := newTestServer(t)

	conn, _ := dialDevice(t, ts, testHandshake("device-1"))

	// Garbage after handshake must be logged and dropped, never fatal.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("!!not json!!")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	// A message with neither id nor method is dropped too.
	if err := conn.WriteJSON(map[string]any{"stray": true}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	outcome := sendAsync(s, "device-1", "ping", nil)
	env := readEnvelope(t, conn)
	if err := conn.WriteJSON(map[string]any{"id": env.ID, "result": "pong"}); err != nil {
		t.Fatalf("failed to send reply: %v", err)
	}
	out := <-outcome
	if out.err != nil {
		t.Fatalf("expected success after malformed traffic, got %v", out.err)
	}

	if !s.HasConnectedDevice() {
		t.Error("malformed traffic must not disconnect the device")
	}
}
