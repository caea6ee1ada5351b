package hub

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEvent(t *testing.T) {
	ev, ok := NewEvent("state", map[string]string{"state": "connected"})
	if !ok {
		t.Fatal("expected encodable event")
	}
	if ev.Kind != "state" {
		t.Errorf("kind = %q", ev.Kind)
	}
	var payload map[string]string
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("payload does not round-trip: %v", err)
	}
	if payload["state"] != "connected" {
		t.Errorf("payload = %v", payload)
	}

	if _, ok := NewEvent("bad", make(chan int)); ok {
		t.Error("channel payload should not encode")
	}
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	h := New("test")
	go h.Run()
	defer h.Stop()

	// Must not block, even well past the queue depth.
	for i := 0; i < 600; i++ {
		h.Publish("log", map[string]int{"i": i})
	}
	if got := h.ClientCount(); got != 0 {
		t.Errorf("client count = %d, want 0", got)
	}
}

func TestHub_StopIsIdempotent(t *testing.T) {
	h := New("test")
	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()

	h.Stop()
	h.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit after stop")
	}
}

func TestHub_AddRemoveAfterStop(t *testing.T) {
	h := New("test")
	go h.Run()
	h.Stop()

	// Subscribers arriving or leaving during shutdown race the run loop's
	// exit; neither side may block once it is gone.
	done := make(chan struct{})
	go func() {
		defer close(done)
		c := &Client{hub: h, send: make(chan Event, 1)}
		h.add(c)
		h.remove(c)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("add/remove blocked after stop")
	}
}

func TestHub_RemoveConnectedClient(t *testing.T) {
	h := New("test")
	go h.Run()
	defer h.Stop()

	c := &Client{hub: h, send: make(chan Event, 1)}
	h.add(c)
	waitForCount(t, h, 1)

	h.remove(c)
	waitForCount(t, h, 0)

	// The run loop closed the send channel on removal.
	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed send channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed")
	}
}

func waitForCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", h.ClientCount(), want)
		}
		time.Sleep(time.Millisecond)
	}
}
