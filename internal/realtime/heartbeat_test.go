package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestHeartbeatPingEnvelope(t *testing.T) {
	var mu sync.Mutex
	var sent [][]byte

	h := newHeartbeatMonitor(time.Hour, func(data []byte) error {
		mu.Lock()
		sent = append(sent, data)
		mu.Unlock()
		return nil
	}, slog.Default())

	h.ping()

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 {
		t.Fatalf("sent %d envelopes, want 1", len(sent))
	}

	var env Envelope
	if err := json.Unmarshal(sent[0], &env); err != nil {
		t.Fatalf("unmarshal ping: %v", err)
	}
	if env.Type != TypePing {
		t.Errorf("Type = %q, want %q", env.Type, TypePing)
	}
	if env.CorrelationID == "" {
		t.Error("CorrelationID is empty, want a generated ID")
	}
}

func TestHeartbeatLatency(t *testing.T) {
	var lastPing Envelope

	h := newHeartbeatMonitor(time.Hour, func(data []byte) error {
		json.Unmarshal(data, &lastPing)
		return nil
	}, slog.Default())

	// No outstanding ping: any reply is ignored.
	if _, ok := h.Latency(Envelope{Type: TypePong}, time.Now()); ok {
		t.Error("Latency matched with no outstanding ping")
	}

	h.ping()

	// Mismatched correlation ID is ignored and keeps the ping outstanding.
	if _, ok := h.Latency(Envelope{Type: TypePong, CorrelationID: "wrong"}, time.Now()); ok {
		t.Error("Latency matched a mismatched correlation ID")
	}

	// Matching reply resolves.
	latency, ok := h.Latency(Envelope{Type: TypePong, CorrelationID: lastPing.CorrelationID}, time.Now())
	if !ok {
		t.Fatal("Latency did not match the outstanding ping")
	}
	if latency < 0 {
		t.Errorf("latency = %v, want >= 0", latency)
	}

	// The record is consumed; a second matching reply is ignored.
	if _, ok := h.Latency(Envelope{Type: TypePong, CorrelationID: lastPing.CorrelationID}, time.Now()); ok {
		t.Error("Latency matched an already-consumed ping")
	}
}

func TestHeartbeatLatencyNoCorrelationID(t *testing.T) {
	h := newHeartbeatMonitor(time.Hour, func([]byte) error { return nil }, slog.Default())
	h.ping()

	// Replies without a correlation ID match the outstanding ping.
	if _, ok := h.Latency(Envelope{Type: TypePong}, time.Now()); !ok {
		t.Error("Latency did not match a reply without correlation ID")
	}
}

func TestHeartbeatLoop(t *testing.T) {
	var mu sync.Mutex
	count := 0

	h := newHeartbeatMonitor(10*time.Millisecond, func([]byte) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, slog.Default())

	h.Start()
	time.Sleep(55 * time.Millisecond)
	h.Stop()
	h.Stop() // idempotent

	mu.Lock()
	got := count
	mu.Unlock()
	if got < 2 {
		t.Errorf("pings sent = %d, want >= 2", got)
	}

	// No further pings after Stop.
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	after := count
	mu.Unlock()
	if after > got+1 {
		t.Errorf("pings kept flowing after Stop: %d -> %d", got, after)
	}
}
