package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// heartbeatMonitor sends ping envelopes on a fixed interval and computes
// round-trip latency from the matching reply. A missing reply is never a
// failure signal; liveness is inferred from transport close only.
type heartbeatMonitor struct {
	interval time.Duration
	send     func(data []byte) error
	logger   *slog.Logger

	// One record per ping cycle, overwritten each send.
	mu     sync.Mutex
	pingID string
	pingAt time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func newHeartbeatMonitor(interval time.Duration, send func(data []byte) error, logger *slog.Logger) *heartbeatMonitor {
	return &heartbeatMonitor{
		interval: interval,
		send:     send,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the ping loop. Stop terminates it; Stop is idempotent.
func (h *heartbeatMonitor) Start() {
	go h.loop()
}

func (h *heartbeatMonitor) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

func (h *heartbeatMonitor) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.ping()
		}
	}
}

// ping sends one heartbeat envelope and records the send timestamp.
func (h *heartbeatMonitor) ping() {
	id := uuid.NewString()

	h.mu.Lock()
	h.pingID = id
	h.pingAt = time.Now()
	h.mu.Unlock()

	data, _ := json.Marshal(Envelope{Type: TypePing, CorrelationID: id})
	if err := h.send(data); err != nil {
		h.logger.Debug("failed to send ping", "error", err)
	}
}

// Latency resolves a heartbeat reply against the outstanding ping. It
// returns false when no ping is outstanding or the correlation ID does not
// match; replies without a correlation ID match the outstanding ping.
func (h *heartbeatMonitor) Latency(env Envelope, now time.Time) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pingID == "" {
		return 0, false
	}
	if env.CorrelationID != "" && env.CorrelationID != h.pingID {
		return 0, false
	}

	latency := now.Sub(h.pingAt)
	h.pingID = ""
	return latency, true
}
