package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Manager owns the single transport instance and drives the connection state
// machine. It is created once per process, connects lazily on the first
// subscription, and is torn down by an explicit Disconnect or Close.
type Manager struct {
	cfg        Config
	logger     *slog.Logger
	dial       DialFunc
	visibility Visibility
	backoff    backoffPolicy
	registry   *registry

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	// mu guards the connection state. Never held across handler dispatch or
	// state-subscriber callbacks.
	mu             sync.Mutex
	status         Status
	attempt        int
	latency        time.Duration
	lastConnected  time.Time
	transport      Transport
	gen            int // session generation; close events from older sessions are stale
	dialing        bool
	stopped        bool // explicit Disconnect; no recovery until a new subscription
	closed         bool
	queue          *sendQueue
	flushing       bool // backlog in flight; live sends queue behind it
	heartbeat      *heartbeatMonitor
	reconnectTimer *time.Timer
	stabilityTimer *time.Timer

	stateMu     sync.Mutex
	stateSubs   map[int]func(State)
	nextStateID int
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer overrides the transport dialer. Tests inject fakes here.
func WithDialer(dial DialFunc) Option {
	return func(m *Manager) {
		m.dial = dial
	}
}

// WithVisibility injects the host visibility signal.
func WithVisibility(v Visibility) Option {
	return func(m *Manager) {
		m.visibility = v
	}
}

// NewManager creates a Manager. It does not connect; the first subscription
// (or an explicit Connect) does.
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		visibility: AlwaysVisible{},
		backoff: backoffPolicy{
			Base:        cfg.ReconnectBaseDelay,
			Max:         cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		registry:   newRegistry(logger),
		lifeCtx:    ctx,
		lifeCancel: cancel,
		status:     StatusDisconnected,
		queue:      newSendQueue(cfg.SendQueueLimit),
		stateSubs:  make(map[int]func(State)),
	}
	m.dial = func(ctx context.Context, url string) (Transport, error) {
		return dialWebSocket(ctx, url, m.cfg, m.logger)
	}

	for _, opt := range opts {
		opt(m)
	}

	go m.watchVisibility()

	return m
}

// Connect establishes the channel. Idempotent: a no-op while a transport is
// open or a dial is in flight. The attempt runs asynchronously; progress is
// observable through the state stream.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.transport != nil || m.dialing {
		m.mu.Unlock()
		return
	}
	m.stopped = false
	m.dialing = true
	if m.attempt > 0 {
		m.status = StatusReconnecting
	} else {
		m.status = StatusConnecting
	}
	st := m.stateLocked()
	m.mu.Unlock()

	m.notify(st)
	go m.dialAndAttach()
}

// Disconnect is a hard cancellation: the session generation is invalidated
// before the transport close, so the resulting close event cannot schedule a
// reconnect. No recovery occurs until a new subscription reconnects.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.clearTimersLocked()
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	t := m.transport
	m.transport = nil
	m.gen++ // in-flight close events are now stale
	m.attempt = 0
	m.latency = 0
	m.flushing = false
	m.status = StatusDisconnected
	st := m.stateLocked()
	m.mu.Unlock()

	if t != nil {
		t.Close()
	}
	m.notify(st)
}

// Close disposes the Manager. Further Connect calls are no-ops.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
	m.lifeCancel()
}

// Subscribe registers handler under eventType (or Wildcard) and returns an
// unsubscribe function. Connects lazily when disconnected and not already
// attempting.
func (m *Manager) Subscribe(eventType string, handler Handler) func() {
	unsub := m.registry.Subscribe(eventType, handler)

	m.mu.Lock()
	trigger := !m.closed &&
		m.status == StatusDisconnected &&
		m.transport == nil && !m.dialing && m.reconnectTimer == nil
	m.mu.Unlock()

	if trigger {
		m.Connect()
	}
	return unsub
}

// Send transmits immediately when connected and reports true. Otherwise the
// serialized message joins the outbound queue, to be flushed FIFO on the
// next open, and Send reports false. Write errors on an open transport are
// absorbed; recovery is driven by the close event.
func (m *Manager) Send(v any) bool {
	data, err := marshalOutbound(v)
	if err != nil {
		m.logger.Warn("dropping unserializable message", "error", err)
		return false
	}

	m.mu.Lock()
	t := m.transport
	if m.status != StatusConnected || t == nil || m.flushing {
		if qerr := m.queue.Push(data); qerr != nil {
			m.logger.Warn("outbound queue full, dropping message",
				"limit", m.cfg.SendQueueLimit,
			)
		}
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	if err := t.Send(data); err != nil {
		m.logger.Warn("send failed", "error", err)
	}
	return true
}

// State returns an immutable snapshot of the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// SubscribeState registers fn on the connection state stream and returns an
// unsubscribe function. The stream carries status transitions, not raw
// errors; consumers render health, they do not catch exceptions.
func (m *Manager) SubscribeState(fn func(State)) func() {
	m.stateMu.Lock()
	id := m.nextStateID
	m.nextStateID++
	m.stateSubs[id] = fn
	m.stateMu.Unlock()

	return func() {
		m.stateMu.Lock()
		delete(m.stateSubs, id)
		m.stateMu.Unlock()
	}
}

// QueuedSends reports the number of messages awaiting transport.
func (m *Manager) QueuedSends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// dialAndAttach performs one connection attempt and installs the transport.
func (m *Manager) dialAndAttach() {
	ctx, cancel := context.WithTimeout(m.lifeCtx, m.cfg.DialTimeout)
	t, err := m.dial(ctx, m.cfg.URL)
	cancel()

	if err != nil {
		m.mu.Lock()
		m.dialing = false
		if m.stopped || m.closed {
			m.mu.Unlock()
			return
		}
		m.logger.Warn("connect failed", "url", m.cfg.URL, "error", err)
		m.status = StatusDisconnected
		states := []State{m.stateLocked()}
		m.scheduleReconnectLocked(&states)
		m.mu.Unlock()

		m.notify(states...)
		return
	}

	m.mu.Lock()
	m.dialing = false
	if m.stopped || m.closed {
		m.mu.Unlock()
		t.Close()
		return
	}

	m.transport = t
	m.gen++
	gen := m.gen
	m.status = StatusConnected
	m.lastConnected = time.Now()

	hb := newHeartbeatMonitor(m.cfg.HeartbeatInterval, t.Send, m.logger)
	m.heartbeat = hb

	// Attempt counter resets only after the connection survives the
	// stability window.
	m.stabilityTimer = time.AfterFunc(m.cfg.StabilityWindow, func() {
		m.stabilize(gen)
	})

	pending := m.queue.Drain()
	m.flushing = len(pending) > 0
	st := m.stateLocked()
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.cfg.URL, "queued_sends", len(pending))

	hb.Start()
	go m.pump(t, gen)
	m.flushBacklog(t, pending)
	m.notify(st)
}

// flushBacklog drains the queue repeatedly until it stays empty. While the
// flushing flag is up, concurrent Sends join the queue instead of the wire,
// so they line up behind the backlog rather than overtaking it.
func (m *Manager) flushBacklog(t Transport, pending [][]byte) {
	for len(pending) > 0 {
		ok := m.flush(t, pending)

		m.mu.Lock()
		if !ok || m.transport != t {
			m.flushing = false
			m.mu.Unlock()
			return
		}
		pending = m.queue.Drain()
		if len(pending) == 0 {
			m.flushing = false
		}
		m.mu.Unlock()
	}
}

// flush sends queued messages in exact enqueue order. On a write error the
// unsent remainder is requeued; the close event handles recovery.
func (m *Manager) flush(t Transport, pending [][]byte) bool {
	for i, data := range pending {
		if err := t.Send(data); err != nil {
			m.logger.Warn("flush interrupted, requeueing",
				"sent", i,
				"requeued", len(pending)-i,
				"error", err,
			)
			m.mu.Lock()
			m.queue.Requeue(pending[i:])
			m.mu.Unlock()
			return false
		}
	}
	return true
}

// pump consumes one session's frames in arrival order, then handles its
// close. One pump goroutine exists per session generation.
func (m *Manager) pump(t Transport, gen int) {
	for f := range t.Frames() {
		m.handleFrame(f)
	}
	err := <-t.Closed()
	m.handleClose(gen, err)
}

// handleFrame parses and dispatches one inbound envelope. Malformed frames
// are dropped silently; resilience over completeness.
func (m *Manager) handleFrame(f Frame) {
	var env Envelope
	if err := json.Unmarshal(f.Data, &env); err != nil || env.Type == "" {
		m.logger.Debug("dropping malformed frame", "error", err)
		return
	}

	switch env.Type {
	case TypePong:
		m.mu.Lock()
		hb := m.heartbeat
		m.mu.Unlock()
		if hb != nil {
			if latency, ok := hb.Latency(env, f.ReceivedAt); ok {
				m.mu.Lock()
				m.latency = latency
				m.mu.Unlock()
			}
		}
		return
	case TypePing:
		// Reserved type; never dispatched.
		return
	}

	m.registry.Dispatch(Message{
		Type:       env.Type,
		Body:       env.Body(),
		Envelope:   env,
		ReceivedAt: f.ReceivedAt,
	})
}

// handleClose reacts to transport termination. Stale generations (explicit
// Disconnect already detached) are ignored, so one failure never schedules
// two reconnects.
func (m *Manager) handleClose(gen int, err error) {
	m.mu.Lock()
	if m.gen != gen || m.transport == nil {
		m.mu.Unlock()
		return
	}

	if err != nil {
		m.logger.Warn("connection closed", "error", err)
	} else {
		m.logger.Info("connection closed")
	}

	m.clearTimersLocked()
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	m.transport = nil
	m.flushing = false
	m.status = StatusDisconnected
	states := []State{m.stateLocked()}
	if !m.stopped && !m.closed {
		m.scheduleReconnectLocked(&states)
	}
	m.mu.Unlock()

	m.notify(states...)
}

// scheduleReconnectLocked arms at most one reconnect timer. Past the attempt
// ceiling it transitions to degraded instead; while the host is hidden it
// arms nothing and leaves recovery to the visibility watcher.
func (m *Manager) scheduleReconnectLocked(states *[]State) {
	if m.reconnectTimer != nil {
		return
	}
	if m.backoff.Exhausted(m.attempt) {
		m.logger.Warn("reconnect attempts exhausted", "attempts", m.attempt)
		m.status = StatusDegraded
		*states = append(*states, m.stateLocked())
		return
	}
	if !m.visibility.Visible() {
		m.logger.Info("host hidden, deferring reconnect")
		return
	}

	delay := m.backoff.Delay(m.attempt)
	m.attempt++
	m.status = StatusReconnecting
	*states = append(*states, m.stateLocked())

	m.logger.Info("scheduling reconnect", "attempt", m.attempt, "delay", delay)
	m.reconnectTimer = time.AfterFunc(delay, m.reconnectNow)
}

// reconnectNow runs a scheduled retry. Disconnect can land between the timer
// firing and this running; the stopped check keeps that stale retry from
// dialing.
func (m *Manager) reconnectNow() {
	m.mu.Lock()
	m.reconnectTimer = nil
	skip := m.stopped || m.closed
	m.mu.Unlock()

	if skip {
		return
	}
	m.Connect()
}

// stabilize resets the attempt counter once a session survives the stability
// window.
func (m *Manager) stabilize(gen int) {
	m.mu.Lock()
	if m.gen != gen || m.transport == nil {
		m.mu.Unlock()
		return
	}
	m.stabilityTimer = nil
	if m.attempt == 0 {
		m.mu.Unlock()
		return
	}
	m.attempt = 0
	st := m.stateLocked()
	m.mu.Unlock()

	m.logger.Debug("connection stable, attempt counter reset")
	m.notify(st)
}

// watchVisibility connects exactly once when the host becomes visible while
// the channel is down or exhausted. Runs for the Manager's lifetime. This is
// the degraded state's recovery path: each visibility return buys one fresh
// dial.
func (m *Manager) watchVisibility() {
	ch := m.visibility.Changes()
	if ch == nil {
		return
	}
	for {
		select {
		case <-m.lifeCtx.Done():
			return
		case visible, ok := <-ch:
			if !ok {
				return
			}
			if !visible {
				continue
			}
			m.mu.Lock()
			trigger := !m.closed && !m.stopped &&
				(m.status == StatusDisconnected || m.status == StatusDegraded) &&
				m.transport == nil && !m.dialing && m.reconnectTimer == nil
			m.mu.Unlock()
			if trigger {
				m.Connect()
			}
		}
	}
}

func (m *Manager) clearTimersLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.stabilityTimer != nil {
		m.stabilityTimer.Stop()
		m.stabilityTimer = nil
	}
}

func (m *Manager) stateLocked() State {
	return State{
		Status:           m.status,
		ReconnectAttempt: m.attempt,
		Latency:          m.latency,
		LastConnected:    m.lastConnected,
	}
}

// notify delivers state snapshots to state subscribers, isolating panics the
// same way envelope dispatch does.
func (m *Manager) notify(states ...State) {
	if len(states) == 0 {
		return
	}

	m.stateMu.Lock()
	subs := make([]func(State), 0, len(m.stateSubs))
	for _, fn := range m.stateSubs {
		subs = append(subs, fn)
	}
	m.stateMu.Unlock()

	for _, st := range states {
		for _, fn := range subs {
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						m.logger.Warn("state subscriber panic suppressed", "panic", rec)
					}
				}()
				fn(st)
			}()
		}
	}
}

// marshalOutbound serializes an outbound message. Byte slices pass through
// untouched; everything else is JSON-encoded.
func marshalOutbound(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case json.RawMessage:
		return t, nil
	default:
		return json.Marshal(v)
	}
}
