package realtime

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrQueueFull is returned by the send queue when the outbound cap is hit.
var ErrQueueFull = errors.New("outbound queue full")

// Reserved envelope types. These carry only heartbeat correlation and are
// never dispatched to subscribers.
const (
	TypePing = "sys.ping"
	TypePong = "sys.pong"
)

// Wildcard subscribes a handler to every envelope regardless of type.
const Wildcard = "*"

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"

	// StatusDegraded means reconnection attempts are exhausted. The manager
	// schedules nothing further; consumers switch to snapshot polling.
	StatusDegraded Status = "degraded"
)

// State is an immutable snapshot of the connection state.
type State struct {
	Status           Status
	ReconnectAttempt int
	Latency          time.Duration
	LastConnected    time.Time // Zero if never connected
}

// Envelope is the typed message wrapper carried over the channel.
type Envelope struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// Body returns the application payload. Heterogeneous senders put it in
// either "payload" or "data"; "payload" wins when both are set.
func (e Envelope) Body() json.RawMessage {
	if len(e.Payload) > 0 {
		return e.Payload
	}
	return e.Data
}

// Message is a dispatched inbound envelope. Type subscribers read Body;
// wildcard subscribers get the full envelope.
type Message struct {
	Type       string
	Body       json.RawMessage
	Envelope   Envelope
	ReceivedAt time.Time
}

// Handler receives dispatched messages. Handlers run synchronously on the
// read pump goroutine, in arrival order.
type Handler func(Message)

// Frame is a raw inbound frame with its receive timestamp.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// Config configures a Manager.
type Config struct {
	URL                  string        // WebSocket URL (e.g., wss://forge.local/ws)
	DialTimeout          time.Duration // Handshake timeout
	WriteTimeout         time.Duration // Write deadline for sends
	HeartbeatInterval    time.Duration // Ping cadence while connected
	ReconnectBaseDelay   time.Duration // First backoff delay
	ReconnectMaxDelay    time.Duration // Backoff cap
	MaxReconnectAttempts int           // Attempt ceiling before degraded
	StabilityWindow      time.Duration // Sustained-connected time before attempt reset
	SendQueueLimit       int           // Outbound queue cap while disconnected
	FrameBufferSize      int           // Transport inbound channel buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:          10 * time.Second,
		WriteTimeout:         5 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
		StabilityWindow:      5 * time.Second,
		SendQueueLimit:       512,
		FrameBufferSize:      256,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DialTimeout == 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.StabilityWindow == 0 {
		c.StabilityWindow = def.StabilityWindow
	}
	if c.SendQueueLimit == 0 {
		c.SendQueueLimit = def.SendQueueLimit
	}
	if c.FrameBufferSize == 0 {
		c.FrameBufferSize = def.FrameBufferSize
	}
}
