package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a single established full-duplex channel.
type Transport interface {
	// Send writes one text frame. Write errors are reported to the caller
	// but carry no recovery semantics; recovery is driven by Closed.
	Send(data []byte) error

	// Frames returns the inbound frame channel. It is closed when the
	// transport terminates.
	Frames() <-chan Frame

	// Closed delivers exactly one value when the transport terminates,
	// whether by peer close, read error, or local Close.
	Closed() <-chan error

	// Close tears the transport down.
	Close() error
}

// DialFunc establishes a Transport. Tests substitute fakes; production uses
// the gorilla dialer via NewManager's default.
type DialFunc func(ctx context.Context, url string) (Transport, error)

// wsTransport implements Transport over a gorilla connection.
type wsTransport struct {
	cfg    Config
	logger *slog.Logger
	conn   *websocket.Conn

	frames chan Frame
	closed chan error

	// Write serialization
	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

// dialWebSocket dials url and starts the read loop.
func dialWebSocket(ctx context.Context, url string, cfg Config, logger *slog.Logger) (Transport, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	t := &wsTransport{
		cfg:    cfg,
		logger: logger,
		conn:   conn,
		frames: make(chan Frame, cfg.FrameBufferSize),
		closed: make(chan error, 1),
		done:   make(chan struct{}),
	}

	go t.readLoop()

	logger.Debug("websocket connected", "url", url)
	return t, nil
}

// Send writes one text frame with the configured deadline.
func (t *wsTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Frames() <-chan Frame {
	return t.frames
}

func (t *wsTransport) Closed() <-chan error {
	return t.closed
}

// Close sends a close frame and tears down the connection.
func (t *wsTransport) Close() error {
	var err error
	t.doneOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}

// readLoop reads frames until the connection terminates, then signals Closed
// exactly once and closes the frame channel.
func (t *wsTransport) readLoop() {
	defer close(t.frames)

	for {
		_, data, err := t.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-t.done:
				// Local Close; report a clean termination.
				t.closed <- nil
			default:
				t.closed <- err
			}
			return
		}

		select {
		case t.frames <- Frame{Data: data, ReceivedAt: receivedAt}:
		case <-t.done:
			t.closed <- nil
			return
		default:
			t.logger.Warn("frame buffer full, dropping frame")
		}
	}
}
