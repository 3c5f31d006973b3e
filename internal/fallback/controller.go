package fallback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nxtg-ai/forge-sync/internal/model"
	"github.com/nxtg-ai/forge-sync/internal/realtime"
)

// Mode is the controller's delivery mode.
type Mode string

const (
	ModePush    Mode = "push"
	ModePolling Mode = "polling"
)

// Channel is the manager surface the controller consumes.
type Channel interface {
	State() realtime.State
	SubscribeState(func(realtime.State)) func()
	Connect()
	Disconnect()
}

// StateFetcher fetches the full snapshot from the fallback endpoint.
type StateFetcher interface {
	GetDashboardState(ctx context.Context) (*model.DashboardState, error)
}

// SnapshotHandler receives snapshots fetched while polling.
type SnapshotHandler interface {
	HandleSnapshot(state model.DashboardState) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(model.DashboardState) error

func (f SnapshotHandlerFunc) HandleSnapshot(s model.DashboardState) error {
	return f(s)
}

// Config holds controller configuration.
type Config struct {
	Interval       time.Duration // Poll interval while degraded (default: 5s)
	RequestTimeout time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Controller reacts to the manager's degraded signal by polling the snapshot
// endpoint, and stops the moment push delivery recovers. Polling is terminal
// for the session unless Resume is called or host visibility re-arms the
// manager.
type Controller struct {
	cfg     Config
	channel Channel
	fetcher StateFetcher
	handler SnapshotHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()

	mu         sync.Mutex
	mode       Mode
	pollCancel context.CancelFunc
	pollWg     sync.WaitGroup
}

// New creates a Controller.
func New(cfg Config, channel Channel, fetcher StateFetcher, handler SnapshotHandler, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Controller{
		cfg:     cfg,
		channel: channel,
		fetcher: fetcher,
		handler: handler,
		logger:  logger,
		mode:    ModePush,
	}
}

// Start begins watching the connection state stream.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.unsub = c.channel.SubscribeState(c.onState)

	// The channel may already be exhausted by the time the controller
	// starts.
	c.onState(c.channel.State())

	c.logger.Info("fallback controller started", "interval", c.cfg.Interval)
	return nil
}

// Stop shuts the controller down and waits for an in-flight poll cycle.
func (c *Controller) Stop(ctx context.Context) error {
	if c.unsub != nil {
		c.unsub()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.stopPolling()

	done := make(chan struct{})
	go func() {
		c.pollWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("fallback controller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mode reports the current delivery mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Resume forces a push retry: polling stops, the disconnect resets the
// attempt budget, and the channel reconnects. Not called automatically;
// degraded mode is terminal for the session by default.
func (c *Controller) Resume() {
	c.logger.Info("forcing push retry")
	c.stopPolling()
	c.channel.Disconnect()
	c.channel.Connect()
}

// onState reacts to connection state transitions.
func (c *Controller) onState(st realtime.State) {
	switch st.Status {
	case realtime.StatusDegraded:
		c.startPolling()
	case realtime.StatusConnected:
		if c.stopPolling() {
			c.logger.Info("push delivery recovered, polling cancelled")
		}
	}
}

// startPolling enters degraded mode. Idempotent.
func (c *Controller) startPolling() {
	c.mu.Lock()
	if c.mode == ModePolling {
		c.mu.Unlock()
		return
	}
	c.mode = ModePolling
	ctx, cancel := context.WithCancel(c.ctx)
	c.pollCancel = cancel
	c.pollWg.Add(1)
	c.mu.Unlock()

	c.logger.Warn("push channel exhausted, switching to polling",
		"interval", c.cfg.Interval,
	)
	go c.pollLoop(ctx)
}

// stopPolling leaves polling mode, reporting whether a poller was running.
// Idempotent. Callers own the logging; Stop and Resume also land here and
// those are not recoveries.
func (c *Controller) stopPolling() bool {
	c.mu.Lock()
	if c.mode != ModePolling {
		c.mu.Unlock()
		return false
	}
	c.mode = ModePush
	cancel := c.pollCancel
	c.pollCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// pollLoop fetches snapshots at the configured interval until cancelled.
func (c *Controller) pollLoop(ctx context.Context) {
	defer c.pollWg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on entry.
	c.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// poll fetches and hands off one snapshot.
func (c *Controller) poll(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	state, err := c.fetcher.GetDashboardState(reqCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("snapshot poll failed", "error", err)
		return
	}

	if c.handler != nil {
		if err := c.handler.HandleSnapshot(*state); err != nil {
			c.logger.Warn("snapshot handler failed", "error", err)
		}
	}
}
