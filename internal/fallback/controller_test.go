package fallback

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nxtg-ai/forge-sync/internal/model"
	"github.com/nxtg-ai/forge-sync/internal/realtime"
)

// logCapture is a slog.Handler that records message strings.
type logCapture struct {
	mu   sync.Mutex
	msgs []string
}

func (l *logCapture) Enabled(context.Context, slog.Level) bool { return true }

func (l *logCapture) Handle(_ context.Context, r slog.Record) error {
	l.mu.Lock()
	l.msgs = append(l.msgs, r.Message)
	l.mu.Unlock()
	return nil
}

func (l *logCapture) WithAttrs([]slog.Attr) slog.Handler { return l }
func (l *logCapture) WithGroup(string) slog.Handler      { return l }

func (l *logCapture) saw(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

// stubChannel is a hand-driven connection state stream.
type stubChannel struct {
	mu          sync.Mutex
	state       realtime.State
	subs        []func(realtime.State)
	connects    int
	disconnects int
}

func newStubChannel(status realtime.Status) *stubChannel {
	return &stubChannel{state: realtime.State{Status: status}}
}

func (s *stubChannel) State() realtime.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubChannel) SubscribeState(fn func(realtime.State)) func() {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
	return func() {}
}

func (s *stubChannel) Connect() {
	s.mu.Lock()
	s.connects++
	s.mu.Unlock()
}

func (s *stubChannel) Disconnect() {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
}

// transition publishes a new status to subscribers.
func (s *stubChannel) transition(status realtime.Status) {
	s.mu.Lock()
	s.state = realtime.State{Status: status}
	subs := append([]func(realtime.State){}, s.subs...)
	st := s.state
	s.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

// stubFetcher counts snapshot fetches.
type stubFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *stubFetcher) GetDashboardState(ctx context.Context) (*model.DashboardState, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &model.DashboardState{
		Governance: model.GovernanceStatus{Phase: model.PhaseExecuting},
	}, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testControllerConfig() Config {
	return Config{
		Interval:       10 * time.Millisecond,
		RequestTimeout: time.Second,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestControllerPollsWhileDegraded(t *testing.T) {
	ch := newStubChannel(realtime.StatusConnected)
	fetcher := &stubFetcher{}

	var mu sync.Mutex
	snapshots := 0
	handler := SnapshotHandlerFunc(func(s model.DashboardState) error {
		mu.Lock()
		snapshots++
		mu.Unlock()
		if s.Governance.Phase != model.PhaseExecuting {
			t.Errorf("snapshot phase = %q", s.Governance.Phase)
		}
		return nil
	})

	c := New(testControllerConfig(), ch, fetcher, handler, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop(context.Background())

	if c.Mode() != ModePush {
		t.Fatalf("Mode() = %s at start, want push", c.Mode())
	}

	// Intermediate reconnect states do not trigger polling.
	ch.transition(realtime.StatusReconnecting)
	time.Sleep(30 * time.Millisecond)
	if got := fetcher.callCount(); got != 0 {
		t.Fatalf("fetcher called %d times while reconnecting, want 0", got)
	}

	ch.transition(realtime.StatusDegraded)

	waitFor(t, "polling", func() bool { return fetcher.callCount() >= 2 })
	if c.Mode() != ModePolling {
		t.Errorf("Mode() = %s while degraded, want polling", c.Mode())
	}
	waitFor(t, "snapshot delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return snapshots >= 1
	})
}

func TestControllerStopsPollingOnRecovery(t *testing.T) {
	ch := newStubChannel(realtime.StatusDegraded)
	fetcher := &stubFetcher{}

	c := New(testControllerConfig(), ch, fetcher, nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop(context.Background())

	// Already degraded at start: the replayed state kicks off polling.
	waitFor(t, "polling on startup", func() bool { return fetcher.callCount() >= 1 })

	ch.transition(realtime.StatusConnected)
	waitFor(t, "push mode", func() bool { return c.Mode() == ModePush })

	before := fetcher.callCount()
	time.Sleep(40 * time.Millisecond)
	after := fetcher.callCount()
	if after > before+1 {
		t.Errorf("polling kept running after recovery: %d -> %d", before, after)
	}
}

func TestControllerResume(t *testing.T) {
	ch := newStubChannel(realtime.StatusDegraded)
	fetcher := &stubFetcher{}

	c := New(testControllerConfig(), ch, fetcher, nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop(context.Background())

	waitFor(t, "polling", func() bool { return c.Mode() == ModePolling })

	c.Resume()

	if c.Mode() != ModePush {
		t.Errorf("Mode() = %s after Resume, want push", c.Mode())
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.disconnects != 1 || ch.connects != 1 {
		t.Errorf("Resume: disconnects=%d connects=%d, want 1 each", ch.disconnects, ch.connects)
	}
}

func TestControllerStop(t *testing.T) {
	ch := newStubChannel(realtime.StatusDegraded)
	fetcher := &stubFetcher{}

	c := New(testControllerConfig(), ch, fetcher, nil, nil)
	c.Start(context.Background())

	waitFor(t, "polling", func() bool { return fetcher.callCount() >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	before := fetcher.callCount()
	time.Sleep(40 * time.Millisecond)
	if after := fetcher.callCount(); after > before {
		t.Errorf("polling survived Stop: %d -> %d", before, after)
	}
}

func TestControllerRecoveryLogOnlyOnReconnect(t *testing.T) {
	const recovered = "push delivery recovered, polling cancelled"

	// Shutting down while polling is not a recovery.
	ch := newStubChannel(realtime.StatusDegraded)
	logs := &logCapture{}
	c := New(testControllerConfig(), ch, &stubFetcher{}, nil, slog.New(logs))
	c.Start(context.Background())
	waitFor(t, "polling", func() bool { return c.Mode() == ModePolling })
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if logs.saw(recovered) {
		t.Errorf("Stop during polling logged %q", recovered)
	}

	// An actual reconnect is.
	ch = newStubChannel(realtime.StatusDegraded)
	logs = &logCapture{}
	c = New(testControllerConfig(), ch, &stubFetcher{}, nil, slog.New(logs))
	c.Start(context.Background())
	defer c.Stop(context.Background())
	waitFor(t, "polling", func() bool { return c.Mode() == ModePolling })

	ch.transition(realtime.StatusConnected)
	waitFor(t, "recovery log", func() bool { return logs.saw(recovered) })
}
