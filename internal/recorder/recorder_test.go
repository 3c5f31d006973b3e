package recorder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nxtg-ai/forge-sync/internal/model"
)

// fakeBatchSender records batch sizes and the context state at send time.
type fakeBatchSender struct {
	mu      sync.Mutex
	batches []int
	ctxErrs []error
}

func (s *fakeBatchSender) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b.Len())
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return &fakeBatchResults{remaining: b.Len()}
}

func (s *fakeBatchSender) totalRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += b
	}
	return n
}

type fakeBatchResults struct {
	remaining int
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	r.remaining--
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) { return nil, nil }
func (r *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (r *fakeBatchResults) Close() error             { return nil }

func TestActivityTransform(t *testing.T) {
	w := NewActivityWriter(DefaultConfig(), nil, nil)

	updatedAt := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	receivedAt := updatedAt.Add(120 * time.Millisecond)

	row := w.transform(model.AgentActivity{
		AgentID:   "agent-7",
		Role:      "qa-sentinel",
		TaskID:    "T-42",
		Task:      "run regression sweep",
		Status:    model.TaskInProgress,
		UpdatedAt: updatedAt,
	}, receivedAt)

	if row.AgentID != "agent-7" || row.Role != "qa-sentinel" {
		t.Errorf("identity = %s/%s", row.AgentID, row.Role)
	}
	if row.TaskID != "T-42" || row.Status != model.TaskInProgress {
		t.Errorf("task = %s status = %s", row.TaskID, row.Status)
	}
	if row.UpdatedAt != updatedAt.UnixMicro() {
		t.Errorf("UpdatedAt = %d, want %d", row.UpdatedAt, updatedAt.UnixMicro())
	}
	if row.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, receivedAt.UnixMicro())
	}
}

func TestMetricsTransform(t *testing.T) {
	w := NewMetricsWriter(DefaultConfig(), nil, nil)

	updatedAt := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	row := w.transform(model.WorkerMetrics{
		WorkerID:       "worker-3",
		QueueDepth:     11,
		TasksCompleted: 215,
		TasksFailed:    4,
		CPUPercent:     63.2,
		MemoryMB:       1024.5,
		UpdatedAt:      updatedAt,
	}, updatedAt)

	if row.WorkerID != "worker-3" {
		t.Errorf("WorkerID = %q", row.WorkerID)
	}
	if row.QueueDepth != 11 || row.TasksCompleted != 215 || row.TasksFailed != 4 {
		t.Errorf("counters = %d/%d/%d", row.QueueDepth, row.TasksCompleted, row.TasksFailed)
	}
	if row.CPUPercent != 63.2 || row.MemoryMB != 1024.5 {
		t.Errorf("resources = %v/%v", row.CPUPercent, row.MemoryMB)
	}
	if row.UpdatedAt != updatedAt.UnixMicro() {
		t.Errorf("UpdatedAt = %d, want %d", row.UpdatedAt, updatedAt.UnixMicro())
	}
}

func TestActivityStopFlushesRemainder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour // only the shutdown flush may write

	sink := &fakeBatchSender{}
	w := NewActivityWriter(cfg, sink, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		w.Record(model.AgentActivity{
			AgentID: fmt.Sprintf("agent-%d", i),
			Status:  model.TaskPending,
		}, time.Now())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// Everything recorded before Stop lands in the database, including
	// events still buffered when the consume loop was cancelled.
	if got := sink.totalRows(); got != 3 {
		t.Errorf("rows written = %d, want 3", got)
	}
	for i, err := range sink.ctxErrs {
		if err != nil {
			t.Errorf("batch %d sent with dead context: %v", i, err)
		}
	}
	if got := w.Stats().Inserts; got != 3 {
		t.Errorf("Stats().Inserts = %d, want 3", got)
	}
}

func TestMetricsStopFlushesRemainder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour

	sink := &fakeBatchSender{}
	w := NewMetricsWriter(cfg, sink, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	w.Record(model.WorkerMetrics{WorkerID: "worker-1", QueueDepth: 2}, time.Now())
	w.Record(model.WorkerMetrics{WorkerID: "worker-2", QueueDepth: 5}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := sink.totalRows(); got != 2 {
		t.Errorf("rows written = %d, want 2", got)
	}
	for i, err := range sink.ctxErrs {
		if err != nil {
			t.Errorf("batch %d sent with dead context: %v", i, err)
		}
	}
}

func TestActivityRecordDropsWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 1

	// Not started: nothing consumes the buffer.
	w := NewActivityWriter(cfg, nil, nil)

	activity := model.AgentActivity{AgentID: "agent-1", Status: model.TaskPending}
	w.Record(activity, time.Now())
	w.Record(activity, time.Now())
	w.Record(activity, time.Now())

	if got := w.Stats().Dropped; got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
}

func TestMetricsRecordDropsWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 1

	w := NewMetricsWriter(cfg, nil, nil)

	sample := model.WorkerMetrics{WorkerID: "worker-1"}
	w.Record(sample, time.Now())
	w.Record(sample, time.Now())

	if got := w.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}
