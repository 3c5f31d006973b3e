package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nxtg-ai/forge-sync/internal/model"
)

// activityRow is the storage shape of one agent activity event.
type activityRow struct {
	ReceivedAt int64 // µs since epoch
	AgentID    string
	Role       string
	TaskID     string
	Task       string
	Status     string
	UpdatedAt  int64 // µs since epoch
}

// ActivityWriter records agent activity history.
type ActivityWriter struct {
	cfg    Config
	logger *slog.Logger

	input chan timestamped[model.AgentActivity]
	db    batchSender

	batch       []activityRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// timestamped pairs a decoded event with its local receive time.
type timestamped[T any] struct {
	value      T
	receivedAt time.Time
}

// NewActivityWriter creates an ActivityWriter.
func NewActivityWriter(cfg Config, db batchSender, logger *slog.Logger) *ActivityWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan timestamped[model.AgentActivity], cfg.BufferSize),
		batch:  make([]activityRow, 0, cfg.BatchSize),
	}
}

// Record enqueues one activity event. Non-blocking: when the buffer is full
// the event is dropped with a warning rather than stalling dispatch.
func (w *ActivityWriter) Record(a model.AgentActivity, receivedAt time.Time) {
	select {
	case w.input <- timestamped[model.AgentActivity]{value: a, receivedAt: receivedAt}:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("activity buffer full, dropping event", "agent_id", a.AgentID)
	}
}

// Start begins consuming and flushing.
func (w *ActivityWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("activity writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, drains buffered input, and flushes
// the remainder under the caller's context (w.ctx is already cancelled by
// then and would abort the final write).
func (w *ActivityWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping activity writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("activity writer stop timed out")
	}

	for {
		select {
		case ev := <-w.input:
			w.handle(ctx, ev)
		default:
			w.flush(ctx)
			return nil
		}
	}
}

// Stats returns current metrics.
func (w *ActivityWriter) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *ActivityWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev := <-w.input:
			w.handle(w.ctx, ev)
		}
	}
}

func (w *ActivityWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *ActivityWriter) handle(ctx context.Context, ev timestamped[model.AgentActivity]) {
	row := w.transform(ev.value, ev.receivedAt)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(ctx)
	}
}

// transform converts an AgentActivity to its storage row.
func (w *ActivityWriter) transform(a model.AgentActivity, receivedAt time.Time) activityRow {
	return activityRow{
		ReceivedAt: receivedAt.UnixMicro(),
		AgentID:    a.AgentID,
		Role:       a.Role,
		TaskID:     a.TaskID,
		Task:       a.Task,
		Status:     a.Status,
		UpdatedAt:  a.UpdatedAt.UnixMicro(),
	}
}

// flush writes the current batch to the database.
func (w *ActivityWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]activityRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("activity batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed activity",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *ActivityWriter) batchInsert(ctx context.Context, rows []activityRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO agent_activity (received_at, agent_id, role, task_id, task, status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (agent_id, updated_at) DO NOTHING
		`, r.ReceivedAt, r.AgentID, r.Role, r.TaskID, r.Task, r.Status, r.UpdatedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
