package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nxtg-ai/forge-sync/internal/model"
)

// metricRow is the storage shape of one worker metrics sample.
type metricRow struct {
	ReceivedAt     int64 // µs since epoch
	WorkerID       string
	QueueDepth     int
	TasksCompleted int64
	TasksFailed    int64
	CPUPercent     float64
	MemoryMB       float64
	UpdatedAt      int64 // µs since epoch
}

// MetricsWriter records worker metric history.
type MetricsWriter struct {
	cfg    Config
	logger *slog.Logger

	input chan timestamped[model.WorkerMetrics]
	db    batchSender

	batch       []metricRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// NewMetricsWriter creates a MetricsWriter.
func NewMetricsWriter(cfg Config, db batchSender, logger *slog.Logger) *MetricsWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan timestamped[model.WorkerMetrics], cfg.BufferSize),
		batch:  make([]metricRow, 0, cfg.BatchSize),
	}
}

// Record enqueues one metrics sample, dropping on a full buffer.
func (w *MetricsWriter) Record(m model.WorkerMetrics, receivedAt time.Time) {
	select {
	case w.input <- timestamped[model.WorkerMetrics]{value: m, receivedAt: receivedAt}:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("metrics buffer full, dropping sample", "worker_id", m.WorkerID)
	}
}

// Start begins consuming and flushing.
func (w *MetricsWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("metrics writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, drains buffered input, and flushes
// the remainder under the caller's context (w.ctx is already cancelled by
// then and would abort the final write).
func (w *MetricsWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping metrics writer")

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
		w.logger.Warn("metrics writer stop timed out")
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
func (w *MetricsWriter) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *MetricsWriter) consumeLoop() {
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

func (w *MetricsWriter) flushLoop() {
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

func (w *MetricsWriter) handle(ctx context.Context, ev timestamped[model.WorkerMetrics]) {
	row := w.transform(ev.value, ev.receivedAt)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(ctx)
	}
}

// transform converts a WorkerMetrics sample to its storage row.
func (w *MetricsWriter) transform(m model.WorkerMetrics, receivedAt time.Time) metricRow {
	return metricRow{
		ReceivedAt:     receivedAt.UnixMicro(),
		WorkerID:       m.WorkerID,
		QueueDepth:     m.QueueDepth,
		TasksCompleted: m.TasksCompleted,
		TasksFailed:    m.TasksFailed,
		CPUPercent:     m.CPUPercent,
		MemoryMB:       m.MemoryMB,
		UpdatedAt:      m.UpdatedAt.UnixMicro(),
	}
}

// flush writes the current batch to the database.
func (w *MetricsWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]metricRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("metrics batch insert failed", "error", err, "count", len(batch))
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

	w.logger.Debug("flushed metrics",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *MetricsWriter) batchInsert(ctx context.Context, rows []metricRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO worker_metrics (received_at, worker_id, queue_depth, tasks_completed, tasks_failed, cpu_percent, memory_mb, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (worker_id, updated_at) DO NOTHING
		`, r.ReceivedAt, r.WorkerID, r.QueueDepth, r.TasksCompleted, r.TasksFailed, r.CPUPercent, r.MemoryMB, r.UpdatedAt)
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
