package recorder

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// batchSender is the slice of pgxpool.Pool the writers need. Tests inject
// in-memory fakes.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds batch writer configuration.
type Config struct {
	BatchSize     int           // Rows per batch insert
	FlushInterval time.Duration // Max time a row waits before flush
	BufferSize    int           // Input channel buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
		BufferSize:    5000,
	}
}

// Metrics are cumulative writer counters.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64
}
