// Package recorder persists received orchestration state as history.
//
// The recorder:
//   - Buffers agent activity and worker metrics through bounded channels
//   - Batches rows and flushes on size or interval
//   - Writes to Postgres with ON CONFLICT DO NOTHING for replayed events
package recorder
