// Package realtime implements the dashboard synchronization channel.
//
// The Manager:
//   - Owns a single WebSocket transport per process
//   - Dispatches inbound envelopes to type and wildcard subscribers
//   - Reconnects with exponential backoff, capped at five attempts
//   - Measures latency via heartbeat envelopes
//   - Queues outbound messages FIFO across reconnects
package realtime
