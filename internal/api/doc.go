// Package api implements the HTTP client for the dashboard server's
// snapshot endpoint: the synchronous request/response fallback polled while
// the push channel is degraded.
package api
