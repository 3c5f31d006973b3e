// Package fallback implements the degraded-mode controller.
//
// The controller:
//   - Watches the manager's connection state stream
//   - Switches to periodic snapshot polling when reconnection is exhausted
//   - Cancels the poller the moment push delivery recovers
//   - Offers an explicit Resume for hosts that want to force a push retry
package fallback
