// Package model defines the typed event payloads carried over the
// synchronization channel and the full dashboard state snapshot served by
// the fallback endpoint. Known event types decode through validated structs
// at the boundary; unknown types stay raw.
package model
