package realtime

import "sync"

// Visibility is the host's foreground/background signal. In a browser-like
// host this tracks tab visibility; headless hosts use AlwaysVisible. The
// Manager defers reconnection entirely while hidden and connects once when
// visibility returns.
type Visibility interface {
	// Visible reports the current visibility.
	Visible() bool

	// Changes delivers visibility transitions. May be nil for hosts that
	// never change.
	Changes() <-chan bool
}

// AlwaysVisible is the default Visibility for headless hosts.
type AlwaysVisible struct{}

func (AlwaysVisible) Visible() bool        { return true }
func (AlwaysVisible) Changes() <-chan bool { return nil }

// VisibilitySwitch is a togglable Visibility for embedding hosts and tests.
type VisibilitySwitch struct {
	mu      sync.Mutex
	visible bool
	changes chan bool
}

// NewVisibilitySwitch starts in the given state.
func NewVisibilitySwitch(visible bool) *VisibilitySwitch {
	return &VisibilitySwitch{
		visible: visible,
		changes: make(chan bool, 8),
	}
}

func (v *VisibilitySwitch) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

func (v *VisibilitySwitch) Changes() <-chan bool {
	return v.changes
}

// Set updates visibility and notifies the change channel on transitions.
func (v *VisibilitySwitch) Set(visible bool) {
	v.mu.Lock()
	changed := v.visible != visible
	v.visible = visible
	v.mu.Unlock()

	if changed {
		select {
		case v.changes <- visible:
		default:
		}
	}
}
