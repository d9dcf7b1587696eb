package venues

import "sync"

// State names a point in the adapter connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateWSConnected  State = "ws-connected"
)

// ConnState is the mutex-guarded connection state machine embedded by every
// adapter. Transitions are strict: connecting is only reachable from
// disconnected, ws-connected only from connected, and disconnect is legal
// from any state.
type ConnState struct {
	mu    sync.Mutex
	state State
}

// NewConnState starts in the disconnected state.
func NewConnState() *ConnState {
	return &ConnState{mu: sync.Mutex{}, state: StateDisconnected}
}

// BeginConnect moves disconnected → connecting. A false return means a
// connect is already in flight or the adapter is already connected.
func (c *ConnState) BeginConnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisconnected {
		return false
	}
	c.state = StateConnecting
	return true
}

// MarkConnected moves connecting → connected after the probe succeeds. A
// false return means the lifecycle moved on underneath the caller, such as
// a Disconnect racing a mid-flight Connect.
func (c *ConnState) MarkConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.state = StateConnected
	return true
}

// MarkWS records the push channel opening or closing. The REST session stays
// connected either way.
func (c *ConnState) MarkWS(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case up && c.state == StateConnected:
		c.state = StateWSConnected
	case !up && c.state == StateWSConnected:
		c.state = StateConnected
	}
}

// Reset returns to disconnected from any state.
func (c *ConnState) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDisconnected
}

// Connected reports whether the REST session is established. The push
// channel state does not influence the result.
func (c *ConnState) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected || c.state == StateWSConnected
}

// Current returns the state for logging and tests.
func (c *ConnState) Current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
