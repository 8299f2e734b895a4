// Package transport owns the realtime media connection: a WebRTC peer
// carrying microphone and playback audio plus the "oai-events" control
// channel, with a WebSocket variant for headless probes.
package transport

import "sync"

// State is the connection lifecycle of a realtime client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateListening    State = "listening"
	StateSpeaking     State = "speaking"
	StateError        State = "error"
)

// validNext encodes the lifecycle: listening and speaking are refinements
// of connected, teardown may happen from anywhere, and an errored client
// must be disconnected before it can connect again.
var validNext = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateDisconnected, StateError},
	StateConnected:    {StateListening, StateSpeaking, StateDisconnected, StateError},
	StateListening:    {StateSpeaking, StateConnected, StateDisconnected, StateError},
	StateSpeaking:     {StateListening, StateConnected, StateDisconnected, StateError},
	StateError:        {StateDisconnected},
}

// StateTracker serializes lifecycle transitions and fans out changes.
// Invalid transitions are dropped so a late asynchronous callback can
// never resurrect a torn-down connection.
type StateTracker struct {
	mu       sync.Mutex
	state    State
	onChange func(old, next State)
}

func NewStateTracker() *StateTracker {
	return &StateTracker{state: StateDisconnected}
}

func (t *StateTracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnChange registers the change callback. It is invoked outside the
// tracker lock.
func (t *StateTracker) OnChange(fn func(old, next State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Set applies a transition and reports whether it took effect.
func (t *StateTracker) Set(next State) bool {
	t.mu.Lock()
	old := t.state
	if old == next || !allowed(old, next) {
		t.mu.Unlock()
		return false
	}
	t.state = next
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(old, next)
	}
	return true
}

func allowed(from, to State) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}
