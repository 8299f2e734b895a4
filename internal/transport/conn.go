package transport

import (
	"context"

	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
	"github.com/BricePourLe13/jarvis-voice/internal/session"
)

// Conn is the provider connection surface shared by the WebRTC client
// and the WebSocket variant. Session controllers program against it so
// tests can substitute fakes.
type Conn interface {
	Connect(ctx context.Context, grant *session.Grant) error
	Disconnect() error
	State() State
	OnStateChange(fn func(old, next State))
	Router() *realtime.Router
	SendEvent(ev realtime.Event) error
	SendText(text string) error
	UpdateSession(cfg realtime.SessionConfig) error
	SendFunctionResult(callID, output string) error
}

// dispatchServerEvent maps one provider event onto the lifecycle and
// fans it out through the router. Both transports feed their inbound
// frames through here.
func dispatchServerEvent(raw []byte, states *StateTracker, router *realtime.Router, logf func(format string, args ...any)) {
	ev, err := realtime.ParseServerEvent(raw)
	if err != nil {
		logf("[transport] drop malformed event: %v", err)
		return
	}
	switch ev.Kind() {
	case realtime.TypeSpeechStarted:
		states.Set(StateListening)
	case realtime.TypeSpeechStopped:
		// Only leaves listening. The stop notification can trail the
		// response that the committed audio triggered; it must not bounce
		// a speaking client back to connected.
		if states.State() == StateListening {
			states.Set(StateConnected)
		}
	case realtime.TypeResponseCreated:
		states.Set(StateSpeaking)
	case realtime.TypeResponseDone:
		states.Set(StateConnected)
	case realtime.TypeError:
		if e, ok := ev.(realtime.ErrorEvent); ok {
			logf("[transport] provider error %s: %s", e.Error.Code, e.Error.Message)
		}
	}
	router.Route(ev)
}
