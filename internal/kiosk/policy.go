// Package kiosk orchestrates one voice session per physical surface:
// it mints the credential, drives the transport, arms the per-surface
// timers and reports usage when the session ends.
package kiosk

import (
	"time"

	"github.com/BricePourLe13/jarvis-voice/internal/gym"
)

const (
	// DefaultVitrineDuration caps demo sessions; operators may raise it
	// up to MaxVitrineDuration.
	DefaultVitrineDuration = 120 * time.Second
	MaxVitrineDuration     = 300 * time.Second

	// DefaultKioskIdle ends a member session after this much silence on
	// the control channel.
	DefaultKioskIdle = 45 * time.Second
)

// Stop reasons reported to the usage endpoint. inactivity_timeout is
// distinct from user-initiated close so the UI can explain what ended
// the conversation.
const (
	ReasonUserStop       = "user_stop"
	ReasonDurationCap    = "duration_cap"
	ReasonInactivity     = "inactivity_timeout"
	ReasonTransportError = "transport_error"
	ReasonConnectFailed  = "connect_failed"
	ReasonSuperseded     = "superseded"
	ReasonShutdown       = "shutdown"
)

// Policy is the per-surface session discipline. A zero duration
// disables the corresponding timer.
type Policy struct {
	Surface            gym.Surface
	MaxSessionDuration time.Duration
	InactivityTimeout  time.Duration
}

// PolicyVitrine caps demo sessions by wall clock. Durations outside
// [DefaultVitrineDuration, MaxVitrineDuration] clamp to the nearest
// bound; zero selects the default.
func PolicyVitrine(d time.Duration) Policy {
	if d < DefaultVitrineDuration {
		d = DefaultVitrineDuration
	}
	if d > MaxVitrineDuration {
		d = MaxVitrineDuration
	}
	return Policy{Surface: gym.SurfaceVitrine, MaxSessionDuration: d}
}

// PolicyKiosk ends member sessions after idle silence instead of a
// hard cap. Zero selects the default timeout.
func PolicyKiosk(idle time.Duration) Policy {
	if idle <= 0 {
		idle = DefaultKioskIdle
	}
	return Policy{Surface: gym.SurfaceKiosk, InactivityTimeout: idle}
}
