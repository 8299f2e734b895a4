package session

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
)

// CreateRequest identifies who is asking for a voice session.
type CreateRequest struct {
	GymID    string `json:"gym_id"`
	MemberID string `json:"member_id,omitempty"`
	BadgeID  string `json:"badge_id,omitempty"`
	Surface  string `json:"surface,omitempty"`
}

// ErrGrantUsed is returned when a grant's secret is requested twice.
var ErrGrantUsed = errors.New("session: credential already used")

// Grant is a minted ephemeral credential. It authorizes exactly one
// realtime connection; the secret can be taken only once.
type Grant struct {
	SessionID        string
	Model            string
	ExpiresAt        time.Time
	SessionConfig    *realtime.SessionConfig
	RemainingCredits int // -1 when the server did not report it

	secret string
	used   atomic.Bool
}

// NewGrant builds a grant around an ephemeral secret.
func NewGrant(sessionID, secret, model string, expiresAt time.Time) *Grant {
	return &Grant{
		SessionID:        sessionID,
		Model:            model,
		ExpiresAt:        expiresAt,
		RemainingCredits: -1,
		secret:           secret,
	}
}

// Secret hands out the ephemeral credential on first call and fails on
// every later one.
func (g *Grant) Secret() (string, error) {
	if g.used.Swap(true) {
		return "", ErrGrantUsed
	}
	return g.secret, nil
}

// RateLimitError carries the structured rejection payload from the
// session endpoint: admission rejections are decisions, not faults, so
// they are never retried. RemainingCredits is -1 when unreported.
type RateLimitError struct {
	StatusCode       int
	Message          string
	HasActiveSession bool
	RemainingCredits int
	IsBlocked        bool
	ResetTime        string
}

func (e *RateLimitError) Error() string {
	switch {
	case e.IsBlocked:
		return fmt.Sprintf("session rejected (blocked): %s", e.Message)
	case e.HasActiveSession:
		return fmt.Sprintf("session rejected (active session): %s", e.Message)
	default:
		return fmt.Sprintf("session rejected: %s", e.Message)
	}
}

// mintResponse is the wire shape of the session endpoint, success and
// error fields both.
type mintResponse struct {
	Success          bool                    `json:"success"`
	Session          mintSession             `json:"session"`
	SessionUpdate    *realtime.SessionConfig `json:"sessionUpdateConfig,omitempty"`
	RemainingCredits *int                    `json:"remainingCredits,omitempty"`
	Error            string                  `json:"error,omitempty"`
	HasActiveSession bool                    `json:"hasActiveSession,omitempty"`
	IsBlocked        bool                    `json:"isBlocked,omitempty"`
	ResetTime        string                  `json:"resetTime,omitempty"`
}

type mintSession struct {
	SessionID    string `json:"session_id"`
	ClientSecret string `json:"client_secret"`
	Model        string `json:"model"`
	ExpiresAt    int64  `json:"expires_at"`
}
