package gym

import (
	"context"
	"errors"
	"time"
)

// Surface identifies which physical UI owns a session.
type Surface string

const (
	SurfaceKiosk   Surface = "kiosk"
	SurfaceVitrine Surface = "vitrine"
)

// ParseSurface normalizes a request-supplied surface, defaulting to kiosk.
func ParseSurface(s string) Surface {
	if s == string(SurfaceVitrine) {
		return SurfaceVitrine
	}
	return SurfaceKiosk
}

// Gym is one tenant.
type Gym struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	Plan             string    `json:"plan"`
	RemainingCredits int       `json:"remaining_credits"`
	Instructions     string    `json:"instructions,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Member is a gym member, looked up by badge at the kiosk.
type Member struct {
	ID             string     `json:"id"`
	GymID          string     `json:"gym_id"`
	BadgeID        string     `json:"badge_id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email"`
	MembershipType string     `json:"membership_type"`
	Blocked        bool       `json:"blocked"`
	BlockReason    string     `json:"block_reason,omitempty"`
	BlockedUntil   *time.Time `json:"blocked_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// BlockedNow reports whether the member is blocked at t. A block with no
// expiry is indefinite.
func (m Member) BlockedNow(t time.Time) bool {
	if !m.Blocked {
		return false
	}
	if m.BlockedUntil == nil {
		return true
	}
	return t.Before(*m.BlockedUntil)
}

// SessionLog is one voice session's usage row.
type SessionLog struct {
	SessionID       string     `json:"session_id"`
	GymID           string     `json:"gym_id"`
	MemberID        string     `json:"member_id,omitempty"`
	Surface         Surface    `json:"surface"`
	ClientIP        string     `json:"client_ip,omitempty"`
	Model           string     `json:"model,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	CreditsUsed     int        `json:"credits_used"`
	EndReason       string     `json:"end_reason,omitempty"`
}

var (
	ErrNotFound     = errors.New("gym: not found")
	ErrSessionEnded = errors.New("gym: session already ended")
)

// Store is the tenant directory: gyms, members, credits and the session
// usage log the admission limiter counts against.
type Store interface {
	UpsertGym(ctx context.Context, g Gym) error
	GetGym(ctx context.Context, id string) (Gym, error)

	UpsertMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, gymID, memberID string) (Member, error)
	MemberByBadge(ctx context.Context, gymID, badgeID string) (Member, error)

	InsertSession(ctx context.Context, s SessionLog) error
	// CloseSession marks the open row ended, records duration/credits and
	// decrements the gym's credits (floored at zero), returning the credits
	// remaining afterwards. A second close returns ErrSessionEnded.
	CloseSession(ctx context.Context, sessionID string, durationSeconds, creditsUsed int, reason string) (remaining int, err error)
	// ActiveSessionID returns the member's open session id, if any.
	ActiveSessionID(ctx context.Context, gymID, memberID string) (string, bool, error)

	CountMemberSessionsSince(ctx context.Context, gymID, memberID string, since time.Time) (int, error)
	CountIPSessionsSince(ctx context.Context, gymID, clientIP string, since time.Time) (int, error)

	Close() error
}
