package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BricePourLe13/jarvis-voice/internal/gym"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session is one live voice session tracked by the server. ID is the
// upstream realtime session id minted for the kiosk.
type Session struct {
	ID             string      `json:"session_id"`
	GymID          string      `json:"gym_id"`
	MemberID       string      `json:"member_id,omitempty"`
	Surface        gym.Surface `json:"surface"`
	ClientIP       string      `json:"client_ip,omitempty"`
	Model          string      `json:"model,omitempty"`
	Status         Status      `json:"status"`
	StartedAt      time.Time   `json:"started_at"`
	LastActivityAt time.Time   `json:"last_activity_at"`
	ExpiresAt      time.Time   `json:"expires_at,omitempty"`
}

// Registry tracks active sessions so a gym member (or a vitrine
// visitor keyed by address) can hold at most one at a time.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byOwner  map[string]string
	maxIdle  time.Duration
	onExpire func(*Session)
}

func NewRegistry(maxIdle time.Duration) *Registry {
	if maxIdle <= 0 {
		maxIdle = 10 * time.Minute
	}
	return &Registry{
		sessions: make(map[string]*Session),
		byOwner:  make(map[string]string),
		maxIdle:  maxIdle,
	}
}

// SetExpireHook registers a callback invoked outside the registry lock
// for every session the janitor expires.
func (r *Registry) SetExpireHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

func ownerKey(s *Session) string {
	if s.MemberID != "" {
		return s.GymID + "/member/" + s.MemberID
	}
	if s.ClientIP != "" {
		return s.GymID + "/ip/" + s.ClientIP
	}
	return ""
}

// Track records a freshly minted session as active.
func (r *Registry) Track(s Session) *Session {
	now := time.Now().UTC()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Status = StatusActive
	s.StartedAt = now
	s.LastActivityAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = &s
	if key := ownerKey(&s); key != "" {
		r.byOwner[key] = s.ID
	}
	return clone(&s)
}

func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Touch marks inbound activity on a session, deferring janitor expiry.
func (r *Registry) Touch(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// ActiveForMember returns the active session id held by a member, if any.
func (r *Registry) ActiveForMember(gymID, memberID string) (string, bool) {
	return r.activeForOwner(gymID + "/member/" + memberID)
}

// ActiveForIP returns the active vitrine session id held by an address.
func (r *Registry) ActiveForIP(gymID, ip string) (string, bool) {
	return r.activeForOwner(gymID + "/ip/" + ip)
}

func (r *Registry) activeForOwner(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byOwner[key]
	if !ok {
		return "", false
	}
	s, ok := r.sessions[id]
	if !ok || s.Status != StatusActive {
		return "", false
	}
	return id, true
}

func (r *Registry) End(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.LastActivityAt = time.Now().UTC()
	if key := ownerKey(s); key != "" && r.byOwner[key] == s.ID {
		delete(r.byOwner, key)
	}
	return clone(s), nil
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireStale()
			}
		}
	}()
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// expireStale ends sessions idle past maxIdle or past their credential
// expiry. The upstream connection is already dead by then; the hook
// lets the server settle usage for rows the kiosk never closed. Ended
// rows are kept one idle window so stragglers still get a clean
// "already ended" answer, then evicted.
func (r *Registry) expireStale() {
	now := time.Now().UTC()
	var expired []*Session

	r.mu.Lock()
	for id, s := range r.sessions {
		if s.Status == StatusEnded {
			if now.Sub(s.LastActivityAt) >= r.maxIdle {
				delete(r.sessions, id)
			}
			continue
		}
		idle := now.Sub(s.LastActivityAt) >= r.maxIdle
		lapsed := !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt.Add(time.Minute))
		if !idle && !lapsed {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		if key := ownerKey(s); key != "" && r.byOwner[key] == s.ID {
			delete(r.byOwner, key)
		}
	}
	hook := r.onExpire
	r.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
