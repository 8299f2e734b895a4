package gym

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps the whole directory in process for local/dev use and
// tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	gyms     map[string]Gym
	members  map[string]Member // member id → member
	sessions map[string]*SessionLog
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		gyms:     make(map[string]Gym),
		members:  make(map[string]Member),
		sessions: make(map[string]*SessionLog),
	}
}

func (s *InMemoryStore) UpsertGym(_ context.Context, g Gym) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	s.gyms[g.ID] = g
	return nil
}

func (s *InMemoryStore) GetGym(_ context.Context, id string) (Gym, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gyms[id]
	if !ok {
		return Gym{}, ErrNotFound
	}
	return g, nil
}

func (s *InMemoryStore) UpsertMember(_ context.Context, m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.members[m.ID] = m
	return nil
}

func (s *InMemoryStore) GetMember(_ context.Context, gymID, memberID string) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberID]
	if !ok || m.GymID != gymID {
		return Member{}, ErrNotFound
	}
	return m, nil
}

func (s *InMemoryStore) MemberByBadge(_ context.Context, gymID, badgeID string) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if m.GymID == gymID && m.BadgeID == badgeID {
			return m, nil
		}
	}
	return Member{}, ErrNotFound
}

func (s *InMemoryStore) InsertSession(_ context.Context, log SessionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now().UTC()
	}
	cp := log
	s.sessions[log.SessionID] = &cp
	return nil
}

func (s *InMemoryStore) CloseSession(_ context.Context, sessionID string, durationSeconds, creditsUsed int, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.sessions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	if log.EndedAt != nil {
		return 0, ErrSessionEnded
	}
	now := time.Now().UTC()
	log.EndedAt = &now
	log.DurationSeconds = durationSeconds
	log.CreditsUsed = creditsUsed
	log.EndReason = reason

	g, ok := s.gyms[log.GymID]
	if !ok {
		return 0, ErrNotFound
	}
	g.RemainingCredits -= creditsUsed
	if g.RemainingCredits < 0 {
		g.RemainingCredits = 0
	}
	s.gyms[log.GymID] = g
	return g.RemainingCredits, nil
}

func (s *InMemoryStore) ActiveSessionID(_ context.Context, gymID, memberID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if memberID == "" {
		return "", false, nil
	}
	for id, log := range s.sessions {
		if log.GymID == gymID && log.MemberID == memberID && log.EndedAt == nil {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (s *InMemoryStore) CountMemberSessionsSince(_ context.Context, gymID, memberID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, log := range s.sessions {
		if log.GymID == gymID && log.MemberID == memberID && !log.StartedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CountIPSessionsSince(_ context.Context, gymID, clientIP string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if clientIP == "" {
		return 0, nil
	}
	n := 0
	for _, log := range s.sessions {
		if log.GymID == gymID && log.ClientIP == clientIP && !log.StartedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error { return nil }
