package tools

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store used for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor // gymID + "/" + name
	executions  []Execution
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{descriptors: make(map[string]Descriptor)}
}

func descriptorKey(gymID, name string) string {
	return gymID + "/" + name
}

func (s *MemoryStore) UpsertDescriptor(_ context.Context, d Descriptor) (Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := descriptorKey(d.GymID, d.Name)
	now := time.Now().UTC()
	if existing, ok := s.descriptors[key]; ok {
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
	} else {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	s.descriptors[key] = d
	return d, nil
}

func (s *MemoryStore) GetDescriptor(_ context.Context, gymID, name string) (Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.descriptors[descriptorKey(gymID, name)]
	if !ok {
		return Descriptor{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) ListDescriptors(_ context.Context, gymID string) ([]Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Descriptor
	for key, d := range s.descriptors {
		if strings.HasPrefix(key, gymID+"/") {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteDescriptor(_ context.Context, gymID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := descriptorKey(gymID, name)
	if _, ok := s.descriptors[key]; !ok {
		return ErrNotFound
	}
	delete(s.descriptors, key)
	return nil
}

func (s *MemoryStore) InsertExecution(_ context.Context, e Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.executions = append(s.executions, e)
	return nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, gymID string, limit int) ([]Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var out []Execution
	for i := len(s.executions) - 1; i >= 0 && len(out) < limit; i-- {
		if s.executions[i].GymID == gymID {
			out = append(out, s.executions[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) CountMemberExecutionsSince(_ context.Context, gymID, memberID, toolName string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.executions {
		if e.GymID == gymID && e.MemberID == memberID && e.ToolName == toolName &&
			e.Status != StatusRateLimited && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountGymExecutionsSince(_ context.Context, gymID, toolName string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.executions {
		if e.GymID == gymID && e.ToolName == toolName &&
			e.Status != StatusRateLimited && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() {}
