package tools

import (
	"context"
	"errors"
	"log"
	"time"
)

// ErrNotFound is returned when no descriptor matches a gym/name pair.
var ErrNotFound = errors.New("tool not found")

// Store persists tool descriptors and the execution log. Counting
// methods exclude rate-limited attempts so a rejected call never
// consumes quota.
type Store interface {
	UpsertDescriptor(ctx context.Context, d Descriptor) (Descriptor, error)
	GetDescriptor(ctx context.Context, gymID, name string) (Descriptor, error)
	ListDescriptors(ctx context.Context, gymID string) ([]Descriptor, error)
	DeleteDescriptor(ctx context.Context, gymID, name string) error

	InsertExecution(ctx context.Context, e Execution) error
	ListExecutions(ctx context.Context, gymID string, limit int) ([]Execution, error)
	CountMemberExecutionsSince(ctx context.Context, gymID, memberID, toolName string, since time.Time) (int, error)
	CountGymExecutionsSince(ctx context.Context, gymID, toolName string, since time.Time) (int, error)

	Close()
}

// NewStore selects a backend from the database URL: Postgres when one
// is configured, the in-process store otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		log.Printf("[tools] no DATABASE_URL, using in-memory tool store")
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
