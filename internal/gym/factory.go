package gym

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed directory when configured, otherwise
// in-memory (local/dev runs).
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
