package upstream

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
)

// MockMinter issues local credentials when no provider key is
// configured, so the rest of the stack can run in development.
type MockMinter struct {
	TTL time.Duration
}

func NewMockMinter() *MockMinter {
	return &MockMinter{TTL: time.Minute}
}

func (m *MockMinter) MintSession(ctx context.Context, model string, _ realtime.SessionConfig) (Minted, error) {
	select {
	case <-ctx.Done():
		return Minted{}, ctx.Err()
	default:
	}

	ttl := m.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	if model == "" {
		model = "mock-realtime"
	}
	return Minted{
		SessionID:    "sess_mock_" + uuid.NewString(),
		ClientSecret: "ek_mock_" + uuid.NewString(),
		Model:        model,
		ExpiresAt:    time.Now().UTC().Add(ttl),
	}, nil
}
