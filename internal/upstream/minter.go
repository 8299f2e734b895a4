// Package upstream talks to the realtime voice provider on behalf of
// the server: minting ephemeral session credentials that kiosks use to
// open their own media connections.
package upstream

import (
	"context"
	"time"

	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
)

// Minted is a freshly created provider session with its one-shot
// client secret.
type Minted struct {
	SessionID    string
	ClientSecret string
	Model        string
	ExpiresAt    time.Time
}

// Minter creates provider sessions. The server-side API key never
// leaves this layer; kiosks only ever see the ephemeral secret.
type Minter interface {
	MintSession(ctx context.Context, model string, cfg realtime.SessionConfig) (Minted, error)
}
