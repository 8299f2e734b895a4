package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/BricePourLe13/jarvis-voice/internal/reliability"
)

const mintPath = "/v1/realtime/sessions"

// Factory mints ephemeral realtime credentials from the session
// endpoint. Every Create performs a fresh mint: grants are never
// cached, so a credential can never serve two connections. Transient
// endpoint failures are retried with bounded exponential backoff;
// rate-limit and blocked rejections are surfaced immediately.
type Factory struct {
	baseURL     string
	token       string
	client      *http.Client
	logf        func(format string, args ...any)
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
}

type FactoryOption func(*Factory)

// WithToken sets a bearer token the kiosk presents to the session
// endpoint.
func WithToken(token string) FactoryOption {
	return func(f *Factory) { f.token = token }
}

// WithFactoryHTTPClient overrides the HTTP client.
func WithFactoryHTTPClient(c *http.Client) FactoryOption {
	return func(f *Factory) { f.client = c }
}

// WithFactoryLogf overrides the log sink.
func WithFactoryLogf(logf func(format string, args ...any)) FactoryOption {
	return func(f *Factory) { f.logf = logf }
}

// WithRetry tunes the backoff schedule for transient failures.
func WithRetry(maxAttempts int, base, cap time.Duration) FactoryOption {
	return func(f *Factory) {
		f.maxAttempts = maxAttempts
		f.backoffBase = base
		f.backoffCap = cap
	}
}

func NewFactory(baseURL string, opts ...FactoryOption) *Factory {
	f := &Factory{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: 15 * time.Second},
		logf:        log.Printf,
		maxAttempts: 3,
		backoffBase: 500 * time.Millisecond,
		backoffCap:  4 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create mints a new session grant. On admission rejection the returned
// error is a *RateLimitError and no retry is attempted.
func (f *Factory) Create(ctx context.Context, req CreateRequest) (*Grant, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode session request: %w", err)
	}

	var grant *Grant
	err = reliability.Do(ctx, f.maxAttempts, f.backoffBase, f.backoffCap, func(attempt int) error {
		if attempt > 0 {
			f.logf("[session] retrying mint (attempt %d/%d)", attempt+1, f.maxAttempts)
		}
		g, err := f.mint(ctx, payload)
		if err != nil {
			return err
		}
		grant = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

func (f *Factory) mint(ctx context.Context, payload []byte) (*Grant, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+mintPath, bytes.NewReader(payload))
	if err != nil {
		return nil, reliability.Permanent(fmt.Errorf("build mint request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mint session: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read mint response: %w", err)
	}

	var mr mintResponse
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, &mr); err != nil {
			return nil, reliability.Permanent(fmt.Errorf("decode mint response: %w", err))
		}
		if !mr.Success || mr.Session.SessionID == "" || mr.Session.ClientSecret == "" {
			return nil, reliability.Permanent(fmt.Errorf("mint response missing session credential"))
		}
		var expiresAt time.Time
		if mr.Session.ExpiresAt > 0 {
			expiresAt = time.Unix(mr.Session.ExpiresAt, 0).UTC()
		}
		grant := NewGrant(mr.Session.SessionID, mr.Session.ClientSecret, mr.Session.Model, expiresAt)
		grant.SessionConfig = mr.SessionUpdate
		if mr.RemainingCredits != nil {
			grant.RemainingCredits = *mr.RemainingCredits
		}
		return grant, nil
	}

	// Error responses carry a structured body; decode best-effort.
	_ = json.Unmarshal(data, &mr)
	msg := mr.Error
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired ||
		mr.IsBlocked || mr.HasActiveSession || mr.ResetTime != "" || mr.RemainingCredits != nil {
		rle := &RateLimitError{
			StatusCode:       resp.StatusCode,
			Message:          msg,
			HasActiveSession: mr.HasActiveSession,
			RemainingCredits: -1,
			IsBlocked:        mr.IsBlocked,
			ResetTime:        mr.ResetTime,
		}
		if mr.RemainingCredits != nil {
			rle.RemainingCredits = *mr.RemainingCredits
		}
		return nil, reliability.Permanent(rle)
	}
	if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
		return nil, fmt.Errorf("session endpoint returned %d: %s", resp.StatusCode, msg)
	}
	return nil, reliability.Permanent(fmt.Errorf("session endpoint returned %d: %s", resp.StatusCode, msg))
}
