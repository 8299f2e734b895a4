package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
)

const defaultBaseURL = "https://api.openai.com"

// OpenAIMinter mints realtime sessions against the OpenAI API.
type OpenAIMinter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type OpenAIOption func(*OpenAIMinter)

// WithBaseURL points the minter at a different API host, mainly for
// tests and proxies.
func WithBaseURL(url string) OpenAIOption {
	return func(m *OpenAIMinter) { m.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(m *OpenAIMinter) { m.client = c }
}

func NewOpenAIMinter(apiKey string, opts ...OpenAIOption) *OpenAIMinter {
	m := &OpenAIMinter{
		baseURL: defaultBaseURL,
		apiKey:  strings.TrimSpace(apiKey),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// mintPayload flattens the model name into the session configuration,
// matching the sessions endpoint's request shape.
type mintPayload struct {
	Model string `json:"model"`
	realtime.SessionConfig
}

func (m *OpenAIMinter) MintSession(ctx context.Context, model string, cfg realtime.SessionConfig) (Minted, error) {
	payload, err := json.Marshal(mintPayload{Model: model, SessionConfig: cfg})
	if err != nil {
		return Minted{}, fmt.Errorf("marshal session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/realtime/sessions", bytes.NewReader(payload))
	if err != nil {
		return Minted{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := m.client.Do(httpReq)
	if err != nil {
		return Minted{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Minted{}, fmt.Errorf("mint session status %d: %s", res.StatusCode, string(body))
	}

	var sr realtime.SessionResource
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return Minted{}, fmt.Errorf("decode session: %w", err)
	}
	if sr.ID == "" || sr.ClientSecret == nil || sr.ClientSecret.Value == "" {
		return Minted{}, fmt.Errorf("session response missing client secret")
	}

	minted := Minted{
		SessionID:    sr.ID,
		ClientSecret: sr.ClientSecret.Value,
		Model:        sr.Model,
	}
	if minted.Model == "" {
		minted.Model = model
	}
	if sr.ClientSecret.ExpiresAt > 0 {
		minted.ExpiresAt = time.Unix(sr.ClientSecret.ExpiresAt, 0).UTC()
	}
	return minted, nil
}
