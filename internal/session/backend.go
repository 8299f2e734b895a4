package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// UsageReport is the backend's answer to a session-end call: billed
// duration, credits consumed and the gym's remaining balance.
type UsageReport struct {
	DurationSeconds  int `json:"durationSeconds"`
	CreditsUsed      int `json:"creditsUsed"`
	RemainingCredits int `json:"remainingCredits"`
}

// ToolOutcome is the structured result of one bridged tool call. The
// backend answers 200 for business failures too; Success and Status
// carry the verdict.
type ToolOutcome struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

// Backend is the kiosk's client for the rest of the jarvisd API: usage
// reports, instrumentation events and tool dispatch. Minting stays on
// Factory, which carries its own retry schedule; nothing here retries,
// because tool calls are not idempotent and usage reports are resolved
// server-side.
type Backend struct {
	baseURL string
	token   string
	client  *http.Client
}

type BackendOption func(*Backend)

// WithBackendToken sets the bearer token presented on every call.
func WithBackendToken(token string) BackendOption {
	return func(b *Backend) { b.token = token }
}

// WithBackendHTTPClient overrides the HTTP client.
func WithBackendHTTPClient(c *http.Client) BackendOption {
	return func(b *Backend) { b.client = c }
}

func NewBackend(baseURL string, opts ...BackendOption) *Backend {
	b := &Backend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EndSession closes a session server-side. The backend computes the
// credits from the reported duration; the kiosk never bills locally.
func (b *Backend) EndSession(ctx context.Context, sessionID string, elapsed time.Duration, reason string) (UsageReport, error) {
	var out struct {
		Success bool `json:"success"`
		UsageReport
	}
	payload := map[string]any{
		"duration_seconds": int(elapsed.Round(time.Second) / time.Second),
		"reason":           reason,
	}
	err := b.post(ctx, "/v1/realtime/sessions/"+url.PathEscape(sessionID)+"/end", payload, &out)
	if err != nil {
		return UsageReport{}, err
	}
	return out.UsageReport, nil
}

// PostEvent ships one instrumentation event to the monitor feed.
func (b *Backend) PostEvent(ctx context.Context, sessionID, kind, detail string) error {
	payload := map[string]any{
		"type":   kind,
		"detail": detail,
		"at":     time.Now().UTC().Format(time.RFC3339),
	}
	return b.post(ctx, "/v1/realtime/sessions/"+url.PathEscape(sessionID)+"/events", payload, nil)
}

// InvokeTool runs one model-requested tool call through the execution
// bridge and returns its structured outcome.
func (b *Backend) InvokeTool(ctx context.Context, sessionID, toolName, argsJSON, callID string) (ToolOutcome, error) {
	args := json.RawMessage(strings.TrimSpace(argsJSON))
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		return ToolOutcome{}, fmt.Errorf("tool %s arguments are not valid JSON", toolName)
	}

	payload := map[string]any{
		"session_id": sessionID,
		"tool_name":  toolName,
		"args":       args,
	}
	if callID != "" {
		payload["call_id"] = callID
	}
	var out ToolOutcome
	if err := b.post(ctx, "/v1/tools/execute", payload, &out); err != nil {
		return ToolOutcome{}, err
	}
	return out, nil
}

func (b *Backend) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	res, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%s returned %d: %s", path, res.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
