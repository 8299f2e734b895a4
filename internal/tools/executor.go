package tools

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/BricePourLe13/jarvis-voice/internal/gym"
)

const (
	maxResponseBytes = 1 << 20
	maxStoredResult  = 4096
)

// QueryRunner runs read-only statements for query tools. *pgxpool.Pool
// satisfies it.
type QueryRunner interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Request is one tool invocation on behalf of a voice session.
type Request struct {
	Gym       gym.Gym
	Member    gym.Member
	SessionID string
	ToolName  string
	Args      map[string]any
}

// Result is the outcome handed back to the voice session. Output is
// what the model sees; Error is a short operator-facing reason.
type Result struct {
	Status     string `json:"status"`
	Kind       Kind   `json:"-"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Executor loads descriptors, enforces limits, validates arguments, and
// dispatches. Rate-limit checks fail closed: when the store cannot
// answer, the call is rejected.
type Executor struct {
	store  Store
	db     QueryRunner
	client *http.Client
	logf   func(format string, args ...any)
	now    func() time.Time
}

type ExecutorOption func(*Executor)

// WithQueryRunner wires the database query tools run against.
func WithQueryRunner(q QueryRunner) ExecutorOption {
	return func(e *Executor) { e.db = q }
}

// WithHTTPClient overrides the client used for rest and webhook kinds.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

// WithExecutorLogf overrides the executor's log sink.
func WithExecutorLogf(logf func(format string, args ...any)) ExecutorOption {
	return func(e *Executor) { e.logf = logf }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(store Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:  store,
		client: &http.Client{Timeout: (MaxTimeoutSeconds + 5) * time.Second},
		logf:   log.Printf,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the full pipeline: load, rate-limit, validate, dispatch,
// record. An error is returned only when no descriptor could be loaded;
// every other outcome, including rejections and timeouts, is reported
// through the Result and leaves exactly one execution log record.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	d, err := e.store.GetDescriptor(ctx, req.Gym.ID, req.ToolName)
	if err != nil {
		return Result{}, err
	}

	start := e.now().UTC()
	t0 := time.Now()
	res := Result{Status: StatusError, Kind: d.Kind}
	rec := Execution{
		ID:        uuid.NewString(),
		GymID:     req.Gym.ID,
		MemberID:  req.Member.ID,
		SessionID: req.SessionID,
		ToolID:    d.ID,
		ToolName:  d.Name,
		Kind:      d.Kind,
		Args:      req.Args,
		CreatedAt: start,
	}
	defer func() {
		res.DurationMS = time.Since(t0).Milliseconds()
		rec.Status = res.Status
		rec.Result = truncate(res.Output, maxStoredResult)
		rec.Error = res.Error
		rec.DurationMS = res.DurationMS
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.InsertExecution(logCtx, rec); err != nil {
			e.logf("[tools] record execution %s of %s: %v", rec.ID, rec.ToolName, err)
		}
	}()

	if !d.Enabled {
		res.Error = fmt.Sprintf("tool %q is disabled", d.Name)
		return res, nil
	}

	if status, reason := e.admit(ctx, d, req, start); status != "" {
		res.Status = status
		res.Error = reason
		e.logf("[tools] %s rejected for gym %s: %s", d.Name, req.Gym.ID, reason)
		return res, nil
	}

	if err := ValidateArgs(d.Params, req.Args); err != nil {
		res.Status = StatusInvalidArgs
		res.Error = err.Error()
		return res, nil
	}
	if err := CheckDescriptorTemplates(d); err != nil {
		res.Status = StatusInvalidArgs
		res.Error = err.Error()
		return res, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	tc := buildTemplateContext(req)
	var output string
	switch d.Kind {
	case KindREST:
		output, err = e.dispatchREST(execCtx, d, tc)
	case KindQuery:
		output, err = e.dispatchQuery(execCtx, d, tc)
	case KindWebhook:
		output, err = e.dispatchWebhook(execCtx, d, req, tc)
	default:
		err = fmt.Errorf("unknown tool kind %q", d.Kind)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || execCtx.Err() == context.DeadlineExceeded {
			res.Status = StatusTimeout
			res.Error = fmt.Sprintf("execution exceeded %s", d.timeout())
		} else {
			res.Status = StatusError
			res.Error = err.Error()
		}
		e.logf("[tools] %s (%s) failed: %v", d.Name, d.Kind, err)
		return res, nil
	}

	res.Status = StatusSuccess
	res.Output = output
	return res, nil
}

// admit enforces both rate limits. It returns a non-empty status when
// the call must be rejected. Counting errors reject the call: an
// unanswerable limit is treated as an exhausted one.
func (e *Executor) admit(ctx context.Context, d Descriptor, req Request, now time.Time) (status, reason string) {
	if req.Member.ID != "" {
		n, err := e.store.CountMemberExecutionsSince(ctx, req.Gym.ID, req.Member.ID, d.Name, startOfUTCDay(now))
		if err != nil {
			e.logf("[tools] member rate-limit check failed, rejecting: %v", err)
			return StatusRateLimited, "rate limit check unavailable"
		}
		if n >= d.memberDailyLimit() {
			return StatusRateLimited, fmt.Sprintf("daily limit of %d reached for this tool", d.memberDailyLimit())
		}
	}
	n, err := e.store.CountGymExecutionsSince(ctx, req.Gym.ID, d.Name, startOfUTCHour(now))
	if err != nil {
		e.logf("[tools] gym rate-limit check failed, rejecting: %v", err)
		return StatusRateLimited, "rate limit check unavailable"
	}
	if n >= d.gymHourlyLimit() {
		return StatusRateLimited, fmt.Sprintf("hourly limit of %d reached for this tool", d.gymHourlyLimit())
	}
	return "", ""
}

func (e *Executor) dispatchREST(ctx context.Context, d Descriptor, tc TemplateContext) (string, error) {
	cfg := d.REST
	if cfg == nil {
		return "", fmt.Errorf("tool %q has no rest configuration", d.Name)
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	url := RenderTemplate(cfg.URL, tc)
	var body io.Reader
	rendered := ""
	if cfg.Body != "" {
		rendered = RenderTemplate(cfg.Body, tc)
		body = strings.NewReader(rendered)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, RenderTemplate(v, tc))
	}
	if rendered != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("remote returned %d: %s", resp.StatusCode, truncate(string(data), 256))
	}
	if cfg.ResponsePath != "" {
		return pluckJSONPath(data, cfg.ResponsePath)
	}
	return string(data), nil
}

func (e *Executor) dispatchQuery(ctx context.Context, d Descriptor, tc TemplateContext) (string, error) {
	cfg := d.Query
	if cfg == nil {
		return "", fmt.Errorf("tool %q has no query configuration", d.Name)
	}
	if e.db == nil {
		return "", fmt.Errorf("query tools are not configured on this server")
	}
	if err := CheckReadOnly(cfg.SQL); err != nil {
		return "", err
	}
	stmt, args := BindQueryTemplate(cfg.SQL, tc)

	rows, err := e.db.Query(ctx, stmt, args...)
	if err != nil {
		return "", fmt.Errorf("run query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	limit := cfg.rowCap()
	out := make([]map[string]any, 0, 16)
	for rows.Next() {
		if len(out) >= limit {
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return "", fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			if i < len(vals) {
				row[fd.Name] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate rows: %w", err)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	return string(b), nil
}

func (e *Executor) dispatchWebhook(ctx context.Context, d Descriptor, req Request, tc TemplateContext) (string, error) {
	cfg := d.Webhook
	if cfg == nil {
		return "", fmt.Errorf("tool %q has no webhook configuration", d.Name)
	}
	event := cfg.Event
	if event == "" {
		event = "tool.invoked"
	}
	payload, err := json.Marshal(map[string]any{
		"event":      event,
		"tool":       d.Name,
		"gym_id":     req.Gym.ID,
		"member_id":  req.Member.ID,
		"session_id": req.SessionID,
		"args":       req.Args,
		"sent_at":    e.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	url := RenderTemplate(cfg.URL, tc)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Jarvis-Delivery", uuid.NewString())
	httpReq.Header.Set("X-Jarvis-Event", event)
	if cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(cfg.Secret))
		mac.Write(payload)
		httpReq.Header.Set("X-Jarvis-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return fmt.Sprintf(`{"delivered":true,"status":%d}`, resp.StatusCode), nil
}

func buildTemplateContext(req Request) TemplateContext {
	return TemplateContext{
		Member: map[string]any{
			"id":              req.Member.ID,
			"badge_id":        req.Member.BadgeID,
			"first_name":      req.Member.FirstName,
			"last_name":       req.Member.LastName,
			"email":           req.Member.Email,
			"membership_type": req.Member.MembershipType,
		},
		Gym: map[string]any{
			"id":   req.Gym.ID,
			"name": req.Gym.Name,
			"slug": req.Gym.Slug,
			"plan": req.Gym.Plan,
		},
		Args: req.Args,
		Session: map[string]any{
			"id": req.SessionID,
		},
	}
}

// pluckJSONPath extracts a value at a dotted path like $.data.items
// from a JSON document. Numeric segments index arrays.
func pluckJSONPath(data []byte, path string) (string, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("response is not JSON: %w", err)
	}
	trimmed := strings.TrimPrefix(path, "$.")
	trimmed = strings.TrimPrefix(trimmed, "$")
	current := doc
	for _, part := range strings.Split(trimmed, ".") {
		if part == "" {
			continue
		}
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return "", fmt.Errorf("response path %q not found", path)
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", fmt.Errorf("response path %q not found", path)
			}
			current = node[idx]
		default:
			return "", fmt.Errorf("response path %q not found", path)
		}
	}
	switch v := current.(type) {
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode plucked value: %w", err)
		}
		return string(b), nil
	}
}

func startOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// startOfUTCHour truncates to the current clock hour: the gym-wide limit
// resets on the hour rather than sliding.
func startOfUTCHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
