// Package tools implements gym-defined custom tools: descriptor storage,
// argument validation, rate limiting, and dispatch to REST endpoints,
// read-only database queries, and outbound webhooks.
package tools

import (
	"time"

	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
)

// Kind selects the dispatch strategy for a tool descriptor.
type Kind string

const (
	KindREST    Kind = "rest"
	KindQuery   Kind = "query"
	KindWebhook Kind = "webhook"
)

// Defaults applied when a descriptor leaves the corresponding field unset.
const (
	DefaultPerMemberPerDay = 10
	DefaultPerGymPerHour   = 100
	DefaultTimeoutSeconds  = 10
	MinTimeoutSeconds      = 1
	MaxTimeoutSeconds      = 60
	DefaultMaxRows         = 100
	HardMaxRows            = 1000
)

// Execution statuses recorded in the execution log.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusRateLimited = "rate_limited"
	StatusInvalidArgs = "invalid_params"
)

// Param describes one argument accepted by a tool. Checks run in the
// order the fields are listed: required, type, enum, minimum/maximum,
// pattern.
type Param struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, number, integer, boolean
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
}

// Limits caps how often a tool may run. Zero values select the
// package defaults.
type Limits struct {
	PerMemberPerDay int `json:"per_member_per_day,omitempty"`
	PerGymPerHour   int `json:"per_gym_per_hour,omitempty"`
}

// RESTConfig drives the rest kind. URL, header values, and body are
// rendered through the placeholder template before the request is sent.
type RESTConfig struct {
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	ResponsePath string            `json:"response_path,omitempty"`
}

// QueryConfig drives the query kind. Placeholders in SQL are replaced
// with positional bind parameters, never spliced into the statement.
type QueryConfig struct {
	SQL     string `json:"sql"`
	MaxRows int    `json:"max_rows,omitempty"`
}

// WebhookConfig drives the webhook kind. When Secret is set, deliveries
// carry an HMAC-SHA256 signature over the payload body.
type WebhookConfig struct {
	URL    string `json:"url"`
	Event  string `json:"event,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// Descriptor is a gym-scoped tool definition. Exactly one of REST,
// Query, or Webhook is set, matching Kind.
type Descriptor struct {
	ID             string         `json:"id"`
	GymID          string         `json:"gym_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Kind           Kind           `json:"kind"`
	Params         []Param        `json:"params,omitempty"`
	Limits         Limits         `json:"limits,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Enabled        bool           `json:"enabled"`
	REST           *RESTConfig    `json:"rest,omitempty"`
	Query          *QueryConfig   `json:"query,omitempty"`
	Webhook        *WebhookConfig `json:"webhook,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty"`
}

// memberDailyLimit returns the effective per-member-per-day cap.
func (d Descriptor) memberDailyLimit() int {
	if d.Limits.PerMemberPerDay > 0 {
		return d.Limits.PerMemberPerDay
	}
	return DefaultPerMemberPerDay
}

// gymHourlyLimit returns the effective per-gym-per-hour cap.
func (d Descriptor) gymHourlyLimit() int {
	if d.Limits.PerGymPerHour > 0 {
		return d.Limits.PerGymPerHour
	}
	return DefaultPerGymPerHour
}

// timeout returns the effective execution deadline, clamped to the
// allowed range. Unset selects the default.
func (d Descriptor) timeout() time.Duration {
	secs := d.TimeoutSeconds
	if secs == 0 {
		secs = DefaultTimeoutSeconds
	}
	if secs < MinTimeoutSeconds {
		secs = MinTimeoutSeconds
	}
	if secs > MaxTimeoutSeconds {
		secs = MaxTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// rowCap returns the effective row limit for query tools.
func (c QueryConfig) rowCap() int {
	if c.MaxRows <= 0 {
		return DefaultMaxRows
	}
	if c.MaxRows > HardMaxRows {
		return HardMaxRows
	}
	return c.MaxRows
}

// FunctionDef renders the descriptor as a realtime tool definition so
// the voice session can advertise it to the model.
func (d Descriptor) FunctionDef() realtime.ToolDefinition {
	props := make(map[string]any, len(d.Params))
	var required []string
	for _, p := range d.Params {
		schema := map[string]any{"type": p.Type}
		if p.Description != "" {
			schema["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			schema["enum"] = p.Enum
		}
		if p.Minimum != nil {
			schema["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			schema["maximum"] = *p.Maximum
		}
		if p.Pattern != "" {
			schema["pattern"] = p.Pattern
		}
		props[p.Name] = schema
		if p.Required {
			required = append(required, p.Name)
		}
	}
	params := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return realtime.ToolDefinition{
		Type:        "function",
		Name:        d.Name,
		Description: d.Description,
		Parameters:  params,
	}
}

// FunctionDefs converts every enabled descriptor for advertisement in a
// session configuration.
func FunctionDefs(descriptors []Descriptor) []realtime.ToolDefinition {
	defs := make([]realtime.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		if !d.Enabled {
			continue
		}
		defs = append(defs, d.FunctionDef())
	}
	return defs
}

// Execution is one row of the execution log. Every attempt that loads a
// descriptor produces exactly one record, whatever the outcome.
type Execution struct {
	ID         string         `json:"id"`
	GymID      string         `json:"gym_id"`
	MemberID   string         `json:"member_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	ToolID     string         `json:"tool_id"`
	ToolName   string         `json:"tool_name"`
	Kind       Kind           `json:"kind"`
	Status     string         `json:"status"`
	Args       map[string]any `json:"args,omitempty"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}
