package kiosk

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
	"github.com/BricePourLe13/jarvis-voice/internal/session"
	"github.com/BricePourLe13/jarvis-voice/internal/transport"
)

// reportTimeout bounds the usage report fired during teardown.
const reportTimeout = 5 * time.Second

// toolCallTimeout covers the backend round trip for one tool dispatch;
// the bridge itself clamps execution to 60s.
const toolCallTimeout = 75 * time.Second

// SessionMinter mints one ephemeral credential per call.
type SessionMinter interface {
	Create(ctx context.Context, req session.CreateRequest) (*session.Grant, error)
}

// UsageReporter closes a session server-side and returns the billed
// usage.
type UsageReporter interface {
	EndSession(ctx context.Context, sessionID string, elapsed time.Duration, reason string) (session.UsageReport, error)
}

// ToolInvoker runs one model-requested tool call through the backend
// bridge.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, sessionID, toolName, argsJSON, callID string) (session.ToolOutcome, error)
}

// Event is one instrumentation record emitted by the controller:
// session starts and stops, transport state changes, tool calls.
type Event struct {
	SessionID string
	Type      string
	Detail    string
	At        time.Time
}

// Controller binds the factory, the transport and the router under one
// surface policy. It guarantees a single live session: starting a new
// one tears the previous one down first, and every started session is
// reported exactly once.
type Controller struct {
	policy   Policy
	minter   SessionMinter
	conn     transport.Conn
	reporter UsageReporter
	tools    ToolInvoker
	logf     func(format string, args ...any)
	onEvent  func(Event)

	mu     sync.Mutex
	active *liveSession
}

type liveSession struct {
	id        string
	startedAt time.Time
	capTimer  *time.Timer
	idleTimer *time.Timer
	offs      []func()
	done      atomic.Bool
}

type ControllerOption func(*Controller)

// WithToolInvoker wires model function calls to the backend bridge.
// Without it, function-call events pass through the router untouched.
func WithToolInvoker(inv ToolInvoker) ControllerOption {
	return func(c *Controller) { c.tools = inv }
}

// WithEventSink receives instrumentation events. The sink runs on the
// controller's goroutines and must not block.
func WithEventSink(fn func(Event)) ControllerOption {
	return func(c *Controller) { c.onEvent = fn }
}

// WithControllerLogf overrides the log sink.
func WithControllerLogf(logf func(format string, args ...any)) ControllerOption {
	return func(c *Controller) { c.logf = logf }
}

func NewController(policy Policy, minter SessionMinter, conn transport.Conn, reporter UsageReporter, opts ...ControllerOption) *Controller {
	c := &Controller{
		policy:   policy,
		minter:   minter,
		conn:     conn,
		reporter: reporter,
		logf:     log.Printf,
	}
	for _, opt := range opts {
		opt(c)
	}
	conn.OnStateChange(c.handleStateChange)
	return c
}

// Start mints a credential and connects the transport under the
// controller's policy. An already-active session is fully stopped
// first; there are never two live sessions. It returns the new session
// id.
func (c *Controller) Start(ctx context.Context, req session.CreateRequest) (string, error) {
	c.Stop(ReasonSuperseded)

	if req.Surface == "" {
		req.Surface = string(c.policy.Surface)
	}
	grant, err := c.minter.Create(ctx, req)
	if err != nil {
		return "", err
	}

	s := &liveSession{id: grant.SessionID, startedAt: time.Now()}
	s.offs = append(s.offs, c.conn.Router().OnAny(func(realtime.Event) { c.touch() }))
	if c.tools != nil {
		s.offs = append(s.offs, c.conn.Router().On(realtime.TypeFunctionCallArgumentsDone, func(ev realtime.Event) {
			call, ok := ev.(realtime.FunctionCallArgumentsDone)
			if !ok {
				return
			}
			go c.dispatchToolCall(s.id, call)
		}))
	}

	c.mu.Lock()
	c.active = s
	c.mu.Unlock()

	if err := c.conn.Connect(ctx, grant); err != nil {
		// The backend registered the session at mint time; close it so
		// the member's active-session slot frees immediately.
		c.expire(s, ReasonConnectFailed)
		return "", err
	}

	c.mu.Lock()
	if !s.done.Load() {
		if d := c.policy.MaxSessionDuration; d > 0 {
			s.capTimer = time.AfterFunc(d, func() { c.expire(s, ReasonDurationCap) })
		}
		if d := c.policy.InactivityTimeout; d > 0 {
			s.idleTimer = time.AfterFunc(d, func() { c.expire(s, ReasonInactivity) })
		}
	}
	c.mu.Unlock()

	c.emit(Event{SessionID: s.id, Type: "session_started", Detail: string(c.policy.Surface), At: time.Now()})
	c.logf("[kiosk] session %s started on %s", s.id, c.policy.Surface)
	return s.id, nil
}

// Stop ends the active session, if any. It is idempotent: timers are
// disarmed, the transport disconnects, and usage is reported exactly
// once per started session.
func (c *Controller) Stop(reason string) {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()
	c.finish(s, reason)
}

// Active returns the live session id, if any.
func (c *Controller) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	return c.active.id, true
}

// expire ends s when a timer or failure path fires; a stale pointer to
// an already-replaced session is a no-op on the controller state.
func (c *Controller) expire(s *liveSession, reason string) {
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()
	c.finish(s, reason)
}

func (c *Controller) finish(s *liveSession, reason string) {
	if s == nil || s.done.Swap(true) {
		return
	}
	c.mu.Lock()
	capT, idleT := s.capTimer, s.idleTimer
	offs := s.offs
	c.mu.Unlock()

	if capT != nil {
		capT.Stop()
	}
	if idleT != nil {
		idleT.Stop()
	}
	for _, off := range offs {
		off()
	}

	_ = c.conn.Disconnect()

	elapsed := time.Since(s.startedAt)
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	rep, err := c.reporter.EndSession(ctx, s.id, elapsed, reason)
	if err != nil {
		c.logf("[kiosk] usage report for session %s failed: %v", s.id, err)
	} else {
		c.logf("[kiosk] session %s ended (%s): %ds billed as %d credits, %d remaining",
			s.id, reason, rep.DurationSeconds, rep.CreditsUsed, rep.RemainingCredits)
	}
	c.emit(Event{SessionID: s.id, Type: "session_stopped", Detail: reason, At: time.Now()})
}

// touch rearms the inactivity timer. Any inbound control-channel event
// counts as activity.
func (c *Controller) touch() {
	c.mu.Lock()
	s := c.active
	var idle *time.Timer
	if s != nil {
		idle = s.idleTimer
	}
	c.mu.Unlock()
	if s == nil || idle == nil || s.done.Load() {
		return
	}
	idle.Reset(c.policy.InactivityTimeout)
}

func (c *Controller) handleStateChange(old, next transport.State) {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s != nil {
		c.emit(Event{SessionID: s.id, Type: "state_change", Detail: string(old) + ">" + string(next), At: time.Now()})
	}
	if next == transport.StateError && old != transport.StateConnecting {
		// Terminal transport failure. No automatic reconnect: restarting
		// is the operator's explicit call. Failures during connect are
		// reported by Start itself. Scoped to s so a session started
		// after the failure is left alone.
		go c.expire(s, ReasonTransportError)
	}
}

func (c *Controller) dispatchToolCall(sessionID string, call realtime.FunctionCallArgumentsDone) {
	ctx, cancel := context.WithTimeout(context.Background(), toolCallTimeout)
	defer cancel()

	out, err := c.tools.InvokeTool(ctx, sessionID, call.Name, call.Arguments, call.CallID)
	if err != nil {
		c.logf("[kiosk] tool %s dispatch failed: %v", call.Name, err)
		payload, _ := json.Marshal(map[string]string{"error": "tool execution failed"})
		if err := c.conn.SendFunctionResult(call.CallID, string(payload)); err != nil {
			c.logf("[kiosk] return tool failure: %v", err)
		}
		return
	}

	result := out.Result
	if !out.Success {
		payload, _ := json.Marshal(map[string]string{"status": out.Status, "error": out.Error})
		result = string(payload)
	}
	if result == "" {
		result = "{}"
	}
	if err := c.conn.SendFunctionResult(call.CallID, result); err != nil {
		c.logf("[kiosk] return tool result: %v", err)
	}
	c.emit(Event{SessionID: sessionID, Type: "tool_call", Detail: call.Name + ":" + out.Status, At: time.Now()})
}

func (c *Controller) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
