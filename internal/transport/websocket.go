package transport

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BricePourLe13/jarvis-voice/internal/audio"
	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
	"github.com/BricePourLe13/jarvis-voice/internal/session"
)

const (
	wsWriteTimeout     = 5 * time.Second
	wsHandshakeTimeout = 10 * time.Second
	wsPongWait         = 90 * time.Second
	wsPingPeriod       = 30 * time.Second
)

// WSClientConfig wires the WebSocket variant. BaseURL accepts ws(s) or
// http(s) schemes; http(s) is rewritten to the websocket equivalent.
type WSClientConfig struct {
	BaseURL string
	Dialer  *websocket.Dialer
	Logf    func(format string, args ...any)
}

// WSClient is the WebSocket realtime connection. It carries the same
// control events as the WebRTC client but no media tracks: audio moves
// as base64 payloads inside events, which suits headless probes and
// server-side use.
type WSClient struct {
	cfg    WSClientConfig
	router *realtime.Router
	states *StateTracker
	logf   func(format string, args ...any)

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSClient(cfg WSClientConfig, router *realtime.Router) *WSClient {
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	if router == nil {
		router = realtime.NewRouter()
	}
	return &WSClient{
		cfg:    cfg,
		router: router,
		states: NewStateTracker(),
		logf:   logf,
	}
}

// State returns the current lifecycle state.
func (c *WSClient) State() State { return c.states.State() }

// OnStateChange registers a lifecycle observer.
func (c *WSClient) OnStateChange(fn func(old, next State)) { c.states.OnChange(fn) }

// Router exposes the event router for handler registration.
func (c *WSClient) Router() *realtime.Router { return c.router }

// Connect dials the realtime endpoint with a one-shot grant. Calling it
// while connecting or connected is a no-op; after a terminal failure
// the client must be disconnected first.
func (c *WSClient) Connect(ctx context.Context, grant *session.Grant) error {
	switch s := c.states.State(); s {
	case StateConnecting, StateConnected, StateListening, StateSpeaking:
		c.logf("[transport] connect ignored: already %s", s)
		return nil
	}
	if !c.states.Set(StateConnecting) {
		return fmt.Errorf("cannot connect from state %q, disconnect first", c.states.State())
	}
	if grant == nil {
		c.states.Set(StateError)
		return fmt.Errorf("nil session grant")
	}
	secret, err := grant.Secret()
	if err != nil {
		c.states.Set(StateError)
		return err
	}
	if !grant.ExpiresAt.IsZero() && time.Now().After(grant.ExpiresAt) {
		c.states.Set(StateError)
		return fmt.Errorf("session credential expired at %s", grant.ExpiresAt.Format(time.RFC3339))
	}

	wsURL, err := websocketURL(c.baseURL(), grant.Model)
	if err != nil {
		c.states.Set(StateError)
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+secret)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := c.cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: wsHandshakeTimeout,
		}
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		c.states.Set(StateError)
		if resp != nil {
			return fmt.Errorf("realtime dial failed (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("realtime dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.states.Set(StateConnected)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go c.readLoop(conn)
	go c.pingLoop(conn)

	if cfg := grant.SessionConfig; cfg != nil {
		if err := c.UpdateSession(*cfg); err != nil {
			c.logf("[transport] apply session config: %v", err)
		}
	}
	c.logf("[transport] websocket connected to realtime session %s", grant.SessionID)
	return nil
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn
			c.mu.Unlock()
			if current {
				c.logf("[transport] websocket read: %v", err)
				_ = c.teardown(StateError)
			}
			return
		}
		dispatchServerEvent(data, c.states, c.router, c.logf)
	}
}

// pingLoop probes the socket so idle sessions are not dropped by the
// provider. A missed pong lets the read deadline expire, which the read
// loop reports as a dead connection.
func (c *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		current := c.conn == conn
		c.mu.Unlock()
		if !current {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
			return
		}
	}
}

// Disconnect closes the socket. Safe to call in any state, repeatedly.
func (c *WSClient) Disconnect() error {
	return c.teardown(StateDisconnected)
}

func (c *WSClient) teardown(final State) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(wsWriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	c.states.Set(final)
	return nil
}

// SendEvent writes one client event to the socket. The mutex serializes
// writers; gorilla allows only one at a time.
func (c *WSClient) SendEvent(ev realtime.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrControlChannelClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("write %s: %w", ev.Kind(), err)
	}
	return nil
}

// SendText injects a typed user message and asks for a response.
func (c *WSClient) SendText(text string) error {
	if err := c.SendEvent(realtime.NewUserText(text)); err != nil {
		return err
	}
	return c.SendEvent(realtime.NewResponseCreate())
}

// SendAudio appends one raw PCM16 chunk to the provider's input buffer.
// Empty chunks are skipped; the provider rejects zero-length appends.
func (c *WSClient) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return c.SendEvent(realtime.NewInputAudioAppend(audio.EncodeBase64(pcm)))
}

// CommitAudio closes the appended input buffer so the provider treats it
// as one finished utterance. Only needed when server VAD is off.
func (c *WSClient) CommitAudio() error {
	return c.SendEvent(realtime.NewInputAudioCommit())
}

// UpdateSession pushes new session configuration to the provider.
func (c *WSClient) UpdateSession(cfg realtime.SessionConfig) error {
	return c.SendEvent(realtime.NewSessionUpdate(cfg))
}

// SendFunctionResult returns a tool result to the model and asks it to
// continue the response.
func (c *WSClient) SendFunctionResult(callID, output string) error {
	if err := c.SendEvent(realtime.NewFunctionCallOutput(callID, output)); err != nil {
		return err
	}
	return c.SendEvent(realtime.NewResponseCreate())
}

func (c *WSClient) baseURL() string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL
	}
	return defaultRealtimeURL
}

func websocketURL(base, model string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported realtime url scheme %q", u.Scheme)
	}
	q := u.Query()
	if model != "" {
		q.Set("model", model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
