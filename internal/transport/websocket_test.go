package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
	"github.com/BricePourLe13/jarvis-voice/internal/session"
)

// wsHarness upgrades inbound connections, hands the server side of each
// to the test, and decodes every client frame into msgs.
type wsHarness struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	msgs  chan map[string]any
}

func newWSHarness(t *testing.T, check func(r *http.Request)) *wsHarness {
	t.Helper()
	h := &wsHarness{
		conns: make(chan *websocket.Conn, 1),
		msgs:  make(chan map[string]any, 16),
	}
	up := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				h.msgs <- m
			}
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *wsHarness) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-h.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted a connection")
		return nil
	}
}

func (h *wsHarness) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m := <-h.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client frame")
		return nil
	}
}

func waitForState(t *testing.T, get func() State, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if get() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %q, never reached %q", get(), want)
}

func TestWSClientConnectSendsAndRoutes(t *testing.T) {
	h := newWSHarness(t, func(r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer ek_test" {
			t.Errorf("Authorization = %q, want Bearer ek_test", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q, want realtime=v1", got)
		}
		if got := r.URL.Query().Get("model"); got != "gpt-4o-realtime-preview" {
			t.Errorf("model = %q, want gpt-4o-realtime-preview", got)
		}
	})

	router := realtime.NewRouter()
	seen := make(chan realtime.EventType, 16)
	router.OnAny(func(ev realtime.Event) { seen <- ev.Kind() })

	c := NewWSClient(WSClientConfig{BaseURL: h.srv.URL, Logf: t.Logf}, router)
	grant := session.NewGrant("sess_1", "ek_test", "gpt-4o-realtime-preview", time.Time{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx, grant); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect()
	if c.State() != StateConnected {
		t.Fatalf("state = %q, want connected", c.State())
	}

	srvConn := h.conn(t)
	if err := srvConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"session.created","session":{"id":"sess_1"}}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	select {
	case kind := <-seen:
		if kind != realtime.TypeSessionCreated {
			t.Fatalf("routed %q, want session.created", kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session.created never reached the router")
	}

	if err := c.SendText("hello there"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if m := h.next(t); m["type"] != "conversation.item.create" {
		t.Fatalf("first frame type = %v, want conversation.item.create", m["type"])
	}
	if m := h.next(t); m["type"] != "response.create" {
		t.Fatalf("second frame type = %v, want response.create", m["type"])
	}

	if err := srvConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"response.created","response":{"id":"r1"}}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitForState(t, c.State, StateSpeaking)
	if err := srvConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"response.done","response":{"id":"r1"}}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitForState(t, c.State, StateConnected)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %q, want disconnected", c.State())
	}
}

func TestWSClientAppliesGrantSessionConfig(t *testing.T) {
	h := newWSHarness(t, nil)

	c := NewWSClient(WSClientConfig{BaseURL: h.srv.URL, Logf: t.Logf}, nil)
	grant := session.NewGrant("sess_1", "ek_test", "m", time.Time{})
	grant.SessionConfig = &realtime.SessionConfig{Voice: "verse", Instructions: "be brief"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx, grant); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect()

	m := h.next(t)
	if m["type"] != "session.update" {
		t.Fatalf("first frame type = %v, want session.update", m["type"])
	}
	sess, ok := m["session"].(map[string]any)
	if !ok || sess["voice"] != "verse" {
		t.Fatalf("session.update payload = %v, want voice verse", m["session"])
	}
}

func TestWSClientSendAudioAppendsAndCommits(t *testing.T) {
	h := newWSHarness(t, nil)
	c := NewWSClient(WSClientConfig{BaseURL: h.srv.URL, Logf: t.Logf}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx, session.NewGrant("s1", "ek", "m", time.Time{})); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := c.SendAudio(pcm); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}
	if err := c.CommitAudio(); err != nil {
		t.Fatalf("CommitAudio() error = %v", err)
	}

	m := h.next(t)
	if m["type"] != "input_audio_buffer.append" {
		t.Fatalf("first frame type = %v, want input_audio_buffer.append", m["type"])
	}
	encoded, _ := m["audio"].(string)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || !bytes.Equal(raw, pcm) {
		t.Fatalf("append audio = %q (decode err %v), want base64 of %v", encoded, err, pcm)
	}
	if m := h.next(t); m["type"] != "input_audio_buffer.commit" {
		t.Fatalf("second frame type = %v, want input_audio_buffer.commit", m["type"])
	}

	// Zero-length appends never hit the wire.
	if err := c.SendAudio(nil); err != nil {
		t.Fatalf("SendAudio(nil) error = %v", err)
	}
	if err := c.CommitAudio(); err != nil {
		t.Fatalf("CommitAudio() error = %v", err)
	}
	if m := h.next(t); m["type"] != "input_audio_buffer.commit" {
		t.Fatalf("frame after empty append = %v, want input_audio_buffer.commit", m["type"])
	}
}

func TestWSClientSendBeforeConnect(t *testing.T) {
	c := NewWSClient(WSClientConfig{Logf: t.Logf}, nil)
	if err := c.SendEvent(realtime.NewResponseCreate()); !errors.Is(err, ErrControlChannelClosed) {
		t.Fatalf("SendEvent() error = %v, want ErrControlChannelClosed", err)
	}
}

func TestWSClientServerDropIsTerminal(t *testing.T) {
	h := newWSHarness(t, nil)
	c := NewWSClient(WSClientConfig{BaseURL: h.srv.URL, Logf: t.Logf}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx, session.NewGrant("s1", "ek", "m", time.Time{})); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	srvConn := h.conn(t)
	_ = srvConn.Close()
	waitForState(t, c.State, StateError)

	// An errored client refuses to dial again until disconnected, and the
	// rejected attempt must not consume the new credential.
	grant2 := session.NewGrant("s2", "ek2", "m", time.Time{})
	err := c.Connect(ctx, grant2)
	if err == nil || !strings.Contains(err.Error(), "disconnect") {
		t.Fatalf("Connect() from error state error = %v, want disconnect hint", err)
	}
	if _, err := grant2.Secret(); err != nil {
		t.Fatalf("rejected connect consumed the grant: %v", err)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %q, want disconnected", c.State())
	}
}

func TestWebsocketURLRewritesScheme(t *testing.T) {
	cases := []struct{ base, model, want string }{
		{"https://api.openai.com/v1/realtime", "gpt-4o-realtime-preview", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview"},
		{"http://127.0.0.1:8080/v1/realtime", "m1", "ws://127.0.0.1:8080/v1/realtime?model=m1"},
		{"wss://example.com/rt", "", "wss://example.com/rt"},
	}
	for _, tc := range cases {
		got, err := websocketURL(tc.base, tc.model)
		if err != nil {
			t.Fatalf("websocketURL(%q) error = %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("websocketURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
	if _, err := websocketURL("ftp://example.com", "m"); err == nil {
		t.Fatal("ftp scheme was accepted")
	}
}
