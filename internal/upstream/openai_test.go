package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
)

func TestOpenAIMinterMintSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/realtime/sessions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["model"] != "gpt-4o-realtime-preview" || payload["voice"] != "verse" {
			t.Errorf("payload = %v", payload)
		}
		io.WriteString(w, `{
			"id": "sess_123",
			"model": "gpt-4o-realtime-preview",
			"client_secret": {"value": "ek_abc", "expires_at": 1767225600}
		}`)
	}))
	defer srv.Close()

	m := NewOpenAIMinter("sk-test", WithBaseURL(srv.URL))
	minted, err := m.MintSession(context.Background(), "gpt-4o-realtime-preview", realtime.SessionConfig{Voice: "verse"})
	if err != nil {
		t.Fatalf("MintSession() error = %v", err)
	}
	if minted.SessionID != "sess_123" || minted.ClientSecret != "ek_abc" {
		t.Fatalf("minted = %+v", minted)
	}
	if minted.ExpiresAt.IsZero() {
		t.Fatal("expiry not decoded")
	}
}

func TestOpenAIMinterSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error": {"message": "bad key"}}`)
	}))
	defer srv.Close()

	m := NewOpenAIMinter("sk-bad", WithBaseURL(srv.URL))
	_, err := m.MintSession(context.Background(), "m", realtime.SessionConfig{})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("MintSession() error = %v, want status in message", err)
	}
}

func TestOpenAIMinterRejectsSecretlessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id": "sess_123"}`)
	}))
	defer srv.Close()

	m := NewOpenAIMinter("sk-test", WithBaseURL(srv.URL))
	if _, err := m.MintSession(context.Background(), "m", realtime.SessionConfig{}); err == nil {
		t.Fatal("MintSession() = nil error, want missing-secret failure")
	}
}

func TestMockMinterIssuesUniqueCredentials(t *testing.T) {
	m := NewMockMinter()
	a, err := m.MintSession(context.Background(), "", realtime.SessionConfig{})
	if err != nil {
		t.Fatalf("MintSession() error = %v", err)
	}
	b, err := m.MintSession(context.Background(), "", realtime.SessionConfig{})
	if err != nil {
		t.Fatalf("MintSession() error = %v", err)
	}
	if a.ClientSecret == b.ClientSecret || a.SessionID == b.SessionID {
		t.Fatal("mock minted duplicate credentials")
	}
	if a.ExpiresAt.IsZero() {
		t.Fatal("mock expiry unset")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.MintSession(ctx, "", realtime.SessionConfig{}); err == nil {
		t.Fatal("MintSession() with canceled context = nil error")
	}
}
