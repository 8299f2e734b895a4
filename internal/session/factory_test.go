package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFactoryCreateMintsGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/realtime/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			t.Error("empty mint request body")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"success": true,
			"session": {
				"session_id": "sess_abc",
				"client_secret": "ek_test_123",
				"model": "gpt-4o-realtime-preview",
				"expires_at": 1767225600
			},
			"sessionUpdateConfig": {"voice": "verse"},
			"remainingCredits": 7
		}`)
	}))
	defer srv.Close()

	f := NewFactory(srv.URL)
	grant, err := f.Create(context.Background(), CreateRequest{GymID: "gym-1", BadgeID: "badge-7", Surface: "kiosk"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if grant.SessionID != "sess_abc" || grant.Model != "gpt-4o-realtime-preview" {
		t.Fatalf("grant = %+v", grant)
	}
	if grant.RemainingCredits != 7 {
		t.Fatalf("RemainingCredits = %d, want 7", grant.RemainingCredits)
	}
	if grant.SessionConfig == nil || grant.SessionConfig.Voice != "verse" {
		t.Fatalf("SessionConfig = %+v, want voice verse", grant.SessionConfig)
	}
	if grant.ExpiresAt.IsZero() {
		t.Fatal("ExpiresAt not decoded")
	}

	secret, err := grant.Secret()
	if err != nil || secret != "ek_test_123" {
		t.Fatalf("Secret() = %q, %v", secret, err)
	}
	if _, err := grant.Secret(); !errors.Is(err, ErrGrantUsed) {
		t.Fatalf("second Secret() error = %v, want ErrGrantUsed", err)
	}
}

func TestFactoryDoesNotRetryRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error": "Daily session limit reached", "remainingCredits": 0, "resetTime": "2026-08-26T00:00:00Z"}`)
	}))
	defer srv.Close()

	f := NewFactory(srv.URL, WithRetry(3, time.Millisecond, 5*time.Millisecond))
	_, err := f.Create(context.Background(), CreateRequest{GymID: "gym-1", MemberID: "mem-1"})

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("Create() error = %v, want *RateLimitError", err)
	}
	if rle.Message != "Daily session limit reached" || rle.RemainingCredits != 0 || rle.ResetTime == "" {
		t.Fatalf("rate limit payload = %+v", rle)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("endpoint hit %d times, want no retry on rate limit", n)
	}
}

func TestFactoryDoesNotRetryBlockedMember(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error": "Member is blocked", "isBlocked": true}`)
	}))
	defer srv.Close()

	f := NewFactory(srv.URL, WithRetry(3, time.Millisecond, 5*time.Millisecond))
	_, err := f.Create(context.Background(), CreateRequest{GymID: "gym-1", MemberID: "mem-1"})

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("Create() error = %v, want *RateLimitError", err)
	}
	if !rle.IsBlocked {
		t.Fatalf("IsBlocked = false, want true: %+v", rle)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("endpoint hit %d times, want no retry when blocked", n)
	}
}

func TestFactoryDoesNotRetryExhaustedCredits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		io.WriteString(w, `{"error": "Not enough credits for a session", "remainingCredits": 0}`)
	}))
	defer srv.Close()

	f := NewFactory(srv.URL, WithRetry(3, time.Millisecond, 5*time.Millisecond))
	_, err := f.Create(context.Background(), CreateRequest{GymID: "gym-1", MemberID: "mem-1"})

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("Create() error = %v, want *RateLimitError", err)
	}
	if rle.StatusCode != http.StatusPaymentRequired || rle.RemainingCredits != 0 {
		t.Fatalf("credit rejection = %+v", rle)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("endpoint hit %d times, want no retry when credits are exhausted", n)
	}
}

func TestFactoryRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"success": true, "session": {"session_id": "sess_1", "client_secret": "ek_1", "model": "m", "expires_at": 0}}`)
	}))
	defer srv.Close()

	f := NewFactory(srv.URL, WithRetry(3, time.Millisecond, 5*time.Millisecond))
	grant, err := f.Create(context.Background(), CreateRequest{GymID: "gym-1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if grant.SessionID != "sess_1" {
		t.Fatalf("grant = %+v", grant)
	}
	if n := hits.Load(); n != 2 {
		t.Fatalf("endpoint hit %d times, want 2 (one retry)", n)
	}
}

func TestFactoryGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFactory(srv.URL, WithRetry(3, time.Millisecond, 5*time.Millisecond))
	if _, err := f.Create(context.Background(), CreateRequest{GymID: "gym-1"}); err == nil {
		t.Fatal("Create() = nil error, want failure after exhaustion")
	}
	if n := hits.Load(); n != 3 {
		t.Fatalf("endpoint hit %d times, want 3", n)
	}
}
