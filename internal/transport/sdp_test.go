package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExchangeSDP(t *testing.T) {
	const offer = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ek_test" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/sdp" {
			t.Errorf("content-type = %q", got)
		}
		if got := r.URL.Query().Get("model"); got != "gpt-4o-realtime-preview" {
			t.Errorf("model = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != offer {
			t.Errorf("body = %q, want offer", body)
		}
		w.Header().Set("Content-Type", "application/sdp")
		io.WriteString(w, "v=0\r\nanswer\r\n")
	}))
	defer srv.Close()

	answer, err := ExchangeSDP(context.Background(), srv.Client(), srv.URL, "gpt-4o-realtime-preview", "ek_test", offer)
	if err != nil {
		t.Fatalf("ExchangeSDP() error = %v", err)
	}
	if !strings.Contains(answer, "answer") {
		t.Fatalf("answer = %q", answer)
	}
}

func TestExchangeSDPSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid ephemeral token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := ExchangeSDP(context.Background(), srv.Client(), srv.URL, "m", "ek_bad", "v=0")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("ExchangeSDP() error = %v, want status in message", err)
	}
}

func TestExchangeSDPRejectsEmptyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	if _, err := ExchangeSDP(context.Background(), srv.Client(), srv.URL, "m", "ek", "v=0"); err == nil {
		t.Fatal("ExchangeSDP() = nil error for empty answer")
	}
}
