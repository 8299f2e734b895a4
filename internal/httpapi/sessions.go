package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BricePourLe13/jarvis-voice/internal/gym"
	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
	"github.com/BricePourLe13/jarvis-voice/internal/session"
	"github.com/BricePourLe13/jarvis-voice/internal/tools"
)

type mintedSession struct {
	SessionID    string `json:"session_id"`
	ClientSecret string `json:"client_secret"`
	Model        string `json:"model"`
	ExpiresAt    int64  `json:"expires_at"`
}

type mintResponse struct {
	Success             bool                   `json:"success"`
	Session             mintedSession          `json:"session"`
	SessionUpdateConfig realtime.SessionConfig `json:"sessionUpdateConfig"`
	RemainingCredits    int                    `json:"remainingCredits"`
}

// handleMintSession admits one kiosk or vitrine request and mints the
// ephemeral realtime credential. Rejections are decisions, not faults:
// each renders a structured payload the kiosk can branch on.
func (s *Server) handleMintSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.mintReject(w, http.StatusBadRequest, "malformed", mintError{Error: "invalid request body"})
		return
	}
	req.GymID = strings.TrimSpace(req.GymID)
	req.MemberID = strings.TrimSpace(req.MemberID)
	req.BadgeID = strings.TrimSpace(req.BadgeID)
	if req.GymID == "" {
		s.mintReject(w, http.StatusBadRequest, "malformed", mintError{Error: "gym_id is required"})
		return
	}
	surface := gym.ParseSurface(req.Surface)
	clientIP := clientAddr(r)
	ctx := r.Context()
	now := time.Now().UTC()

	g, err := s.store.GetGym(ctx, req.GymID)
	if err != nil {
		if errors.Is(err, gym.ErrNotFound) {
			s.mintReject(w, http.StatusNotFound, "unknown_gym", mintError{Error: "gym not found"})
			return
		}
		log.Printf("[httpapi] gym %s lookup: %v", req.GymID, err)
		s.mintReject(w, http.StatusInternalServerError, "store_error", mintError{Error: "gym lookup failed"})
		return
	}

	var member gym.Member
	switch {
	case req.MemberID != "":
		member, err = s.store.GetMember(ctx, g.ID, req.MemberID)
	case req.BadgeID != "":
		member, err = s.store.MemberByBadge(ctx, g.ID, req.BadgeID)
	}
	if err != nil {
		if errors.Is(err, gym.ErrNotFound) {
			s.mintReject(w, http.StatusNotFound, "unknown_member", mintError{Error: "member not found"})
			return
		}
		log.Printf("[httpapi] member lookup for gym %s: %v", g.ID, err)
		s.mintReject(w, http.StatusInternalServerError, "store_error", mintError{Error: "member lookup failed"})
		return
	}

	if member.BlockedNow(now) {
		reject := mintError{Error: "member is blocked", IsBlocked: boolPtr(true)}
		if member.BlockReason != "" {
			reject.Error = member.BlockReason
		}
		if member.BlockedUntil != nil {
			reject.ResetTime = member.BlockedUntil.UTC().Format(time.RFC3339)
		}
		s.mintReject(w, http.StatusForbidden, "blocked", reject)
		return
	}

	if reject, ok := s.admit(ctx, g.ID, member.ID, clientIP, surface, now); !ok {
		s.mintReject(w, http.StatusTooManyRequests, "rate_limited", reject)
		return
	}

	if member.ID != "" {
		if _, live := s.registry.ActiveForMember(g.ID, member.ID); live {
			s.mintReject(w, http.StatusConflict, "active_session", mintError{
				Error:            "a voice session is already active for this member",
				HasActiveSession: boolPtr(true),
			})
			return
		}
	} else if surface == gym.SurfaceVitrine && clientIP != "" {
		if _, live := s.registry.ActiveForIP(g.ID, clientIP); live {
			s.mintReject(w, http.StatusConflict, "active_session", mintError{
				Error:            "a voice session is already active from this address",
				HasActiveSession: boolPtr(true),
			})
			return
		}
	}

	if g.RemainingCredits <= 0 {
		s.mintReject(w, http.StatusPaymentRequired, "no_credits", mintError{
			Error:            "no voice credits remaining for this gym",
			RemainingCredits: intPtr(0),
		})
		return
	}

	sessCfg := s.sessionConfigFor(ctx, g, member, surface)
	minted, err := s.minter.MintSession(ctx, s.cfg.RealtimeModel, sessCfg)
	if err != nil {
		log.Printf("[httpapi] mint upstream session for gym %s: %v", g.ID, err)
		s.mintReject(w, http.StatusBadGateway, "upstream_error", mintError{Error: "voice provider unavailable"})
		return
	}

	tracked := s.registry.Track(session.Session{
		ID:        minted.SessionID,
		GymID:     g.ID,
		MemberID:  member.ID,
		Surface:   surface,
		ClientIP:  clientIP,
		Model:     minted.Model,
		ExpiresAt: minted.ExpiresAt,
	})
	if err := s.store.InsertSession(ctx, gym.SessionLog{
		SessionID: tracked.ID,
		GymID:     g.ID,
		MemberID:  member.ID,
		Surface:   surface,
		ClientIP:  clientIP,
		Model:     minted.Model,
		StartedAt: tracked.StartedAt,
	}); err != nil {
		// The credential is already minted; losing the row costs one
		// settlement, not the session.
		log.Printf("[httpapi] insert session log %s: %v", tracked.ID, err)
	}

	s.metrics.MintOutcomes.WithLabelValues("success").Inc()
	s.metrics.SessionsStarted.WithLabelValues(string(surface)).Inc()
	s.metrics.ActiveSessions.Set(float64(s.registry.ActiveCount()))
	s.monitor.Publish(MonitorEvent{
		Kind:      "session_started",
		SessionID: tracked.ID,
		GymID:     g.ID,
		Surface:   string(surface),
	})

	respondJSON(w, http.StatusOK, mintResponse{
		Success: true,
		Session: mintedSession{
			SessionID:    minted.SessionID,
			ClientSecret: minted.ClientSecret,
			Model:        minted.Model,
			ExpiresAt:    minted.ExpiresAt.Unix(),
		},
		SessionUpdateConfig: sessCfg,
		RemainingCredits:    g.RemainingCredits,
	})
}

func (s *Server) mintReject(w http.ResponseWriter, status int, outcome string, reject mintError) {
	s.metrics.MintOutcomes.WithLabelValues(outcome).Inc()
	respondJSON(w, status, reject)
}

// admit applies the per-surface session admission limits. It fails
// open: when the directory store cannot count, the session is admitted
// with a warning. Tool execution limits do the opposite.
func (s *Server) admit(ctx context.Context, gymID, memberID, clientIP string, surface gym.Surface, now time.Time) (mintError, bool) {
	since := now.Add(-time.Hour)
	switch {
	case memberID != "":
		n, err := s.store.CountMemberSessionsSince(ctx, gymID, memberID, since)
		if err != nil {
			log.Printf("[httpapi] member admission count failed, admitting: %v", err)
			return mintError{}, true
		}
		if n >= s.cfg.KioskSessionsPerMemberHour {
			return mintError{
				Error:     "session rate limit reached, try again later",
				ResetTime: nextHour(now),
			}, false
		}
	case surface == gym.SurfaceVitrine && clientIP != "":
		n, err := s.store.CountIPSessionsSince(ctx, gymID, clientIP, since)
		if err != nil {
			log.Printf("[httpapi] vitrine admission count failed, admitting: %v", err)
			return mintError{}, true
		}
		if n >= s.cfg.VitrineSessionsPerIPHour {
			return mintError{
				Error:     "session rate limit reached, try again later",
				ResetTime: nextHour(now),
			}, false
		}
	}
	return mintError{}, true
}

func nextHour(now time.Time) string {
	return now.UTC().Truncate(time.Hour).Add(time.Hour).Format(time.RFC3339)
}

// sessionConfigFor assembles the session.update payload handed to the
// kiosk at mint time, so instructions, voice and tool definitions stay
// server-controlled.
func (s *Server) sessionConfigFor(ctx context.Context, g gym.Gym, m gym.Member, surface gym.Surface) realtime.SessionConfig {
	voice := s.cfg.KioskVoice
	if surface == gym.SurfaceVitrine {
		voice = s.cfg.VitrineVoice
	}
	cfg := realtime.SessionConfig{
		Modalities:              []string{"audio", "text"},
		Instructions:            instructionsFor(g, m, surface),
		Voice:                   voice,
		InputAudioTranscription: &realtime.AudioTranscription{Model: "whisper-1"},
		TurnDetection: &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 500,
			CreateResponse:    realtime.Bool(true),
		},
	}

	descriptors, err := s.tools.ListDescriptors(ctx, g.ID)
	if err != nil {
		log.Printf("[httpapi] list tools for gym %s: %v", g.ID, err)
		return cfg
	}
	cfg.Tools = tools.FunctionDefs(descriptors)
	if len(cfg.Tools) > 0 {
		cfg.ToolChoice = "auto"
	}
	return cfg
}

func instructionsFor(g gym.Gym, m gym.Member, surface gym.Surface) string {
	var b strings.Builder
	if surface == gym.SurfaceVitrine {
		fmt.Fprintf(&b, "You are JARVIS, the voice assistant in the front window of %s. Greet passers-by, present the gym and its plans, and invite them to come in. Keep answers short and upbeat.", g.Name)
	} else {
		fmt.Fprintf(&b, "You are JARVIS, the in-gym voice assistant at %s. Help members with schedules, bookings and gym services. Keep answers short; you are speaking out loud.", g.Name)
	}
	if m.FirstName != "" {
		fmt.Fprintf(&b, " You are talking to %s %s (%s membership).", m.FirstName, m.LastName, m.MembershipType)
	}
	if g.Instructions != "" {
		b.WriteString("\n\n")
		b.WriteString(g.Instructions)
	}
	return b.String()
}

type endRequest struct {
	DurationSeconds int    `json:"duration_seconds"`
	Reason          string `json:"reason,omitempty"`
}

type usageResponse struct {
	Success          bool `json:"success"`
	DurationSeconds  int  `json:"durationSeconds"`
	CreditsUsed      int  `json:"creditsUsed"`
	RemainingCredits int  `json:"remainingCredits"`
}

// handleEndSession settles one session's usage: ceil-per-minute credit
// computation happens here, never on the kiosk. A second end for the
// same session finds the row closed and reports that instead.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	var req endRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.DurationSeconds < 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "duration_seconds must not be negative")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "user_stop"
	}
	credits := creditsFor(req.DurationSeconds)

	surface := "unknown"
	if sess, err := s.registry.End(id); err == nil {
		surface = string(sess.Surface)
	}

	remaining, err := s.store.CloseSession(r.Context(), id, req.DurationSeconds, credits, reason)
	if err != nil {
		if errors.Is(err, gym.ErrNotFound) || errors.Is(err, gym.ErrSessionEnded) {
			respondJSON(w, http.StatusNotFound, map[string]any{
				"error":            "session not found or already ended",
				"hasActiveSession": false,
			})
			return
		}
		log.Printf("[httpapi] close session %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "store_error", "usage settlement failed")
		return
	}

	s.metrics.SessionsEnded.WithLabelValues(surface, normalizeReason(reason)).Inc()
	s.metrics.CreditsBilled.Add(float64(credits))
	s.metrics.ActiveSessions.Set(float64(s.registry.ActiveCount()))
	s.monitor.Publish(MonitorEvent{
		Kind:      "session_ended",
		SessionID: id,
		Surface:   surface,
		Detail:    reason,
	})

	respondJSON(w, http.StatusOK, usageResponse{
		Success:          true,
		DurationSeconds:  req.DurationSeconds,
		CreditsUsed:      credits,
		RemainingCredits: remaining,
	})
}

// SettleExpired closes the usage row for a session the registry
// janitor expired. Wired as the registry's expire hook so sessions the
// kiosk never ended still get billed.
func (s *Server) SettleExpired(sess *session.Session) {
	elapsed := int(sess.LastActivityAt.Sub(sess.StartedAt).Round(time.Second) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	credits := creditsFor(elapsed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.store.CloseSession(ctx, sess.ID, elapsed, credits, "expired"); err != nil {
		// An already-closed row means the kiosk settled first; anything
		// else is worth an operator's attention.
		if !errors.Is(err, gym.ErrSessionEnded) && !errors.Is(err, gym.ErrNotFound) {
			log.Printf("[httpapi] settle expired session %s: %v", sess.ID, err)
		}
		return
	}
	log.Printf("[httpapi] expired session %s settled: %ds billed as %d credits", sess.ID, elapsed, credits)

	s.metrics.SessionsEnded.WithLabelValues(string(sess.Surface), "expired").Inc()
	s.metrics.CreditsBilled.Add(float64(credits))
	s.metrics.ActiveSessions.Set(float64(s.registry.ActiveCount()))
	s.monitor.Publish(MonitorEvent{
		Kind:      "session_ended",
		SessionID: sess.ID,
		GymID:     sess.GymID,
		Surface:   string(sess.Surface),
		Detail:    "expired",
	})
}

type ingestRequest struct {
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
	At     string `json:"at,omitempty"`
}

// handleIngestEvents receives kiosk instrumentation (state changes,
// device failures) and fans it out to the monitor feed.
func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Type = strings.TrimSpace(req.Type)
	if id == "" || req.Type == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session id and event type are required")
		return
	}

	// Any signal from the kiosk counts as liveness.
	_ = s.registry.Touch(id)

	at := time.Now().UTC()
	if req.At != "" {
		if parsed, err := time.Parse(time.RFC3339, req.At); err == nil {
			at = parsed.UTC()
		}
	}
	s.metrics.IngestEvents.WithLabelValues(normalizeEventType(req.Type)).Inc()
	detail := req.Type
	if req.Detail != "" {
		detail += " " + req.Detail
	}
	s.monitor.Publish(MonitorEvent{
		Kind:      "session_event",
		SessionID: id,
		Detail:    detail,
		At:        at,
	})

	respondJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// creditsFor converts elapsed seconds into billed credits: one credit
// per started minute, zero only for a session that never ran.
func creditsFor(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	return (durationSeconds + 59) / 60
}

// The reason and event-type labels are bounded so a misbehaving kiosk
// cannot mint metric series.

func normalizeReason(reason string) string {
	switch reason {
	case "user_stop", "duration_cap", "inactivity_timeout", "transport_error",
		"connect_failed", "superseded", "shutdown", "expired":
		return reason
	default:
		return "other"
	}
}

func normalizeEventType(t string) string {
	switch t {
	case "session_started", "session_stopped", "state_change", "tool_call", "device_error":
		return t
	default:
		return "other"
	}
}

// clientAddr extracts the caller's address for vitrine admission. The
// first X-Forwarded-For hop wins when a proxy fronts the service.
func clientAddr(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
