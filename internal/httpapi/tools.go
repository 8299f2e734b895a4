package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BricePourLe13/jarvis-voice/internal/gym"
	"github.com/BricePourLe13/jarvis-voice/internal/session"
	"github.com/BricePourLe13/jarvis-voice/internal/tools"
)

type executeRequest struct {
	SessionID string          `json:"session_id"`
	ToolName  string          `json:"tool_name"`
	Args      json.RawMessage `json:"args,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
}

type executeResponse struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

// handleExecuteTool bridges one model tool call into the executor.
// Business failures (rate limits, bad arguments, timeouts) still render
// HTTP 200: the voice agent needs the structured outcome, not a status
// code.
func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.ToolName = strings.TrimSpace(req.ToolName)
	if req.SessionID == "" || req.ToolName == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id and tool_name are required")
		return
	}

	sess, err := s.registry.Get(req.SessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown_session", "no session with this id")
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusNotFound, "unknown_session", "session already ended")
		return
	}
	_ = s.registry.Touch(req.SessionID)

	ctx := r.Context()
	g, err := s.store.GetGym(ctx, sess.GymID)
	if err != nil {
		log.Printf("[httpapi] gym %s lookup for tool call: %v", sess.GymID, err)
		respondError(w, http.StatusInternalServerError, "store_error", "gym lookup failed")
		return
	}
	var member gym.Member
	if sess.MemberID != "" {
		member, err = s.store.GetMember(ctx, sess.GymID, sess.MemberID)
		if err != nil {
			log.Printf("[httpapi] member %s lookup for tool call: %v", sess.MemberID, err)
			respondError(w, http.StatusInternalServerError, "store_error", "member lookup failed")
			return
		}
	}

	var args map[string]any
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_args", "args must be a JSON object")
			return
		}
	}

	started := time.Now()
	res, err := s.executor.Execute(ctx, tools.Request{
		Gym:       g,
		Member:    member,
		SessionID: sess.ID,
		ToolName:  req.ToolName,
		Args:      args,
	})
	if err != nil {
		if errors.Is(err, tools.ErrNotFound) {
			respondError(w, http.StatusNotFound, "unknown_tool", "no tool with this name for the gym")
			return
		}
		log.Printf("[httpapi] execute %s for session %s: %v", req.ToolName, sess.ID, err)
		respondError(w, http.StatusInternalServerError, "execution_error", "tool execution failed")
		return
	}

	s.metrics.ToolExecutions.WithLabelValues(string(res.Kind), res.Status).Inc()
	s.metrics.ObserveToolDuration(time.Since(started))
	s.monitor.Publish(MonitorEvent{
		Kind:      "tool_executed",
		SessionID: sess.ID,
		GymID:     sess.GymID,
		Surface:   string(sess.Surface),
		Detail:    req.ToolName + ":" + res.Status,
	})

	respondJSON(w, http.StatusOK, executeResponse{
		Success:    res.Status == tools.StatusSuccess,
		Status:     res.Status,
		Result:     res.Output,
		Error:      res.Error,
		DurationMS: res.DurationMS,
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	gymID := strings.TrimSpace(r.URL.Query().Get("gym_id"))
	if gymID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "gym_id query parameter is required")
		return
	}
	list, err := s.tools.ListDescriptors(r.Context(), gymID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "tool listing failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tools": list})
}

func (s *Server) handleUpsertTool(w http.ResponseWriter, r *http.Request) {
	var d tools.Descriptor
	if err := decodeJSON(r, &d); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := validateDescriptor(d); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_descriptor", err.Error())
		return
	}
	saved, err := s.tools.UpsertDescriptor(r.Context(), d)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "tool save failed")
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	gymID := strings.TrimSpace(chi.URLParam(r, "gymID"))
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if gymID == "" || name == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "gym id and tool name are required")
		return
	}
	if err := s.tools.DeleteDescriptor(r.Context(), gymID, name); err != nil {
		if errors.Is(err, tools.ErrNotFound) {
			respondError(w, http.StatusNotFound, "unknown_tool", "no tool with this name for the gym")
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", "tool delete failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// validateDescriptor rejects descriptors the executor could never run,
// including query SQL that fails the read-only guard at save time.
func validateDescriptor(d tools.Descriptor) error {
	if strings.TrimSpace(d.GymID) == "" {
		return errors.New("gym_id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("name is required")
	}
	switch d.Kind {
	case tools.KindREST:
		if d.REST == nil || strings.TrimSpace(d.REST.URL) == "" {
			return errors.New("rest tools need a url")
		}
	case tools.KindQuery:
		if d.Query == nil || strings.TrimSpace(d.Query.SQL) == "" {
			return errors.New("query tools need sql")
		}
		if err := tools.CheckReadOnly(d.Query.SQL); err != nil {
			return err
		}
	case tools.KindWebhook:
		if d.Webhook == nil || strings.TrimSpace(d.Webhook.URL) == "" {
			return errors.New("webhook tools need a url")
		}
	default:
		return fmt.Errorf("unknown tool kind %q", d.Kind)
	}
	return tools.CheckDescriptorTemplates(d)
}
