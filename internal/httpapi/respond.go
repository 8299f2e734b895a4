package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// mintError is the session endpoint's rejection payload. Messages pass
// through to the kiosk verbatim; the optional fields tell it which
// branch rejected without parsing prose.
type mintError struct {
	Error            string `json:"error"`
	HasActiveSession *bool  `json:"hasActiveSession,omitempty"`
	RemainingCredits *int   `json:"remainingCredits,omitempty"`
	IsBlocked        *bool  `json:"isBlocked,omitempty"`
	ResetTime        string `json:"resetTime,omitempty"`
}

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }
