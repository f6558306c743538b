package alertsink

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// Handler wires the Sink into chi-compatible HTTP handlers.
type Handler struct {
	sink *Sink
	log  zerolog.Logger
}

// NewHandler builds a Handler over sink.
func NewHandler(sink *Sink, log zerolog.Logger) *Handler {
	return &Handler{sink: sink, log: log.With().Str("component", "alertsink-http").Logger()}
}

// PostAlert implements POST /api/v1/alerts.
func (h *Handler) PostAlert(w http.ResponseWriter, r *http.Request) {
	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed alert payload: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "session_id is required")
		return
	}

	resp, err := h.sink.ProcessAlert(r.Context(), req)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", req.SessionID).Msg("alert processing failed")
		writeError(w, http.StatusInternalServerError, "internal", "failed to process alert")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// PostContain implements the operator containment endpoint.
func (h *Handler) PostContain(w http.ResponseWriter, r *http.Request) {
	var req ContainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed containment payload: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "session_id is required")
		return
	}

	resp, err := h.sink.ProcessContainment(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to process containment request")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, APIError{Kind: kind, Message: message})
}
