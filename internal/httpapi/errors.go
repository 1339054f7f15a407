package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"jobmate/pipeline-service/internal/applications"
	"jobmate/pipeline-service/internal/jobstore"
	"jobmate/pipeline-service/internal/profile"
	"jobmate/pipeline-service/internal/queue"
	"jobmate/pipeline-service/internal/tasks"
)

type APIError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var e APIError
	e.Error.Code = code
	e.Error.Message = message
	e.Error.RequestID = RequestIDFrom(r.Context())
	WriteJSON(w, status, e)
}

// writeDomainError maps service errors onto status codes. Anything it does
// not recognise is logged and hidden behind a 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *applications.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteError(w, r, http.StatusUnprocessableEntity, "validation_failed", ve.Msg)
	case errors.Is(err, tasks.ErrEmptyQuery):
		WriteError(w, r, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, applications.ErrIllegalTransition):
		WriteError(w, r, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, queue.ErrNotPending):
		WriteError(w, r, http.StatusConflict, "not_pending", err.Error())
	case errors.Is(err, applications.ErrNotFound),
		errors.Is(err, applications.ErrPostingNotFound),
		errors.Is(err, jobstore.ErrNotFound),
		errors.Is(err, profile.ErrNotFound),
		errors.Is(err, queue.ErrUnknownQueue):
		WriteError(w, r, http.StatusNotFound, "not_found", err.Error())
	default:
		slog.Error("request failed", "request_id", RequestIDFrom(r.Context()), "path", r.URL.Path, "err", err)
		WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return false
	}
	return true
}

// userID reads the x-user-id header forwarded by the gateway.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("x-user-id")
	if id == "" {
		WriteError(w, r, http.StatusUnauthorized, "unauthenticated", "missing x-user-id header")
		return "", false
	}
	return id, true
}
