package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"jobmate/pipeline-service/internal/applications"
	"jobmate/pipeline-service/internal/tasks"
)

type ApplicationsHandler struct {
	Apps    *applications.Service
	Enqueue *tasks.Enqueuer
}

func (h ApplicationsHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	apps, err := h.Apps.List(r.Context(), uid)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

func (h ApplicationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	app, err := h.Apps.Get(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, app)
}

// Create stores a QUEUED application and queues its submission. If the
// submission cannot be queued the application is cancelled and 503 returned.
func (h ApplicationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var body struct {
		JobPostingID string `json:"jobPostingId"`
	}
	if !decode(w, r, &body) {
		return
	}
	app, err := h.Apps.Create(r.Context(), uid, body.JobPostingID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	jobID, err := h.Enqueue.Submission(r.Context(), app.ID)
	if err != nil {
		slog.Error("queue submission failed", "request_id", RequestIDFrom(r.Context()), "application_id", app.ID, "err", err)
		meta, _ := json.Marshal(map[string]string{"reason": "submission could not be queued"})
		if _, cerr := h.Apps.UpdateStatus(r.Context(), uid, app.ID, applications.StatusCancelled, meta); cerr != nil {
			slog.Error("cancel unqueued application failed", "application_id", app.ID, "err", cerr)
		}
		WriteError(w, r, http.StatusServiceUnavailable, "queue_unavailable", "submission could not be queued")
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"application": app, "jobId": jobID})
}

func (h ApplicationsHandler) Events(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	events, err := h.Apps.Events(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h ApplicationsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status   string          `json:"status"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Status == "" {
		WriteError(w, r, http.StatusUnprocessableEntity, "validation_failed", "body must contain status")
		return
	}
	app, err := h.Apps.UpdateStatus(r.Context(), uid, r.PathValue("id"), applications.Status(body.Status), body.Metadata)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, app)
}

func (h ApplicationsHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	if !decode(w, r, &body) {
		return
	}
	ev, err := h.Apps.AddNote(r.Context(), uid, r.PathValue("id"), body.Note)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, ev)
}

func (h ApplicationsHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var body struct {
		Order []string `json:"order"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := h.Apps.Reorder(r.Context(), uid, body.Order); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
