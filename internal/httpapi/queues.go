package httpapi

import (
	"net/http"

	"jobmate/pipeline-service/internal/queue"
	"jobmate/pipeline-service/internal/tasks"
)

type HealthHandler struct{ Version string }

func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "pipeline-service",
		"version": h.Version,
	})
}

type QueueHandler struct {
	Queues  *queue.Manager
	Enqueue *tasks.Enqueuer
	Boards  []string
}

func (h QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"queues": h.Queues.Status(r.Context())})
}

func (h QueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.Queues.Remove(r.Context(), r.PathValue("queue"), r.PathValue("id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type scrapeRequest struct {
	Query      string   `json:"query"`
	Location   string   `json:"location"`
	Boards     []string `json:"boards"`
	MaxResults int      `json:"maxResults"`
	RedFlags   []string `json:"redFlags"`
}

func (h QueueHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	var body scrapeRequest
	if !decode(w, r, &body) {
		return
	}
	if body.MaxResults < 0 {
		WriteError(w, r, http.StatusUnprocessableEntity, "validation_failed", "maxResults must not be negative")
		return
	}
	boards := body.Boards
	if len(boards) == 0 {
		boards = h.Boards
	}
	id, err := h.Enqueue.Scrape(r.Context(), tasks.ScrapePayload{
		Query:      body.Query,
		Location:   body.Location,
		Boards:     boards,
		MaxResults: body.MaxResults,
		RedFlags:   body.RedFlags,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}
