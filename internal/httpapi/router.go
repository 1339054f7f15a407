// Package httpapi is the REST surface of the pipeline service.
//
// Routes that act for a user expect an x-user-id header forwarded by the
// gateway.
//
//	GET    /health
//	GET    /queues/status                 → per-queue counts and health
//	DELETE /queues/{queue}/jobs/{id}      → drop a task not yet picked up
//	POST   /scrape                        → queue an ad-hoc scrape
//	GET    /jobs                          → stored postings, ranked for the user
//	POST   /jobs/refresh                  → queue a scrape scoped to the user's profile
//	GET    /applications                  → list the user's applications
//	POST   /applications                  → queue a new application
//	GET    /applications/{id}
//	GET    /applications/{id}/events      → audit trail, oldest first
//	POST   /applications/{id}/status      → manual status change
//	POST   /applications/{id}/note
//	PATCH  /applications/reorder          → set priorities from an ordered id list
package httpapi

import (
	"net/http"

	"jobmate/pipeline-service/internal/applications"
	"jobmate/pipeline-service/internal/jobstore"
	"jobmate/pipeline-service/internal/matching"
	"jobmate/pipeline-service/internal/profile"
	"jobmate/pipeline-service/internal/queue"
	"jobmate/pipeline-service/internal/tasks"
)

// Deps are the collaborators the handlers need.
type Deps struct {
	Version  string
	Queues   *queue.Manager
	Enqueue  *tasks.Enqueuer
	Apps     *applications.Service
	Jobs     jobstore.Store
	Profiles profile.Provider
	Matcher  *matching.Matcher // nil uses the default weights
	Boards   []string          // used when a scrape request names none
}

// NewMux mounts every route on a fresh mux.
func NewMux(d Deps) *http.ServeMux {
	if d.Matcher == nil {
		d.Matcher = matching.New()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", HealthHandler{Version: d.Version}.Health)

	qh := QueueHandler{Queues: d.Queues, Enqueue: d.Enqueue, Boards: d.Boards}
	mux.HandleFunc("GET /queues/status", qh.Status)
	mux.HandleFunc("DELETE /queues/{queue}/jobs/{id}", qh.Remove)
	mux.HandleFunc("POST /scrape", qh.Scrape)

	jh := JobsHandler{Jobs: d.Jobs, Profiles: d.Profiles, Matcher: d.Matcher, Enqueue: d.Enqueue, Boards: d.Boards}
	mux.HandleFunc("GET /jobs", jh.List)
	mux.HandleFunc("POST /jobs/refresh", jh.Refresh)

	ah := ApplicationsHandler{Apps: d.Apps, Enqueue: d.Enqueue}
	mux.HandleFunc("GET /applications", ah.List)
	mux.HandleFunc("POST /applications", ah.Create)
	mux.HandleFunc("PATCH /applications/reorder", ah.Reorder)
	mux.HandleFunc("GET /applications/{id}", ah.Get)
	mux.HandleFunc("GET /applications/{id}/events", ah.Events)
	mux.HandleFunc("POST /applications/{id}/status", ah.UpdateStatus)
	mux.HandleFunc("POST /applications/{id}/note", ah.AddNote)

	return mux
}

// NewHandler wraps the mux in the standard middleware chain.
func NewHandler(d Deps) http.Handler {
	return Chain(NewMux(d), RequestID, Recover, AccessLog)
}
