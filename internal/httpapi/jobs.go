package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"jobmate/pipeline-service/internal/jobstore"
	"jobmate/pipeline-service/internal/matching"
	"jobmate/pipeline-service/internal/profile"
	"jobmate/pipeline-service/internal/tasks"
)

// RefreshMaxResults caps each board during a user refresh.
const RefreshMaxResults = 10

type JobsHandler struct {
	Jobs     jobstore.Store
	Profiles profile.Provider
	Matcher  *matching.Matcher
	Enqueue  *tasks.Enqueuer
	Boards   []string
}

// List returns stored postings. With an x-user-id header every posting is
// scored against that user's profile and returned best first with its
// passesThreshold flag; passing=only drops the ones below the threshold.
//
// Query params: q, location, board, type, remote, minSalary, maxSalary,
// days, limit, threshold, passing.
func (h JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	qv := r.URL.Query()
	f := jobstore.Filter{
		Query:          qv.Get("q"),
		Location:       qv.Get("location"),
		Board:          qv.Get("board"),
		EmploymentType: qv.Get("type"),
		RemoteOnly:     qv.Get("remote") == "true",
	}
	var err error
	if f.MinSalary, err = salaryParam(qv.Get("minSalary")); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_param", "minSalary must be a non-negative number")
		return
	}
	if f.MaxSalary, err = salaryParam(qv.Get("maxSalary")); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_param", "maxSalary must be a non-negative number")
		return
	}
	if f.PostedWithinDays, err = intParam(qv.Get("days")); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_param", "days must be a non-negative integer")
		return
	}
	if f.Limit, err = intParam(qv.Get("limit")); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_param", "limit must be a non-negative integer")
		return
	}
	threshold := matching.DefaultThreshold
	if s := qv.Get("threshold"); s != "" {
		threshold, err = strconv.ParseFloat(s, 64)
		if err != nil || threshold < 0 || threshold > 1 {
			WriteError(w, r, http.StatusBadRequest, "invalid_param", "threshold must be between 0 and 1")
			return
		}
	}

	postings, err := h.Jobs.FindPostings(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	uid := r.Header.Get("x-user-id")
	if uid == "" || h.Profiles == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"jobs": postings})
		return
	}
	p, err := h.Profiles.BuildMatchProfile(r.Context(), uid)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ranked := h.Matcher.Rank(p, postings, threshold)
	if qv.Get("passing") == "only" {
		ranked = matching.Passing(ranked)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"matches": ranked})
}

type refreshRequest struct {
	Query    string `json:"query"`
	Location string `json:"location"`
}

// Refresh queues a scrape on behalf of the calling user. The worker applies
// the user's exclusions before ingesting and ranks what it stored.
func (h JobsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var body refreshRequest
	if !decode(w, r, &body) {
		return
	}
	if len(strings.TrimSpace(body.Query)) < 2 {
		WriteError(w, r, http.StatusUnprocessableEntity, "validation_failed", "query must be at least 2 characters")
		return
	}
	id, err := h.Enqueue.Scrape(r.Context(), tasks.ScrapePayload{
		Query:      body.Query,
		Location:   body.Location,
		Boards:     h.Boards,
		MaxResults: RefreshMaxResults,
		UserID:     uid,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

func salaryParam(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
