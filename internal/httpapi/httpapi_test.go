package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/pipeline-service/internal/applications"
	"jobmate/pipeline-service/internal/db"
	"jobmate/pipeline-service/internal/jobstore"
	"jobmate/pipeline-service/internal/matching"
	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/profile"
	"jobmate/pipeline-service/internal/queue"
	"jobmate/pipeline-service/internal/tasks"
)

type server struct {
	h       http.Handler
	apps    *applications.Service
	broker  *queue.MemoryBroker
	posting string
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	jobs := jobstore.NewSQLite(conn)
	p, err := jobs.UpsertPosting(ctx, "indeed", "j1", jobstore.Fields{
		Title:           "Go Engineer",
		Company:         "Acme",
		Location:        model.Ptr("Remote"),
		WorkArrangement: model.ArrangementRemote,
		Requirements:    []string{"Go"},
		SalaryMin:       model.Ptr(120000.0),
		SalaryMax:       model.Ptr(150000.0),
		Tags:            []string{"full_time"},
	})
	require.NoError(t, err)
	_, err = jobs.UpsertPosting(ctx, "indeed", "j2", jobstore.Fields{
		Title: "Go Engineer", Company: "Globex",
		SalaryMin: model.Ptr(60000.0), SalaryMax: model.Ptr(80000.0), Tags: []string{"contract"},
	})
	require.NoError(t, err)

	// Workers are registered but never started, so queued tasks stay waiting.
	broker := queue.NewMemoryBroker()
	m := queue.NewManager(broker)
	noop := func(context.Context, queue.Task) error { return nil }
	for _, q := range []string{tasks.QueueScraping, tasks.QueueApplications, tasks.QueueNotifications} {
		require.NoError(t, m.Register(q, 1, noop))
	}

	apps := applications.NewService(applications.NewSQLiteStore(conn))
	profiles := &profile.Static{Profiles: map[string]matching.Profile{
		"u1": {
			Skills:            []matching.Skill{{Name: "Go", Proficiency: 5}},
			RemotePreferred:   true,
			ExcludedCompanies: []string{"globex"},
		},
	}}

	return &server{
		h: NewHandler(Deps{
			Version:  "test",
			Queues:   m,
			Enqueue:  tasks.NewEnqueuer(m),
			Apps:     apps,
			Jobs:     jobs,
			Profiles: profiles,
			Boards:   []string{"indeed"},
		}),
		apps:    apps,
		broker:  broker,
		posting: p.ID,
	}
}

func (s *server) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("x-user-id", user)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// ── Middleware ───────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pipeline-service", decodeBody[map[string]string](t, rec)["service"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestErrorEnvelopeCarriesRequestID(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/applications", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	e := decodeBody[APIError](t, rec)
	assert.Equal(t, "unauthenticated", e.Error.Code)
	assert.Equal(t, "req-42", e.Error.RequestID)
}

func TestRecover(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), RequestID, Recover)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeBody[APIError](t, rec).Error.Code)
}

// ── Applications ─────────────────────────────────────────────────────────

type created struct {
	Application applications.Application `json:"application"`
	JobID       string                   `json:"jobId"`
}

func TestCreateApplication_QueuesSubmission(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/applications", "u1", `{"jobPostingId":"`+s.posting+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := decodeBody[created](t, rec)
	assert.Equal(t, applications.StatusQueued, got.Application.Status)
	assert.Equal(t, "application:"+got.Application.ID, got.JobID)

	rec = s.do(t, http.MethodGet, "/queues/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[struct {
		Queues []queue.QueueStatus `json:"queues"`
	}](t, rec)
	for _, q := range status.Queues {
		if q.Name == tasks.QueueApplications {
			require.NotNil(t, q.Counts)
			assert.EqualValues(t, 1, q.Counts.Waiting)
		}
	}
}

func TestCreateApplication_Errors(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/applications", "u1", `{"jobPostingId":"nope"}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPost, "/applications", "u1", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/applications", "u1", `{`).Code)
}

func TestApplicationLifecycle(t *testing.T) {
	s := newServer(t)
	app := decodeBody[created](t, s.do(t, http.MethodPost, "/applications", "u1", `{"jobPostingId":"`+s.posting+`"}`)).Application
	base := "/applications/" + app.ID

	rec := s.do(t, http.MethodPost, base+"/status", "u1", `{"status":"SUBMITTED"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "illegal_transition", decodeBody[APIError](t, rec).Error.Code)

	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPost, base+"/status", "u1", `{"status":"HIRED"}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, base+"/status", "u2", `{"status":"CANCELLED"}`).Code)

	rec = s.do(t, http.MethodPost, base+"/status", "u1", `{"status":"CANCELLED","metadata":{"reason":"changed my mind"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, applications.StatusCancelled, decodeBody[applications.Application](t, rec).Status)

	assert.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, base+"/note", "u1", `{"note":"recruiter called"}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPost, base+"/note", "u1", `{"note":""}`).Code)

	rec = s.do(t, http.MethodGet, base+"/events", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody[struct {
		Events []applications.Event `json:"events"`
	}](t, rec).Events
	types := make([]applications.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	assert.Equal(t, []applications.EventType{
		applications.EventApplicationQueued,
		applications.EventCancelled,
		applications.EventNoteAdded,
	}, types)

	rec = s.do(t, http.MethodGet, base, "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, app.ID, decodeBody[applications.Application](t, rec).ID)
}

func TestReorder(t *testing.T) {
	s := newServer(t)
	a := decodeBody[created](t, s.do(t, http.MethodPost, "/applications", "u1", `{"jobPostingId":"`+s.posting+`"}`)).Application
	b, err := s.apps.Create(context.Background(), "u1", s.posting)
	require.NoError(t, err)

	rec := s.do(t, http.MethodPatch, "/applications/reorder", "u1", `{"order":["`+b.ID+`","`+a.ID+`"]}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	list := decodeBody[struct {
		Applications []applications.Application `json:"applications"`
	}](t, s.do(t, http.MethodGet, "/applications", "u1", "")).Applications
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, 2, list[0].Priority)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPatch, "/applications/reorder", "u1", `{"order":["ghost"]}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPatch, "/applications/reorder", "u1", `{"order":[]}`).Code)
}

// ── Scrape and queues ────────────────────────────────────────────────────

func TestScrapeAndRemove(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPost, "/scrape", "", `{"query":"  "}`).Code)

	rec := s.do(t, http.MethodPost, "/scrape", "", `{"query":"Go Engineer","location":"Berlin"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decodeBody[map[string]string](t, rec)["jobId"]
	require.NotEmpty(t, id)

	path := "/queues/" + tasks.QueueScraping + "/jobs/" + id
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, path, "", "").Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodDelete, path, "", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/queues/nope/jobs/"+id, "", "").Code)
}

// ── Jobs ─────────────────────────────────────────────────────────────────

func TestListJobs(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/jobs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[struct {
		Jobs []model.JobPosting `json:"jobs"`
	}](t, rec).Jobs, 2)

	rec = s.do(t, http.MethodGet, "/jobs?threshold=0", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := matchesOf(t, rec)
	require.Len(t, all, 2)
	assert.Equal(t, "Acme", all[0].Posting.Company)
	assert.True(t, all[0].Match.PassesThreshold, "threshold 0 passes every non-excluded posting")
	assert.Equal(t, "Globex", all[1].Posting.Company)
	assert.False(t, all[1].Match.PassesThreshold)

	passing := matchesOf(t, s.do(t, http.MethodGet, "/jobs?threshold=0&passing=only", "u1", ""))
	require.Len(t, passing, 1)
	assert.Equal(t, "Acme", passing[0].Posting.Company)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/jobs", "stranger", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/jobs?threshold=2", "u1", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/jobs?limit=-1", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/jobs?minSalary=lots", "", "").Code)
}

func matchesOf(t *testing.T, rec *httptest.ResponseRecorder) []matching.Ranked {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[struct {
		Matches []matching.Ranked `json:"matches"`
	}](t, rec).Matches
}

func TestListJobs_SalaryAndType(t *testing.T) {
	s := newServer(t)
	companies := func(path string) []string {
		t.Helper()
		rec := s.do(t, http.MethodGet, path, "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var out []string
		for _, j := range decodeBody[struct {
			Jobs []model.JobPosting `json:"jobs"`
		}](t, rec).Jobs {
			out = append(out, j.Company)
		}
		return out
	}

	assert.Equal(t, []string{"Acme"}, companies("/jobs?minSalary=100000"))
	assert.Equal(t, []string{"Globex"}, companies("/jobs?maxSalary=100000"))
	assert.Equal(t, []string{"Globex"}, companies("/jobs?type=contract"))
	assert.Empty(t, companies("/jobs?type=contract&minSalary=100000"))
}

func TestRefreshJobs(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/jobs/refresh", "", `{"query":"go"}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPost, "/jobs/refresh", "u1", `{"query":" g "}`).Code)

	rec := s.do(t, http.MethodPost, "/jobs/refresh", "u1", `{"query":"Go Engineer","location":"Remote"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := decodeBody[map[string]string](t, rec)["jobId"]
	require.NotEmpty(t, id)

	task, err := s.broker.Reserve(context.Background(), tasks.QueueScraping, time.Now())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, id, task.ID)
	var p tasks.ScrapePayload
	require.NoError(t, task.Decode(&p))
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, RefreshMaxResults, p.MaxResults)
	assert.Equal(t, []string{"indeed"}, p.Boards)
}
