package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/internal/monitoring"
	"github.com/sells-group/jobsync/internal/pipeline"
	"github.com/sells-group/jobsync/internal/store"
	"github.com/sells-group/jobsync/internal/sweep"
)

// blockingRunner runs until Stop is called or its context ends.
type blockingRunner struct {
	started chan model.Mode
	stop    chan struct{}
	once    sync.Once
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan model.Mode, 1), stop: make(chan struct{})}
}

func (b *blockingRunner) Run(ctx context.Context, mode model.Mode) (*pipeline.Summary, error) {
	b.started <- mode
	select {
	case <-b.stop:
		return &pipeline.Summary{Mode: mode, Halted: pipeline.HaltStopped}, nil
	case <-ctx.Done():
		return &pipeline.Summary{Mode: mode, Halted: pipeline.HaltStopped}, nil
	}
}

func (b *blockingRunner) Stop() { b.once.Do(func() { close(b.stop) }) }

type testEnv struct {
	store  store.Store
	runner *blockingRunner
	server *Server
	ts     *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	runner := newBlockingRunner()
	srv := New(ctx, st, monitoring.NewCollector(st, nil), runner, sweep.New(st, 21))
	ts := httptest.NewServer(srv.Handler([]string{"*"}))

	t.Cleanup(func() {
		ts.Close()
		cancel()
		srv.Wait()
		st.Close() //nolint:errcheck
	})
	return &testEnv{store: st, runner: runner, server: srv, ts: ts}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) addJob(t *testing.T, company string, status model.Category, updated time.Time) string {
	t.Helper()
	j := &model.Job{Company: company, Role: "Engineer", Kind: model.KindFullTime, WorkMode: model.WorkUnknown,
		Status: status, FirstSeenAt: updated, LastUpdateAt: updated}
	require.NoError(t, e.store.CreateJob(context.Background(), j))
	return j.ID
}

func (e *testEnv) addMessage(t *testing.T, extID, jobID string, cat model.Category, conf float64) string {
	t.Helper()
	m := &model.Message{ExternalID: extID, JobID: jobID, Subject: "Update", Sender: "hr@acme.com",
		ReceivedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Category: cat, Confidence: conf}
	ok, err := e.store.InsertMessage(context.Background(), m)
	require.NoError(t, err)
	require.True(t, ok)
	return m.ID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	env.addJob(t, "Acme", model.CategoryApplied, now)
	env.addJob(t, "Globex", model.CategoryInterview, now.Add(time.Hour))
	env.addJob(t, "Initech", model.CategoryApplied, now.Add(2*time.Hour))

	resp, body := env.do(t, http.MethodGet, "/jobs?status=APPLIED_CONFIRMATION&limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobs := body["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Initech", jobs[0].(map[string]any)["company"])

	resp, body = env.do(t, http.MethodGet, "/jobs?status=APPLIED_CONFIRMATION&limit=1&offset=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobs = body["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Acme", jobs[0].(map[string]any)["company"])
}

func TestListJobs_Empty(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["jobs"])
	assert.Equal(t, float64(defaultJobLimit), body["limit"])
}

func TestListJobs_BadParams(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"?status=HIRED", "?limit=abc", "?offset=-1"} {
		resp, body := env.do(t, http.MethodGet, "/jobs"+q, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.NotEmpty(t, body["error"], q)
	}
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t)
	id := env.addJob(t, "Acme", model.CategoryOffer, time.Now().UTC())

	resp, body := env.do(t, http.MethodGet, "/jobs/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OFFER", body["status"])

	resp, _ = env.do(t, http.MethodGet, "/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPatchJob(t *testing.T) {
	env := newTestEnv(t)
	id := env.addJob(t, "Acme", model.CategoryInterview, time.Now().UTC())

	resp, body := env.do(t, http.MethodPatch, "/jobs/"+id, `{"status":"rejected","notes":"withdrew"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "REJECTED", body["status"])
	assert.Equal(t, "withdrew", body["notes"])

	resp, body = env.do(t, http.MethodPatch, "/jobs/"+id, `{"notes":"called back"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "REJECTED", body["status"])

	got, err := env.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryRejected, got.Status)
	assert.Equal(t, "called back", got.Notes)

	for _, tc := range []struct {
		path, body string
		want       int
	}{
		{"/jobs/" + id, `{}`, http.StatusBadRequest},
		{"/jobs/" + id, `{"status":"HIRED"}`, http.StatusBadRequest},
		{"/jobs/" + id, `{"status":"UNCERTAIN"}`, http.StatusBadRequest},
		{"/jobs/" + id, `nope`, http.StatusBadRequest},
		{"/jobs/missing", `{"notes":"x"}`, http.StatusNotFound},
	} {
		resp, _ := env.do(t, http.MethodPatch, tc.path, tc.body)
		assert.Equal(t, tc.want, resp.StatusCode, tc.body)
	}
}

func TestListMessages(t *testing.T) {
	env := newTestEnv(t)
	jobID := env.addJob(t, "Acme", model.CategoryApplied, time.Now().UTC())
	env.addMessage(t, "gm-1", jobID, model.CategoryApplied, 0.9)
	uncertain := env.addMessage(t, "gm-2", jobID, model.CategoryUncertain, 0.4)

	resp, body := env.do(t, http.MethodGet, "/messages?category=uncertain", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, uncertain, msgs[0].(map[string]any)["id"])

	resp, body = env.do(t, http.MethodGet, "/messages?job_id="+jobID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["messages"], 2)

	resp, body = env.do(t, http.MethodGet, "/messages?category=OFFER", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["messages"])

	resp, _ = env.do(t, http.MethodGet, "/messages?category=GHOSTED", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPatchMessage_ResolvesUncertain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	jobID := env.addJob(t, "Acme", model.CategoryApplied, time.Now().UTC())
	msgID := env.addMessage(t, "gm-1", jobID, model.CategoryUncertain, 0.4)

	resp, body := env.do(t, http.MethodPatch, "/messages/"+msgID, `{"category":"interview"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msg := body["message"].(map[string]any)
	assert.Equal(t, "INTERVIEW", msg["category"])
	assert.Equal(t, 1.0, msg["confidence"])
	assert.Equal(t, "INTERVIEW", body["job"].(map[string]any)["status"])

	job, err := env.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryInterview, job.Status)

	// A lower-ranked verdict is recorded on the message but leaves the job.
	resp, _ = env.do(t, http.MethodPatch, "/messages/"+msgID, `{"category":"REJECTED"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job, err = env.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryInterview, job.Status)

	cats, err := env.store.JobMessageCategories(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, []model.Category{model.CategoryRejected}, cats)

	resp, _ = env.do(t, http.MethodPatch, "/messages/"+msgID, `{"category":"UNCERTAIN"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPatch, "/messages/missing", `{"category":"OFFER"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPatchMessage_WithoutJob(t *testing.T) {
	env := newTestEnv(t)
	msgID := env.addMessage(t, "gm-1", "", model.CategoryUncertain, 0.3)

	resp, body := env.do(t, http.MethodPatch, "/messages/"+msgID, `{"category":"OTHER"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OTHER", body["message"].(map[string]any)["category"])
	assert.NotContains(t, body, "job")
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	env.addJob(t, "Acme", model.CategoryApplied, now)
	env.addJob(t, "Globex", model.CategoryApplied, now)
	env.addJob(t, "Initech", model.CategoryRejected, now)

	resp, body := env.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["total"])
	assert.Len(t, body["by_status"], 2)
}

func TestStartAndStopRun(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/runs", `{"mode":"backfill"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "backfill", body["mode"])

	select {
	case mode := <-env.runner.started:
		assert.Equal(t, model.ModeBackfill, mode)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
	}

	resp, _ = env.do(t, http.MethodPost, "/runs", `{"mode":"sync"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "backfill", body["active_run"])

	resp, _ = env.do(t, http.MethodPost, "/sweeps/all", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/runs/stop", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "stopping", body["status"])

	env.server.Wait()
	resp, _ = env.do(t, http.MethodPost, "/runs/stop", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStartRun_BadRequest(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/runs", `{"mode":"rebuild"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/runs", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSweep(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/sweeps/orphans", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reports := body["reports"].([]any)
	require.Len(t, reports, 1)
	assert.Equal(t, "orphans", reports[0].(map[string]any)["name"])

	resp, body = env.do(t, http.MethodPost, "/sweeps/all", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["reports"], len(sweep.Passes))

	resp, _ = env.do(t, http.MethodPost, "/sweeps/vacuum", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, env.ts.URL+"/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
