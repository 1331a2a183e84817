package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkforge/harvester/internal/config"
	"github.com/linkforge/harvester/internal/engine"
	"github.com/linkforge/harvester/internal/export"
	"github.com/linkforge/harvester/internal/harvest"
	"github.com/linkforge/harvester/internal/lock"
	"github.com/linkforge/harvester/internal/storage/memory"
)

type stubSearch struct{}

func (stubSearch) Search(_ context.Context, _ string, _ harvest.Credential, start int) (harvest.SearchPage, error) {
	items := make([]harvest.SearchItem, 10)
	for i := range items {
		items[i] = harvest.SearchItem{URL: fmt.Sprintf("https://example.com/doc-%03d", start+i)}
	}
	return harvest.SearchPage{Items: items, NextStartIndex: start + len(items)}, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(context.Context, uuid.UUID) (harvest.Credential, error) {
	return harvest.Credential{APIKey: "key", EngineID: "cx"}, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type uuidGen struct{}

func (uuidGen) NewRawID() (uuid.UUID, error) { return uuid.New(), nil }

type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []harvest.RunRequest
}

func (r *recordingSubmitter) Submit(_ context.Context, req harvest.RunRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

type nullBlobStore struct{}

func (nullBlobStore) PutObject(_ context.Context, path string, _ string, _ []byte) (string, error) {
	return "file:///tmp/" + path, nil
}

type testServer struct {
	server *Server
	store  *memory.Store
	runs   *recordingSubmitter
	dorkID uuid.UUID
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	store := memory.New()
	locks := lock.New()
	clk := systemClock{}
	ids := uuidGen{}

	lc := engine.NewLifecycle(store, store, locks, clk, ids, zap.NewNop())
	ex := engine.NewExecutor(store, store, stubResolver{}, stubSearch{}, lc, locks, clk, ids, nil,
		harvest.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond}, 10, zap.NewNop())
	exporter := export.New(store, store, nullBlobStore{}, clk, zap.NewNop())
	runs := &recordingSubmitter{}

	dork := harvest.Dork{ID: uuid.New(), Text: "inurl:admin"}
	store.SeedDork(dork)

	if cfg.Harvest.DefaultMaxResults == 0 {
		cfg.Harvest.DefaultMaxResults = 100
	}
	srv := NewServer(lc, ex, runs, store, store, exporter, clk, nil, cfg, zap.NewNop())
	return &testServer{server: srv, store: store, runs: runs, dorkID: dork.ID}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createCombination(t *testing.T) uuid.UUID {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/combinations", map[string]any{
		"location_id":         uuid.NewString(),
		"category_id":         uuid.NewString(),
		"dork_id":             ts.dorkID.String(),
		"credential_id":       uuid.NewString(),
		"max_allowed_results": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Combination harvest.Combination `json:"combination"`
		Created     bool                `json:"created"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Created)
	return resp.Combination.ID
}

func TestCreateCombinationIsIdempotent(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	body := map[string]any{
		"location_id":         uuid.NewString(),
		"category_id":         uuid.NewString(),
		"dork_id":             ts.dorkID.String(),
		"credential_id":       uuid.NewString(),
		"max_allowed_results": 50,
	}

	rec := ts.do(t, http.MethodPost, "/v1/combinations", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, ts.runs.count())

	rec = ts.do(t, http.MethodPost, "/v1/combinations", body)
	require.Equal(t, http.StatusOK, rec.Code)
	// no second background run for an existing combination
	require.Equal(t, 1, ts.runs.count())
}

func TestCreateCombinationValidation(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})

	rec := ts.do(t, http.MethodPost, "/v1/combinations", map[string]any{
		"location_id": uuid.NewString(),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/combinations", map[string]any{
		"location_id":         uuid.NewString(),
		"category_id":         uuid.NewString(),
		"dork_id":             ts.dorkID.String(),
		"max_allowed_results": 5000,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecutePageReturnsResult(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	id := ts.createCombination(t)

	rec := ts.do(t, http.MethodPost, "/v1/combinations/"+id.String()+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res harvest.PageResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Success)
	require.Equal(t, 10, res.InsertedCount)
	require.True(t, res.HasMore)
}

func TestExecutePageUnknownCombination(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	rec := ts.do(t, http.MethodPost, "/v1/combinations/"+uuid.NewString()+"/execute", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/combinations/not-a-uuid/execute", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPauseResumeTransitions(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	id := ts.createCombination(t)
	base := "/v1/combinations/" + id.String()

	rec := ts.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// pausing a paused combination is an invalid transition
	rec = ts.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	runsBefore := ts.runs.count()
	rec = ts.do(t, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, runsBefore+1, ts.runs.count())

	rec = ts.do(t, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatusReportsProgress(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	id := ts.createCombination(t)
	base := "/v1/combinations/" + id.String()

	rec := ts.do(t, http.MethodPost, base+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, base+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, 10, status.Combination.TotalFetched)
	require.Equal(t, 33, status.Progress) // 10 of 30
	require.True(t, status.CanFetchMore)
}

func TestListLinksAndExport(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	id := ts.createCombination(t)
	base := "/v1/combinations/" + id.String()

	rec := ts.do(t, http.MethodPost, base+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, base+"/links", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Count int            `json:"count"`
		Links []harvest.Link `json:"links"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Equal(t, 10, listResp.Count)
	require.Len(t, listResp.Links, 10)

	rec = ts.do(t, http.MethodPost, base+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var exportResp export.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exportResp))
	require.Equal(t, 10, exportResp.LinkCount)
	require.Contains(t, exportResp.URI, "exports/"+id.String())
}

func TestResetReturnsFreshCombination(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.Config{})
	id := ts.createCombination(t)
	base := "/v1/combinations/" + id.String()

	rec := ts.do(t, http.MethodPost, base+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, base+"/status", nil)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, 0, status.Combination.TotalFetched)
	require.Equal(t, harvest.StatusPending, status.Combination.Status)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekrit"
	ts := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
