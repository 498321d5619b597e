package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/store"
)

func TestProgressHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{
		runs: []store.Run{{
			ID:        uuid.New(),
			Province:  "北京",
			Status:    store.RunSuccess,
			StartedAt: time.Now().Add(-time.Hour),
		}},
	}
	handler := NewProgressHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=success&limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []store.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, "北京", body.Runs[0].Province)
	require.NotNil(t, repo.lastStatus)
	require.Equal(t, store.RunSuccess, *repo.lastStatus)
	require.Equal(t, 10, repo.lastLimit)
}

func TestProgressHandlerListRunsBadQuery(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockRunRepo{}, zap.NewNop())
	for _, target := range []string{
		"/v1/runs?status=paused",
		"/v1/runs?limit=0",
		"/v1/runs?offset=-3",
	} {
		rec := httptest.NewRecorder()
		handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestProgressHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockRunRepo{err: store.ErrNotFound}, zap.NewNop())
	runID := uuid.New()
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil), runID.String())
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressHandlerGetRunInvalidID(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockRunRepo{}, zap.NewNop())
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/nope", nil), "nope")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerRepoFailure(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockRunRepo{err: errors.New("db down")}, zap.NewNop())
	runID := uuid.New()

	rec := httptest.NewRecorder()
	handler.ListRunDays(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/", nil), runID.String()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProgressHandlerNoRepo(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWrittenPercent(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 25.0, writtenPercent(store.Run{Rows: 400, Written: 100}), 0.001)
	require.Zero(t, writtenPercent(store.Run{Status: store.RunRunning}))
	require.InDelta(t, 100.0, writtenPercent(store.Run{Status: store.RunSuccess}), 0.001)
}

type mockRunRepo struct {
	runs       []store.Run
	days       []store.Day
	err        error
	lastStatus *store.RunStatus
	lastLimit  int
}

func (m *mockRunRepo) StartRun(context.Context, store.Run) error { return m.err }

func (m *mockRunRepo) RecordDay(context.Context, store.Day) error { return m.err }

func (m *mockRunRepo) UpdateWritten(context.Context, uuid.UUID, int64, int64) error { return m.err }

func (m *mockRunRepo) CompleteRun(
	context.Context,
	uuid.UUID,
	time.Time,
	store.RunStatus,
	int64,
	int64,
	*string,
) error {
	return m.err
}

func (m *mockRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	if len(m.runs) > 0 {
		return m.runs[0], nil
	}
	return store.Run{}, m.err
}

func (m *mockRunRepo) ListRuns(_ context.Context, status *store.RunStatus, limit, _ int) ([]store.Run, error) {
	m.lastStatus = status
	m.lastLimit = limit
	return m.runs, m.err
}

func (m *mockRunRepo) ListRunDays(context.Context, uuid.UUID, int, int) ([]store.Day, error) {
	return m.days, m.err
}

func withRunIDParam(r *http.Request, runID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("run_id", runID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
