package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/metrics"
	"github.com/garyjia/order-transcriber/internal/models"
	"github.com/garyjia/order-transcriber/internal/pipeline"
	"github.com/garyjia/order-transcriber/internal/profile"
	"github.com/garyjia/order-transcriber/internal/render"
	"github.com/garyjia/order-transcriber/internal/repository"
)

const knownRunID = "6a3847a3-14f5-4c7e-a5d1-26c7fb0bf6ef"

type fakeRunner struct {
	last pipeline.Request
	err  error
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.last = req
	res := &pipeline.Result{RunID: req.RunID, Success: f.err == nil, Warnings: []string{}}
	if f.err != nil {
		res.Error = apperr.ToRecord(f.err, false)
		return res, f.err
	}
	res.OutputPath = filepath.Join(req.OutputDir, "out.xlsx")
	return res, nil
}

type fakeStore struct {
	runs   []*models.RunRecord
	filter models.RunFilter
	err    error
}

func (f *fakeStore) GetByRunID(_ context.Context, runID string) (*models.RunRecord, error) {
	for _, r := range f.runs {
		if r.RunID == runID {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", repository.ErrRunNotFound, runID)
}

func (f *fakeStore) Checks(_ context.Context, runID string) ([]models.ValidationCheck, error) {
	return []models.ValidationCheck{{Sheet: "注文書", Cell: "W39", Item: "小計", Passed: true}}, nil
}

func (f *fakeStore) List(_ context.Context, filter models.RunFilter) ([]*models.RunRecord, error) {
	f.filter = filter
	return f.runs, f.err
}

type fakeHealth struct{ err error }

func (f fakeHealth) Healthy(context.Context) error { return f.err }

type testServer struct {
	server *Server
	runner *fakeRunner
	store  *fakeStore
}

func newTestServer(t *testing.T, health HealthChecker) *testServer {
	t.Helper()
	ts := &testServer{
		runner: &fakeRunner{},
		store: &fakeStore{runs: []*models.RunRecord{{
			ID:         1,
			RunID:      knownRunID,
			Partner:    "nextbits",
			Command:    "run",
			Status:     models.RunStatusSucceeded,
			ResultJSON: `{"run_id":"` + knownRunID + `","success":true}`,
			StartedAt:  time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC),
		}}},
	}
	handlers := NewHandlers(ts.runner, ts.store, health, HandlerConfig{
		OutputDir: "/srv/output",
		Templates: map[profile.Tag]string{
			profile.NextBits: "templates/nextbits.xlsx",
			profile.OffBeat:  "templates/offbeat.xlsx",
		},
		Strategy: render.StrategySplit,
		Version:  "test",
	}, zap.NewNop())
	m := metrics.New()
	m.ObserveRun("nextbits", true, "")
	ts.server = NewServer(DefaultServerConfig(), handlers, m.Registry, zap.NewNop())
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)

	var resp Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

var nextBitsFieldSet = json.RawMessage(`{
	"estimate": {"estimate_number": "TRR-25-008", "subject": "2025年8月作業：Telemasシステム改修作業等", "quantity": 1, "unit_price": 600000},
	"invoice": {"subtotal": 600000, "tax": 60000, "total": 660000}
}`)

func TestHealthCheck(t *testing.T) {
	w, resp := newTestServer(t, fakeHealth{}).do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, resp = newTestServer(t, fakeHealth{err: errors.New("database is locked")}).do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, resp.Success)
}

func TestCreateRun(t *testing.T) {
	ts := newTestServer(t, nil)

	w, resp := ts.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{
		Partner:  "ネクストビッツ",
		FieldSet: nextBitsFieldSet,
		Validate: true,
		Render:   true,
		Strategy: "isolate",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, resp.Success)

	req := ts.runner.last
	assert.Equal(t, profile.NextBits, req.Partner)
	assert.Equal(t, "templates/nextbits.xlsx", req.TemplatePath)
	assert.Equal(t, filepath.Join("/srv/output", req.RunID), req.OutputDir)
	assert.Equal(t, render.StrategyIsolate, req.Strategy)
	assert.True(t, req.Validate)
	assert.True(t, req.Render)
	require.NotNil(t, req.FieldSet.Estimate)
	assert.Equal(t, int64(600000), req.FieldSet.Estimate.UnitPrice)
}

func TestCreateRun_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"missing field set", map[string]string{"partner": "nextbits"}},
		{"unknown partner", CreateRunRequest{Partner: "acme", FieldSet: nextBitsFieldSet}},
		{"malformed field set", CreateRunRequest{Partner: "offbeat", FieldSet: json.RawMessage(`{"invoice": {"subtotal": "many"}}`)}},
		{"bad strategy", CreateRunRequest{Partner: "offbeat", FieldSet: nextBitsFieldSet, Strategy: "merge"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			w, resp := ts.do(t, http.MethodPost, "/api/v1/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			assert.Empty(t, ts.runner.last.RunID)
		})
	}
}

func TestCreateRun_FailureStatus(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindInput, http.StatusBadRequest},
		{apperr.KindBusinessRule, http.StatusUnprocessableEntity},
		{apperr.KindValidation, http.StatusUnprocessableEntity},
		{apperr.KindEngine, http.StatusBadGateway},
		{apperr.KindPackageIntegrity, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.runner.err = apperr.E(tt.kind, "run", errors.New("boom"))

			w, resp := ts.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{Partner: "nextbits", FieldSet: nextBitsFieldSet})
			assert.Equal(t, tt.want, w.Code)
			assert.False(t, resp.Success)

			data, ok := resp.Data.(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, ts.runner.last.RunID, data["run_id"])
			assert.Equal(t, string(tt.kind), data["error"].(map[string]interface{})["kind"])
		})
	}
}

func TestListRuns(t *testing.T) {
	ts := newTestServer(t, nil)

	w, resp := ts.do(t, http.MethodGet, "/api/v1/runs?partner=nextbits&status=failed&limit=500&offset=-3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, models.RunFilter{Partner: "nextbits", Status: models.RunStatusFailed, Limit: 20}, ts.store.filter)
	assert.Len(t, resp.Data, 1)

	w, _ = ts.do(t, http.MethodGet, "/api/v1/runs?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/api/v1/runs?partner=acme", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.store.err = errors.New("disk I/O error")
	w, _ = ts.do(t, http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetRun(t *testing.T) {
	ts := newTestServer(t, nil)

	w, resp := ts.do(t, http.MethodGet, "/api/v1/runs/"+knownRunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, knownRunID, data["run_id"])
	assert.Equal(t, models.RunStatusSucceeded, data["status"])
	assert.Len(t, data["checks"], 1)
	assert.Equal(t, true, data["result"].(map[string]interface{})["success"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/runs/1c0e1d4e-8a55-4a55-9c55-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/api/v1/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `transcriber_runs_total{outcome="succeeded",partner="nextbits"} 1`)
}
