package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/progression"
	"github.com/sells-group/dealflow/internal/resilience"
)

// stubRunner captures the options it was invoked with.
type stubRunner struct {
	summary *progression.Summary
	err     error
	gotOpts progression.Options
	calls   int
}

func (s *stubRunner) Run(_ context.Context, opts progression.Options) (*progression.Summary, error) {
	s.gotOpts = opts
	s.calls++
	return s.summary, s.err
}

// stubStore only needs Ping for the HTTP layer.
type stubStore struct {
	pingErr error
}

func (s *stubStore) ListActiveDeals(context.Context) ([]model.Deal, error)     { return nil, nil }
func (s *stubStore) GetDeal(context.Context, string) (*model.Deal, error)      { return nil, nil }
func (s *stubStore) UpdateDealStage(context.Context, string, model.Stage, model.Stage) error {
	return nil
}
func (s *stubStore) InvalidateDealCache(context.Context, ...string) error { return nil }
func (s *stubStore) CreateRun(context.Context, model.RunParams) (*model.Run, error) {
	return nil, nil
}
func (s *stubStore) FinishRun(context.Context, string, model.RunStatus, *model.RunStatistics) error {
	return nil
}
func (s *stubStore) Ping(context.Context) error    { return s.pingErr }
func (s *stubStore) Migrate(context.Context) error { return nil }
func (s *stubStore) Close() error                  { return nil }

func completedSummary() *progression.Summary {
	return &progression.Summary{
		RunID: "run-1",
		Stats: model.RunStatistics{
			TotalDeals:    25,
			DealsAnalyzed: 25,
			StagesUpdated: 3,
			NoChange:      19,
			Skipped:       3,
		},
		StartedAt:  time.Now().UTC().Add(-time.Minute),
		FinishedAt: time.Now().UTC(),
	}
}

func newTestServer(runner progressionRunner, st *stubStore) http.Handler {
	return newRouter(&server{
		runner:   runner,
		store:    st,
		breakers: resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
		baseOpts: progression.Options{BatchSize: 10, LookbackDays: 30},
	})
}

func TestTrigger_Success(t *testing.T) {
	runner := &stubRunner{summary: completedSummary()}
	h := newTestServer(runner, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/scheduled-jobs/deal-stage-progression", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status     string              `json:"status"`
		RunID      string              `json:"run_id"`
		Statistics model.RunStatistics `json:"statistics"`
		Timestamp  string              `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body.Status)
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, 3, body.Statistics.StagesUpdated)
	assert.NotEmpty(t, body.Timestamp)
}

func TestTrigger_EmptyBodyUsesDefaults(t *testing.T) {
	runner := &stubRunner{summary: completedSummary()}
	h := newTestServer(runner, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/scheduled-jobs/deal-stage-progression", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, runner.gotOpts.BatchSize)
	assert.Equal(t, 30, runner.gotOpts.LookbackDays)
	assert.False(t, runner.gotOpts.DryRun)
}

func TestTrigger_ParameterOverrides(t *testing.T) {
	runner := &stubRunner{summary: completedSummary()}
	h := newTestServer(runner, &stubStore{})

	body := `{"batch_size": 5, "days_lookback": 7, "dry_run": true}`
	req := httptest.NewRequest(http.MethodPost, "/scheduled-jobs/deal-stage-progression", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, runner.gotOpts.BatchSize)
	assert.Equal(t, 7, runner.gotOpts.LookbackDays)
	assert.True(t, runner.gotOpts.DryRun)
}

func TestTrigger_InvalidBody(t *testing.T) {
	runner := &stubRunner{summary: completedSummary()}
	h := newTestServer(runner, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/scheduled-jobs/deal-stage-progression", strings.NewReader(`{nope`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, runner.calls)
}

func TestTrigger_RunnerFailure(t *testing.T) {
	runner := &stubRunner{
		summary: &progression.Summary{Stats: model.RunStatistics{Errors: 1}},
		err:     errors.New("progression: list active deals: connection refused"),
	}
	h := newTestServer(runner, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/scheduled-jobs/deal-stage-progression", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["detail"], "deal stage progression failed")
}

func TestTrigger_DryRunFalseOverridesDefault(t *testing.T) {
	runner := &stubRunner{summary: completedSummary()}
	h := newRouter(&server{
		runner:   runner,
		store:    &stubStore{},
		breakers: resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
		baseOpts: progression.Options{BatchSize: 10, LookbackDays: 30, DryRun: true},
	})

	// Absent dry_run keeps the configured default.
	req := httptest.NewRequest(http.MethodPost, "/scheduled-jobs/deal-stage-progression", strings.NewReader(`{}`))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, runner.gotOpts.DryRun)

	// An explicit false must win over a true default.
	req = httptest.NewRequest(http.MethodPost, "/scheduled-jobs/deal-stage-progression", strings.NewReader(`{"dry_run": false}`))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, runner.gotOpts.DryRun)
}

func TestStatus_ServiceDescriptor(t *testing.T) {
	h := newTestServer(&stubRunner{}, &stubStore{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scheduled-jobs/deal-stage-progression/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Service   string `json:"service"`
		Available bool   `json:"available"`
		Defaults  struct {
			BatchSize    int  `json:"batch_size"`
			DaysLookback int  `json:"days_lookback"`
			DryRun       bool `json:"dry_run"`
		} `json:"defaults"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "deal-stage-progression", body.Service)
	assert.True(t, body.Available)
	assert.Equal(t, 10, body.Defaults.BatchSize)
	assert.Equal(t, 30, body.Defaults.DaysLookback)
	assert.False(t, body.Defaults.DryRun)
}

func TestStatus_IdleThenLastRun(t *testing.T) {
	runner := &stubRunner{summary: completedSummary()}
	h := newTestServer(runner, &stubStore{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scheduled-jobs/deal-stage-progression/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Status  string               `json:"status"`
		LastRun *progression.Summary `json:"last_run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "idle", status.Status)
	assert.Nil(t, status.LastRun)

	// Trigger once, then the status should carry the summary.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/scheduled-jobs/deal-stage-progression", nil))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scheduled-jobs/deal-stage-progression/status", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotNil(t, status.LastRun)
	assert.Equal(t, "run-1", status.LastRun.RunID)
}

func TestHealth(t *testing.T) {
	h := newTestServer(&stubRunner{}, &stubStore{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	degraded := newTestServer(&stubRunner{}, &stubStore{pingErr: errors.New("down")})
	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
