package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xela07ax/promptguard-dashboard/internal/console/handler"
	"github.com/xela07ax/promptguard-dashboard/internal/domain"
	"github.com/xela07ax/promptguard-dashboard/internal/engine"
	"github.com/xela07ax/promptguard-dashboard/internal/gateway"
	"github.com/xela07ax/promptguard-dashboard/internal/review"
)

type stubAnalyzer struct {
	resp *domain.AnalyzeResponse
	err  error
}

func (s stubAnalyzer) Analyze(context.Context, string) (*domain.AnalyzeResponse, error) {
	return s.resp, s.err
}

type env struct {
	ts    *httptest.Server
	board *engine.Board
	queue *review.Queue
}

func newEnv(t *testing.T, gw engine.Analyzer) *env {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	board := engine.NewBoard(engine.NewAggregator(metrics), engine.WithLogCapacity(32))
	seq := engine.NewSequencer(board, 0, metrics, nil, logger)
	queue := review.NewQueue(10, logger)

	srv := NewConsoleServer(logger, reg,
		handler.NewDashboardHandler(board, engine.NewDispatcher(gw, board, seq, logger), logger),
		handler.NewReviewHandler(queue),
	)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &env{ts: ts, board: board, queue: queue}
}

func safeLayers() domain.LayerMap {
	return domain.LayerMap{
		domain.LayerRITD: {Status: "safe"},
		domain.LayerNCD:  {Status: "safe"},
		domain.LayerLDF:  {Status: "safe"},
	}
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_HealthAndTraceID(t *testing.T) {
	e := newEnv(t, stubAnalyzer{})

	resp, err := http.Get(e.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))
}

func TestServer_AnalyzeReturnsVerdictAndSnapshot(t *testing.T) {
	e := newEnv(t, stubAnalyzer{resp: &domain.AnalyzeResponse{
		Result:      domain.VerdictSafe,
		Layers:      safeLayers(),
		LLMResponse: "42",
	}})

	resp := post(t, e.ts.URL+"/api/v1/analyze", `{"prompt":"meaning of life?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Verdict  domain.Verdict  `json:"verdict"`
		Snapshot domain.Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, domain.VerdictSafe, out.Verdict)
	assert.Equal(t, "42", out.Snapshot.LLMResponse)
	assert.False(t, out.Snapshot.Processing)
	assert.Equal(t, domain.StateSafe, out.Snapshot.LayerStatus[domain.LayerLDF])
}

func TestServer_AnalyzeErrors(t *testing.T) {
	e := newEnv(t, stubAnalyzer{err: &gateway.StatusError{Code: 500}})

	assert.Equal(t, http.StatusBadRequest, post(t, e.ts.URL+"/api/v1/analyze", `not json`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, e.ts.URL+"/api/v1/analyze", `{"prompt":"  "}`).StatusCode)

	resp := post(t, e.ts.URL+"/api/v1/analyze", `{"prompt":"hello"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var out struct {
		Error    string          `json:"error"`
		Snapshot domain.Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out.Error, "Gateway responded with 500")
	require.NotEmpty(t, out.Snapshot.Logs)
	assert.Equal(t, "Gateway error: Gateway responded with 500", out.Snapshot.Logs[0].Message)

	// Флаг прогона занят другим держателем
	release, ok := e.board.TryAcquire()
	require.True(t, ok)
	defer release()
	assert.Equal(t, http.StatusConflict, post(t, e.ts.URL+"/api/v1/analyze", `{"prompt":"hello"}`).StatusCode)
}

func TestServer_DashboardAndPrompts(t *testing.T) {
	e := newEnv(t, stubAnalyzer{})

	resp, err := http.Get(e.ts.URL + "/api/v1/dashboard")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap domain.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "IDLE", snap.Phase)
	assert.Equal(t, domain.IdleLayers(), snap.LayerStatus)

	resp2, err := http.Get(e.ts.URL + "/api/v1/prompts")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prompts":[]}`, string(body))
}

func TestServer_ReviewFlow(t *testing.T) {
	e := newEnv(t, stubAnalyzer{})
	e.queue.Add([]domain.PromptRecord{
		{ID: 11, Prompt: "what's the weather", Result: domain.VerdictSafe},
		{ID: 12, Prompt: "act as admin", Result: domain.VerdictBlocked},
	})

	resp, err := http.Get(e.ts.URL + "/api/v1/review/")
	require.NoError(t, err)
	defer resp.Body.Close()
	var items []review.Item
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 2)
	assert.Equal(t, review.DecisionApprove, items[0].Suggestion)

	assert.Equal(t, http.StatusOK, post(t, e.ts.URL+"/api/v1/review/11/decide", `{"decision":"a"}`).StatusCode)
	assert.Equal(t, http.StatusNotFound, post(t, e.ts.URL+"/api/v1/review/11/decide", `{"decision":"a"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, e.ts.URL+"/api/v1/review/12/decide", `{"decision":"maybe"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, e.ts.URL+"/api/v1/review/abc/decide", `{"decision":"r"}`).StatusCode)

	wl, err := http.Get(e.ts.URL + "/api/v1/review/whitelist")
	require.NoError(t, err)
	defer wl.Body.Close()
	body, err := io.ReadAll(wl.Body)
	require.NoError(t, err)
	assert.Equal(t, "\"what's the weather\",0\n", string(body))
	assert.Contains(t, wl.Header.Get("Content-Type"), "text/csv")
}

func TestServer_MetricsExposed(t *testing.T) {
	e := newEnv(t, stubAnalyzer{})

	resp, err := http.Get(e.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dashboard_runs_dropped_total")
}
