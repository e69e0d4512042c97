package scraper

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scrapeflow/internal/engine"
	"scrapeflow/internal/pkg/config"
	"scrapeflow/internal/pkg/health"
	"scrapeflow/internal/pkg/logger"
	"scrapeflow/internal/pkg/server"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	echo   *echo.Echo
	engine *engine.Engine
}

// newTestAPI wires a running engine behind the HTTP layer with auth
// disabled. The registry is empty, so executed tasks fail fast as
// unsupported; tests needing stable queued tasks pause the engine.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := &config.Config{
		Auth: config.AuthConfig{DisableJWT: true, TokenTTL: time.Hour, Issuer: "test"},
	}

	engCfg := engine.DefaultConfig()
	engCfg.DequeuePoll = 10 * time.Millisecond
	engCfg.EnqueueTimeout = 50 * time.Millisecond

	eng := engine.New(engCfg, nil, engine.NewRegistry(), logger.NewNop())
	require.NoError(t, eng.Start())
	t.Cleanup(func() { _ = eng.Shutdown(2 * time.Second) })

	healthSvc := health.NewService(time.Second)
	healthSvc.RegisterProvider(health.NewEngineProvider(eng))

	tokens := NewTokenService(cfg)
	handler := NewHandler(eng, tokens, healthSvc, logger.NewNop())

	e := echo.New()
	RegisterRoutes(e, handler, tokens, cfg)
	return &testAPI{echo: e, engine: eng}
}

func (a *testAPI) request(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var resp server.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestSubmitTask(t *testing.T) {
	api := newTestAPI(t)
	api.engine.Pause()

	rec := api.request(http.MethodPost, "/api/v1/tasks",
		`{"site":"listing","url":"https://example.com/list","priority":"high"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var sub SubmitResponse
	decodeData(t, rec, &sub)
	assert.NotEmpty(t, sub.TaskID)
	assert.Equal(t, engine.StatusQueued, sub.Status)
	assert.Equal(t, "high", sub.Priority)
}

func TestSubmitTaskValidation(t *testing.T) {
	api := newTestAPI(t)

	cases := []string{
		`{"url":"https://example.com"}`,            // missing site
		`{"site":"listing"}`,                       // missing url
		`{"site":"listing","url":"not-a-url"}`,     // malformed url
		`{"site":"l","url":"https://e.com","priority":"extreme"}`, // bad priority
	}
	for _, body := range cases {
		rec := api.request(http.MethodPost, "/api/v1/tasks", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestGetTaskLifecycle(t *testing.T) {
	api := newTestAPI(t)
	api.engine.Pause()

	rec := api.request(http.MethodPost, "/api/v1/tasks",
		`{"site":"listing","url":"https://example.com/list"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var sub SubmitResponse
	decodeData(t, rec, &sub)

	rec = api.request(http.MethodGet, "/api/v1/tasks/"+sub.TaskID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view engine.TaskView
	decodeData(t, rec, &view)
	assert.Equal(t, sub.TaskID, view.ID)
	assert.Equal(t, "listing", view.Site)

	rec = api.request(http.MethodGet, "/api/v1/tasks/unknown-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTask(t *testing.T) {
	api := newTestAPI(t)
	api.engine.Pause()

	rec := api.request(http.MethodPost, "/api/v1/tasks",
		`{"site":"listing","url":"https://example.com/list"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var sub SubmitResponse
	decodeData(t, rec, &sub)

	rec = api.request(http.MethodDelete, "/api/v1/tasks/"+sub.TaskID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Cancelling again conflicts
	rec = api.request(http.MethodDelete, "/api/v1/tasks/"+sub.TaskID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.request(http.MethodDelete, "/api/v1/tasks/unknown-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBulkSubmit(t *testing.T) {
	api := newTestAPI(t)
	api.engine.Pause()

	rec := api.request(http.MethodPost, "/api/v1/tasks/bulk", `{"tasks":[
		{"site":"listing","url":"https://example.com/1"},
		{"site":"listing","url":"https://example.com/2","priority":"urgent"}
	]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var bulk BulkSubmitResponse
	decodeData(t, rec, &bulk)
	assert.Equal(t, 2, bulk.Accepted)
	assert.Equal(t, 0, bulk.Rejected)
	require.Len(t, bulk.Results, 2)
	assert.NotEmpty(t, bulk.Results[0].TaskID)
}

func TestBulkSubmitEmptyRejected(t *testing.T) {
	api := newTestAPI(t)
	rec := api.request(http.MethodPost, "/api/v1/tasks/bulk", `{"tasks":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEngineStatusEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(http.MethodGet, "/api/v1/engine/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status engine.EngineStatus
	decodeData(t, rec, &status)
	assert.Equal(t, engine.StateRunning, status.State)

	rec = api.request(http.MethodPost, "/api/v1/engine/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.StatePaused, api.engine.State())

	rec = api.request(http.MethodPost, "/api/v1/engine/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.StateRunning, api.engine.State())

	rec = api.request(http.MethodGet, "/api/v1/engine/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, health.StatusUp, resp.Status)
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "engine", resp.Checks[0].Name)
}

func TestJWTMiddlewareBlocksWithoutToken(t *testing.T) {
	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecret: "s3cret", TokenTTL: time.Hour, Issuer: "test"},
	}
	eng := engine.New(engine.DefaultConfig(), nil, engine.NewRegistry(), logger.NewNop())
	tokens := NewTokenService(cfg)
	handler := NewHandler(eng, tokens, health.NewService(time.Second), logger.NewNop())

	e := echo.New()
	RegisterRoutes(e, handler, tokens, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/engine/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A valid token opens the door
	token, _, err := tokens.Issue("ops")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/engine/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
