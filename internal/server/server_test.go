package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/mwem/internal/privacy"
	"github.com/inferloop/mwem/internal/service"
	"github.com/inferloop/mwem/internal/storage/implementations/memory"
	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

type routeRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeRecorder) RecordHTTPRequest(method, route, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, method+" "+route+" "+status)
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := memory.NewMemoryStorage(logger)
	require.NoError(t, store.Connect(context.Background()))

	svc, err := service.NewReleaseService(&service.Config{Workers: 2}, store, privacy.ZeroNoise{}, logger)
	require.NoError(t, err)

	config := DefaultConfig()
	config.MaxRequestSize = 4096
	srv, err := NewServer(config, svc, logger, opts...)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

const createBody = `{
	"name": "ages",
	"domain_size": 40,
	"values": [10, 20, 20, 30],
	"workload": [[0, 15], [15, 25], [25, 35]],
	"epsilon": 1.0,
	"iterations": 1,
	"labels": {"team": "census"}
}`

func createRelease(t *testing.T, srv *Server) models.Release {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/v1/releases", createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var release models.Release
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &release))
	return release
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errors.AppError {
	t.Helper()
	var body struct {
		Error     errors.AppError `json:"error"`
		RequestID string          `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RequestID)
	return body.Error
}

func TestNewServerRequiresService(t *testing.T) {
	_, err := NewServer(nil, nil, nil)
	assert.Error(t, err)
}

func TestHealthAndVersion(t *testing.T) {
	srv := newTestServer(t, WithBuildInfo(BuildInfo{Version: "1.2.3", GitCommit: "abc"}))

	rec := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
	assert.NotEmpty(t, rec.Header().Get(constants.HeaderRequestID))

	rec = do(t, srv, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info BuildInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc", info.GitCommit)
}

func TestRequestIDIsPropagated(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(constants.HeaderRequestID, "req-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(constants.HeaderRequestID))
}

func TestReleaseEndpoints(t *testing.T) {
	srv := newTestServer(t)
	release := createRelease(t, srv)
	assert.NotEmpty(t, release.ID)
	assert.Equal(t, 4, release.RecordCount)
	require.Len(t, release.Trace, 1)
	assert.Equal(t, models.Query{Lower: 15, Upper: 25}, release.Trace[0].Query)

	rec := do(t, srv, http.MethodGet, "/api/v1/releases/"+release.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/releases/"+release.ID+"/answer?lower=0&upper=40", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var answer AnswerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
	assert.InDelta(t, 4.0, answer.Answer, 1e-9)
	assert.Equal(t, models.Query{Lower: 0, Upper: 40}, answer.Query)

	rec = do(t, srv, http.MethodGet, "/api/v1/releases/"+release.ID+"/sample?count=25&seed=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sample SampleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sample))
	assert.Equal(t, 25, sample.Count)
	assert.Len(t, sample.Records, 25)

	again := do(t, srv, http.MethodGet, "/api/v1/releases/"+release.ID+"/sample?count=25&seed=7", "")
	assert.JSONEq(t, rec.Body.String(), again.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/v1/releases/"+release.ID+"/sample?count=3&seed=7&format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, constants.MimeTypeCSV, rec.Header().Get(constants.HeaderContentType))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "value", lines[0])

	rec = do(t, srv, http.MethodGet, "/api/v1/releases?label=team=census", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Releases, 1)
	assert.Equal(t, release.ID, list.Releases[0].ID)

	rec = do(t, srv, http.MethodGet, "/api/v1/releases?label=team=other", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"releases": [], "limit": 100, "offset": 0}`, rec.Body.String())

	rec = do(t, srv, http.MethodDelete, "/api/v1/releases/"+release.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/releases/"+release.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errors.CodeReleaseNotFound, decodeError(t, rec).Code)
}

func TestReleaseEndpointErrors(t *testing.T) {
	srv := newTestServer(t)
	release := createRelease(t, srv)
	base := "/api/v1/releases/" + release.ID

	for _, tc := range []struct {
		name   string
		method string
		target string
		body   string
		status int
		code   string
	}{
		{"malformed body", http.MethodPost, "/api/v1/releases", `{"domain_size":`, http.StatusBadRequest, errors.CodeInvalidFormat},
		{"unknown field", http.MethodPost, "/api/v1/releases", `{"domain_size": 4, "seed": 1}`, http.StatusBadRequest, errors.CodeInvalidFormat},
		{"empty workload", http.MethodPost, "/api/v1/releases", `{"domain_size": 4, "values": [1], "workload": []}`, http.StatusBadRequest, errors.CodeEmptyWorkload},
		{"bad budget", http.MethodPost, "/api/v1/releases", `{"domain_size": 4, "values": [1], "workload": [[0, 2]], "epsilon": -1}`, http.StatusBadRequest, errors.CodeInvalidBudget},
		{"query outside domain", http.MethodGet, base + "/answer?lower=0&upper=41", "", http.StatusBadRequest, errors.CodeQueryOutOfDomain},
		{"missing bound", http.MethodGet, base + "/answer?lower=0", "", http.StatusBadRequest, errors.CodeMissingField},
		{"non-integer bound", http.MethodGet, base + "/answer?lower=a&upper=3", "", http.StatusBadRequest, errors.CodeInvalidFormat},
		{"negative count", http.MethodGet, base + "/sample?count=-2", "", http.StatusBadRequest, errors.CodeOutOfRange},
		{"bad seed", http.MethodGet, base + "/sample?count=2&seed=x", "", http.StatusBadRequest, errors.CodeInvalidFormat},
		{"bad label", http.MethodGet, "/api/v1/releases?label=team", "", http.StatusBadRequest, errors.CodeInvalidFormat},
		{"bad limit", http.MethodGet, "/api/v1/releases?limit=-1", "", http.StatusBadRequest, errors.CodeOutOfRange},
		{"unknown release", http.MethodGet, "/api/v1/releases/missing/answer?lower=0&upper=1", "", http.StatusNotFound, errors.CodeReleaseNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, srv, tc.method, tc.target, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decodeError(t, rec).Code)
		})
	}
}

func TestRequestSizeLimit(t *testing.T) {
	srv := newTestServer(t)
	body := bytes.Repeat([]byte("1,"), 4096)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/releases", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMetricsUseRouteTemplates(t *testing.T) {
	recorder := &routeRecorder{}
	srv := newTestServer(t, WithMetrics(recorder))
	release := createRelease(t, srv)

	do(t, srv, http.MethodGet, "/api/v1/releases/"+release.ID, "")
	do(t, srv, http.MethodGet, "/api/v1/releases/nope", "")

	assert.Contains(t, recorder.routes, "POST /api/v1/releases 201")
	assert.Contains(t, recorder.routes, "GET /api/v1/releases/{id} 200")
	assert.Contains(t, recorder.routes, "GET /api/v1/releases/{id} 404")
	for _, route := range recorder.routes {
		assert.NotContains(t, route, release.ID)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set(constants.HeaderRealIP, "10.0.0.2")
	assert.Equal(t, "10.0.0.2", getClientIP(req))

	req.Header.Set(constants.HeaderForwardedFor, "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", getClientIP(req))
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), errors.CodeInternalError)
}
