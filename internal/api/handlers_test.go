package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/bladewing/XSS-Validator/internal/browser"
	"github.com/bladewing/XSS-Validator/internal/checker"
	"github.com/bladewing/XSS-Validator/internal/config"
	"github.com/bladewing/XSS-Validator/internal/ratelimit"
	"github.com/bladewing/XSS-Validator/pkg/models"
)

type fakeCall struct {
	ctx     context.Context
	checkID string
	req     checker.CheckRequest
}

type fakeChecker struct {
	mu     sync.Mutex
	calls  []fakeCall
	result models.CheckResult
	err    error

	// When set, Check blocks until the channel is closed.
	block     chan struct{}
	started   chan struct{}
	finished  chan struct{}
	panicWith any
}

func (f *fakeChecker) Check(ctx context.Context, checkID string, req checker.CheckRequest) (models.CheckResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{ctx: ctx, checkID: checkID, req: req})
	f.mu.Unlock()

	if f.finished != nil {
		defer close(f.finished)
	}
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.result, f.err
}

func (f *fakeChecker) lastCall(t *testing.T) fakeCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func newTestRouter(t *testing.T, fc *fakeChecker, limiter *ratelimit.Limiter) http.Handler {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.RequestDeadline = 2 * time.Second
	return NewHandler(fc, cfg, zaptest.NewLogger(t), "test").SetupRoutes(limiter)
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestRoot(t *testing.T) {
	router := newTestRouter(t, &fakeChecker{}, nil)

	rec := serve(router, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var info models.ServiceInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Contains(t, info.Message, "XSS Validator API")
	assert.Contains(t, info.Endpoints, "/check/input")
	assert.Contains(t, info.Endpoints, "/check/url")
	assert.Equal(t, "test", info.Version)
}

func TestCheckInputPassesRequest(t *testing.T) {
	fc := &fakeChecker{result: models.CheckResult{XSSDetected: true, Message: checker.MessageDetected}}
	router := newTestRouter(t, fc, nil)

	q := url.Values{}
	q.Set("url", "http://target.test/")
	q.Set("payload", "<Script>success()</Script>")
	q.Set("selector", "#search")
	q.Set("timeout_ms", "1500")

	rec := serve(router, "/check/input?"+q.Encode())
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.CheckResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.True(t, result.XSSDetected)
	assert.Equal(t, checker.MessageDetected, result.Message)

	call := fc.lastCall(t)
	assert.Equal(t, checker.ModeInputField, call.req.Mode)
	assert.Equal(t, "http://target.test/", call.req.TargetURL)
	assert.Equal(t, "<Script>success()</Script>", call.req.Payload)
	assert.Equal(t, "#search", call.req.Selector)
	assert.Equal(t, 1500*time.Millisecond, call.req.Timeout)

	assert.Equal(t, call.checkID, rec.Header().Get(CheckIDHeader))
	assert.Len(t, call.checkID, 36)
}

func TestCheckURLPassesRequest(t *testing.T) {
	fc := &fakeChecker{result: models.CheckResult{Message: checker.MessageNotDetected}}
	router := newTestRouter(t, fc, nil)

	target := "http://target.test/search?q=%3CScript%3Esuccess%28%29%3C%2FScript%3E"
	rec := serve(router, "/check/url?url="+url.QueryEscape(target))
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.CheckResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.False(t, result.XSSDetected)

	call := fc.lastCall(t)
	assert.Equal(t, checker.ModeURLParam, call.req.Mode)
	assert.Equal(t, target, call.req.TargetURL)
	assert.Empty(t, call.req.Payload)
	assert.Zero(t, call.req.Timeout)

	serve(router, "/check/url?url=http://target.test/search&payload=x&param=term")
	call = fc.lastCall(t)
	assert.Equal(t, "x", call.req.Payload)
	assert.Equal(t, "term", call.req.Param)
}

func TestCheckErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   models.ErrorKind
	}{
		{"invalid", fmt.Errorf("%w: url is required", checker.ErrInvalidRequest), http.StatusBadRequest, models.ErrorInvalidRequest},
		{"launch", &browser.LaunchError{Backend: "local", Cause: errors.New("no chrome")}, http.StatusInternalServerError, models.ErrorLaunch},
		{"delivery", &checker.DeliveryError{Mode: checker.ModeURLParam, Stage: "navigate to", URL: "http://h/", Cause: errors.New("net::ERR_CONNECTION_REFUSED")}, http.StatusBadGateway, models.ErrorDelivery},
		{"capacity", browser.ErrCapacity, http.StatusServiceUnavailable, models.ErrorCapacity},
		{"internal", errors.New("boom"), http.StatusInternalServerError, models.ErrorInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &fakeChecker{err: tt.err}, nil)

			rec := serve(router, "/check/url?url=http://h/")
			assert.Equal(t, tt.status, rec.Code)

			body := decodeError(t, rec)
			assert.False(t, body.XSSDetected)
			assert.Equal(t, tt.kind, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestCheckInvalidTimeout(t *testing.T) {
	fc := &fakeChecker{}
	router := newTestRouter(t, fc, nil)

	for _, v := range []string{"abc", "0", "-5", "18446744073710", "99999999999999999999"} {
		rec := serve(router, "/check/input?url=http://h/&payload=x&timeout_ms="+v)
		assert.Equal(t, http.StatusBadRequest, rec.Code, v)
		assert.Equal(t, models.ErrorInvalidRequest, decodeError(t, rec).Error)
	}
	assert.Empty(t, fc.calls)
}

func TestCheckDeadlineExceeded(t *testing.T) {
	defer goleak.VerifyNone(t)

	fc := &fakeChecker{block: make(chan struct{}), started: make(chan struct{}), finished: make(chan struct{})}
	cfg := config.NewDefaultConfig()
	cfg.RequestDeadline = 50 * time.Millisecond
	router := NewHandler(fc, cfg, zaptest.NewLogger(t), "test").SetupRoutes(nil)

	rec := serve(router, "/check/url?url=http://h/")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, models.ErrorDeadline, decodeError(t, rec).Error)

	// The check is still running and gets to finish on its own.
	<-fc.started
	assert.NoError(t, fc.lastCall(t).ctx.Err())
	close(fc.block)
	<-fc.finished
}

func TestCheckSurvivesClientDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	fc := &fakeChecker{block: make(chan struct{}), started: make(chan struct{}), finished: make(chan struct{})}
	router := newTestRouter(t, fc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/check/url?url=http://h/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	served := make(chan struct{})
	go func() {
		router.ServeHTTP(rec, req)
		close(served)
	}()

	<-fc.started
	cancel()
	<-served

	assert.NoError(t, fc.lastCall(t).ctx.Err(), "the check context must not follow the client")
	close(fc.block)
	<-fc.finished
}

func TestCheckPanicBecomesInternalError(t *testing.T) {
	router := newTestRouter(t, &fakeChecker{panicWith: "kaboom"}, nil)

	rec := serve(router, "/check/url?url=http://h/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, models.ErrorInternal, body.Error)
	assert.Contains(t, body.Message, "kaboom")
}

func TestRateLimit(t *testing.T) {
	fc := &fakeChecker{result: models.CheckResult{Message: checker.MessageNotDetected}}
	router := newTestRouter(t, fc, ratelimit.NewLimiter(3600, 1))

	rec := serve(router, "/check/url?url=http://h/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("X-RateLimit-Limit"))

	rec = serve(router, "/check/url?url=http://h/")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, models.ErrorRateLimited, decodeError(t, rec).Error)

	// The liveness endpoint is not limited.
	assert.Equal(t, http.StatusOK, serve(router, "/").Code)
	assert.Len(t, fc.calls, 1)
}

func TestCORSPreflight(t *testing.T) {
	fc := &fakeChecker{}
	router := newTestRouter(t, fc, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/check/url", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, fc.calls)
}

func TestNotFound(t *testing.T) {
	rec := serve(newTestRouter(t, &fakeChecker{}, nil), "/check/dom")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	fc := &fakeChecker{}
	router := newTestRouter(t, fc, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/check/url?url=http://h/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Allow"))

	body := decodeError(t, rec)
	assert.False(t, body.XSSDetected)
	assert.Equal(t, models.ErrorInvalidRequest, body.Error)
	assert.Contains(t, body.Message, "POST")
	assert.Empty(t, fc.calls)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler bug")
	}))

	rec := serve(h, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, models.ErrorInternal, decodeError(t, rec).Error)
}
