package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bladewing/XSS-Validator/internal/checker"
	"github.com/bladewing/XSS-Validator/internal/config"
	"github.com/bladewing/XSS-Validator/pkg/models"
)

// Checker runs a single popup check. *checker.Checker implements it.
type Checker interface {
	Check(ctx context.Context, checkID string, req checker.CheckRequest) (models.CheckResult, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	checker Checker
	cfg     *config.Config
	logger  *zap.Logger
	version string
}

// NewHandler creates a new HTTP handler
func NewHandler(c Checker, cfg *config.Config, logger *zap.Logger, version string) *Handler {
	return &Handler{
		checker: c,
		cfg:     cfg,
		logger:  logger.Named("api"),
		version: version,
	}
}

// Root handles GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.ServiceInfo{
		Message:     "XSS Validator API",
		Description: "Checks whether an XSS payload triggers a JavaScript popup in a headless browser.",
		Version:     h.version,
		Endpoints: map[string]string{
			"/check/input": "Type the payload into the page's search input and press Enter (url, payload[, selector, timeout_ms])",
			"/check/url":   "Load a URL carrying the payload in its query string (url[, payload, param, timeout_ms])",
		},
	})
}

// CheckInput handles GET /check/input
func (h *Handler) CheckInput(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	timeout, err := parseTimeout(q.Get("timeout_ms"))
	if err != nil {
		h.writeCheckError(w, r, err)
		return
	}

	h.runCheck(w, r, checker.CheckRequest{
		TargetURL: q.Get("url"),
		Payload:   q.Get("payload"),
		Mode:      checker.ModeInputField,
		Timeout:   timeout,
		Selector:  q.Get("selector"),
	})
}

// CheckURL handles GET /check/url
func (h *Handler) CheckURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	timeout, err := parseTimeout(q.Get("timeout_ms"))
	if err != nil {
		h.writeCheckError(w, r, err)
		return
	}

	h.runCheck(w, r, checker.CheckRequest{
		TargetURL: q.Get("url"),
		Payload:   q.Get("payload"),
		Mode:      checker.ModeURLParam,
		Timeout:   timeout,
		Param:     q.Get("param"),
	})
}

type checkOutcome struct {
	result models.CheckResult
	err    error
}

// runCheck runs the check detached from the request. If the client leaves or the
// request deadline passes, the check still finishes and releases its browser.
func (h *Handler) runCheck(w http.ResponseWriter, r *http.Request, req checker.CheckRequest) {
	checkID := CheckIDFromContext(r.Context())
	ctx := context.WithoutCancel(r.Context())

	done := make(chan checkOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				h.logger.Error("Check panicked.", zap.String("check_id", checkID), zap.Any("panic", p), zap.StackSkip("stack", 1))
				done <- checkOutcome{err: fmt.Errorf("check panicked: %v", p)}
			}
		}()
		result, err := h.checker.Check(ctx, checkID, req)
		done <- checkOutcome{result: result, err: err}
	}()

	timer := time.NewTimer(h.cfg.RequestDeadline)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			h.writeCheckError(w, r, out.err)
			return
		}
		writeJSON(w, http.StatusOK, out.result)

	case <-timer.C:
		h.logger.Warn("Check exceeded the request deadline, it keeps running in the background.",
			zap.String("check_id", checkID),
			zap.Duration("deadline", h.cfg.RequestDeadline))
		writeJSON(w, http.StatusGatewayTimeout, models.ErrorResponse{
			Message: fmt.Sprintf("Error checking XSS: no result within %s", h.cfg.RequestDeadline),
			Error:   models.ErrorDeadline,
		})

	case <-r.Context().Done():
		h.logger.Info("Client went away before the check finished.", zap.String("check_id", checkID))
	}
}

func (h *Handler) writeCheckError(w http.ResponseWriter, r *http.Request, err error) {
	body := checker.ReportError(err)
	status := statusForKind(body.Error)

	if status >= http.StatusInternalServerError {
		h.logger.Warn("Check failed.",
			zap.String("check_id", CheckIDFromContext(r.Context())),
			zap.String("kind", string(body.Error)),
			zap.Error(err))
	}
	writeJSON(w, status, body)
}

func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrorInvalidRequest:
		return http.StatusBadRequest
	case models.ErrorRateLimited:
		return http.StatusTooManyRequests
	case models.ErrorDelivery:
		return http.StatusBadGateway
	case models.ErrorCapacity:
		return http.StatusServiceUnavailable
	case models.ErrorDeadline:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// parseTimeout reads timeout_ms. An absent value means "use the configured default".
func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("%w: timeout_ms must be a positive integer, got %q", checker.ErrInvalidRequest, raw)
	}
	return checker.TimeoutFromMS(ms)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
