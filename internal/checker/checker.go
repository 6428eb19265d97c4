package checker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bladewing/XSS-Validator/internal/browser"
	"github.com/bladewing/XSS-Validator/internal/config"
	"github.com/bladewing/XSS-Validator/pkg/models"
)

// SessionProvider hands out isolated browser sessions. *browser.Manager implements it.
type SessionProvider interface {
	Acquire(ctx context.Context, checkID string) (*browser.Session, error)
	Release(s *browser.Session)
}

// Checker runs popup checks: one fresh browser per check, torn down before the result is returned.
type Checker struct {
	cfg        *config.Config
	sessions   SessionProvider
	strategies map[Mode]Strategy
	logger     *zap.Logger
}

func New(cfg *config.Config, sessions SessionProvider, logger *zap.Logger) *Checker {
	return &Checker{
		cfg:      cfg,
		sessions: sessions,
		strategies: map[Mode]Strategy{
			ModeURLParam:   &URLParamStrategy{NavigationTimeout: cfg.NavigationTimeout},
			ModeInputField: &InputFieldStrategy{NavigationTimeout: cfg.NavigationTimeout, ElementTimeout: cfg.ElementTimeout},
		},
		logger: logger.Named("checker"),
	}
}

// NewCheckID returns a fresh identifier for a check.
func NewCheckID() string {
	return uuid.NewString()
}

// Prepare fills unset optional fields from the configuration and validates the result.
func (c *Checker) Prepare(req CheckRequest) (CheckRequest, error) {
	if req.Timeout == 0 {
		req.Timeout = c.cfg.Timeout()
	}
	if req.Mode == ModeURLParam && strings.TrimSpace(req.Param) == "" {
		req.Param = c.cfg.URLParamName
	}
	if req.Mode == ModeInputField && strings.TrimSpace(req.Selector) == "" {
		req.Selector = c.cfg.InputSelector
	}

	if err := req.Validate(c.cfg.MaxTimeout()); err != nil {
		return req, err
	}
	return req, nil
}

// Check runs one popup check. A non-nil error means no verdict could be reached;
// the browser session is released in every case before Check returns.
//
// ctx only bounds acquiring a browser. Once the payload is being delivered the
// check runs to its own timeouts.
func (c *Checker) Check(ctx context.Context, checkID string, req CheckRequest) (models.CheckResult, error) {
	if checkID == "" {
		checkID = NewCheckID()
	}
	start := time.Now()

	logger := c.logger.With(
		zap.String("check_id", checkID),
		zap.String("mode", req.Mode.String()),
		zap.String("target", req.TargetURL),
	)

	req, err := c.Prepare(req)
	if err != nil {
		logger.Info("Rejected check request.", zap.Error(err))
		return models.CheckResult{}, err
	}

	strategy, ok := c.strategies[req.Mode]
	if !ok {
		return models.CheckResult{}, fmt.Errorf("%w: no delivery strategy for mode %s", ErrInvalidRequest, req.Mode)
	}

	session, err := c.sessions.Acquire(ctx, checkID)
	if err != nil {
		logger.Warn("Could not acquire a browser.", zap.Error(err))
		return models.CheckResult{}, err
	}
	defer c.sessions.Release(session)

	detector := NewDetector(logger)
	detector.Attach(session.Context())

	if err := strategy.Deliver(session.Context(), &req); err != nil {
		logger.Warn("Payload delivery failed.", zap.Error(err))
		return models.CheckResult{}, err
	}

	state := detector.Wait(req.Timeout)
	result := Report(state)

	fields := []zap.Field{
		zap.String("outcome", state.String()),
		zap.Int("dialogs", detector.Dialogs()),
		zap.Duration("elapsed", time.Since(start)),
	}
	if dlg, ok := detector.FirstDialog(); ok {
		fields = append(fields, zap.String("dialog_type", dlg.Type), zap.String("dialog_message", dlg.Message))
	}
	logger.Info("Check finished.", fields...)

	return result, nil
}
