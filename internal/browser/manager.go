package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bladewing/XSS-Validator/internal/config"
)

const shutdownTimeout = 10 * time.Second

type launchFunc func(ctx context.Context, checkID string) (*Session, error)

// Manager launches and tears down per-check browser sessions and bounds how many run at once.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger
	docker *DockerPool

	slots    *semaphore.Weighted
	capacity int64
	active   atomic.Int64

	launch launchFunc
}

// NewManager creates a session manager. docker may be nil unless cfg.BrowserMode is docker.
func NewManager(cfg *config.Config, logger *zap.Logger, docker *DockerPool) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser"),
		docker:   docker,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrentChecks)),
		capacity: int64(cfg.MaxConcurrentChecks),
	}

	switch cfg.BrowserMode {
	case config.BrowserModeDocker:
		if docker == nil {
			return nil, fmt.Errorf("browser mode %q requires a docker pool", cfg.BrowserMode)
		}
		m.launch = m.launchDocker
	default:
		m.launch = m.launchLocal
	}

	return m, nil
}

// Acquire reserves a slot and starts a fresh headless browser with one blank tab.
// It fails fast with ErrCapacity when all slots are taken, and with *LaunchError
// when the browser does not come up within the launch timeout.
func (m *Manager) Acquire(ctx context.Context, checkID string) (*Session, error) {
	if !m.slots.TryAcquire(1) {
		return nil, ErrCapacity
	}

	session, err := m.launch(ctx, checkID)
	if err != nil {
		m.slots.Release(1)
		return nil, err
	}

	session.ID = checkID
	session.AcquiredAt = time.Now()
	m.active.Add(1)

	m.logger.Debug("Browser session acquired.",
		zap.String("check_id", checkID),
		zap.String("backend", session.Backend),
		zap.Int("pid", session.pid))

	return session, nil
}

// Release tears a session down. Teardown errors are logged, never returned,
// so they cannot mask the result of the check. Releasing twice is a no-op.
func (m *Manager) Release(s *Session) {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		m.active.Add(-1)
		m.slots.Release(1)
	}()

	if s.teardown == nil {
		return
	}
	if err := s.teardown(); err != nil {
		m.logger.Warn("Browser teardown reported an error.",
			zap.String("check_id", s.ID),
			zap.String("backend", s.Backend),
			zap.Error(err))
		return
	}

	m.logger.Debug("Browser session released.",
		zap.String("check_id", s.ID),
		zap.Duration("lifetime", time.Since(s.AcquiredAt)))
}

// Active returns the number of sessions currently alive.
func (m *Manager) Active() int {
	return int(m.active.Load())
}

// Drain blocks until every in-flight session has been released or ctx ends.
// No new session can be acquired afterwards.
func (m *Manager) Drain(ctx context.Context) error {
	return m.slots.Acquire(ctx, m.capacity)
}

// Close releases backend resources.
func (m *Manager) Close() error {
	if m.docker != nil {
		return m.docker.Close()
	}
	return nil
}

func (m *Manager) allocatorOptions(userDataDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserDataDir(userDataDir),
	)
	if m.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ChromePath))
	}
	return opts
}

func (m *Manager) launchLocal(ctx context.Context, checkID string) (*Session, error) {
	userDataDir, err := os.MkdirTemp("", "xss-validator-")
	if err != nil {
		return nil, &LaunchError{Backend: config.BrowserModeLocal, Cause: fmt.Errorf("failed to create user data directory: %w", err)}
	}

	// The browser is tied to a background context: a caller giving up must not kill a running check.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocatorOptions(userDataDir)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	teardown := func() error {
		err := cancelBrowser(tabCtx)
		tabCancel()
		allocCancel()
		if rmErr := os.RemoveAll(userDataDir); rmErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to remove user data directory: %w", rmErr))
		}
		return err
	}

	if err := m.start(ctx, tabCtx); err != nil {
		// Cancelling the allocator kills the process and waits for it to exit.
		tabCancel()
		allocCancel()
		os.RemoveAll(userDataDir)
		return nil, &LaunchError{Backend: config.BrowserModeLocal, Cause: err}
	}

	pid := 0
	if c := chromedp.FromContext(tabCtx); c != nil && c.Browser != nil {
		if proc := c.Browser.Process(); proc != nil {
			pid = proc.Pid
		}
	}

	return &Session{
		Backend:  config.BrowserModeLocal,
		ctx:      tabCtx,
		pid:      pid,
		teardown: teardown,
	}, nil
}

func (m *Manager) launchDocker(ctx context.Context, checkID string) (*Session, error) {
	launchCtx, cancel := context.WithTimeout(ctx, m.cfg.LaunchTimeout)
	defer cancel()

	ctr, err := m.docker.Launch(launchCtx, checkID)
	if err != nil {
		return nil, &LaunchError{Backend: config.BrowserModeDocker, Cause: err}
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), ctr.ConnectURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	teardown := func() error {
		err := cancelBrowser(tabCtx)
		tabCancel()
		allocCancel()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if stopErr := m.docker.Stop(stopCtx, ctr.ID); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
		return err
	}

	if err := m.start(ctx, tabCtx); err != nil {
		tabCancel()
		allocCancel()
		m.docker.remove(ctr.ID)
		return nil, &LaunchError{Backend: config.BrowserModeDocker, Cause: err}
	}

	return &Session{
		Backend:  config.BrowserModeDocker,
		ctx:      tabCtx,
		teardown: teardown,
	}, nil
}

// start forces chromedp to allocate the browser and open the tab.
// The first Run must not carry a deadline (that deadline would later kill the browser),
// so the launch timeout is enforced from the outside.
func (m *Manager) start(ctx context.Context, tabCtx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(tabCtx)
	}()

	timer := time.NewTimer(m.cfg.LaunchTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("browser did not start within %s", m.cfg.LaunchTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cancelBrowser closes the browser gracefully, giving up after shutdownTimeout.
func cancelBrowser(tabCtx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Cancel(tabCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("graceful browser shutdown failed: %w", err)
		}
		return nil
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("graceful browser shutdown timed out after %s", shutdownTimeout)
	}
}
