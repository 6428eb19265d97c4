package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bladewing/XSS-Validator/internal/api"
	"github.com/bladewing/XSS-Validator/internal/banner"
	"github.com/bladewing/XSS-Validator/internal/browser"
	"github.com/bladewing/XSS-Validator/internal/checker"
	"github.com/bladewing/XSS-Validator/internal/config"
	"github.com/bladewing/XSS-Validator/internal/observability"
	"github.com/bladewing/XSS-Validator/internal/ratelimit"
)

const (
	imagePullTimeout  = 5 * time.Minute
	limiterPruneEvery = 10 * time.Minute
	limiterIdleAfter  = time.Hour
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, v)
		},
	}

	f := cmd.Flags()
	f.String("host", "0.0.0.0", "listen host")
	f.Int("port", 8000, "listen port")
	f.Int("max-concurrent-checks", 4, "browsers allowed to run at the same time")
	f.Int("rate-limit-per-hour", 600, "checks per hour per client IP, 0 disables")
	bindFlags(v, f, map[string]string{
		"host":                  "host",
		"port":                  "port",
		"max_concurrent_checks": "max-concurrent-checks",
		"rate_limit_per_hour":   "rate-limit-per-hour",
	})

	return cmd
}

func serve(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadConfig(v, zapcore.Lock(os.Stdout))
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), banner.Render(Version, cfg))

	return runServer(cmd.Context(), cfg, observability.GetLogger())
}

// newBrowserManager builds the session manager for the configured backend,
// pulling the browser image first in docker mode.
func newBrowserManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*browser.Manager, error) {
	var pool *browser.DockerPool
	if cfg.BrowserMode == config.BrowserModeDocker {
		var err error
		pool, err = browser.NewDockerPool(cfg.BrowserImage, logger)
		if err != nil {
			return nil, err
		}

		pullCtx, cancel := context.WithTimeout(ctx, imagePullTimeout)
		defer cancel()
		logger.Info("Ensuring browser image is available...", zap.String("image", cfg.BrowserImage))
		if err := pool.EnsureImage(pullCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ensure browser image: %w", err)
		}
	}

	return browser.NewManager(cfg, logger, pool)
}

// runServer serves the API until ctx is cancelled, then shuts down gracefully and
// waits for in-flight checks to release their browsers.
func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	mgr, err := newBrowserManager(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	limiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst)
	pruneCtx, stopPruner := context.WithCancel(ctx)
	defer stopPruner()
	go limiter.RunPruner(pruneCtx, limiterPruneEvery, limiterIdleAfter)

	handler := api.NewHandler(checker.New(cfg, mgr, logger), cfg, logger, Version)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler.SetupRoutes(limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestDeadline + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting.", zap.String("addr", cfg.Addr()), zap.String("browser_mode", cfg.BrowserMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Shutting down server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestDeadline+10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := mgr.Drain(shutdownCtx); err != nil {
		logger.Warn("Checks still running at shutdown.", zap.Int("active", mgr.Active()), zap.Error(err))
	}

	logger.Info("Server stopped cleanly.")
	return nil
}
