package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bladewing/XSS-Validator/internal/checker"
	"github.com/bladewing/XSS-Validator/internal/config"
	"github.com/bladewing/XSS-Validator/internal/observability"
	"github.com/bladewing/XSS-Validator/pkg/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(observability.ResetForTest)

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "xss-validator version dev")
}

func TestCheckRejectsUnknownMode(t *testing.T) {
	out, err := execute(t, "check", "--mode", "dom", "--url", "http://target.test/")
	assert.ErrorIs(t, err, checker.ErrInvalidRequest)

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, models.ErrorInvalidRequest, body.Error)
	assert.False(t, body.XSSDetected)
}

func TestCheckRejectsInvalidURLWithoutBrowser(t *testing.T) {
	// An invalid request is rejected before any browser is needed.
	out, err := execute(t, "check", "--mode", "url", "--url", "not a url", "--chrome-path", "/nonexistent/chrome")
	assert.ErrorIs(t, err, checker.ErrInvalidRequest)
	assert.Contains(t, out, `"error": "invalid_request"`)
}

func TestCheckRejectsOverflowingTimeout(t *testing.T) {
	out, err := execute(t, "check", "--mode", "url", "--url", "http://target.test/", "--timeout-ms", "18446744073710",
		"--chrome-path", "/nonexistent/chrome")
	assert.ErrorIs(t, err, checker.ErrInvalidRequest)
	assert.Contains(t, out, `"error": "invalid_request"`)
	assert.NotContains(t, out, "launch_error")
}

func TestCheckRequiresURL(t *testing.T) {
	_, err := execute(t, "check", "--mode", "url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"url" not set`)
}

func TestCheckReportsLaunchFailure(t *testing.T) {
	out, err := execute(t, "check", "--mode", "url", "--url", "http://target.test/", "--chrome-path", "/nonexistent/chrome")
	require.Error(t, err)
	assert.Contains(t, out, `"error": "launch_error"`)
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	_, err := execute(t, "serve", "--port", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "got 0")
}

func TestFlagOverridesEnv(t *testing.T) {
	t.Setenv("PORT", "1234")
	t.Setenv("BROWSER_MODE", "docker")

	_, err := execute(t, "serve", "--port", "70000", "--browser-mode", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 70000")
	assert.Contains(t, err.Error(), `got "nope"`)
}

func TestConfigFileFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 99999\n"), 0o600))

	_, err := execute(t, "serve", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 99999")
}

func TestConfigFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_format: xml\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `log_format must be console or json, got "xml"`)
}

func TestEnvFileIsLoaded(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("MAX_CONCURRENT_CHECKS=0\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MAX_CONCURRENT_CHECKS") })

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--env-file", envFile, "serve"})
	t.Cleanup(observability.ResetForTest)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_checks")
}

func TestRunServerServesAndShutsDown(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runServer(ctx, cfg, zaptest.NewLogger(t))
	}()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: time.Second}
	url := fmt.Sprintf("http://%s/", cfg.Addr())

	require.Eventually(t, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := client.Get(fmt.Sprintf("http://%s/check/url", cfg.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Check-ID"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunServerPortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := config.NewDefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = l.Addr().(*net.TCPAddr).Port

	err = runServer(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error")
}
