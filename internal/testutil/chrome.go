// Package testutil holds helpers shared by tests that drive a real browser.
package testutil

import (
	"os/exec"
	"testing"
)

var chromeNames = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"}

// FindChrome returns a Chrome/Chromium binary on PATH or skips the test.
func FindChrome(t testing.TB) string {
	t.Helper()
	for _, name := range chromeNames {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("No Chrome/Chromium binary found in PATH, skipping browser test.")
	return ""
}

// RequireBrowser skips in -short mode and otherwise returns the Chrome binary to use.
func RequireBrowser(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping browser test in short mode.")
	}
	return FindChrome(t)
}
