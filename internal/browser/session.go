package browser

import (
	"context"
	"sync/atomic"
	"time"
)

// Session is one browser process (or container) with a single tab, owned by one check.
// It is never reused: Release tears everything down and a new check acquires a new session.
type Session struct {
	ID         string
	Backend    string
	AcquiredAt time.Time

	ctx      context.Context
	pid      int
	teardown func() error
	released atomic.Bool
}

// Context returns the chromedp tab context. Actions run against it drive the session's page.
func (s *Session) Context() context.Context {
	return s.ctx
}

// PID returns the browser process id, or 0 when the browser runs outside this host process tree.
func (s *Session) PID() int {
	return s.pid
}

// Released reports whether the session has been torn down.
func (s *Session) Released() bool {
	return s.released.Load()
}
