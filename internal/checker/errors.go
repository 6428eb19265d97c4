package checker

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalidRequest marks requests rejected before any browser is started.
var ErrInvalidRequest = errors.New("invalid check request")

// DeliveryError means the payload never reached the page: navigation failed
// or the input element did not show up in time.
type DeliveryError struct {
	Mode  Mode
	Stage string
	URL   string
	Cause error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("payload delivery (%s) failed to %s %s: %v", e.Mode, e.Stage, truncate(e.URL, 120), e.Cause)
}

func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
