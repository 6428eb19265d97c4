package browser

import (
	"errors"
	"fmt"
)

// ErrCapacity is returned when every browser slot is taken.
var ErrCapacity = errors.New("too many concurrent checks, try again later")

// LaunchError means the browser process (or its container) could not be started.
type LaunchError struct {
	Backend string
	Cause   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s browser: %v", e.Backend, e.Cause)
}

func (e *LaunchError) Unwrap() error {
	return e.Cause
}
