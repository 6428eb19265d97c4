package checker

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// Mode selects how the payload reaches the target page.
type Mode int

const (
	// ModeURLParam navigates to the target with the payload in its query string.
	ModeURLParam Mode = iota + 1
	// ModeInputField types the payload into the page's search input and submits it.
	ModeInputField
)

func (m Mode) String() string {
	switch m {
	case ModeURLParam:
		return "URL_PARAM"
	case ModeInputField:
		return "INPUT_FIELD"
	default:
		return "UNKNOWN"
	}
}

// ParseMode accepts the short CLI names as well as the canonical ones.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "url", "url_param":
		return ModeURLParam, nil
	case "input", "input_field":
		return ModeInputField, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q (want url or input)", ErrInvalidRequest, s)
	}
}

// maxTimeoutMS is the largest millisecond count that converts to a time.Duration without overflow.
const maxTimeoutMS = math.MaxInt64 / int64(time.Millisecond)

// TimeoutFromMS converts a caller supplied millisecond count into a detection window.
// Zero leaves the window unset so the configured default applies.
func TimeoutFromMS(ms int64) (time.Duration, error) {
	if ms < 0 || ms > maxTimeoutMS {
		return 0, fmt.Errorf("%w: timeout_ms out of range, got %d", ErrInvalidRequest, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// CheckRequest describes one popup check.
type CheckRequest struct {
	TargetURL string
	Payload   string
	Mode      Mode
	// Timeout is the popup detection window, counted from the end of payload delivery.
	Timeout time.Duration

	// Param is the query key the payload is appended under in URL_PARAM mode.
	Param string
	// Selector locates the search input in INPUT_FIELD mode.
	Selector string
}

// Validate enforces the request invariants. maxTimeout of zero disables the upper bound.
func (r *CheckRequest) Validate(maxTimeout time.Duration) error {
	if err := validateTargetURL(r.TargetURL); err != nil {
		return err
	}

	if r.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidRequest)
	}
	if maxTimeout > 0 && r.Timeout > maxTimeout {
		return fmt.Errorf("%w: timeout %s exceeds the maximum of %s", ErrInvalidRequest, r.Timeout, maxTimeout)
	}

	switch r.Mode {
	case ModeURLParam:
		if r.Payload != "" && strings.TrimSpace(r.Param) == "" {
			return fmt.Errorf("%w: a query parameter name is required to append the payload", ErrInvalidRequest)
		}
	case ModeInputField:
		if r.Payload == "" {
			return fmt.Errorf("%w: payload is required for input field checks", ErrInvalidRequest)
		}
		if strings.TrimSpace(r.Selector) == "" {
			return fmt.Errorf("%w: an input selector is required", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unsupported mode %s", ErrInvalidRequest, r.Mode)
	}

	return nil
}

func validateTargetURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed url: %v", ErrInvalidRequest, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: url must be absolute, got %q", ErrInvalidRequest, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported url scheme %q", ErrInvalidRequest, u.Scheme)
	}
	return nil
}

// AppendRawParam appends param=payload to target without escaping the payload.
// Any fragment stays at the end of the URL. An empty payload returns target unchanged.
func AppendRawParam(target, param, payload string) string {
	if payload == "" {
		return target
	}

	base, fragment, hasFragment := strings.Cut(target, "#")

	sep := "?"
	switch {
	case strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&"):
		sep = ""
	case strings.Contains(base, "?"):
		sep = "&"
	}

	out := base + sep + param + "=" + payload
	if hasFragment {
		out += "#" + fragment
	}
	return out
}
