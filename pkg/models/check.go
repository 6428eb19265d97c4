package models

// CheckResult is the outcome of a single popup check
type CheckResult struct {
	XSSDetected bool   `json:"xss_detected"`
	Message     string `json:"message"`
}

// ErrorKind classifies a failed check for API clients
type ErrorKind string

const (
	ErrorInvalidRequest ErrorKind = "invalid_request"
	ErrorRateLimited    ErrorKind = "rate_limited"
	ErrorLaunch         ErrorKind = "launch_error"
	ErrorDelivery       ErrorKind = "delivery_error"
	ErrorCapacity       ErrorKind = "capacity_exceeded"
	ErrorDeadline       ErrorKind = "deadline_exceeded"
	ErrorInternal       ErrorKind = "internal_error"
)

// ErrorResponse is a CheckResult-shaped body returned with non-2xx statuses
type ErrorResponse struct {
	XSSDetected bool      `json:"xss_detected"`
	Message     string    `json:"message"`
	Error       ErrorKind `json:"error"`
}
