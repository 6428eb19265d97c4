package checker

import (
	"errors"

	"github.com/bladewing/XSS-Validator/internal/browser"
	"github.com/bladewing/XSS-Validator/pkg/models"
)

const (
	MessageDetected    = "XSS vulnerability detected! The payload triggered a popup."
	MessageNotDetected = "No XSS vulnerability detected within the timeout period."
)

// Report maps a terminal detector state to the response body.
func Report(state State) models.CheckResult {
	if state == StateTriggered {
		return models.CheckResult{XSSDetected: true, Message: MessageDetected}
	}
	return models.CheckResult{XSSDetected: false, Message: MessageNotDetected}
}

// Classify maps a check error to its error kind.
func Classify(err error) models.ErrorKind {
	var launchErr *browser.LaunchError
	var deliveryErr *DeliveryError

	switch {
	case errors.Is(err, ErrInvalidRequest):
		return models.ErrorInvalidRequest
	case errors.Is(err, browser.ErrCapacity):
		return models.ErrorCapacity
	case errors.As(err, &launchErr):
		return models.ErrorLaunch
	case errors.As(err, &deliveryErr):
		return models.ErrorDelivery
	default:
		return models.ErrorInternal
	}
}

// ReportError builds the error body for a failed check. It never claims a detection.
func ReportError(err error) models.ErrorResponse {
	kind := Classify(err)

	msg := "Error checking XSS: " + err.Error()
	switch kind {
	case models.ErrorInvalidRequest:
		msg = err.Error()
	case models.ErrorCapacity:
		msg = "Error checking XSS: " + browser.ErrCapacity.Error()
	}

	return models.ErrorResponse{XSSDetected: false, Message: msg, Error: kind}
}
