package models

import (
	"errors"
	"fmt"
)

// Error kinds used in API responses and internal error handling.
const (
	ErrCodeInvalidURL          = "INVALID_URL"
	ErrCodeNavigation          = "NAVIGATION_FAILED"
	ErrCodeExtraction          = "CONTENT_EXTRACTION_FAILED"
	ErrCodeChallengeResolution = "CHALLENGE_RESOLUTION_FAILED"
	ErrCodeTimeout             = "FETCH_TIMEOUT"
	ErrCodeFetchFailed         = "FETCH_FAILED"
	ErrCodeNotApplicable       = "NOT_APPLICABLE"

	// Front-end error codes.
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FetchError is the internal error type carrying an error kind.
// It implements the error interface and supports error wrapping via Unwrap.
type FetchError struct {
	Kind    string
	Message string
	Err     error // wrapped original error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(kind, message string, err error) *FetchError {
	return &FetchError{Kind: kind, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *FetchError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Kind, Message: e.Message}
}

// KindOf returns the kind of the outermost FetchError in err's chain,
// or ErrCodeInternal when there is none.
func KindOf(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ErrCodeInternal
}

// IsKind reports whether any FetchError in err's chain has the given kind.
func IsKind(err error, kind string) bool {
	for err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Err
	}
	return false
}
