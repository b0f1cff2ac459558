package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a send failure for retry decisions.
type ErrorKind int

const (
	// KindTransient covers network errors, timeouts, rate limits, and
	// provider 5xx. The job should be retried with backoff.
	KindTransient ErrorKind = iota
	// KindPermanent covers invalid addresses, auth failures, and
	// provider 4xx validation errors. Retrying cannot succeed.
	KindPermanent
)

// SendError wraps a provider failure with its retry classification.
type SendError struct {
	Kind ErrorKind
	Err  error
}

func (e *SendError) Error() string {
	if e.Kind == KindPermanent {
		return fmt.Sprintf("permanent send failure: %v", e.Err)
	}
	return fmt.Sprintf("transient send failure: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	return &SendError{Kind: KindPermanent, Err: err}
}

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	return &SendError{Kind: KindTransient, Err: err}
}

// IsPermanent reports whether err is classified permanent. Unclassified
// errors default to transient; a timeout or unknown network condition
// deserves a retry.
func IsPermanent(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind == KindPermanent
	}
	return false
}

// classifyStatus maps an HTTP status from a provider API to an error
// kind. 429 and 5xx retry; other 4xx do not.
func classifyStatus(status int) ErrorKind {
	if status == 429 || status >= 500 {
		return KindTransient
	}
	return KindPermanent
}

// classifyErr classifies a plain error from an SDK that does not
// surface status codes directly. Context timeouts are transient; known
// validation/auth strings are permanent.
func classifyErr(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"status code: 400", "status code: 401", "status code: 403",
		"status code: 404", "status code: 422",
		"invalid", "unauthorized", "forbidden", "not found",
		"validation_error", "missing_required_field",
	} {
		if strings.Contains(msg, marker) {
			return KindPermanent
		}
	}
	return KindTransient
}
