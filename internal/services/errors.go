package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest rejects a submission before any job is created.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTransient marks a failure worth retrying (network, rate limit, timeout).
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks a failure that retrying cannot fix (unsupported input,
	// malformed payload).
	ErrPermanent = errors.New("permanent failure")
	// ErrNotFound reports a missing media item or job.
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks an expired stage call deadline.
	ErrTimeout = errors.New("timeout")
	// ErrCancelled reports a user or system requested cancellation.
	ErrCancelled = errors.New("cancelled")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above; a nil marker defaults to ErrTransient
// so that unclassified collaborator failures stay retryable rather than
// silently passing through.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsPermanent reports whether err carries the permanent marker.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) || errors.Is(err, ErrInvalidRequest)
}

// IsTransient reports whether err should be retried. Timeouts and context
// deadline expiry count as transient; anything not explicitly permanent or
// cancelled defaults to transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrInvalidRequest):
		return false
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return true
	}
}

// Message extracts the human-readable portion of a wrapped stage error,
// stripping the sentinel prefix when present.
func Message(err error) string {
	if err == nil {
		return ""
	}
	text := strings.TrimSpace(err.Error())
	for _, marker := range []error{ErrInvalidRequest, ErrTransient, ErrPermanent, ErrNotFound, ErrTimeout, ErrCancelled} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(text, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(text, prefix))
		}
	}
	return text
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
