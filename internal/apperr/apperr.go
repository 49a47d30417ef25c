// Package apperr defines the error taxonomy shared by the order lifecycle
// packages and maps it to stable codes and HTTP statuses.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrValidation marks a malformed payload. Nothing was persisted.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition marks an edge the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStaleTransition marks a status change computed from an outdated view.
	ErrStaleTransition = errors.New("stale status transition")
	ErrNotFound        = errors.New("order not found")
	ErrAlreadyExists   = errors.New("order already exists")
	// ErrDuplicateRequest marks a replayed idempotency key.
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrForbidden        = errors.New("actor not allowed")
	// ErrDurableUnavailable marks a transient durable store failure.
	ErrDurableUnavailable = errors.New("durable store unavailable")
	// ErrBroadcastMirrorFailed is logged only, never surfaced to callers.
	ErrBroadcastMirrorFailed = errors.New("broadcast mirror failed")
)

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrValidation):
		return "validation_error"

	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"

	case errors.Is(err, ErrStaleTransition):
		return "stale_transition"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"

	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate_request"

	case errors.Is(err, ErrForbidden):
		return "forbidden"

	case errors.Is(err, ErrDurableUnavailable):
		return "durable_store_unavailable"

	case errors.Is(err, ErrBroadcastMirrorFailed):
		return "broadcast_mirror_failed"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrStaleTransition),
		errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict

	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrDuplicateRequest):
		return http.StatusOK

	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, ErrDurableUnavailable):
		return http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether err is worth retrying against the durable store.
func Retryable(err error) bool {
	return errors.Is(err, ErrDurableUnavailable)
}
