package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindAndHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   string
		status int
	}{
		{"nil", nil, "", http.StatusOK},
		{"validation", fmt.Errorf("items: %w", ErrValidation), "validation_error", http.StatusBadRequest},
		{"invalid transition", fmt.Errorf("new -> ready: %w", ErrInvalidTransition), "invalid_transition", http.StatusConflict},
		{"stale", ErrStaleTransition, "stale_transition", http.StatusConflict},
		{"not found", fmt.Errorf("get o1: %w", ErrNotFound), "not_found", http.StatusNotFound},
		{"already exists", ErrAlreadyExists, "already_exists", http.StatusConflict},
		{"forbidden", ErrForbidden, "forbidden", http.StatusForbidden},
		{"durable", fmt.Errorf("update: %w", ErrDurableUnavailable), "durable_store_unavailable", http.StatusServiceUnavailable},
		{"mirror", ErrBroadcastMirrorFailed, "broadcast_mirror_failed", http.StatusInternalServerError},
		{"deadline", context.DeadlineExceeded, "timeout", http.StatusGatewayTimeout},
		{"canceled", context.Canceled, "canceled", http.StatusBadRequest},
		{"other", errors.New("boom"), "internal", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, Kind(tt.err))
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("put: %w", ErrDurableUnavailable)))
	assert.False(t, Retryable(ErrStaleTransition))
	assert.False(t, Retryable(ErrInvalidTransition))
	assert.False(t, Retryable(ErrValidation))
	assert.False(t, Retryable(nil))
}
