package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("bad_input", "bad"), http.StatusBadRequest},
		{"conflict", Conflict("discount_in_use", "in use"), http.StatusConflict},
		{"not found", NotFound("order_not_found", "missing"), http.StatusNotFound},
		{"transient", Transient(errors.New("db down"), "store unavailable"), http.StatusServiceUnavailable},
		{"fatal", Fatal("redemption_limit", "limit"), http.StatusInternalServerError},
		{"untyped", errors.New("boom"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("checkout: %w", Conflict("discount_in_use", "code already in use"))

	assert.True(t, IsKind(err, KindConflict))
	assert.Equal(t, "discount_in_use", CodeOf(err))
	assert.Equal(t, "code already in use", MessageOf(err))
	assert.True(t, errors.Is(err, &Error{Kind: KindConflict}))
	assert.False(t, errors.Is(err, &Error{Kind: KindConflict, Code: "other"}))
}

func TestTransientKeepsCauseAndStack(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient(cause, "store unavailable")

	assert.ErrorIs(t, err, cause)
	assert.NotEmpty(t, StackTrace(err))
	assert.Equal(t, "Internal server error", MessageOf(errors.New("raw")))
}
