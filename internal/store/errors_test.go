package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/phrazzld/tunesmith-api/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("some error"), false},
		{"ErrNotFound", ErrNotFound, true},
		{"wrapped ErrNotFound", fmt.Errorf("lookup: %w", ErrNotFound), true},
		{"ErrJobNotFound", ErrJobNotFound, true},
		{"store error wrapping job not found", NewStoreError("job", "get", "missing", ErrJobNotFound), true},
		{"duplicate", ErrExternalTaskExists, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, IsNotFoundError(tc.err))
		})
	}
}

func TestIsDuplicateError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsDuplicateError(ErrDuplicate))
	assert.True(t, IsDuplicateError(ErrExternalTaskExists))
	assert.True(t, IsDuplicateError(fmt.Errorf("create: %w", ErrExternalTaskExists)))
	assert.False(t, IsDuplicateError(ErrNotFound))
	assert.False(t, IsDuplicateError(nil))
}

func TestErrJobNotFoundMatchesDomain(t *testing.T) {
	t.Parallel()

	// Callers above the store compare against the domain sentinel.
	assert.ErrorIs(t, ErrJobNotFound, domain.ErrJobNotFound)
	assert.ErrorIs(t, fmt.Errorf("cancel: %w", ErrJobNotFound), domain.ErrJobNotFound)
}

func TestStoreError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewStoreError("job", "commit", "database error", cause)

	assert.Equal(t, "commit operation on job failed: database error: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)

	var se *StoreError
	assert.True(t, errors.As(fmt.Errorf("outer: %w", err), &se))
	assert.Equal(t, "job", se.Entity)

	plain := NewStoreError("choice", "insert", "bad index", nil)
	assert.Equal(t, "insert operation on choice failed: bad index", plain.Error())
	assert.Nil(t, plain.Unwrap())
}
