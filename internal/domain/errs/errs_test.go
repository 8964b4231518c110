package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMappingError_UnwrapAndRetryable(t *testing.T) {
	cause := errors.New("network timeout")
	err := NewMappingError("p1", "Sheet1", "mapping call exhausted retries", cause, true)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "Sheet1")
}

func TestMappingError_NotRetryable(t *testing.T) {
	err := NewMappingError("p1", "Sheet1", "malformed mapping response", nil, false)
	assert.False(t, IsRetryable(err))
}

func TestStorageError_Fatal(t *testing.T) {
	err := NewStorageError("p1", "EnsureRecordsTable", "column add failed", nil, true)
	assert.True(t, IsFatal(err))
}

func TestStorageError_NonFatal(t *testing.T) {
	err := NewStorageError("p1", "InsertRecord", "unique violation", nil, false)
	assert.False(t, IsFatal(err))
}

func TestIsRetryable_NonMappingErrorIsFalse(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestIsFatal_NonStorageErrorIsFalse(t *testing.T) {
	assert.False(t, IsFatal(errors.New("plain error")))
}

func TestCoordinatorError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewCoordinatorError("task-1", "processing failed", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}
