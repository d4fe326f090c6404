package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_StatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantType ErrorType
		wantCode int
	}{
		{"validation", NewValidationError("bad", nil), ErrorTypeValidation, http.StatusBadRequest},
		{"not found", NewNotFoundError("missing", nil), ErrorTypeNotFound, http.StatusNotFound},
		{"unauthorized", NewUnauthorizedError("no token", nil), ErrorTypeUnauthorized, http.StatusUnauthorized},
		{"conflict", NewConflictError("dup", nil), ErrorTypeConflict, http.StatusConflict},
		{"process", NewProcessError("failed", nil), ErrorTypeProcess, http.StatusInternalServerError},
		{"malformed", NewMalformedOutputError("bad output", nil), ErrorTypeMalformedOutput, http.StatusInternalServerError},
		{"persistence", NewPersistenceError("not saved", nil), ErrorTypePersistence, http.StatusInternalServerError},
		{"internal", NewInternalError("boom", nil), ErrorTypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantCode, tt.err.StatusCode)
			assert.True(t, IsType(tt.err, tt.wantType))
		})
	}
}

func TestGetStatusCode_WrappedError(t *testing.T) {
	appErr := NewNotFoundError("Image file not found", nil)
	wrapped := fmt.Errorf("predict: %w", appErr)

	assert.Equal(t, http.StatusNotFound, GetStatusCode(wrapped))
	assert.True(t, IsType(wrapped, ErrorTypeNotFound))
}

func TestGetStatusCode_PlainError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(errors.New("plain")))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeValidation))
}

func TestAppError_UnwrapAndMessage(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewProcessError("Prediction failed", cause).WithDetails("Traceback ...")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "Traceback ...", err.Details)
	assert.Contains(t, err.Error(), "caused by: exit status 1")
}
