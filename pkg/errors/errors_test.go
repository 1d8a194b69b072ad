package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("room")
	if err.Code != ErrCodeNotFound {
		t.Errorf("Expected code %s, got %s", ErrCodeNotFound, err.Code)
	}
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", err.HTTPStatus)
	}
	if err.Message != "room not found" {
		t.Errorf("Unexpected message: %s", err.Message)
	}
}

func TestGetAppErrorUnwrapsChain(t *testing.T) {
	base := NewInvalidInputError("bad batch")
	wrapped := fmt.Errorf("handling request: %w", base)

	got := GetAppError(wrapped)
	if got == nil {
		t.Fatal("Expected an AppError, got nil")
	}
	if got.Code != ErrCodeInvalidInput {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidInput, got.Code)
	}
}

func TestGetAppErrorPlainError(t *testing.T) {
	if got := GetAppError(errors.New("boom")); got != nil {
		t.Errorf("Expected nil for a plain error, got %+v", got)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := errors.New("disk gone")
	err := NewInternalError(cause)

	if !errors.Is(err, cause) {
		t.Error("Expected the cause to be reachable through Unwrap")
	}
}
