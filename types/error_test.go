package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("disk gone")
	err := NewError(ErrStorageFailure, "write blob failed").
		WithCause(root).
		WithRetryable(true)

	if GetErrorCode(err) != ErrStorageFailure {
		t.Fatalf("expected code %s, got %s", ErrStorageFailure, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got != "[STORAGE_FAILURE] write blob failed: disk gone" {
		t.Fatalf("unexpected error string %q", got)
	}
}

func TestGetErrorCode_Wrapped(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("failed to load entry: %w", NotFound("entry", "entry-1"))

	if GetErrorCode(err) != ErrNotFound {
		t.Fatalf("expected NOT_FOUND through wrap, got %q", GetErrorCode(err))
	}
	if !IsNotFound(err) {
		t.Fatalf("expected IsNotFound")
	}
	if IsInvalidState(err) {
		t.Fatalf("did not expect IsInvalidState")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
	if IsCode(nil, ErrNotFound) {
		t.Fatalf("nil is never a coded error")
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := Errorf(ErrCycleDetected, "edge %s -> %s would create a cycle", "a", "b")

	if !errors.Is(err, NewError(ErrCycleDetected, "")) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if errors.Is(err, NewError(ErrNotFound, "")) {
		t.Fatalf("different codes must not match")
	}
}
