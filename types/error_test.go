package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrStoreUnavailable, "flush failed").
		WithCause(root).
		WithSkill("summarize").
		WithRetryable(true)

	if GetErrorCode(err) != ErrStoreUnavailable {
		t.Fatalf("expected code %s, got %s", ErrStoreUnavailable, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got != "[STORE_UNAVAILABLE] skill summarize: flush failed: root" {
		t.Fatalf("unexpected error string %q", got)
	}
}

func TestError_WrappedCodeLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrCircularDependency, "cycle a -> b -> a")
	wrapped := fmt.Errorf("register: %w", inner)

	if !IsErrorCode(wrapped, ErrCircularDependency) {
		t.Fatalf("expected wrapped error to carry code")
	}
	if IsRetryable(wrapped) {
		t.Fatalf("validation errors are not retryable")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}
