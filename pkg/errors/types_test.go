package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeFetchFailed, "documents fetch failed")

	if err.Code != ErrCodeFetchFailed {
		t.Errorf("Expected code %s, got %s", ErrCodeFetchFailed, err.Code)
	}
	if !strings.Contains(err.Error(), "FETCH_FAILED") {
		t.Errorf("Error string should contain code, got %q", err.Error())
	}
	if err.Retryable {
		t.Error("New errors should not be retryable by default")
	}
}

func TestWrap(t *testing.T) {
	underlying := stderrors.New("connection refused")
	err := Wrap(underlying, ErrCodeAPIError, "list documents")

	if !stderrors.Is(err, underlying) {
		t.Error("Wrapped error should match errors.Is on the underlying error")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error string should include underlying error, got %q", err.Error())
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, ErrCodeAPIError, "noop"); err != nil {
		t.Errorf("Wrapping nil should return nil, got %v", err)
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeStaleResult, "stale fetch").
		WithContext("scope", "work").
		WithContext("aggregate", "documents")

	msg := err.Error()
	if !strings.Contains(msg, "scope: work") {
		t.Errorf("Error string should include context, got %q", msg)
	}
}

func TestIsCode(t *testing.T) {
	err := New(ErrCodeStreamError, "stream failed")

	if !IsCode(err, ErrCodeStreamError) {
		t.Error("IsCode should match the error's code")
	}
	if IsCode(err, ErrCodeStreamCancelled) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(stderrors.New("plain"), ErrCodeStreamError) {
		t.Error("IsCode should not match plain errors")
	}
	if IsCode(nil, ErrCodeStreamError) {
		t.Error("IsCode should not match nil")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(ErrCodeEngineBusy, "busy")); got != ErrCodeEngineBusy {
		t.Errorf("Expected %s, got %s", ErrCodeEngineBusy, got)
	}
	if got := GetCode(stderrors.New("plain")); got != ErrCodeInternal {
		t.Errorf("Plain errors should map to %s, got %s", ErrCodeInternal, got)
	}
	if got := GetCode(nil); got != "" {
		t.Errorf("Nil should map to empty code, got %s", got)
	}
}

func TestIsRetryable(t *testing.T) {
	err := New(ErrCodeAPIRateLimit, "429").WithRetryable(true)

	if !IsRetryable(err) {
		t.Error("Expected retryable")
	}
	if IsRetryable(New(ErrCodeInvalidInput, "bad")) {
		t.Error("Expected not retryable")
	}
}

func TestIsCancellation(t *testing.T) {
	if !IsCancellation(New(ErrCodeStreamCancelled, "user stop")) {
		t.Error("STREAM_CANCELLED should be a cancellation")
	}
	if IsCancellation(New(ErrCodeStreamError, "network")) {
		t.Error("STREAM_ERROR is not a cancellation")
	}
}
