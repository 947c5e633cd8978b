package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(ErrCodeInvalidRequirement, "invalid requirement: %s", "flask===")
	if got := plain.Error(); !strings.HasPrefix(got, "INVALID_REQUIREMENT: ") {
		t.Errorf("Error() = %q", got)
	}

	cause := fmt.Errorf("connection refused")
	wrapped := Wrap(ErrCodeNetwork, cause, "failed to fetch %s", "https://pypi.org")
	if !strings.Contains(wrapped.Error(), "connection refused") {
		t.Errorf("wrapped error lost its cause: %q", wrapped.Error())
	}
	if !stderrors.Is(wrapped, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}
}

func TestIsAndGetCode(t *testing.T) {
	err := New(ErrCodeResolutionConflict, "dependency conflict")
	outer := fmt.Errorf("resolve: %w", err)

	if !Is(outer, ErrCodeResolutionConflict) {
		t.Error("Is should match through wrapping")
	}
	if Is(outer, ErrCodeNetwork) {
		t.Error("Is matched the wrong code")
	}
	if got := GetCode(outer); got != ErrCodeResolutionConflict {
		t.Errorf("GetCode = %q", got)
	}
	if got := GetCode(fmt.Errorf("plain")); got != "" {
		t.Errorf("GetCode on plain error = %q, want empty", got)
	}
}

func TestUserMessage(t *testing.T) {
	err := New(ErrCodeInvalidPythonVersion, "invalid python version %q", "3")
	if got := UserMessage(err); strings.Contains(got, "INVALID") {
		t.Errorf("UserMessage should drop the code prefix: %q", got)
	}
	plain := fmt.Errorf("boom")
	if got := UserMessage(plain); got != "boom" {
		t.Errorf("UserMessage(plain) = %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{ErrCodeInvalidRequirement, 400},
		{ErrCodePackageNotFound, 404},
		{ErrCodeResolutionConflict, 409},
		{ErrCodeMetadataUnavailable, 502},
		{ErrCodeInternal, 500},
		{Code("SOMETHING_ELSE"), 500},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.code); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
