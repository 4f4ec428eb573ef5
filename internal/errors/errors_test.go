package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeStorageFailure, cause, "写入失败", WithStage("store"))

	if !stdErrors.Is(err, cause) {
		t.Fatalf("cause lost")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if CodeOf(wrapped) != CodeStorageFailure {
		t.Fatalf("code = %s", CodeOf(wrapped))
	}
	if !stdErrors.Is(wrapped, New(CodeStorageFailure, "")) {
		t.Fatalf("errors.Is should match by code")
	}
	if stdErrors.Is(wrapped, New(CodeQueueFailure, "")) {
		t.Fatalf("errors.Is matched a different code")
	}
	if got := err.Metadata()["stage"]; got != "store" {
		t.Fatalf("stage = %q", got)
	}
	if err.Error() != "[STORAGE_FAILURE] 写入失败: connection refused" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestDefaultsFromRegistry(t *testing.T) {
	err := New(CodeTimeout, "")
	if err.Message() != "operation timed out" {
		t.Fatalf("message = %q", err.Message())
	}
	if !RetryableError(err) || SeverityOf(err) != SeverityWarning {
		t.Fatalf("retryable = %v severity = %s", RetryableError(err), SeverityOf(err))
	}
	if HTTPStatusOf(err) != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", HTTPStatusOf(err))
	}

	overridden := New(CodeTimeout, "x", WithRetryable(false), WithSeverity(SeverityCritical))
	if overridden.Retryable() || overridden.Severity() != SeverityCritical {
		t.Fatalf("options not applied")
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityInfo, Retryable: true, HTTPStatus: http.StatusTeapot})

	err := New(code, "")
	if err.Message() != "custom" || !err.Retryable() || HTTPStatusOf(err) != http.StatusTeapot {
		t.Fatalf("registered attributes not used: %+v", AttributesOf(code))
	}
}

func TestPlainErrors(t *testing.T) {
	plain := stdErrors.New("boom")
	if CodeOf(plain) != CodeUnknown || RetryableError(plain) {
		t.Fatalf("plain error classified as %s", CodeOf(plain))
	}
	if HTTPStatusOf(plain) != http.StatusInternalServerError {
		t.Fatalf("status = %d", HTTPStatusOf(plain))
	}
	if _, ok := From(nil); ok {
		t.Fatalf("From(nil) should fail")
	}
}
