package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCodeAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ETransport, "model call failed", cause)
	if !HasCode(err, ETransport) {
		t.Fatalf("code lost: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not unwrappable")
	}
	// a fmt wrap on top must still expose the code
	outer := fmt.Errorf("task T1: %w", err)
	if GetCode(outer) != ETransport {
		t.Fatalf("code through fmt wrap: %q", GetCode(outer))
	}
}

func TestGetCodeForeignError(t *testing.T) {
	if GetCode(errors.New("plain")) != "" {
		t.Fatal("foreign errors have no code")
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Fatal("nil should exit 0")
	}
	if ExitCode(New(EUsage, "bad flag")) != 2 {
		t.Fatal("usage errors exit 2")
	}
	if ExitCode(New(ETestRunner, "boom")) != 1 {
		t.Fatal("other errors exit 1")
	}
}
