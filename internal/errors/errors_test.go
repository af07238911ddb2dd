package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCodeThroughChain(t *testing.T) {
	cause := stdErrors.New("disk full")
	wrapped := Wrap(CodeStorageFailure, cause, "写入快照失败", WithMetadata("key", "coinkeep_agents"))
	outer := fmt.Errorf("persist: %w", wrapped)

	if CodeOf(outer) != CodeStorageFailure {
		t.Fatalf("unexpected code %s", CodeOf(outer))
	}
	if !stdErrors.Is(outer, New(CodeStorageFailure, "")) {
		t.Fatal("expected errors.Is to match on code")
	}
	if !stdErrors.Is(outer, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if !HasCode(outer, CodeStorageFailure) {
		t.Fatal("expected HasCode to find storage failure")
	}
	if got := wrapped.Metadata()["key"]; got != "coinkeep_agents" {
		t.Fatalf("unexpected metadata %q", got)
	}
}

func TestRegisteredAttributes(t *testing.T) {
	const code Code = "TEST_REGISTERED"
	Register(code, Attributes{Message: "custom", Severity: SeverityWarning, Notify: false})

	err := New(code, "")
	if err.Message() != "custom" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if err.ShouldNotify() {
		t.Fatal("expected notify=false from registry")
	}
	if SeverityOf(err) != SeverityWarning {
		t.Fatalf("unexpected severity %s", SeverityOf(err))
	}
	if !New(code, "", WithNotify(true)).ShouldNotify() {
		t.Fatal("expected override to win")
	}

	found := false
	for _, c := range Registered() {
		if c == code {
			found = true
		}
	}
	if !found {
		t.Fatal("expected code in Registered()")
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	if AttributesOf("NOPE").Severity != SeverityCritical {
		t.Fatal("expected unknown attributes")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors should map to UNKNOWN")
	}
	if !ShouldNotify(stdErrors.New("plain")) {
		t.Fatal("plain errors should be surfaced")
	}
}
