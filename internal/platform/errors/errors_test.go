package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(CodeTransport, "fetch snapshot", stderrors.New("connection refused"))
	if got, want := err.Error(), "fetch snapshot: connection refused"; got != want {
		t.Fatalf("error = %q, want %q", got, want)
	}
	if got := New(CodeDecode, "bad body").Error(); got != "bad body" {
		t.Fatalf("error = %q, want %q", got, "bad body")
	}
}

func TestCodeOfFindsWrappedError(t *testing.T) {
	cause := stderrors.New("disk full")
	err := fmt.Errorf("catchup: %w", Wrap(CodePersistence, "append log", cause))

	if got := CodeOf(err); got != CodePersistence {
		t.Fatalf("code = %q, want %q", got, CodePersistence)
	}
	if !HasCode(err, CodePersistence) {
		t.Fatal("expected persistence code in chain")
	}
	if HasCode(err, CodeTransport) {
		t.Fatal("did not expect transport code in chain")
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause to remain reachable")
	}
}

func TestCodeOfUnknownForPlainErrors(t *testing.T) {
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("code = %q, want %q", got, CodeUnknown)
	}
	if got := CodeOf(nil); got != CodeUnknown {
		t.Fatalf("code = %q, want %q", got, CodeUnknown)
	}
}

