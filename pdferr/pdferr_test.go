package pdferr

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestErrorIsMatchesKindThroughWrapping(t *testing.T) {
	base := New(ErrTypeMismatch, "lookup", fmt.Errorf("want dict, got array")).ForObject(4, 0)
	wrapped := fmt.Errorf("load page: %w", base)

	if !errors.Is(wrapped, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch through wrapping")
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("unexpected ErrNotFound match")
	}
	if KindOf(wrapped) != ErrTypeMismatch {
		t.Fatalf("KindOf = %v", KindOf(wrapped))
	}
}

func TestErrorUnwrapsCause(t *testing.T) {
	err := New(ErrMalformedSyntax, "scan", io.ErrUnexpectedEOF).AtOffset(120)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("cause not reachable")
	}
	msg := err.Error()
	for _, want := range []string{"scan", "malformed syntax", "offset 120", "unexpected EOF"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
	if strings.Contains(msg, "object") {
		t.Fatalf("unknown object should not be printed: %q", msg)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("x")) != nil {
		t.Fatalf("plain errors have no kind")
	}
}
