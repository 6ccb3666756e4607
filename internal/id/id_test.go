package id

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	got, err := Generate("hl")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !strings.HasPrefix(got, "hl-") {
		t.Errorf("expected hl- prefix, got %q", got)
	}

	// prefix + "-" + 21-char nanoid
	if len(got) != len("hl-")+21 {
		t.Errorf("unexpected length %d for %q", len(got), got)
	}
}

func TestGenerate_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		got, err := Generate("tag")
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if seen[got] {
			t.Fatalf("duplicate ID generated: %q", got)
		}
		seen[got] = true
	}
}

func TestHasPrefix(t *testing.T) {
	if !HasPrefix("book-abc123", "book") {
		t.Error("expected book prefix match")
	}
	if HasPrefix("bookmark-abc123", "book") {
		t.Error("bookmark should not match book prefix")
	}
}
