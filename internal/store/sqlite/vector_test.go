package sqlite

import (
	"context"
	"math"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cosineDistance(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVectorSearch_OrdersByDistance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "user-1")
	seedBook(t, s, "book-1", "user-1", "Dune")
	seedHighlight(t, s, "hl-near", "user-1", "book-1", "near")
	seedHighlight(t, s, "hl-mid", "user-1", "book-1", "mid")
	seedHighlight(t, s, "hl-far", "user-1", "book-1", "far")
	seedHighlight(t, s, "hl-none", "user-1", "book-1", "no embedding yet")

	mustWrite := func(id string, v []float32) {
		t.Helper()
		if err := s.WriteEmbedding(ctx, id, v); err != nil {
			t.Fatalf("WriteEmbedding %s: %v", id, err)
		}
	}
	mustWrite("hl-near", []float32{1, 0})
	mustWrite("hl-mid", []float32{1, 1})
	mustWrite("hl-far", []float32{0, 1})

	hits, err := s.VectorSearch(ctx, "user-1", []float32{1, 0}, nil, 10)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	wantOrder := []string{"hl-near", "hl-mid", "hl-far"}
	for i, want := range wantOrder {
		if hits[i].HighlightID != want {
			t.Errorf("position %d: got %s, want %s", i, hits[i].HighlightID, want)
		}
	}
	if hits[0].Distance >= hits[1].Distance {
		t.Error("distances should be ascending")
	}
}

func TestVectorSearch_OwnerIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "user-1")
	seedUser(t, s, "user-2")
	seedBook(t, s, "book-1", "user-1", "Dune")
	seedBook(t, s, "book-2", "user-2", "Dune")
	seedHighlight(t, s, "hl-mine", "user-1", "book-1", "mine")
	seedHighlight(t, s, "hl-theirs", "user-2", "book-2", "theirs")

	if err := s.WriteEmbedding(ctx, "hl-mine", []float32{1, 0}); err != nil {
		t.Fatalf("WriteEmbedding: %v", err)
	}
	if err := s.WriteEmbedding(ctx, "hl-theirs", []float32{1, 0}); err != nil {
		t.Fatalf("WriteEmbedding: %v", err)
	}

	hits, err := s.VectorSearch(ctx, "user-1", []float32{1, 0}, nil, 10)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].HighlightID != "hl-mine" {
		t.Errorf("expected only hl-mine, got %v", hits)
	}
}

func TestVectorSearch_TagFilterIncludesBookTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "user-1")
	seedBook(t, s, "book-tagged", "user-1", "Dune")
	seedBook(t, s, "book-plain", "user-1", "Hyperion")
	seedHighlight(t, s, "hl-own-tag", "user-1", "book-plain", "own tag")
	seedHighlight(t, s, "hl-book-tag", "user-1", "book-tagged", "inherits book tag")
	seedHighlight(t, s, "hl-untagged", "user-1", "book-plain", "untagged")

	tag, _, err := s.FindOrCreateTagBySlug(ctx, "sci-fi")
	if err != nil {
		t.Fatalf("FindOrCreateTagBySlug: %v", err)
	}
	if err := s.SetHighlightTags(ctx, "hl-own-tag", []string{tag.ID}); err != nil {
		t.Fatalf("SetHighlightTags: %v", err)
	}
	if err := s.SetBookTags(ctx, "book-tagged", []string{tag.ID}); err != nil {
		t.Fatalf("SetBookTags: %v", err)
	}

	for _, id := range []string{"hl-own-tag", "hl-book-tag", "hl-untagged"} {
		if err := s.WriteEmbedding(ctx, id, []float32{1, 0}); err != nil {
			t.Fatalf("WriteEmbedding %s: %v", id, err)
		}
	}

	hits, err := s.VectorSearch(ctx, "user-1", []float32{1, 0}, []string{tag.ID}, 10)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	got := map[string]bool{}
	for _, h := range hits {
		got[h.HighlightID] = true
	}
	if !got["hl-own-tag"] {
		t.Error("highlight with its own tag should match")
	}
	if !got["hl-book-tag"] {
		t.Error("highlight inheriting the book's tag should match")
	}
	if got["hl-untagged"] {
		t.Error("untagged highlight should be filtered out")
	}
}

func TestVectorSearch_SkipsStaleDimensions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "user-1")
	seedBook(t, s, "book-1", "user-1", "Dune")
	seedHighlight(t, s, "hl-ok", "user-1", "book-1", "ok")
	seedHighlight(t, s, "hl-stale", "user-1", "book-1", "stale")

	if err := s.WriteEmbedding(ctx, "hl-ok", []float32{1, 0}); err != nil {
		t.Fatalf("WriteEmbedding: %v", err)
	}
	// Vector from an older model with a different dimensionality.
	if err := s.WriteEmbedding(ctx, "hl-stale", []float32{1, 0, 0}); err != nil {
		t.Fatalf("WriteEmbedding: %v", err)
	}

	hits, err := s.VectorSearch(ctx, "user-1", []float32{1, 0}, nil, 10)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].HighlightID != "hl-ok" {
		t.Errorf("expected only hl-ok, got %v", hits)
	}
}
