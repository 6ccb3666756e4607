// Package domain contains the core business entities for the Marginalia
// reading-highlights manager.
package domain

import "time"

// Highlight represents a single passage saved from a book.
// A highlight is owned by exactly one user and belongs to exactly one book.
type Highlight struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	BookID  string `json:"book_id"`
	Content string `json:"content"`
	Chapter string `json:"chapter,omitempty"`
	Page    int    `json:"page,omitempty"`
	Note    string `json:"note,omitempty"` // Reader's own annotation

	// Embedding is the semantic vector for this highlight, nil until the
	// embedding queue has processed it. A highlight is eligible for semantic
	// retrieval iff Embedding != nil.
	Embedding []float32 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasEmbedding reports whether the highlight has a computed semantic vector.
func (h *Highlight) HasEmbedding() bool {
	return len(h.Embedding) > 0
}

// Touch updates the UpdatedAt timestamp.
func (h *Highlight) Touch() {
	h.UpdatedAt = time.Now()
}

// HighlightTag represents the many-to-many relationship between highlights
// and tags.
type HighlightTag struct {
	HighlightID string    `json:"highlight_id"`
	TagID       string    `json:"tag_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// EffectiveTags merges a highlight's own tags with its book's tags,
// deduplicated by tag ID. Own tags come first so they win display ordering.
func EffectiveTags(own, book []*Tag) []*Tag {
	seen := make(map[string]bool, len(own)+len(book))
	merged := make([]*Tag, 0, len(own)+len(book))
	for _, t := range own {
		if !seen[t.ID] {
			seen[t.ID] = true
			merged = append(merged, t)
		}
	}
	for _, t := range book {
		if !seen[t.ID] {
			seen[t.ID] = true
			merged = append(merged, t)
		}
	}
	return merged
}
