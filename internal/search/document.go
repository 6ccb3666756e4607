// Package search provides the lexical half of hybrid highlight search,
// backed by a Bleve full-text index, plus the rank fusion that merges
// lexical and semantic result lists.
package search

import (
	"github.com/marginalia-app/marginalia-server/internal/domain"
)

// HighlightDocument is the document structure for the Bleve index.
//
// Book title and author are denormalized into each highlight document so a
// single query covers highlight text and the book it came from. Tag IDs
// carry the highlight's effective tags (its own plus the book's) so tag
// filtering works without a join at query time.
type HighlightDocument struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	BookID  string `json:"book_id"`

	Content    string `json:"content"`
	Note       string `json:"note,omitempty"`
	Chapter    string `json:"chapter,omitempty"`
	BookTitle  string `json:"book_title,omitempty"`
	BookAuthor string `json:"book_author,omitempty"`

	TagIDs []string `json:"tag_ids,omitempty"`

	CreatedAt int64 `json:"created_at"` // Unix millis
}

// ToMap converts the document to a map with lowercase field names.
// Bleve by default uses Go struct field names (capitalized), but our
// mapping uses lowercase names, so we convert explicitly.
func (d *HighlightDocument) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"id":         d.ID,
		"owner_id":   d.OwnerID,
		"book_id":    d.BookID,
		"content":    d.Content,
		"created_at": d.CreatedAt,
	}

	if d.Note != "" {
		m["note"] = d.Note
	}
	if d.Chapter != "" {
		m["chapter"] = d.Chapter
	}
	if d.BookTitle != "" {
		m["book_title"] = d.BookTitle
	}
	if d.BookAuthor != "" {
		m["book_author"] = d.BookAuthor
	}
	if len(d.TagIDs) > 0 {
		m["tag_ids"] = d.TagIDs
	}

	return m
}

// HighlightToDocument converts a domain Highlight to an index document.
// The caller supplies the book and the effective tag IDs since the search
// package shouldn't depend on store.
func HighlightToDocument(h *domain.Highlight, book *domain.Book, tagIDs []string) *HighlightDocument {
	doc := &HighlightDocument{
		ID:        h.ID,
		OwnerID:   h.OwnerID,
		BookID:    h.BookID,
		Content:   h.Content,
		Note:      h.Note,
		Chapter:   h.Chapter,
		TagIDs:    tagIDs,
		CreatedAt: h.CreatedAt.UnixMilli(),
	}
	if book != nil {
		doc.BookTitle = book.Title
		doc.BookAuthor = book.Author
	}
	return doc
}
