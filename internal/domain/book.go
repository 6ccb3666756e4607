package domain

import "time"

// Book represents a source work that highlights were taken from.
// Books exist to group highlights and to contribute title/author text to
// the lexical search channel; they are not a full library catalog entry.
type Book struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch updates the UpdatedAt timestamp.
func (b *Book) Touch() {
	b.UpdatedAt = time.Now()
}

// BookTag represents the many-to-many relationship between books and tags.
// Tags applied at the book level flow down to all of the book's highlights
// for search filtering.
type BookTag struct {
	BookID    string    `json:"book_id"`
	TagID     string    `json:"tag_id"`
	CreatedAt time.Time `json:"created_at"`
}
