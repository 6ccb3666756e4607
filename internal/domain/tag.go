package domain

import (
	"strings"
	"time"
)

// Tag is a user-defined label for categorizing highlights and books.
// Slug is the source of truth; clients transform for display:
// "stoicism" → "Stoicism".
type Tag struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`            // Canonical form: lowercase, hyphenated
	Color     string    `json:"color,omitempty"` // Hex color for UI chips
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch updates the UpdatedAt timestamp.
func (t *Tag) Touch() {
	t.UpdatedAt = time.Now()
}

// Slugify converts a free-form tag name to its canonical slug form.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Join(strings.Fields(slug), "-")
	return slug
}
