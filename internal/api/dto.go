package api

import (
	"time"

	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/service"
)

// TagResponse contains tag data in API responses.
type TagResponse struct {
	ID        string    `json:"id" doc:"Tag ID"`
	Slug      string    `json:"slug" doc:"Canonical slug"`
	Color     string    `json:"color,omitempty" doc:"Display color"`
	CreatedAt time.Time `json:"created_at" doc:"Creation time"`
	UpdatedAt time.Time `json:"updated_at" doc:"Last update time"`
}

// BookResponse contains book data in API responses.
type BookResponse struct {
	ID        string        `json:"id" doc:"Book ID"`
	Title     string        `json:"title" doc:"Book title"`
	Author    string        `json:"author,omitempty" doc:"Book author"`
	Tags      []TagResponse `json:"tags" doc:"Book-level tags"`
	CreatedAt time.Time     `json:"created_at" doc:"Creation time"`
	UpdatedAt time.Time     `json:"updated_at" doc:"Last update time"`
}

// HighlightResponse contains highlight data in API responses. Tags are the
// effective set: the highlight's own tags plus those inherited from its book.
type HighlightResponse struct {
	ID        string        `json:"id" doc:"Highlight ID"`
	BookID    string        `json:"book_id" doc:"Book ID"`
	BookTitle string        `json:"book_title,omitempty" doc:"Book title"`
	Content   string        `json:"content" doc:"Highlighted text"`
	Chapter   string        `json:"chapter,omitempty" doc:"Chapter or section"`
	Page      int           `json:"page,omitempty" doc:"Page number"`
	Note      string        `json:"note,omitempty" doc:"Reader's note"`
	Tags      []TagResponse `json:"tags" doc:"Effective tags (own plus inherited)"`
	Embedded  bool          `json:"embedded" doc:"Whether a semantic vector is stored"`
	CreatedAt time.Time     `json:"created_at" doc:"Creation time"`
	UpdatedAt time.Time     `json:"updated_at" doc:"Last update time"`
}

func toTagResponse(t *domain.Tag) TagResponse {
	return TagResponse{
		ID:        t.ID,
		Slug:      t.Slug,
		Color:     t.Color,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func toTagResponses(tags []*domain.Tag) []TagResponse {
	out := make([]TagResponse, len(tags))
	for i, t := range tags {
		out[i] = toTagResponse(t)
	}
	return out
}

func toBookResponse(v *service.BookView) BookResponse {
	return BookResponse{
		ID:        v.Book.ID,
		Title:     v.Book.Title,
		Author:    v.Book.Author,
		Tags:      toTagResponses(v.Tags),
		CreatedAt: v.Book.CreatedAt,
		UpdatedAt: v.Book.UpdatedAt,
	}
}

func toHighlightResponse(v *service.HighlightView) HighlightResponse {
	resp := HighlightResponse{
		ID:        v.Highlight.ID,
		BookID:    v.Highlight.BookID,
		Content:   v.Highlight.Content,
		Chapter:   v.Highlight.Chapter,
		Page:      v.Highlight.Page,
		Note:      v.Highlight.Note,
		Tags:      toTagResponses(v.Tags),
		Embedded:  v.Highlight.HasEmbedding(),
		CreatedAt: v.Highlight.CreatedAt,
		UpdatedAt: v.Highlight.UpdatedAt,
	}
	if v.Book != nil {
		resp.BookTitle = v.Book.Title
	}
	return resp
}
