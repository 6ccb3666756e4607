package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/errors"
	"github.com/marginalia-app/marginalia-server/internal/id"
	"github.com/marginalia-app/marginalia-server/internal/importer"
	"github.com/marginalia-app/marginalia-server/internal/store"
)

// HighlightStore is the persistence surface highlight operations need.
type HighlightStore interface {
	CreateHighlight(ctx context.Context, h *domain.Highlight) error
	GetHighlightByID(ctx context.Context, highlightID string) (*domain.Highlight, error)
	ListHighlights(ctx context.Context, ownerID, bookID string, limit, offset int) ([]*domain.Highlight, error)
	UpdateHighlightContent(ctx context.Context, h *domain.Highlight) error
	UpdateHighlightMeta(ctx context.Context, h *domain.Highlight) error
	DeleteHighlight(ctx context.Context, highlightID string) error
	FindDuplicateHighlight(ctx context.Context, ownerID, bookID, content string) (bool, error)
	SetHighlightTags(ctx context.Context, highlightID string, tagIDs []string) error

	GetBookByID(ctx context.Context, bookID string) (*domain.Book, error)
	FindOrCreateBook(ctx context.Context, ownerID, title, author string) (*domain.Book, bool, error)
	GetBooksByIDs(ctx context.Context, bookIDs []string) (map[string]*domain.Book, error)
	GetTagsForHighlights(ctx context.Context, highlightIDs []string) (map[string][]*domain.Tag, error)
	GetTagsForBooks(ctx context.Context, bookIDs []string) (map[string][]*domain.Tag, error)
}

// HighlightView is a highlight hydrated with its book and effective tags.
type HighlightView struct {
	Highlight *domain.Highlight `json:"highlight"`
	Book      *domain.Book      `json:"book,omitempty"`
	Tags      []*domain.Tag     `json:"tags"`
}

// CreateHighlightInput carries the fields for a new highlight.
type CreateHighlightInput struct {
	BookID  string
	Content string
	Chapter string
	Page    int
	Note    string
	TagIDs  []string
}

// UpdateHighlightInput carries a partial highlight update. Nil fields are
// left unchanged.
type UpdateHighlightInput struct {
	Content *string
	Chapter *string
	Page    *int
	Note    *string
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Books    int `json:"books"`
}

// HighlightService orchestrates highlight CRUD and imports, keeping the
// store, the search index, and the embedding queue in step.
type HighlightService struct {
	store  HighlightStore
	search *SearchService
	queue  Queue
	logger *slog.Logger
}

// NewHighlightService creates a new highlight service.
func NewHighlightService(st HighlightStore, search *SearchService, queue Queue, logger *slog.Logger) *HighlightService {
	return &HighlightService{
		store:  st,
		search: search,
		queue:  queue,
		logger: logger,
	}
}

// Create stores a new highlight, indexes it, and queues its embedding.
func (s *HighlightService) Create(ctx context.Context, ownerID string, input CreateHighlightInput) (*domain.Highlight, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, errors.Validation("highlight content cannot be empty")
	}

	book, err := s.store.GetBookByID(ctx, input.BookID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && book.OwnerID != ownerID) {
		return nil, errors.NotFoundf("book %s not found", input.BookID)
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}

	highlightID, err := id.Generate("hl")
	if err != nil {
		return nil, fmt.Errorf("generate highlight id: %w", err)
	}

	now := time.Now().UTC()
	h := &domain.Highlight{
		ID:        highlightID,
		OwnerID:   ownerID,
		BookID:    input.BookID,
		Content:   content,
		Chapter:   input.Chapter,
		Page:      input.Page,
		Note:      input.Note,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateHighlight(ctx, h); err != nil {
		return nil, fmt.Errorf("create highlight: %w", err)
	}

	if len(input.TagIDs) > 0 {
		if err := s.store.SetHighlightTags(ctx, h.ID, input.TagIDs); err != nil {
			return nil, fmt.Errorf("set highlight tags: %w", err)
		}
	}

	if err := s.search.IndexHighlight(ctx, h); err != nil {
		s.logger.Warn("failed to index new highlight", "id", h.ID, "error", err)
	}
	s.queue.Enqueue(h.ID)

	s.logger.Info("highlight created", "id", h.ID, "book_id", h.BookID, "owner_id", ownerID)
	return h, nil
}

// Get returns one highlight with its book and effective tags.
// Another owner's highlight reads as not found.
func (s *HighlightService) Get(ctx context.Context, ownerID, highlightID string) (*HighlightView, error) {
	h, err := s.getOwned(ctx, ownerID, highlightID)
	if err != nil {
		return nil, err
	}
	views, err := s.hydrate(ctx, []*domain.Highlight{h})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// List returns a page of the owner's highlights, optionally scoped to a
// book, hydrated with books and tags.
func (s *HighlightService) List(ctx context.Context, ownerID, bookID string, limit, offset int) ([]*HighlightView, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	highlights, err := s.store.ListHighlights(ctx, ownerID, bookID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list highlights: %w", err)
	}
	return s.hydrate(ctx, highlights)
}

// Update applies a partial edit. A content change invalidates the stored
// embedding: the vector is cleared in the same write and the highlight is
// re-queued, so stale vectors never serve search results.
func (s *HighlightService) Update(ctx context.Context, ownerID, highlightID string, input UpdateHighlightInput) (*domain.Highlight, error) {
	h, err := s.getOwned(ctx, ownerID, highlightID)
	if err != nil {
		return nil, err
	}

	contentChanged := false
	if input.Content != nil {
		newContent := strings.TrimSpace(*input.Content)
		if newContent == "" {
			return nil, errors.Validation("highlight content cannot be empty")
		}
		if newContent != h.Content {
			h.Content = newContent
			contentChanged = true
		}
	}
	if input.Chapter != nil {
		h.Chapter = *input.Chapter
	}
	if input.Page != nil {
		h.Page = *input.Page
	}
	if input.Note != nil {
		h.Note = *input.Note
	}
	h.Touch()

	if contentChanged {
		if err := s.store.UpdateHighlightContent(ctx, h); err != nil {
			return nil, fmt.Errorf("update highlight content: %w", err)
		}
		h.Embedding = nil
		s.queue.Enqueue(h.ID)
	} else {
		if err := s.store.UpdateHighlightMeta(ctx, h); err != nil {
			return nil, fmt.Errorf("update highlight: %w", err)
		}
	}

	if err := s.search.IndexHighlight(ctx, h); err != nil {
		s.logger.Warn("failed to reindex highlight", "id", h.ID, "error", err)
	}

	s.logger.Info("highlight updated", "id", h.ID, "content_changed", contentChanged)
	return h, nil
}

// SetTags replaces a highlight's own tags and refreshes its index entry.
func (s *HighlightService) SetTags(ctx context.Context, ownerID, highlightID string, tagIDs []string) (*HighlightView, error) {
	h, err := s.getOwned(ctx, ownerID, highlightID)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetHighlightTags(ctx, h.ID, tagIDs); err != nil {
		return nil, fmt.Errorf("set highlight tags: %w", err)
	}
	if err := s.search.IndexHighlight(ctx, h); err != nil {
		s.logger.Warn("failed to reindex highlight after tag change", "id", h.ID, "error", err)
	}

	views, err := s.hydrate(ctx, []*domain.Highlight{h})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// Delete removes a highlight from the store and the search index.
func (s *HighlightService) Delete(ctx context.Context, ownerID, highlightID string) error {
	if _, err := s.getOwned(ctx, ownerID, highlightID); err != nil {
		return err
	}

	if err := s.store.DeleteHighlight(ctx, highlightID); err != nil {
		return fmt.Errorf("delete highlight: %w", err)
	}
	if err := s.search.RemoveFromIndex(highlightID); err != nil {
		s.logger.Warn("failed to remove highlight from index", "id", highlightID, "error", err)
	}

	s.logger.Info("highlight deleted", "id", highlightID, "owner_id", ownerID)
	return nil
}

// Import persists parsed entries. Books are created on first sight;
// entries whose content already exists in the same book are skipped, so
// re-importing the same file is idempotent.
func (s *HighlightService) Import(ctx context.Context, ownerID string, entries []importer.Entry) (*ImportResult, error) {
	result := &ImportResult{}
	booksSeen := make(map[string]bool)
	var created []*domain.Highlight

	for _, entry := range entries {
		content := strings.TrimSpace(entry.Content)
		if content == "" {
			result.Skipped++
			continue
		}
		title := strings.TrimSpace(entry.BookTitle)
		if title == "" {
			title = "Unknown Book"
		}

		book, bookCreated, err := s.store.FindOrCreateBook(ctx, ownerID, title, strings.TrimSpace(entry.BookAuthor))
		if err != nil {
			return nil, fmt.Errorf("find or create book %q: %w", title, err)
		}
		if bookCreated && !booksSeen[book.ID] {
			result.Books++
		}
		booksSeen[book.ID] = true

		dup, err := s.store.FindDuplicateHighlight(ctx, ownerID, book.ID, content)
		if err != nil {
			return nil, fmt.Errorf("check duplicate: %w", err)
		}
		if dup {
			result.Skipped++
			continue
		}

		highlightID, err := id.Generate("hl")
		if err != nil {
			return nil, fmt.Errorf("generate highlight id: %w", err)
		}
		now := time.Now().UTC()
		h := &domain.Highlight{
			ID:        highlightID,
			OwnerID:   ownerID,
			BookID:    book.ID,
			Content:   content,
			Chapter:   entry.Chapter,
			Page:      entry.Page,
			Note:      entry.Note,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateHighlight(ctx, h); err != nil {
			return nil, fmt.Errorf("create highlight: %w", err)
		}
		created = append(created, h)
		result.Imported++
	}

	if len(created) > 0 {
		ids := make([]string, len(created))
		for i, h := range created {
			ids[i] = h.ID
		}
		if err := s.search.ReindexHighlightsByIDs(ctx, ids); err != nil {
			s.logger.Warn("failed to index imported highlights", "count", len(ids), "error", err)
		}
		s.queue.EnqueueBatch(ids)
	}

	s.logger.Info("import complete",
		"owner_id", ownerID,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"new_books", result.Books,
	)
	return result, nil
}

// getOwned loads a highlight and enforces ownership. A foreign or missing
// highlight reads the same to avoid leaking existence.
func (s *HighlightService) getOwned(ctx context.Context, ownerID, highlightID string) (*domain.Highlight, error) {
	h, err := s.store.GetHighlightByID(ctx, highlightID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.NotFoundf("highlight %s not found", highlightID)
	}
	if err != nil {
		return nil, fmt.Errorf("get highlight: %w", err)
	}
	if h.OwnerID != ownerID {
		return nil, errors.NotFoundf("highlight %s not found", highlightID)
	}
	return h, nil
}

// hydrate attaches books and effective tags to highlights in batch.
func (s *HighlightService) hydrate(ctx context.Context, highlights []*domain.Highlight) ([]*HighlightView, error) {
	if len(highlights) == 0 {
		return []*HighlightView{}, nil
	}

	highlightIDs := make([]string, len(highlights))
	bookIDSet := make(map[string]bool)
	for i, h := range highlights {
		highlightIDs[i] = h.ID
		bookIDSet[h.BookID] = true
	}
	bookIDs := make([]string, 0, len(bookIDSet))
	for id := range bookIDSet {
		bookIDs = append(bookIDs, id)
	}

	books, err := s.store.GetBooksByIDs(ctx, bookIDs)
	if err != nil {
		return nil, fmt.Errorf("load books: %w", err)
	}
	highlightTags, err := s.store.GetTagsForHighlights(ctx, highlightIDs)
	if err != nil {
		return nil, fmt.Errorf("load highlight tags: %w", err)
	}
	bookTags, err := s.store.GetTagsForBooks(ctx, bookIDs)
	if err != nil {
		return nil, fmt.Errorf("load book tags: %w", err)
	}

	views := make([]*HighlightView, 0, len(highlights))
	for _, h := range highlights {
		views = append(views, &HighlightView{
			Highlight: h,
			Book:      books[h.BookID],
			Tags:      domain.EffectiveTags(highlightTags[h.ID], bookTags[h.BookID]),
		})
	}
	return views, nil
}
