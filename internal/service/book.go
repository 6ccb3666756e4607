// Package service provides the business logic layer for highlights,
// books, tags, imports, and hybrid search.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/errors"
	"github.com/marginalia-app/marginalia-server/internal/store"
)

// bookHighlightBatch bounds how many highlight IDs are collected per
// pass when reindexing or deleting a book's highlights.
const bookHighlightBatch = 500

// BookStore is the persistence surface book operations need.
type BookStore interface {
	GetBookByID(ctx context.Context, bookID string) (*domain.Book, error)
	ListBooks(ctx context.Context, ownerID string) ([]*domain.Book, error)
	UpdateBook(ctx context.Context, b *domain.Book) error
	DeleteBook(ctx context.Context, bookID string) error
	SetBookTags(ctx context.Context, bookID string, tagIDs []string) error
	GetTagsForBooks(ctx context.Context, bookIDs []string) (map[string][]*domain.Tag, error)
	ListHighlights(ctx context.Context, ownerID, bookID string, limit, offset int) ([]*domain.Highlight, error)
}

// BookView is a book hydrated with its tags.
type BookView struct {
	Book *domain.Book  `json:"book"`
	Tags []*domain.Tag `json:"tags"`
}

// UpdateBookInput carries a partial book update. Nil fields are left
// unchanged.
type UpdateBookInput struct {
	Title  *string
	Author *string
}

// BookService orchestrates book operations. Title and author text is
// denormalized into each highlight's search document, so metadata edits
// and tag changes fan out to a reindex of the book's highlights.
type BookService struct {
	store  BookStore
	search *SearchService
	logger *slog.Logger
}

// NewBookService creates a new book service.
func NewBookService(st BookStore, search *SearchService, logger *slog.Logger) *BookService {
	return &BookService{
		store:  st,
		search: search,
		logger: logger,
	}
}

// List returns all of the owner's books with their tags, ordered by
// title then author.
func (s *BookService) List(ctx context.Context, ownerID string) ([]*BookView, error) {
	books, err := s.store.ListBooks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	if len(books) == 0 {
		return []*BookView{}, nil
	}

	bookIDs := make([]string, len(books))
	for i, b := range books {
		bookIDs[i] = b.ID
	}
	tags, err := s.store.GetTagsForBooks(ctx, bookIDs)
	if err != nil {
		return nil, fmt.Errorf("load book tags: %w", err)
	}

	views := make([]*BookView, 0, len(books))
	for _, b := range books {
		bt := tags[b.ID]
		if bt == nil {
			bt = []*domain.Tag{}
		}
		views = append(views, &BookView{Book: b, Tags: bt})
	}
	return views, nil
}

// Get returns one book with its tags. Another owner's book reads as not
// found.
func (s *BookService) Get(ctx context.Context, ownerID, bookID string) (*BookView, error) {
	b, err := s.getOwned(ctx, ownerID, bookID)
	if err != nil {
		return nil, err
	}
	tags, err := s.store.GetTagsForBooks(ctx, []string{b.ID})
	if err != nil {
		return nil, fmt.Errorf("load book tags: %w", err)
	}
	bt := tags[b.ID]
	if bt == nil {
		bt = []*domain.Tag{}
	}
	return &BookView{Book: b, Tags: bt}, nil
}

// Update edits a book's metadata and reindexes its highlights so searches
// against the new title or author match immediately.
func (s *BookService) Update(ctx context.Context, ownerID, bookID string, input UpdateBookInput) (*domain.Book, error) {
	b, err := s.getOwned(ctx, ownerID, bookID)
	if err != nil {
		return nil, err
	}

	changed := false
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, errors.Validation("book title cannot be empty")
		}
		if title != b.Title {
			b.Title = title
			changed = true
		}
	}
	if input.Author != nil {
		author := strings.TrimSpace(*input.Author)
		if author != b.Author {
			b.Author = author
			changed = true
		}
	}
	if !changed {
		return b, nil
	}
	b.Touch()

	if err := s.store.UpdateBook(ctx, b); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, errors.AlreadyExists(fmt.Sprintf("book %q by %q already exists", b.Title, b.Author))
		}
		return nil, fmt.Errorf("update book: %w", err)
	}

	if err := s.reindexBookHighlights(ctx, ownerID, bookID); err != nil {
		s.logger.Warn("failed to reindex highlights after book update", "book_id", bookID, "error", err)
	}

	s.logger.Info("book updated", "id", b.ID, "title", b.Title)
	return b, nil
}

// SetTags replaces a book's tags. Book tags are inherited by every
// highlight in the book, so all of them are reindexed.
func (s *BookService) SetTags(ctx context.Context, ownerID, bookID string, tagIDs []string) (*BookView, error) {
	b, err := s.getOwned(ctx, ownerID, bookID)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetBookTags(ctx, b.ID, tagIDs); err != nil {
		return nil, fmt.Errorf("set book tags: %w", err)
	}
	if err := s.reindexBookHighlights(ctx, ownerID, bookID); err != nil {
		s.logger.Warn("failed to reindex highlights after book tag change", "book_id", bookID, "error", err)
	}

	return s.Get(ctx, ownerID, bookID)
}

// Delete removes a book, its highlights cascade in the store, and the
// orphaned index entries are dropped.
func (s *BookService) Delete(ctx context.Context, ownerID, bookID string) error {
	if _, err := s.getOwned(ctx, ownerID, bookID); err != nil {
		return err
	}

	highlightIDs, err := s.collectHighlightIDs(ctx, ownerID, bookID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteBook(ctx, bookID); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if len(highlightIDs) > 0 {
		if err := s.search.RemoveFromIndex(highlightIDs...); err != nil {
			s.logger.Warn("failed to remove highlights from index", "book_id", bookID, "error", err)
		}
	}

	s.logger.Info("book deleted", "id", bookID, "highlights_removed", len(highlightIDs))
	return nil
}

func (s *BookService) getOwned(ctx context.Context, ownerID, bookID string) (*domain.Book, error) {
	b, err := s.store.GetBookByID(ctx, bookID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.NotFoundf("book %s not found", bookID)
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if b.OwnerID != ownerID {
		return nil, errors.NotFoundf("book %s not found", bookID)
	}
	return b, nil
}

func (s *BookService) collectHighlightIDs(ctx context.Context, ownerID, bookID string) ([]string, error) {
	var ids []string
	for offset := 0; ; offset += bookHighlightBatch {
		page, err := s.store.ListHighlights(ctx, ownerID, bookID, bookHighlightBatch, offset)
		if err != nil {
			return nil, fmt.Errorf("list book highlights: %w", err)
		}
		for _, h := range page {
			ids = append(ids, h.ID)
		}
		if len(page) < bookHighlightBatch {
			return ids, nil
		}
	}
}

func (s *BookService) reindexBookHighlights(ctx context.Context, ownerID, bookID string) error {
	ids, err := s.collectHighlightIDs(ctx, ownerID, bookID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return s.search.ReindexHighlightsByIDs(ctx, ids)
}
