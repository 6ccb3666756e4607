package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/errors"
	"github.com/marginalia-app/marginalia-server/internal/id"
	"github.com/marginalia-app/marginalia-server/internal/store"
)

// TagStore is the persistence surface tag operations need.
type TagStore interface {
	CreateTag(ctx context.Context, t *domain.Tag) error
	GetTagByID(ctx context.Context, tagID string) (*domain.Tag, error)
	GetTagBySlug(ctx context.Context, slug string) (*domain.Tag, error)
	ListTags(ctx context.Context) ([]*domain.Tag, error)
	UpdateTag(ctx context.Context, t *domain.Tag) error
	DeleteTag(ctx context.Context, tagID string) error
	FindOrCreateTagBySlug(ctx context.Context, slug string) (*domain.Tag, bool, error)
	ListHighlightIDsByTag(ctx context.Context, tagID string) ([]string, error)
}

// TagService manages the tag vocabulary. Tags are shared labels; the
// highlight and book services decide what they attach to.
type TagService struct {
	store  TagStore
	search *SearchService
	logger *slog.Logger
}

// NewTagService creates a new tag service.
func NewTagService(st TagStore, search *SearchService, logger *slog.Logger) *TagService {
	return &TagService{
		store:  st,
		search: search,
		logger: logger,
	}
}

// List returns all tags ordered by slug.
func (s *TagService) List(ctx context.Context) ([]*domain.Tag, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

// Get returns one tag by ID.
func (s *TagService) Get(ctx context.Context, tagID string) (*domain.Tag, error) {
	t, err := s.store.GetTagByID(ctx, tagID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.NotFoundf("tag %s not found", tagID)
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

// Create makes a new tag from a free-form name. The name is slugified
// before storage so "Deep Work" and "deep work" resolve to the same tag.
func (s *TagService) Create(ctx context.Context, name, color string) (*domain.Tag, error) {
	slug := domain.Slugify(name)
	if slug == "" {
		return nil, errors.Validation("tag name cannot be empty")
	}

	tagID, err := id.Generate("tag")
	if err != nil {
		return nil, fmt.Errorf("generate tag id: %w", err)
	}
	now := time.Now().UTC()
	t := &domain.Tag{
		ID:        tagID,
		Slug:      slug,
		Color:     color,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTag(ctx, t); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, errors.AlreadyExists(fmt.Sprintf("tag %q already exists", slug))
		}
		return nil, fmt.Errorf("create tag: %w", err)
	}

	s.logger.Info("tag created", "id", t.ID, "slug", t.Slug)
	return t, nil
}

// FindOrCreate resolves a name to an existing tag or creates it.
func (s *TagService) FindOrCreate(ctx context.Context, name string) (*domain.Tag, error) {
	slug := domain.Slugify(name)
	if slug == "" {
		return nil, errors.Validation("tag name cannot be empty")
	}
	t, _, err := s.store.FindOrCreateTagBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("find or create tag: %w", err)
	}
	return t, nil
}

// Update renames or recolors a tag. A rename re-slugifies the new name.
// Documents index tag IDs rather than slugs, so a rename needs no
// reindex; only the vocabulary row changes.
func (s *TagService) Update(ctx context.Context, tagID string, name, color *string) (*domain.Tag, error) {
	t, err := s.Get(ctx, tagID)
	if err != nil {
		return nil, err
	}

	if name != nil {
		slug := domain.Slugify(*name)
		if slug == "" {
			return nil, errors.Validation("tag name cannot be empty")
		}
		t.Slug = slug
	}
	if color != nil {
		t.Color = *color
	}
	t.Touch()

	if err := s.store.UpdateTag(ctx, t); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, errors.AlreadyExists(fmt.Sprintf("tag %q already exists", t.Slug))
		}
		return nil, fmt.Errorf("update tag: %w", err)
	}

	s.logger.Info("tag updated", "id", t.ID, "slug", t.Slug)
	return t, nil
}

// Delete removes a tag. Attachments cascade in the store; the affected
// highlights are reindexed so the tag stops matching filters immediately.
func (s *TagService) Delete(ctx context.Context, tagID string) error {
	if _, err := s.Get(ctx, tagID); err != nil {
		return err
	}

	affected, err := s.store.ListHighlightIDsByTag(ctx, tagID)
	if err != nil {
		return fmt.Errorf("list tagged highlights: %w", err)
	}

	if err := s.store.DeleteTag(ctx, tagID); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if len(affected) > 0 {
		if err := s.search.ReindexHighlightsByIDs(ctx, affected); err != nil {
			s.logger.Warn("failed to reindex highlights after tag delete", "tag_id", tagID, "error", err)
		}
	}

	s.logger.Info("tag deleted", "id", tagID, "highlights_reindexed", len(affected))
	return nil
}
