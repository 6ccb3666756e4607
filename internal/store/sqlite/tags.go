package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/id"
	"github.com/marginalia-app/marginalia-server/internal/store"
)

// tagColumns is the ordered list of columns selected in tag queries.
// Must match the scan order in scanTag.
const tagColumns = `id, slug, color, created_at, updated_at`

// scanTag scans a sql.Row (or sql.Rows via its Scan method) into a domain.Tag.
func scanTag(scanner interface{ Scan(dest ...any) error }) (*domain.Tag, error) {
	var t domain.Tag

	var (
		createdAt string
		updatedAt string
	)

	err := scanner.Scan(
		&t.ID,
		&t.Slug,
		&t.Color,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	t.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// CreateTag inserts a new tag into the database.
// Returns store.ErrAlreadyExists on duplicate slug.
func (s *Store) CreateTag(ctx context.Context, t *domain.Tag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, slug, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID,
		t.Slug,
		t.Color,
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetTagByID retrieves a tag by its ID.
// Returns store.ErrNotFound if the tag does not exist.
func (s *Store) GetTagByID(ctx context.Context, tagID string) (*domain.Tag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE id = ?`, tagID)

	t, err := scanTag(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTagBySlug retrieves a tag by its slug.
// Returns store.ErrNotFound if the tag does not exist.
func (s *Store) GetTagBySlug(ctx context.Context, slug string) (*domain.Tag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE slug = ?`, slug)

	t, err := scanTag(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTagsByIDs returns the tags matching the given IDs. Missing IDs are
// silently skipped.
func (s *Store) GetTagsByIDs(ctx context.Context, tagIDs []string) ([]*domain.Tag, error) {
	if len(tagIDs) == 0 {
		return []*domain.Tag{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE id IN (`+placeholders(len(tagIDs))+`)`,
		stringArgs(tagIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []*domain.Tag{}
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// ListTags returns all tags ordered by slug.
func (s *Store) ListTags(ctx context.Context) ([]*domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tagColumns+` FROM tags ORDER BY slug ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []*domain.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if tags == nil {
		tags = []*domain.Tag{}
	}

	return tags, nil
}

// UpdateTag updates a tag's slug and color.
// Returns store.ErrNotFound if the tag does not exist.
func (s *Store) UpdateTag(ctx context.Context, t *domain.Tag) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tags SET slug = ?, color = ?, updated_at = ?
		WHERE id = ?`,
		t.Slug,
		t.Color,
		formatTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteTag removes a tag. Associations in highlight_tags and book_tags
// cascade via foreign keys.
func (s *Store) DeleteTag(ctx context.Context, tagID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, tagID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FindOrCreateTagBySlug finds an existing tag by slug or creates a new one.
// Returns (tag, created, error) where created is true if a new tag was made.
func (s *Store) FindOrCreateTagBySlug(ctx context.Context, slug string) (*domain.Tag, bool, error) {
	existing, err := s.GetTagBySlug(ctx, slug)
	if err == nil {
		return existing, false, nil
	}
	if err != store.ErrNotFound {
		return nil, false, err
	}

	tagID, err := id.Generate("tag")
	if err != nil {
		return nil, false, fmt.Errorf("generate tag id: %w", err)
	}

	now := time.Now().UTC()
	t := &domain.Tag{
		ID:        tagID,
		Slug:      slug,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.CreateTag(ctx, t); err != nil {
		if err == store.ErrAlreadyExists {
			// Race condition: another goroutine created it.
			existing, err := s.GetTagBySlug(ctx, slug)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	return t, true, nil
}

// SetBookTags replaces all tags for a book in a single transaction.
func (s *Store) SetBookTags(ctx context.Context, bookID string, tagIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM book_tags WHERE book_id = ?`, bookID); err != nil {
		return fmt.Errorf("delete book_tags: %w", err)
	}

	now := formatTime(time.Now().UTC())
	for _, tagID := range tagIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO book_tags (book_id, tag_id, created_at)
			VALUES (?, ?, ?)`,
			bookID,
			tagID,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert book_tag: %w", err)
		}
	}

	return tx.Commit()
}

// SetHighlightTags replaces all tags for a highlight in a single transaction.
func (s *Store) SetHighlightTags(ctx context.Context, highlightID string, tagIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM highlight_tags WHERE highlight_id = ?`, highlightID); err != nil {
		return fmt.Errorf("delete highlight_tags: %w", err)
	}

	now := formatTime(time.Now().UTC())
	for _, tagID := range tagIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO highlight_tags (highlight_id, tag_id, created_at)
			VALUES (?, ?, ?)`,
			highlightID,
			tagID,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert highlight_tag: %w", err)
		}
	}

	return tx.Commit()
}

// GetTagsForHighlights returns the tags directly attached to each of the
// given highlights, keyed by highlight ID.
func (s *Store) GetTagsForHighlights(ctx context.Context, highlightIDs []string) (map[string][]*domain.Tag, error) {
	result := make(map[string][]*domain.Tag, len(highlightIDs))
	if len(highlightIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ht.highlight_id, `+prefixColumns("t", tagColumns)+`
		FROM highlight_tags ht
		JOIN tags t ON t.id = ht.tag_id
		WHERE ht.highlight_id IN (`+placeholders(len(highlightIDs))+`)
		ORDER BY t.slug ASC`,
		stringArgs(highlightIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query highlight tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var highlightID string
		t, err := scanOwnedTag(rows, &highlightID)
		if err != nil {
			return nil, err
		}
		result[highlightID] = append(result[highlightID], t)
	}
	return result, rows.Err()
}

// GetTagsForBooks returns the tags attached to each of the given books,
// keyed by book ID.
func (s *Store) GetTagsForBooks(ctx context.Context, bookIDs []string) (map[string][]*domain.Tag, error) {
	result := make(map[string][]*domain.Tag, len(bookIDs))
	if len(bookIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bt.book_id, `+prefixColumns("t", tagColumns)+`
		FROM book_tags bt
		JOIN tags t ON t.id = bt.tag_id
		WHERE bt.book_id IN (`+placeholders(len(bookIDs))+`)
		ORDER BY t.slug ASC`,
		stringArgs(bookIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query book tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bookID string
		t, err := scanOwnedTag(rows, &bookID)
		if err != nil {
			return nil, err
		}
		result[bookID] = append(result[bookID], t)
	}
	return result, rows.Err()
}

// ListHighlightIDsByTag returns the IDs of highlights affected by a tag,
// either directly or through their book. Used to refresh the search index
// after tag changes.
func (s *Store) ListHighlightIDsByTag(ctx context.Context, tagID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT highlight_id FROM highlight_tags WHERE tag_id = ?
		UNION
		SELECT h.id FROM highlights h
		JOIN book_tags bt ON bt.book_id = h.book_id
		WHERE bt.tag_id = ?`,
		tagID, tagID)
	if err != nil {
		return nil, fmt.Errorf("query highlights by tag: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanOwnedTag scans an (owner_key, tag columns) row produced by the
// association queries above.
func scanOwnedTag(rows *sql.Rows, ownerKey *string) (*domain.Tag, error) {
	var t domain.Tag
	var createdAt, updatedAt string

	err := rows.Scan(ownerKey, &t.ID, &t.Slug, &t.Color, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	t.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// prefixColumns qualifies each column in a comma-separated list with a
// table alias, e.g. prefixColumns("t", "id, slug") == "t.id, t.slug".
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
