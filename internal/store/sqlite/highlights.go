package sqlite

import (
	"context"
	"database/sql"

	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/store"
)

const highlightColumns = `id, owner_id, book_id, content, chapter, page, note, embedding, created_at, updated_at`

func scanHighlight(scanner interface{ Scan(dest ...any) error }) (*domain.Highlight, error) {
	var h domain.Highlight
	var (
		embedding []byte
		createdAt string
		updatedAt string
	)

	err := scanner.Scan(
		&h.ID,
		&h.OwnerID,
		&h.BookID,
		&h.Content,
		&h.Chapter,
		&h.Page,
		&h.Note,
		&embedding,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(embedding) > 0 {
		h.Embedding, err = decodeVector(embedding)
		if err != nil {
			return nil, err
		}
	}

	h.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	h.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &h, nil
}

// CreateHighlight inserts a new highlight. The embedding column starts
// NULL; the embedding queue fills it in later.
func (s *Store) CreateHighlight(ctx context.Context, h *domain.Highlight) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO highlights (id, owner_id, book_id, content, chapter, page, note, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		h.ID,
		h.OwnerID,
		h.BookID,
		h.Content,
		h.Chapter,
		h.Page,
		h.Note,
		formatTime(h.CreatedAt),
		formatTime(h.UpdatedAt),
	)
	return err
}

// GetHighlightByID retrieves a highlight by ID.
// Returns store.ErrNotFound if the highlight does not exist.
func (s *Store) GetHighlightByID(ctx context.Context, highlightID string) (*domain.Highlight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+highlightColumns+` FROM highlights WHERE id = ?`, highlightID)

	h, err := scanHighlight(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// GetHighlightsByIDs returns the highlights matching the given IDs, keyed
// by ID. Missing IDs are silently skipped.
func (s *Store) GetHighlightsByIDs(ctx context.Context, highlightIDs []string) (map[string]*domain.Highlight, error) {
	result := make(map[string]*domain.Highlight, len(highlightIDs))
	if len(highlightIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+highlightColumns+` FROM highlights WHERE id IN (`+placeholders(len(highlightIDs))+`)`,
		stringArgs(highlightIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		h, err := scanHighlight(rows)
		if err != nil {
			return nil, err
		}
		result[h.ID] = h
	}
	return result, rows.Err()
}

// ListHighlights returns a page of highlights for an owner, newest first.
// bookID is optional; when non-empty the results are restricted to that book.
func (s *Store) ListHighlights(ctx context.Context, ownerID, bookID string, limit, offset int) ([]*domain.Highlight, error) {
	query := `SELECT ` + highlightColumns + ` FROM highlights WHERE owner_id = ?`
	args := []any{ownerID}
	if bookID != "" {
		query += ` AND book_id = ?`
		args = append(args, bookID)
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	highlights := []*domain.Highlight{}
	for rows.Next() {
		h, err := scanHighlight(rows)
		if err != nil {
			return nil, err
		}
		highlights = append(highlights, h)
	}
	return highlights, rows.Err()
}

// ListAllHighlights returns every highlight across all owners. Used for
// full index rebuilds; personal collections are small enough to hold in
// memory.
func (s *Store) ListAllHighlights(ctx context.Context) ([]*domain.Highlight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+highlightColumns+` FROM highlights ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	highlights := []*domain.Highlight{}
	for rows.Next() {
		h, err := scanHighlight(rows)
		if err != nil {
			return nil, err
		}
		highlights = append(highlights, h)
	}
	return highlights, rows.Err()
}

// UpdateHighlightContent replaces a highlight's content and clears its
// embedding so the queue can recompute it against the new text.
// Returns store.ErrNotFound if the highlight does not exist.
func (s *Store) UpdateHighlightContent(ctx context.Context, h *domain.Highlight) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE highlights
		SET content = ?, chapter = ?, page = ?, note = ?, embedding = NULL, updated_at = ?
		WHERE id = ?`,
		h.Content,
		h.Chapter,
		h.Page,
		h.Note,
		formatTime(h.UpdatedAt),
		h.ID,
	)
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

// UpdateHighlightMeta updates chapter, page and note without touching the
// content or the stored embedding.
// Returns store.ErrNotFound if the highlight does not exist.
func (s *Store) UpdateHighlightMeta(ctx context.Context, h *domain.Highlight) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE highlights SET chapter = ?, page = ?, note = ?, updated_at = ?
		WHERE id = ?`,
		h.Chapter,
		h.Page,
		h.Note,
		formatTime(h.UpdatedAt),
		h.ID,
	)
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

// DeleteHighlight removes a highlight. Tag associations cascade; the
// caller removes it from the search index.
func (s *Store) DeleteHighlight(ctx context.Context, highlightID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM highlights WHERE id = ?`, highlightID)
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

// FindDuplicateHighlight reports whether the owner already has a highlight
// with identical content in the same book. Importers use this to keep
// re-imports idempotent.
func (s *Store) FindDuplicateHighlight(ctx context.Context, ownerID, bookID, content string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM highlights
		WHERE owner_id = ? AND book_id = ? AND content = ?
		LIMIT 1`,
		ownerID, bookID, content).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
