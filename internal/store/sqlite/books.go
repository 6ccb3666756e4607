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

const bookColumns = `id, owner_id, title, author, created_at, updated_at`

func scanBook(scanner interface{ Scan(dest ...any) error }) (*domain.Book, error) {
	var b domain.Book
	var createdAt, updatedAt string

	err := scanner.Scan(&b.ID, &b.OwnerID, &b.Title, &b.Author, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	b.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	b.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBook inserts a new book.
// Returns store.ErrAlreadyExists when the owner already has a book with
// the same title and author.
func (s *Store) CreateBook(ctx context.Context, b *domain.Book) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (id, owner_id, title, author, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.OwnerID,
		b.Title,
		b.Author,
		formatTime(b.CreatedAt),
		formatTime(b.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetBookByID retrieves a book by ID.
// Returns store.ErrNotFound if the book does not exist.
func (s *Store) GetBookByID(ctx context.Context, bookID string) (*domain.Book, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ?`, bookID)

	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBooksByIDs returns the books matching the given IDs, keyed by ID.
// Missing IDs are silently skipped.
func (s *Store) GetBooksByIDs(ctx context.Context, bookIDs []string) (map[string]*domain.Book, error) {
	result := make(map[string]*domain.Book, len(bookIDs))
	if len(bookIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id IN (`+placeholders(len(bookIDs))+`)`,
		stringArgs(bookIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		result[b.ID] = b
	}
	return result, rows.Err()
}

// ListBooks returns all books owned by a user, ordered by title.
func (s *Store) ListBooks(ctx context.Context, ownerID string) ([]*domain.Book, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE owner_id = ? ORDER BY title ASC, author ASC`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := []*domain.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// UpdateBook updates a book's title and author.
// Returns store.ErrNotFound if the book does not exist.
func (s *Store) UpdateBook(ctx context.Context, b *domain.Book) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE books SET title = ?, author = ?, updated_at = ?
		WHERE id = ?`,
		b.Title,
		b.Author,
		formatTime(b.UpdatedAt),
		b.ID,
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

// DeleteBook removes a book. Its highlights cascade via foreign keys; the
// caller is responsible for removing them from the search index.
func (s *Store) DeleteBook(ctx context.Context, bookID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, bookID)
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

// FindOrCreateBook finds a book by owner, title and author, creating it
// when absent. Titles are matched exactly; importers normalize first.
func (s *Store) FindOrCreateBook(ctx context.Context, ownerID, title, author string) (*domain.Book, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE owner_id = ? AND title = ? AND author = ?`,
		ownerID, title, author)

	b, err := scanBook(row)
	if err == nil {
		return b, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	bookID, err := id.Generate("book")
	if err != nil {
		return nil, false, fmt.Errorf("generate book id: %w", err)
	}

	now := time.Now().UTC()
	b = &domain.Book{
		ID:        bookID,
		OwnerID:   ownerID,
		Title:     title,
		Author:    author,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.CreateBook(ctx, b); err != nil {
		if err == store.ErrAlreadyExists {
			row := s.db.QueryRowContext(ctx,
				`SELECT `+bookColumns+` FROM books WHERE owner_id = ? AND title = ? AND author = ?`,
				ownerID, title, author)
			existing, err := scanBook(row)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	return b, true, nil
}
