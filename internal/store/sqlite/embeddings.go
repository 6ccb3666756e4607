package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/store"
)

// encodeVector packs a float32 vector into a little-endian byte blob.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian byte blob into a float32 vector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// WriteEmbedding stores the computed vector for a highlight.
// Returns store.ErrNotFound if the highlight no longer exists; the
// embedding worker treats that as a drop, not a failure.
func (s *Store) WriteEmbedding(ctx context.Context, highlightID string, vector []float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE highlights SET embedding = ? WHERE id = ?`,
		encodeVector(vector), highlightID)
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

// ClearEmbedding drops the stored vector so the queue can recompute it.
func (s *Store) ClearEmbedding(ctx context.Context, highlightID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE highlights SET embedding = NULL WHERE id = ?`, highlightID)
	return err
}

// FindUnembedded returns highlights owned by ownerID that have no stored
// embedding, oldest first, capped at limit. An empty ownerID scans all
// owners; reconciliation at startup uses that form.
func (s *Store) FindUnembedded(ctx context.Context, ownerID string, limit int) ([]*domain.Highlight, error) {
	query := `SELECT ` + highlightColumns + ` FROM highlights WHERE embedding IS NULL`
	args := []any{}
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

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

// CountEmbeddingStatus reports how many of an owner's highlights do and
// do not have stored embeddings. An empty ownerID counts across all
// owners; the startup reindex check uses that form.
func (s *Store) CountEmbeddingStatus(ctx context.Context, ownerID string) (store.EmbeddingCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE embedding IS NOT NULL),
			COUNT(*) FILTER (WHERE embedding IS NULL)
		FROM highlights`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}

	var counts store.EmbeddingCounts
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&counts.WithEmbedding, &counts.WithoutEmbedding)
	if err != nil {
		return store.EmbeddingCounts{}, err
	}
	return counts, nil
}
