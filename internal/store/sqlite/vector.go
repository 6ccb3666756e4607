package sqlite

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/marginalia-app/marginalia-server/internal/store"
)

// VectorSearch scans the owner's embedded highlights and returns the limit
// nearest by cosine distance. When tagIDs is non-empty, only highlights
// whose own tags or whose book's tags intersect the set are considered.
//
// The scan is brute force. Personal collections run to thousands of
// highlights, not millions, and a full scan of 384-dim vectors at that
// scale is well under a millisecond.
func (s *Store) VectorSearch(ctx context.Context, ownerID string, query []float32, tagIDs []string, limit int) ([]store.VectorHit, error) {
	sql := `SELECT id, embedding FROM highlights h
		WHERE h.owner_id = ? AND h.embedding IS NOT NULL`
	args := []any{ownerID}

	if len(tagIDs) > 0 {
		ph := placeholders(len(tagIDs))
		sql += ` AND (
			EXISTS (SELECT 1 FROM highlight_tags ht
				WHERE ht.highlight_id = h.id AND ht.tag_id IN (` + ph + `))
			OR EXISTS (SELECT 1 FROM book_tags bt
				WHERE bt.book_id = h.book_id AND bt.tag_id IN (` + ph + `))
		)`
		args = append(args, stringArgs(tagIDs)...)
		args = append(args, stringArgs(tagIDs)...)
	}

	rows, err := s.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("vector scan: %w", err)
	}
	defer rows.Close()

	var hits []store.VectorHit
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("highlight %s: %w", id, err)
		}
		if len(vec) != len(query) {
			// Stale vector from an older model; skip it rather than
			// fail the whole search. Reconciliation re-embeds these.
			continue
		}
		hits = append(hits, store.VectorHit{
			HighlightID: id,
			Distance:    cosineDistance(query, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].HighlightID < hits[j].HighlightID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// cosineDistance returns 1 - cosine similarity. Zero vectors compare as
// maximally distant.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
