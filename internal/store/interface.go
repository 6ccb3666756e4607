package store

import (
	"context"

	"github.com/marginalia-app/marginalia-server/internal/domain"
)

// VectorHit is a single semantic retrieval result: a highlight ID and its
// vector distance from the query (smaller is closer).
type VectorHit struct {
	HighlightID string
	Distance    float64
}

// EmbeddingCounts summarizes embedding completeness for a user's highlights.
type EmbeddingCounts struct {
	WithEmbedding    int
	WithoutEmbedding int
}

// VectorSearcher is the semantic retrieval channel consumed by the hybrid
// search orchestrator. Only highlights with a computed embedding participate;
// a non-empty tagIDs filter restricts results to highlights whose own tags or
// book tags intersect the filter set.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, ownerID string, query []float32, tagIDs []string, limit int) ([]VectorHit, error)
}

// EmbeddingStore is the write-back and reconciliation surface used by the
// embedding queue. WriteEmbedding is the only path that mutates the embedding
// column.
type EmbeddingStore interface {
	WriteEmbedding(ctx context.Context, highlightID string, vector []float32) error
	FindUnembedded(ctx context.Context, ownerID string, limit int) ([]*domain.Highlight, error)
	CountEmbeddingStatus(ctx context.Context, ownerID string) (EmbeddingCounts, error)
}

// TagReader provides batch tag lookups for search result assembly.
type TagReader interface {
	GetTagsForHighlights(ctx context.Context, highlightIDs []string) (map[string][]*domain.Tag, error)
	GetTagsForBooks(ctx context.Context, bookIDs []string) (map[string][]*domain.Tag, error)
}
