package search

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-app/marginalia-server/internal/domain"
)

// setupTestIndex creates a temporary search index for testing.
func setupTestIndex(t *testing.T) (*Index, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "search-test-*")
	require.NoError(t, err)

	index, err := NewIndex(Options{
		DataPath: tmpDir,
		Logger:   nil,
	})
	require.NoError(t, err)

	cleanup := func() {
		_ = index.Close()
		_ = os.RemoveAll(tmpDir)
	}

	return index, cleanup
}

func makeDoc(id, ownerID, content string) *HighlightDocument {
	return &HighlightDocument{
		ID:        id,
		OwnerID:   ownerID,
		BookID:    "book-1",
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
	}
}

func TestNewIndex(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestIndex_IndexDocument(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	err := index.IndexDocument(makeDoc("hl-1", "user-1", "The only way out is through."))
	require.NoError(t, err)

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestIndex_IndexDocuments_Batch(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	docs := []*HighlightDocument{
		makeDoc("hl-1", "user-1", "First passage"),
		makeDoc("hl-2", "user-1", "Second passage"),
		makeDoc("hl-3", "user-1", "Third passage"),
	}

	err := index.IndexDocuments(docs)
	require.NoError(t, err)

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestIndex_DeleteDocument(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	require.NoError(t, index.IndexDocument(makeDoc("hl-1", "user-1", "ephemeral")))
	require.NoError(t, index.DeleteDocument("hl-1"))

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestSearchKeyword_ContentMatch(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	require.NoError(t, index.IndexDocuments([]*HighlightDocument{
		makeDoc("hl-1", "user-1", "Fear is the mind-killer."),
		makeDoc("hl-2", "user-1", "The spice must flow."),
	}))

	hits, err := index.SearchKeyword(context.Background(), KeywordParams{
		OwnerID: "user-1",
		Query:   "fear",
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hl-1", hits[0].HighlightID)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestSearchKeyword_OwnerIsolation(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	require.NoError(t, index.IndexDocuments([]*HighlightDocument{
		makeDoc("hl-mine", "user-1", "shared phrase about courage"),
		makeDoc("hl-theirs", "user-2", "shared phrase about courage"),
	}))

	hits, err := index.SearchKeyword(context.Background(), KeywordParams{
		OwnerID: "user-1",
		Query:   "courage",
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hl-mine", hits[0].HighlightID)
}

func TestSearchKeyword_BookTitleAndAuthor(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	h := &domain.Highlight{
		ID:        "hl-1",
		OwnerID:   "user-1",
		BookID:    "book-1",
		Content:   "On the shortness of life.",
		CreatedAt: time.Now(),
	}
	book := &domain.Book{ID: "book-1", Title: "Letters from a Stoic", Author: "Seneca"}
	require.NoError(t, index.IndexDocument(HighlightToDocument(h, book, nil)))

	// The content never mentions Seneca; the denormalized author field does.
	hits, err := index.SearchKeyword(context.Background(), KeywordParams{
		OwnerID: "user-1",
		Query:   "seneca",
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hl-1", hits[0].HighlightID)
}

func TestSearchKeyword_TagFilter(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	tagged := makeDoc("hl-tagged", "user-1", "a thought about time")
	tagged.TagIDs = []string{"tag-philosophy"}
	untagged := makeDoc("hl-untagged", "user-1", "another thought about time")
	require.NoError(t, index.IndexDocuments([]*HighlightDocument{tagged, untagged}))

	hits, err := index.SearchKeyword(context.Background(), KeywordParams{
		OwnerID: "user-1",
		Query:   "time",
		TagIDs:  []string{"tag-philosophy"},
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hl-tagged", hits[0].HighlightID)
}

func TestSearchKeyword_FuzzyTypoTolerance(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	require.NoError(t, index.IndexDocument(makeDoc("hl-1", "user-1", "wisdom begins in wonder")))

	hits, err := index.SearchKeyword(context.Background(), KeywordParams{
		OwnerID: "user-1",
		Query:   "wisdon",
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hl-1", hits[0].HighlightID)
}

func TestSearchKeyword_LimitRespected(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	docs := []*HighlightDocument{
		makeDoc("hl-1", "user-1", "river stones"),
		makeDoc("hl-2", "user-1", "river fog"),
		makeDoc("hl-3", "user-1", "river crossing"),
	}
	require.NoError(t, index.IndexDocuments(docs))

	hits, err := index.SearchKeyword(context.Background(), KeywordParams{
		OwnerID: "user-1",
		Query:   "river",
		Limit:   2,
	})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestIndex_Rebuild(t *testing.T) {
	index, cleanup := setupTestIndex(t)
	defer cleanup()

	require.NoError(t, index.IndexDocument(makeDoc("hl-1", "user-1", "stale")))
	require.NoError(t, index.Rebuild())

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}
