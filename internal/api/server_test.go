package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/embedding"
	"github.com/marginalia-app/marginalia-server/internal/search"
	"github.com/marginalia-app/marginalia-server/internal/service"
	"github.com/marginalia-app/marginalia-server/internal/store/sqlite"
)

const testUserID = "user_test"

// stubEmbedder returns a fixed vector without loading a model.
type stubEmbedder struct {
	vec []float32
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return e.vec, nil
}

func (e *stubEmbedder) Dimensions() int { return len(e.vec) }
func (e *stubEmbedder) Loaded() bool    { return true }
func (e *stubEmbedder) Close() error    { return nil }

// stubQueue records enqueued highlight IDs instead of embedding them.
type stubQueue struct {
	mu       sync.Mutex
	enqueued []string
}

func (q *stubQueue) Enqueue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, id)
}

func (q *stubQueue) EnqueueBatch(ids []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, ids...)
}

func (q *stubQueue) Status() embedding.Status { return embedding.Status{} }

// testServer wraps the API server with direct access to its store.
type testServer struct {
	*Server
	api   humatest.TestAPI
	store *sqlite.Store
	queue *stubQueue
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	tmpDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := sqlite.Open(filepath.Join(tmpDir, "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	idx, err := search.NewIndex(search.Options{DataPath: filepath.Join(tmpDir, "index"), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	require.NoError(t, st.EnsureUser(context.Background(), &domain.User{
		ID:          testUserID,
		DisplayName: "Test Reader",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}))

	queue := &stubQueue{}
	emb := &stubEmbedder{vec: []float32{1, 0, 0}}
	searchService := service.NewSearchService(idx, st, emb, queue, logger)
	highlightService := service.NewHighlightService(st, searchService, queue, logger)
	bookService := service.NewBookService(st, searchService, logger)
	tagService := service.NewTagService(st, searchService, logger)

	srv := NewServer(ServerOptions{
		Services: &Services{
			Highlight: highlightService,
			Book:      bookService,
			Tag:       tagService,
			Search:    searchService,
		},
		Logger: logger,
	})

	return &testServer{
		Server: srv,
		api:    humatest.Wrap(t, srv.api),
		store:  st,
		queue:  queue,
	}
}

func (ts *testServer) createBook(t *testing.T, title, author string) *domain.Book {
	t.Helper()
	book, _, err := ts.store.FindOrCreateBook(context.Background(), testUserID, title, author)
	require.NoError(t, err)
	return book
}

func (ts *testServer) createHighlight(t *testing.T, bookID, content string) HighlightResponse {
	t.Helper()
	resp := ts.api.Post("/api/v1/highlights",
		"X-User-ID: "+testUserID,
		map[string]any{"book_id": bookID, "content": content})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out HighlightResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

// === Tests ===

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/health")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "healthy")
}

func TestMissingUserIdentity(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/api/v1/highlights")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestHighlightLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	book := ts.createBook(t, "Meditations", "Marcus Aurelius")

	created := ts.createHighlight(t, book.ID, "The obstacle is the way")
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Meditations", created.BookTitle)
	assert.False(t, created.Embedded)

	// Creation queues the highlight for embedding.
	assert.Equal(t, []string{created.ID}, ts.queue.enqueued)

	// Get it back.
	resp := ts.api.Get("/api/v1/highlights/"+created.ID, "X-User-ID: "+testUserID)
	require.Equal(t, http.StatusOK, resp.Code)

	// Update the note only.
	resp = ts.api.Patch("/api/v1/highlights/"+created.ID,
		"X-User-ID: "+testUserID,
		map[string]any{"note": "worth rereading"})
	require.Equal(t, http.StatusOK, resp.Code)
	var updated HighlightResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &updated))
	assert.Equal(t, "worth rereading", updated.Note)

	// Delete it.
	resp = ts.api.Delete("/api/v1/highlights/"+created.ID, "X-User-ID: "+testUserID)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Get("/api/v1/highlights/"+created.ID, "X-User-ID: "+testUserID)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestGetHighlight_ForeignUser(t *testing.T) {
	ts := setupTestServer(t)
	book := ts.createBook(t, "Meditations", "")
	created := ts.createHighlight(t, book.ID, "private thought")

	require.NoError(t, ts.store.EnsureUser(context.Background(), &domain.User{
		ID: "user_other", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	resp := ts.api.Get("/api/v1/highlights/"+created.ID, "X-User-ID: user_other")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSearchEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	book := ts.createBook(t, "Meditations", "Marcus Aurelius")
	created := ts.createHighlight(t, book.ID, "You have power over your mind, not outside events")

	// Give the highlight a vector so the semantic channel can rank it.
	require.NoError(t, ts.store.WriteEmbedding(context.Background(), created.ID, []float32{1, 0, 0}))

	// Tag the highlight so related tags and the tag filter have something
	// to work with.
	resp := ts.api.Post("/api/v1/tags",
		"X-User-ID: "+testUserID,
		map[string]any{"name": "Stoicism"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var tag TagResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &tag))
	resp = ts.api.Put("/api/v1/highlights/"+created.ID+"/tags",
		"X-User-ID: "+testUserID,
		map[string]any{"tag_ids": []string{tag.ID}})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.api.Get("/api/v1/search?q=power+over+your+mind&tags="+tag.ID, "X-User-ID: "+testUserID)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out SearchResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Len(t, out.Hits, 1)
	assert.Equal(t, created.ID, out.Hits[0].Highlight.ID)
	assert.True(t, out.Hits[0].KeywordMatched)
	assert.Greater(t, out.Hits[0].Similarity, 0.0)

	// The response echoes the filter and counts results per related tag.
	assert.Equal(t, []string{tag.ID}, out.FilterTagIDs)
	require.Len(t, out.RelatedTags, 1)
	assert.Equal(t, "stoicism", out.RelatedTags[0].Slug)
	assert.Equal(t, 1, out.RelatedTags[0].Count)
}

func TestSearchEndpoint_BlankQuery(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/api/v1/search?q=%20%20", "X-User-ID: "+testUserID)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "INVALID_QUERY")
}

func TestEmbeddingStatusEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	book := ts.createBook(t, "Meditations", "")
	ts.createHighlight(t, book.ID, "unembedded thought")

	resp := ts.api.Get("/api/v1/search/status", "X-User-ID: "+testUserID)
	require.Equal(t, http.StatusOK, resp.Code)

	var out EmbeddingStatusResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, 0, out.WithEmbedding)
	assert.Equal(t, 1, out.WithoutEmbedding)
	assert.True(t, out.ModelLoaded)
}

func TestReembedEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	book := ts.createBook(t, "Meditations", "")
	created := ts.createHighlight(t, book.ID, "needs a vector")
	ts.queue.enqueued = nil

	resp := ts.api.Post("/api/v1/search/reembed", "X-User-ID: "+testUserID, struct{}{})
	require.Equal(t, http.StatusOK, resp.Code)

	var out ReembedResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Queued)
	assert.Equal(t, []string{created.ID}, ts.queue.enqueued)
}

func TestTagEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	// Create, slugified.
	resp := ts.api.Post("/api/v1/tags",
		"X-User-ID: "+testUserID,
		map[string]any{"name": "Deep Work", "color": "#ff0000"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var tag TagResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &tag))
	assert.Equal(t, "deep-work", tag.Slug)

	// Duplicate slug conflicts.
	resp = ts.api.Post("/api/v1/tags",
		"X-User-ID: "+testUserID,
		map[string]any{"name": "deep work"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	// Invalid color fails validation.
	resp = ts.api.Post("/api/v1/tags",
		"X-User-ID: "+testUserID,
		map[string]any{"name": "reading", "color": "red-ish"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// Rename.
	resp = ts.api.Patch("/api/v1/tags/"+tag.ID,
		"X-User-ID: "+testUserID,
		map[string]any{"name": "Focused Work"})
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &tag))
	assert.Equal(t, "focused-work", tag.Slug)

	// Delete, then gone.
	resp = ts.api.Delete("/api/v1/tags/"+tag.ID, "X-User-ID: "+testUserID)
	require.Equal(t, http.StatusOK, resp.Code)
	resp = ts.api.Get("/api/v1/tags/"+tag.ID, "X-User-ID: "+testUserID)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestBookEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	book := ts.createBook(t, "Meditation", "Marcus Aurelius")
	ts.createHighlight(t, book.ID, "a thought")

	// List.
	resp := ts.api.Get("/api/v1/books", "X-User-ID: "+testUserID)
	require.Equal(t, http.StatusOK, resp.Code)
	var list ListBooksResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list.Books, 1)

	// Fix the title.
	resp = ts.api.Patch("/api/v1/books/"+book.ID,
		"X-User-ID: "+testUserID,
		map[string]any{"title": "Meditations"})
	require.Equal(t, http.StatusOK, resp.Code)
	var updated BookResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &updated))
	assert.Equal(t, "Meditations", updated.Title)

	// Delete removes the book and its highlights.
	resp = ts.api.Delete("/api/v1/books/"+book.ID, "X-User-ID: "+testUserID)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Get("/api/v1/highlights", "X-User-ID: "+testUserID)
	require.Equal(t, http.StatusOK, resp.Code)
	var highlights ListHighlightsResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &highlights))
	assert.Empty(t, highlights.Highlights)
}

func TestSetTagsEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	book := ts.createBook(t, "Meditations", "")
	created := ts.createHighlight(t, book.ID, "tagged thought")

	resp := ts.api.Post("/api/v1/tags",
		"X-User-ID: "+testUserID,
		map[string]any{"name": "stoicism"})
	require.Equal(t, http.StatusOK, resp.Code)
	var ownTag TagResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ownTag))

	resp = ts.api.Post("/api/v1/tags",
		"X-User-ID: "+testUserID,
		map[string]any{"name": "philosophy"})
	require.Equal(t, http.StatusOK, resp.Code)
	var bookTag TagResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &bookTag))

	// Attach one tag to the highlight and one to the book.
	resp = ts.api.Put("/api/v1/highlights/"+created.ID+"/tags",
		"X-User-ID: "+testUserID,
		map[string]any{"tag_ids": []string{ownTag.ID}})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Put("/api/v1/books/"+book.ID+"/tags",
		"X-User-ID: "+testUserID,
		map[string]any{"tag_ids": []string{bookTag.ID}})
	require.Equal(t, http.StatusOK, resp.Code)

	// The highlight reports its effective tags, own first.
	resp = ts.api.Get("/api/v1/highlights/"+created.ID, "X-User-ID: "+testUserID)
	require.Equal(t, http.StatusOK, resp.Code)
	var h HighlightResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &h))
	require.Len(t, h.Tags, 2)
	assert.Equal(t, "stoicism", h.Tags[0].Slug)
	assert.Equal(t, "philosophy", h.Tags[1].Slug)
}

func TestImportEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	clippings := "Meditations (Marcus Aurelius)\n" +
		"- Your Highlight on page 12 | Location 180-181 | Added on Monday, January 1, 2024 10:00:00 AM\n" +
		"\n" +
		"The obstacle is the way.\n" +
		"==========\n" +
		"Meditations (Marcus Aurelius)\n" +
		"- Your Highlight on page 13 | Location 190-191 | Added on Monday, January 1, 2024 10:05:00 AM\n" +
		"\n" +
		"You have power over your mind.\n" +
		"==========\n"

	resp := ts.api.Post("/api/v1/import",
		"X-User-ID: "+testUserID,
		map[string]any{"content": clippings})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out ImportResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, 2, out.Imported)
	assert.Equal(t, 1, out.Books)

	// Idempotent re-import.
	resp = ts.api.Post("/api/v1/import",
		"X-User-ID: "+testUserID,
		map[string]any{"content": clippings})
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, 0, out.Imported)
	assert.Equal(t, 2, out.Skipped)
}
