package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/embedding"
	"github.com/marginalia-app/marginalia-server/internal/search"
	"github.com/marginalia-app/marginalia-server/internal/store"
)

// fakeStore is an in-memory store backing the service tests. It implements
// the store interfaces the services consume so each test controls exactly
// what persistence returns.
type fakeStore struct {
	mu            sync.Mutex
	highlights    map[string]*domain.Highlight
	books         map[string]*domain.Book
	tags          map[string]*domain.Tag
	highlightTags map[string][]string
	bookTags      map[string][]string

	// vectorHits is returned verbatim from VectorSearch, truncated to the
	// requested limit.
	vectorHits      []store.VectorHit
	vectorErr       error
	vectorCalls     int
	lastVectorLimit int

	contentUpdates int
	metaUpdates    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		highlights:    make(map[string]*domain.Highlight),
		books:         make(map[string]*domain.Book),
		tags:          make(map[string]*domain.Tag),
		highlightTags: make(map[string][]string),
		bookTags:      make(map[string][]string),
	}
}

func (f *fakeStore) addBook(id, ownerID, title, author string) *domain.Book {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := &domain.Book{ID: id, OwnerID: ownerID, Title: title, Author: author, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.books[id] = b
	return b
}

func (f *fakeStore) addHighlight(id, ownerID, bookID, content string) *domain.Highlight {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &domain.Highlight{ID: id, OwnerID: ownerID, BookID: bookID, Content: content, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.highlights[id] = h
	return h
}

func (f *fakeStore) addTag(id, slug string) *domain.Tag {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &domain.Tag{ID: id, Slug: slug, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.tags[id] = t
	return t
}

// --- highlights ---

func (f *fakeStore) CreateHighlight(ctx context.Context, h *domain.Highlight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.highlights[h.ID]; ok {
		return store.ErrAlreadyExists
	}
	cp := *h
	f.highlights[h.ID] = &cp
	return nil
}

func (f *fakeStore) GetHighlightByID(ctx context.Context, id string) (*domain.Highlight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.highlights[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (f *fakeStore) GetHighlightsByIDs(ctx context.Context, ids []string) (map[string]*domain.Highlight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*domain.Highlight)
	for _, id := range ids {
		if h, ok := f.highlights[id]; ok {
			cp := *h
			out[id] = &cp
		}
	}
	return out, nil
}

func (f *fakeStore) ListHighlights(ctx context.Context, ownerID, bookID string, limit, offset int) ([]*domain.Highlight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*domain.Highlight
	for _, h := range f.highlights {
		if h.OwnerID != ownerID {
			continue
		}
		if bookID != "" && h.BookID != bookID {
			continue
		}
		cp := *h
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeStore) ListAllHighlights(ctx context.Context) ([]*domain.Highlight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*domain.Highlight
	for _, h := range f.highlights {
		cp := *h
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

func (f *fakeStore) UpdateHighlightContent(ctx context.Context, h *domain.Highlight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.highlights[h.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Content = h.Content
	cur.Chapter = h.Chapter
	cur.Page = h.Page
	cur.Note = h.Note
	cur.Embedding = nil
	cur.UpdatedAt = h.UpdatedAt
	f.contentUpdates++
	return nil
}

func (f *fakeStore) UpdateHighlightMeta(ctx context.Context, h *domain.Highlight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.highlights[h.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Chapter = h.Chapter
	cur.Page = h.Page
	cur.Note = h.Note
	cur.UpdatedAt = h.UpdatedAt
	f.metaUpdates++
	return nil
}

func (f *fakeStore) DeleteHighlight(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.highlights[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.highlights, id)
	delete(f.highlightTags, id)
	return nil
}

func (f *fakeStore) FindDuplicateHighlight(ctx context.Context, ownerID, bookID, content string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.highlights {
		if h.OwnerID == ownerID && h.BookID == bookID && h.Content == content {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) SetHighlightTags(ctx context.Context, highlightID string, tagIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.highlightTags[highlightID] = append([]string(nil), tagIDs...)
	return nil
}

// --- books ---

func (f *fakeStore) GetBookByID(ctx context.Context, id string) (*domain.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) GetBooksByIDs(ctx context.Context, ids []string) (map[string]*domain.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*domain.Book)
	for _, id := range ids {
		if b, ok := f.books[id]; ok {
			cp := *b
			out[id] = &cp
		}
	}
	return out, nil
}

func (f *fakeStore) ListBooks(ctx context.Context, ownerID string) ([]*domain.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*domain.Book
	for _, b := range f.books {
		if b.OwnerID != ownerID {
			continue
		}
		cp := *b
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Title < all[j].Title })
	return all, nil
}

func (f *fakeStore) UpdateBook(ctx context.Context, b *domain.Book) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[b.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *b
	f.books[b.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteBook(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.books, id)
	delete(f.bookTags, id)
	for hid, h := range f.highlights {
		if h.BookID == id {
			delete(f.highlights, hid)
			delete(f.highlightTags, hid)
		}
	}
	return nil
}

func (f *fakeStore) FindOrCreateBook(ctx context.Context, ownerID, title, author string) (*domain.Book, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.books {
		if b.OwnerID == ownerID && b.Title == title && b.Author == author {
			cp := *b
			return &cp, false, nil
		}
	}
	b := &domain.Book{
		ID:        fmt.Sprintf("book_%d", len(f.books)+1),
		OwnerID:   ownerID,
		Title:     title,
		Author:    author,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.books[b.ID] = b
	cp := *b
	return &cp, true, nil
}

func (f *fakeStore) SetBookTags(ctx context.Context, bookID string, tagIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookTags[bookID] = append([]string(nil), tagIDs...)
	return nil
}

// --- tags ---

func (f *fakeStore) CreateTag(ctx context.Context, t *domain.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cur := range f.tags {
		if cur.Slug == t.Slug {
			return store.ErrAlreadyExists
		}
	}
	cp := *t
	f.tags[t.ID] = &cp
	return nil
}

func (f *fakeStore) GetTagByID(ctx context.Context, id string) (*domain.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tags[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) GetTagBySlug(ctx context.Context, slug string) (*domain.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tags {
		if t.Slug == slug {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListTags(ctx context.Context) ([]*domain.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*domain.Tag
	for _, t := range f.tags {
		cp := *t
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Slug < all[j].Slug })
	return all, nil
}

func (f *fakeStore) UpdateTag(ctx context.Context, t *domain.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tags[t.ID]; !ok {
		return store.ErrNotFound
	}
	for _, cur := range f.tags {
		if cur.ID != t.ID && cur.Slug == t.Slug {
			return store.ErrAlreadyExists
		}
	}
	cp := *t
	f.tags[t.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteTag(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tags[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.tags, id)
	for hid, tagIDs := range f.highlightTags {
		f.highlightTags[hid] = removeID(tagIDs, id)
	}
	for bid, tagIDs := range f.bookTags {
		f.bookTags[bid] = removeID(tagIDs, id)
	}
	return nil
}

func (f *fakeStore) FindOrCreateTagBySlug(ctx context.Context, slug string) (*domain.Tag, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tags {
		if t.Slug == slug {
			cp := *t
			return &cp, false, nil
		}
	}
	t := &domain.Tag{ID: fmt.Sprintf("tag_%d", len(f.tags)+1), Slug: slug, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.tags[t.ID] = t
	cp := *t
	return &cp, true, nil
}

func (f *fakeStore) GetTagsForHighlights(ctx context.Context, ids []string) (map[string][]*domain.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]*domain.Tag)
	for _, id := range ids {
		out[id] = f.resolveTags(f.highlightTags[id])
	}
	return out, nil
}

func (f *fakeStore) GetTagsForBooks(ctx context.Context, ids []string) (map[string][]*domain.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]*domain.Tag)
	for _, id := range ids {
		out[id] = f.resolveTags(f.bookTags[id])
	}
	return out, nil
}

func (f *fakeStore) ListHighlightIDsByTag(ctx context.Context, tagID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	for hid, tagIDs := range f.highlightTags {
		if containsID(tagIDs, tagID) {
			seen[hid] = true
		}
	}
	for bid, tagIDs := range f.bookTags {
		if !containsID(tagIDs, tagID) {
			continue
		}
		for hid, h := range f.highlights {
			if h.BookID == bid {
				seen[hid] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) resolveTags(tagIDs []string) []*domain.Tag {
	var tags []*domain.Tag
	for _, id := range tagIDs {
		if t, ok := f.tags[id]; ok {
			cp := *t
			tags = append(tags, &cp)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Slug < tags[j].Slug })
	return tags
}

// --- embeddings ---

func (f *fakeStore) VectorSearch(ctx context.Context, ownerID string, query []float32, tagIDs []string, limit int) ([]store.VectorHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectorCalls++
	f.lastVectorLimit = limit
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	hits := append([]store.VectorHit(nil), f.vectorHits...)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *fakeStore) CountEmbeddingStatus(ctx context.Context, ownerID string) (store.EmbeddingCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var counts store.EmbeddingCounts
	for _, h := range f.highlights {
		if ownerID != "" && h.OwnerID != ownerID {
			continue
		}
		if h.HasEmbedding() {
			counts.WithEmbedding++
		} else {
			counts.WithoutEmbedding++
		}
	}
	return counts, nil
}

func (f *fakeStore) FindUnembedded(ctx context.Context, ownerID string, limit int) ([]*domain.Highlight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Highlight
	for _, h := range f.highlights {
		if ownerID != "" && h.OwnerID != ownerID {
			continue
		}
		if h.HasEmbedding() {
			continue
		}
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, cur := range ids {
		if cur != id {
			out = append(out, cur)
		}
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, cur := range ids {
		if cur == id {
			return true
		}
	}
	return false
}

// stubEmbedder returns a fixed vector and counts calls.
type stubEmbedder struct {
	vec    []float32
	err    error
	calls  atomic.Int64
	loaded bool
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

func (e *stubEmbedder) Dimensions() int { return len(e.vec) }
func (e *stubEmbedder) Loaded() bool    { return e.loaded }
func (e *stubEmbedder) Close() error    { return nil }

// stubQueue records enqueued highlight IDs.
type stubQueue struct {
	mu       sync.Mutex
	enqueued []string
	status   embedding.Status
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

func (q *stubQueue) Status() embedding.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

func (q *stubQueue) ids() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.enqueued...)
}

// newTestSearchService wires a real Bleve index in a temp directory to the
// fake store so the keyword channel behaves like production.
func newTestSearchService(t *testing.T, fs *fakeStore, e embedding.Embedder, q Queue) *SearchService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	idx, err := search.NewIndex(search.Options{DataPath: t.TempDir(), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return NewSearchService(idx, fs, e, q, logger)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
