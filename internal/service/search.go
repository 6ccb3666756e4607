package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/embedding"
	"github.com/marginalia-app/marginalia-server/internal/errors"
	"github.com/marginalia-app/marginalia-server/internal/search"
	"github.com/marginalia-app/marginalia-server/internal/store"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50

	// Each channel fetches a multiple of the requested limit so fusion has
	// candidates that only one channel ranked highly, capped to bound the
	// vector scan and the Bleve request.
	fetchFactor = 3
	maxFetch    = 100

	// searchTimeout bounds the whole hybrid search, including a possible
	// first-call model load on the query embedding.
	searchTimeout = 30 * time.Second

	// reembedLimit caps a single on-demand re-embedding request.
	reembedLimit = 500

	relatedTagsLimit = 10
)

// SearchStore is the persistence surface hybrid search needs.
type SearchStore interface {
	VectorSearch(ctx context.Context, ownerID string, query []float32, tagIDs []string, limit int) ([]store.VectorHit, error)
	GetHighlightsByIDs(ctx context.Context, highlightIDs []string) (map[string]*domain.Highlight, error)
	GetBooksByIDs(ctx context.Context, bookIDs []string) (map[string]*domain.Book, error)
	GetTagsForHighlights(ctx context.Context, highlightIDs []string) (map[string][]*domain.Tag, error)
	GetTagsForBooks(ctx context.Context, bookIDs []string) (map[string][]*domain.Tag, error)
	CountEmbeddingStatus(ctx context.Context, ownerID string) (store.EmbeddingCounts, error)
	FindUnembedded(ctx context.Context, ownerID string, limit int) ([]*domain.Highlight, error)
	ListAllHighlights(ctx context.Context) ([]*domain.Highlight, error)
	ListHighlightIDsByTag(ctx context.Context, tagID string) ([]string, error)
}

// Queue is the slice of the embedding queue the search service uses.
type Queue interface {
	Enqueue(highlightID string)
	EnqueueBatch(highlightIDs []string)
	Status() embedding.Status
}

// SearchParams configures a hybrid search.
type SearchParams struct {
	OwnerID string
	Query   string
	TagIDs  []string
	Limit   int
}

// SearchItem is one result with everything a client renders.
type SearchItem struct {
	Highlight      *domain.Highlight `json:"highlight"`
	Book           *domain.Book      `json:"book,omitempty"`
	Tags           []*domain.Tag     `json:"tags"`
	Similarity     float64           `json:"similarity"`
	KeywordMatched bool              `json:"keyword_matched"`
}

// RelatedTag is a tag carried by the returned results, with how many of
// them carry it.
type RelatedTag struct {
	*domain.Tag
	Count int `json:"count"`
}

// SearchResult is a ranked hybrid search response.
type SearchResult struct {
	Query        string        `json:"query"`
	Items        []*SearchItem `json:"items"`
	RelatedTags  []*RelatedTag `json:"related_tags"`
	FilterTagIDs []string      `json:"filter_tag_ids"`
	TookMs       int64         `json:"took_ms"`
}

// EmbeddingStatus reports embedding coverage and queue health for an owner.
type EmbeddingStatus struct {
	WithEmbedding    int              `json:"with_embedding"`
	WithoutEmbedding int              `json:"without_embedding"`
	ModelLoaded      bool             `json:"model_loaded"`
	Queue            embedding.Status `json:"queue"`
}

// SearchService runs hybrid retrieval: a semantic vector channel and a
// lexical Bleve channel queried concurrently, merged with reciprocal rank
// fusion. It also owns search index maintenance, since it is the only
// component that knows how highlights are represented in the index.
type SearchService struct {
	index    *search.Index
	store    SearchStore
	embedder embedding.Embedder
	queue    Queue
	logger   *slog.Logger
}

// NewSearchService creates a new search service.
func NewSearchService(index *search.Index, st SearchStore, embedder embedding.Embedder, queue Queue, logger *slog.Logger) *SearchService {
	return &SearchService{
		index:    index,
		store:    st,
		embedder: embedder,
		queue:    queue,
		logger:   logger,
	}
}

// Search runs the hybrid query and returns ranked, fully hydrated results.
//
// An unanswerable query (blank text) fails before any storage or model
// work. If the query embedding cannot be computed the whole search fails;
// falling back to lexical-only would silently change result semantics.
// Either retrieval channel failing fails the search for the same reason.
func (s *SearchService) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, errors.InvalidQuery("search query cannot be empty")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	start := time.Now()

	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.EmbeddingUnavailable("could not embed search query").WithCause(err)
	}

	fetchLimit := limit * fetchFactor
	if fetchLimit > maxFetch {
		fetchLimit = maxFetch
	}

	var (
		semanticHits []store.VectorHit
		keywordHits  []search.KeywordHit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semanticHits, err = s.store.VectorSearch(gctx, params.OwnerID, queryVector, params.TagIDs, fetchLimit)
		if err != nil {
			return fmt.Errorf("semantic channel: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		keywordHits, err = s.index.SearchKeyword(gctx, search.KeywordParams{
			OwnerID: params.OwnerID,
			Query:   query,
			TagIDs:  params.TagIDs,
			Limit:   fetchLimit,
		})
		if err != nil {
			return fmt.Errorf("keyword channel: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	semanticIDs := make([]string, len(semanticHits))
	for i, h := range semanticHits {
		semanticIDs[i] = h.HighlightID
	}
	keywordIDs := make([]string, len(keywordHits))
	for i, h := range keywordHits {
		keywordIDs[i] = h.HighlightID
	}

	fused := search.Fuse(semanticIDs, keywordIDs)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	items, relatedTags, err := s.hydrate(ctx, fused)
	if err != nil {
		return nil, err
	}

	return &SearchResult{
		Query:        query,
		Items:        items,
		RelatedTags:  relatedTags,
		FilterTagIDs: append([]string{}, params.TagIDs...),
		TookMs:       time.Since(start).Milliseconds(),
	}, nil
}

// hydrate loads highlights, books, and tags for the fused hits in batch
// queries and assembles result items. Highlights deleted between retrieval
// and hydration are dropped.
func (s *SearchService) hydrate(ctx context.Context, fused []search.FusedHit) ([]*SearchItem, []*RelatedTag, error) {
	if len(fused) == 0 {
		return []*SearchItem{}, []*RelatedTag{}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.HighlightID
	}

	highlights, err := s.store.GetHighlightsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load highlights: %w", err)
	}

	bookIDSet := make(map[string]bool)
	for _, h := range highlights {
		bookIDSet[h.BookID] = true
	}
	bookIDs := make([]string, 0, len(bookIDSet))
	for id := range bookIDSet {
		bookIDs = append(bookIDs, id)
	}

	books, err := s.store.GetBooksByIDs(ctx, bookIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load books: %w", err)
	}
	highlightTags, err := s.store.GetTagsForHighlights(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load highlight tags: %w", err)
	}
	bookTags, err := s.store.GetTagsForBooks(ctx, bookIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load book tags: %w", err)
	}

	items := make([]*SearchItem, 0, len(fused))
	tagCounts := make(map[string]int)
	tagByID := make(map[string]*domain.Tag)

	for _, f := range fused {
		h, ok := highlights[f.HighlightID]
		if !ok {
			continue
		}
		tags := domain.EffectiveTags(highlightTags[h.ID], bookTags[h.BookID])
		for _, tag := range tags {
			tagCounts[tag.ID]++
			tagByID[tag.ID] = tag
		}
		items = append(items, &SearchItem{
			Highlight:      h,
			Book:           books[h.BookID],
			Tags:           tags,
			Similarity:     f.Similarity(),
			KeywordMatched: f.KeywordMatched(),
		})
	}

	return items, topTags(tagCounts, tagByID, relatedTagsLimit), nil
}

// topTags ranks tags by how many results carry them, frequency first,
// slug as tie-break.
func topTags(counts map[string]int, byID map[string]*domain.Tag, limit int) []*RelatedTag {
	tags := make([]*RelatedTag, 0, len(byID))
	for id := range byID {
		tags = append(tags, &RelatedTag{Tag: byID[id], Count: counts[id]})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Slug < tags[j].Slug
	})
	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}

// RequestReembedding schedules the owner's unembedded highlights, up to a
// cap, and returns how many were queued.
func (s *SearchService) RequestReembedding(ctx context.Context, ownerID string) (int, error) {
	missing, err := s.store.FindUnembedded(ctx, ownerID, reembedLimit)
	if err != nil {
		return 0, fmt.Errorf("find unembedded: %w", err)
	}
	ids := make([]string, len(missing))
	for i, h := range missing {
		ids[i] = h.ID
	}
	s.queue.EnqueueBatch(ids)
	s.logger.Info("requested re-embedding", "owner_id", ownerID, "count", len(missing))
	return len(missing), nil
}

// Status reports embedding coverage for an owner plus queue and model state.
func (s *SearchService) Status(ctx context.Context, ownerID string) (*EmbeddingStatus, error) {
	counts, err := s.store.CountEmbeddingStatus(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count embedding status: %w", err)
	}
	return &EmbeddingStatus{
		WithEmbedding:    counts.WithEmbedding,
		WithoutEmbedding: counts.WithoutEmbedding,
		ModelLoaded:      s.embedder.Loaded(),
		Queue:            s.queue.Status(),
	}, nil
}

// --- Index maintenance ---

// IndexHighlight writes one highlight document to the search index.
func (s *SearchService) IndexHighlight(ctx context.Context, h *domain.Highlight) error {
	doc, err := s.buildDocument(ctx, h)
	if err != nil {
		return fmt.Errorf("build document: %w", err)
	}
	if err := s.index.IndexDocument(doc); err != nil {
		return fmt.Errorf("index document: %w", err)
	}
	s.logger.Debug("indexed highlight", "id", h.ID)
	return nil
}

// RemoveFromIndex deletes highlight documents from the search index.
func (s *SearchService) RemoveFromIndex(ids ...string) error {
	return s.index.DeleteDocuments(ids)
}

// ReindexHighlightsByIDs refreshes the documents for the given highlights.
// IDs that no longer resolve are removed from the index instead.
func (s *SearchService) ReindexHighlightsByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	highlights, err := s.store.GetHighlightsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load highlights: %w", err)
	}

	var stale []string
	for _, id := range ids {
		if _, ok := highlights[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.index.DeleteDocuments(stale); err != nil {
			return fmt.Errorf("delete stale documents: %w", err)
		}
	}

	hs := make([]*domain.Highlight, 0, len(highlights))
	for _, h := range highlights {
		hs = append(hs, h)
	}
	docs, err := s.buildDocuments(ctx, hs)
	if err != nil {
		return err
	}
	return s.index.IndexDocuments(docs)
}

// ReindexTag refreshes every highlight affected by a tag, directly or via
// its book. Call after tag associations change or a tag is deleted.
func (s *SearchService) ReindexTag(ctx context.Context, tagID string) error {
	ids, err := s.store.ListHighlightIDsByTag(ctx, tagID)
	if err != nil {
		return fmt.Errorf("list highlights for tag: %w", err)
	}
	return s.ReindexHighlightsByIDs(ctx, ids)
}

// ReindexAll rebuilds the entire search index from the store.
// This is a heavy operation - use sparingly.
func (s *SearchService) ReindexAll(ctx context.Context) error {
	s.logger.Info("starting full reindex")

	if err := s.index.Rebuild(); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	highlights, err := s.store.ListAllHighlights(ctx)
	if err != nil {
		return fmt.Errorf("list highlights: %w", err)
	}

	docs, err := s.buildDocuments(ctx, highlights)
	if err != nil {
		return err
	}
	if len(docs) > 0 {
		if err := s.index.IndexDocuments(docs); err != nil {
			return fmt.Errorf("index highlights: %w", err)
		}
	}

	total, _ := s.index.DocumentCount()
	s.logger.Info("full reindex complete", "total_documents", total)
	return nil
}

// buildDocument creates an index document with denormalized book fields
// and effective tag IDs.
func (s *SearchService) buildDocument(ctx context.Context, h *domain.Highlight) (*search.HighlightDocument, error) {
	docs, err := s.buildDocuments(ctx, []*domain.Highlight{h})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

// buildDocuments batches the book and tag lookups for a set of highlights.
func (s *SearchService) buildDocuments(ctx context.Context, hs []*domain.Highlight) ([]*search.HighlightDocument, error) {
	if len(hs) == 0 {
		return nil, nil
	}

	highlightIDs := make([]string, len(hs))
	bookIDSet := make(map[string]bool)
	for i, h := range hs {
		highlightIDs[i] = h.ID
		bookIDSet[h.BookID] = true
	}
	bookIDs := make([]string, 0, len(bookIDSet))
	for id := range bookIDSet {
		bookIDs = append(bookIDs, id)
	}

	books, err := s.store.GetBooksByIDs(ctx, bookIDs)
	if err != nil {
		return nil, fmt.Errorf("load books: %w", err)
	}
	highlightTags, err := s.store.GetTagsForHighlights(ctx, highlightIDs)
	if err != nil {
		return nil, fmt.Errorf("load highlight tags: %w", err)
	}
	bookTags, err := s.store.GetTagsForBooks(ctx, bookIDs)
	if err != nil {
		return nil, fmt.Errorf("load book tags: %w", err)
	}

	docs := make([]*search.HighlightDocument, 0, len(hs))
	for _, h := range hs {
		tags := domain.EffectiveTags(highlightTags[h.ID], bookTags[h.BookID])
		tagIDs := make([]string, len(tags))
		for i, t := range tags {
			tagIDs[i] = t.ID
		}
		docs = append(docs, search.HighlightToDocument(h, books[h.BookID], tagIDs))
	}
	return docs, nil
}
