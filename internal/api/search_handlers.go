package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/marginalia-app/marginalia-server/internal/service"
)

func (s *Server) registerSearchRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodGet,
		Path:        "/api/v1/search",
		Summary:     "Search highlights",
		Description: "Hybrid semantic and keyword search over the user's highlights",
		Tags:        []string{"Search"},
	}, s.handleSearch)

	huma.Register(s.api, huma.Operation{
		OperationID: "getEmbeddingStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/search/status",
		Summary:     "Embedding status",
		Description: "Reports embedding coverage, queue depth, and model state",
		Tags:        []string{"Search"},
	}, s.handleEmbeddingStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "requestReembedding",
		Method:      http.MethodPost,
		Path:        "/api/v1/search/reembed",
		Summary:     "Request re-embedding",
		Description: "Queues the user's unembedded highlights for embedding",
		Tags:        []string{"Search"},
	}, s.handleReembed)

	huma.Register(s.api, huma.Operation{
		OperationID: "reindexSearch",
		Method:      http.MethodPost,
		Path:        "/api/v1/search/reindex",
		Summary:     "Rebuild search index",
		Description: "Rebuilds the keyword index from stored highlights",
		Tags:        []string{"Search"},
	}, s.handleReindex)
}

// === DTOs ===

// SearchInput contains parameters for searching highlights. The service
// rejects blank queries and clamps the limit, so no body validation runs.
type SearchInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
	Query   string `query:"q" doc:"Search query"`
	Tags    string `query:"tags" doc:"Comma-separated tag IDs to filter by"`
	Limit   int    `query:"limit" doc:"Max results (default 10)"`
}

// SearchHitResult contains a single ranked search result.
type SearchHitResult struct {
	Highlight      HighlightResponse `json:"highlight" doc:"The matching highlight"`
	Similarity     float64           `json:"similarity" doc:"Normalized relevance in (0, 1]"`
	KeywordMatched bool              `json:"keyword_matched" doc:"Whether the keyword channel matched"`
}

// RelatedTagResult is a tag shared by the returned results, with how
// many of them carry it.
type RelatedTagResult struct {
	TagResponse
	Count int `json:"count" doc:"Results carrying this tag"`
}

// SearchResponse contains ranked search results.
type SearchResponse struct {
	Query        string             `json:"query" doc:"Original search query"`
	Hits         []SearchHitResult  `json:"hits" doc:"Ranked results"`
	RelatedTags  []RelatedTagResult `json:"related_tags" doc:"Tags common among the results"`
	FilterTagIDs []string           `json:"filter_tag_ids" doc:"Tag filter applied to the search"`
	TookMs       int64              `json:"took_ms" doc:"Search duration in milliseconds"`
}

// SearchOutput wraps the search response for Huma.
type SearchOutput struct {
	Body SearchResponse
}

// EmbeddingStatusInput contains parameters for the status endpoint.
type EmbeddingStatusInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
}

// EmbeddingStatusResponse reports embedding coverage and queue health.
type EmbeddingStatusResponse struct {
	WithEmbedding    int    `json:"with_embedding" doc:"Highlights with a stored vector"`
	WithoutEmbedding int    `json:"without_embedding" doc:"Highlights awaiting embedding"`
	ModelLoaded      bool   `json:"model_loaded" doc:"Whether the embedding model is in memory"`
	QueuePending     int    `json:"queue_pending" doc:"Jobs waiting in the embedding queue"`
	QueueProcessing  bool   `json:"queue_processing" doc:"Whether a job is being processed"`
	QueueFailed      uint64 `json:"queue_failed" doc:"Jobs dropped after failing"`
}

// EmbeddingStatusOutput wraps the status response for Huma.
type EmbeddingStatusOutput struct {
	Body EmbeddingStatusResponse
}

// ReembedInput contains parameters for requesting re-embedding.
type ReembedInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
}

// ReembedResponse reports how many highlights were queued.
type ReembedResponse struct {
	Queued int `json:"queued" doc:"Highlights queued for embedding"`
}

// ReembedOutput wraps the reembed response for Huma.
type ReembedOutput struct {
	Body ReembedResponse
}

// ReindexInput contains parameters for rebuilding the index.
type ReindexInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
}

// MessageResponse carries a simple confirmation message.
type MessageResponse struct {
	Message string `json:"message" doc:"Confirmation message"`
}

// MessageOutput wraps a message response for Huma.
type MessageOutput struct {
	Body MessageResponse
}

// === Handlers ===

func (s *Server) handleSearch(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}

	// Search loads the embedding model on first use; keep clients honest.
	if !s.searchLimiter.Allow(ownerID) {
		return nil, huma.Error429TooManyRequests("Too many search requests, slow down")
	}

	params := service.SearchParams{
		OwnerID: ownerID,
		Query:   input.Query,
		Limit:   input.Limit,
	}
	if input.Tags != "" {
		for _, tagID := range strings.Split(input.Tags, ",") {
			tagID = strings.TrimSpace(tagID)
			if tagID != "" {
				params.TagIDs = append(params.TagIDs, tagID)
			}
		}
	}

	result, err := s.services.Search.Search(ctx, params)
	if err != nil {
		s.logger.Error("search failed", "query", input.Query, "error", err)
		return nil, err
	}

	resp := SearchResponse{
		Query:        result.Query,
		Hits:         make([]SearchHitResult, 0, len(result.Items)),
		RelatedTags:  make([]RelatedTagResult, 0, len(result.RelatedTags)),
		FilterTagIDs: result.FilterTagIDs,
		TookMs:       result.TookMs,
	}
	for _, rt := range result.RelatedTags {
		resp.RelatedTags = append(resp.RelatedTags, RelatedTagResult{
			TagResponse: toTagResponse(rt.Tag),
			Count:       rt.Count,
		})
	}
	for _, item := range result.Items {
		resp.Hits = append(resp.Hits, SearchHitResult{
			Highlight: toHighlightResponse(&service.HighlightView{
				Highlight: item.Highlight,
				Book:      item.Book,
				Tags:      item.Tags,
			}),
			Similarity:     item.Similarity,
			KeywordMatched: item.KeywordMatched,
		})
	}

	return &SearchOutput{Body: resp}, nil
}

func (s *Server) handleEmbeddingStatus(ctx context.Context, input *EmbeddingStatusInput) (*EmbeddingStatusOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}

	status, err := s.services.Search.Status(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	return &EmbeddingStatusOutput{Body: EmbeddingStatusResponse{
		WithEmbedding:    status.WithEmbedding,
		WithoutEmbedding: status.WithoutEmbedding,
		ModelLoaded:      status.ModelLoaded,
		QueuePending:     status.Queue.Pending,
		QueueProcessing:  status.Queue.Processing,
		QueueFailed:      status.Queue.Failed,
	}}, nil
}

func (s *Server) handleReembed(ctx context.Context, input *ReembedInput) (*ReembedOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}

	queued, err := s.services.Search.RequestReembedding(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	return &ReembedOutput{Body: ReembedResponse{Queued: queued}}, nil
}

func (s *Server) handleReindex(ctx context.Context, input *ReindexInput) (*MessageOutput, error) {
	if _, err := s.ownerID(input.XUserID); err != nil {
		return nil, err
	}

	if err := s.services.Search.ReindexAll(ctx); err != nil {
		return nil, err
	}

	return &MessageOutput{Body: MessageResponse{Message: "Search index rebuilt"}}, nil
}
