package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// KeywordParams configures a lexical highlight query.
type KeywordParams struct {
	OwnerID string   // Required; every query is scoped to one owner
	Query   string   // User's search text
	TagIDs  []string // Optional tag filter (OR across IDs)
	Limit   int      // Maximum hits to return
}

// KeywordHit is a single lexical match, in descending score order.
type KeywordHit struct {
	HighlightID string
	Score       float64
}

// SearchKeyword executes a lexical query and returns ranked highlight IDs.
//
// Search strategy:
//   - Highlight content carries the highest boost; it is what the reader
//     actually saved.
//   - Book title and author are secondary so "seneca" surfaces everything
//     highlighted from Seneca even when the text never names him.
//   - A fuzzy content query gives single-edit typo tolerance.
func (s *Index) SearchKeyword(ctx context.Context, params KeywordParams) ([]KeywordHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	searchQuery := buildKeywordQuery(params)

	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}

	searchRequest := bleve.NewSearchRequestOptions(searchQuery, limit, 0, false)
	searchRequest.SortBy([]string{"-_score", "_id"})

	searchResult, err := s.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	hits := make([]KeywordHit, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		hits = append(hits, KeywordHit{
			HighlightID: hit.ID,
			Score:       hit.Score,
		})
	}
	return hits, nil
}

// buildKeywordQuery constructs the Bleve query from params.
func buildKeywordQuery(params KeywordParams) query.Query {
	var queries []query.Query

	// Owner filter; non-negotiable scope for every query.
	ownerQuery := bleve.NewTermQuery(params.OwnerID)
	ownerQuery.SetField("owner_id")
	queries = append(queries, ownerQuery)

	if params.Query != "" {
		textQueries := []query.Query{}

		contentMatch := bleve.NewMatchQuery(params.Query)
		contentMatch.SetField("content")
		contentMatch.SetBoost(3.0)
		textQueries = append(textQueries, contentMatch)

		noteMatch := bleve.NewMatchQuery(params.Query)
		noteMatch.SetField("note")
		noteMatch.SetBoost(2.0)
		textQueries = append(textQueries, noteMatch)

		titleMatch := bleve.NewMatchQuery(params.Query)
		titleMatch.SetField("book_title")
		titleMatch.SetBoost(1.5)
		textQueries = append(textQueries, titleMatch)

		authorMatch := bleve.NewMatchQuery(params.Query)
		authorMatch.SetField("book_author")
		textQueries = append(textQueries, authorMatch)

		// Fuzzy matching for typo tolerance on content
		fuzzyQuery := bleve.NewFuzzyQuery(strings.ToLower(params.Query))
		fuzzyQuery.SetFuzziness(1)
		fuzzyQuery.SetField("content")
		fuzzyQuery.SetBoost(0.8)
		textQueries = append(textQueries, fuzzyQuery)

		queries = append(queries, bleve.NewDisjunctionQuery(textQueries...))
	}

	// Tag filter (exact match, OR across IDs)
	if len(params.TagIDs) > 0 {
		tagQueries := make([]query.Query, len(params.TagIDs))
		for i, tagID := range params.TagIDs {
			tq := bleve.NewTermQuery(tagID)
			tq.SetField("tag_ids")
			tagQueries[i] = tq
		}
		queries = append(queries, bleve.NewDisjunctionQuery(tagQueries...))
	}

	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewConjunctionQuery(queries...)
}
