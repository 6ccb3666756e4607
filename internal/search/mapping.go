package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// buildIndexMapping creates the Bleve index mapping for highlight documents.
//
// The mapping is designed with these priorities:
//  1. Fast full-text search on highlight content with English stemming
//  2. Secondary relevance from book title and author
//  3. Exact keyword matching for owner and tag filters
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	// Use English analyzer as default for text fields
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()

	// --- Text fields (full-text searchable) ---

	// Content - primary search target
	contentFieldMapping := bleve.NewTextFieldMapping()
	contentFieldMapping.Analyzer = en.AnalyzerName
	contentFieldMapping.Store = true
	contentFieldMapping.IncludeTermVectors = true // For highlighting
	docMapping.AddFieldMappingsAt("content", contentFieldMapping)

	// Note - the reader's annotation, searchable
	noteFieldMapping := bleve.NewTextFieldMapping()
	noteFieldMapping.Analyzer = en.AnalyzerName
	noteFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("note", noteFieldMapping)

	// Book title - searchable, secondary relevance
	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = en.AnalyzerName
	titleFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("book_title", titleFieldMapping)

	// Book author - searchable with simple analyzer (no stemming of names)
	authorFieldMapping := bleve.NewTextFieldMapping()
	authorFieldMapping.Analyzer = simple.Name
	authorFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("book_author", authorFieldMapping)

	// Chapter - simple analyzer, chapter titles are short labels
	chapterFieldMapping := bleve.NewTextFieldMapping()
	chapterFieldMapping.Analyzer = simple.Name
	chapterFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("chapter", chapterFieldMapping)

	// --- Keyword fields (exact match filters) ---

	// Owner - every query is scoped to one owner
	ownerFieldMapping := bleve.NewTextFieldMapping()
	ownerFieldMapping.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("owner_id", ownerFieldMapping)

	bookFieldMapping := bleve.NewTextFieldMapping()
	bookFieldMapping.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("book_id", bookFieldMapping)

	idFieldMapping := bleve.NewTextFieldMapping()
	idFieldMapping.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("id", idFieldMapping)

	// Tag IDs - keyword analyzer keeps IDs intact for exact filtering
	tagsFieldMapping := bleve.NewTextFieldMapping()
	tagsFieldMapping.Analyzer = keyword.Name
	tagsFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("tag_ids", tagsFieldMapping)

	// --- Numeric fields ---

	createdAtFieldMapping := bleve.NewNumericFieldMapping()
	createdAtFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("created_at", createdAtFieldMapping)

	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}
