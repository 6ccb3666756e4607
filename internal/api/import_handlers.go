package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/marginalia-app/marginalia-server/internal/errors"
	"github.com/marginalia-app/marginalia-server/internal/importer"
)

func (s *Server) registerImportRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "importHighlights",
		Method:      http.MethodPost,
		Path:        "/api/v1/import",
		Summary:     "Import highlights",
		Description: "Imports a Kindle My Clippings export or an HTML notebook export. Re-importing the same file is idempotent.",
		Tags:        []string{"Import"},
	}, s.handleImport)
}

// === DTOs ===

// ImportRequest is the request body for importing highlights.
type ImportRequest struct {
	Format  string `json:"format,omitempty" validate:"omitempty,oneof=clippings html" doc:"Export format (auto-detected when omitted)"`
	Content string `json:"content" validate:"required,min=1" doc:"Raw export file content"`
}

// ImportInput wraps the import request for Huma.
type ImportInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
	Body    ImportRequest
}

// ImportResponse summarizes an import run.
type ImportResponse struct {
	Imported int `json:"imported" doc:"Highlights created"`
	Skipped  int `json:"skipped" doc:"Entries skipped (duplicates or empty)"`
	Books    int `json:"books" doc:"Books created"`
}

// ImportOutput wraps the import response for Huma.
type ImportOutput struct {
	Body ImportResponse
}

// === Handlers ===

func (s *Server) handleImport(ctx context.Context, input *ImportInput) (*ImportOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	format := input.Body.Format
	if format == "" {
		if importer.ContainsHTML(input.Body.Content) {
			format = "html"
		} else {
			format = "clippings"
		}
	}

	var entries []importer.Entry
	switch format {
	case "html":
		entries, err = importer.ParseHTML(strings.NewReader(input.Body.Content))
	case "clippings":
		entries, err = importer.ParseClippings(strings.NewReader(input.Body.Content))
	}
	if err != nil {
		return nil, domainerrors.Validation("could not parse export file").WithCause(err)
	}

	result, err := s.services.Highlight.Import(ctx, ownerID, entries)
	if err != nil {
		return nil, err
	}

	return &ImportOutput{Body: ImportResponse{
		Imported: result.Imported,
		Skipped:  result.Skipped,
		Books:    result.Books,
	}}, nil
}
