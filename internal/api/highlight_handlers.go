package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/marginalia-app/marginalia-server/internal/service"
)

func (s *Server) registerHighlightRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listHighlights",
		Method:      http.MethodGet,
		Path:        "/api/v1/highlights",
		Summary:     "List highlights",
		Description: "Returns a page of the user's highlights, newest first",
		Tags:        []string{"Highlights"},
	}, s.handleListHighlights)

	huma.Register(s.api, huma.Operation{
		OperationID: "createHighlight",
		Method:      http.MethodPost,
		Path:        "/api/v1/highlights",
		Summary:     "Create highlight",
		Tags:        []string{"Highlights"},
	}, s.handleCreateHighlight)

	huma.Register(s.api, huma.Operation{
		OperationID: "getHighlight",
		Method:      http.MethodGet,
		Path:        "/api/v1/highlights/{id}",
		Summary:     "Get highlight",
		Tags:        []string{"Highlights"},
	}, s.handleGetHighlight)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateHighlight",
		Method:      http.MethodPatch,
		Path:        "/api/v1/highlights/{id}",
		Summary:     "Update highlight",
		Description: "Edits a highlight. Changing the content re-queues it for embedding.",
		Tags:        []string{"Highlights"},
	}, s.handleUpdateHighlight)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteHighlight",
		Method:      http.MethodDelete,
		Path:        "/api/v1/highlights/{id}",
		Summary:     "Delete highlight",
		Tags:        []string{"Highlights"},
	}, s.handleDeleteHighlight)

	huma.Register(s.api, huma.Operation{
		OperationID: "setHighlightTags",
		Method:      http.MethodPut,
		Path:        "/api/v1/highlights/{id}/tags",
		Summary:     "Set highlight tags",
		Description: "Replaces the highlight's own tags",
		Tags:        []string{"Highlights"},
	}, s.handleSetHighlightTags)
}

// === DTOs ===

// ListHighlightsInput contains parameters for listing highlights.
type ListHighlightsInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
	BookID  string `query:"book_id" doc:"Filter by book"`
	Limit   int    `query:"limit" doc:"Max results (default 50)"`
	Offset  int    `query:"offset" doc:"Pagination offset"`
}

// ListHighlightsResponse contains a page of highlights.
type ListHighlightsResponse struct {
	Highlights []HighlightResponse `json:"highlights" doc:"Highlights, newest first"`
}

// ListHighlightsOutput wraps the list response for Huma.
type ListHighlightsOutput struct {
	Body ListHighlightsResponse
}

// CreateHighlightRequest is the request body for creating a highlight.
type CreateHighlightRequest struct {
	BookID  string   `json:"book_id" validate:"required" doc:"Book the highlight belongs to"`
	Content string   `json:"content" validate:"required,min=1,max=10000" doc:"Highlighted text"`
	Chapter string   `json:"chapter,omitempty" validate:"omitempty,max=500" doc:"Chapter or section"`
	Page    int      `json:"page,omitempty" validate:"omitempty,gte=0" doc:"Page number"`
	Note    string   `json:"note,omitempty" validate:"omitempty,max=10000" doc:"Reader's note"`
	TagIDs  []string `json:"tag_ids,omitempty" doc:"Tags to attach"`
}

// CreateHighlightInput wraps the create request for Huma.
type CreateHighlightInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
	Body    CreateHighlightRequest
}

// HighlightOutput wraps a single highlight response for Huma.
type HighlightOutput struct {
	Body HighlightResponse
}

// GetHighlightInput contains parameters for getting a highlight.
type GetHighlightInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
	ID      string `path:"id" doc:"Highlight ID"`
}

// UpdateHighlightRequest is the request body for updating a highlight.
// Omitted fields are left unchanged.
type UpdateHighlightRequest struct {
	Content *string `json:"content,omitempty" validate:"omitempty,min=1,max=10000" doc:"New highlighted text"`
	Chapter *string `json:"chapter,omitempty" validate:"omitempty,max=500" doc:"Chapter or section"`
	Page    *int    `json:"page,omitempty" validate:"omitempty,gte=0" doc:"Page number"`
	Note    *string `json:"note,omitempty" validate:"omitempty,max=10000" doc:"Reader's note"`
}

// UpdateHighlightInput wraps the update request for Huma.
type UpdateHighlightInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
	ID      string `path:"id" doc:"Highlight ID"`
	Body    UpdateHighlightRequest
}

// DeleteHighlightInput contains parameters for deleting a highlight.
type DeleteHighlightInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
	ID      string `path:"id" doc:"Highlight ID"`
}

// SetHighlightTagsRequest is the request body for replacing highlight tags.
type SetHighlightTagsRequest struct {
	TagIDs []string `json:"tag_ids" doc:"Tag IDs to attach (empty clears)"`
}

// SetHighlightTagsInput wraps the set-tags request for Huma.
type SetHighlightTagsInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
	ID      string `path:"id" doc:"Highlight ID"`
	Body    SetHighlightTagsRequest
}

// === Handlers ===

func (s *Server) handleListHighlights(ctx context.Context, input *ListHighlightsInput) (*ListHighlightsOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}

	views, err := s.services.Highlight.List(ctx, ownerID, input.BookID, input.Limit, input.Offset)
	if err != nil {
		return nil, err
	}

	resp := ListHighlightsResponse{Highlights: make([]HighlightResponse, len(views))}
	for i, v := range views {
		resp.Highlights[i] = toHighlightResponse(v)
	}
	return &ListHighlightsOutput{Body: resp}, nil
}

func (s *Server) handleCreateHighlight(ctx context.Context, input *CreateHighlightInput) (*HighlightOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	h, err := s.services.Highlight.Create(ctx, ownerID, service.CreateHighlightInput{
		BookID:  input.Body.BookID,
		Content: input.Body.Content,
		Chapter: input.Body.Chapter,
		Page:    input.Body.Page,
		Note:    input.Body.Note,
		TagIDs:  input.Body.TagIDs,
	})
	if err != nil {
		return nil, err
	}

	view, err := s.services.Highlight.Get(ctx, ownerID, h.ID)
	if err != nil {
		return nil, err
	}
	return &HighlightOutput{Body: toHighlightResponse(view)}, nil
}

func (s *Server) handleGetHighlight(ctx context.Context, input *GetHighlightInput) (*HighlightOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}

	view, err := s.services.Highlight.Get(ctx, ownerID, input.ID)
	if err != nil {
		return nil, err
	}
	return &HighlightOutput{Body: toHighlightResponse(view)}, nil
}

func (s *Server) handleUpdateHighlight(ctx context.Context, input *UpdateHighlightInput) (*HighlightOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	if _, err := s.services.Highlight.Update(ctx, ownerID, input.ID, service.UpdateHighlightInput{
		Content: input.Body.Content,
		Chapter: input.Body.Chapter,
		Page:    input.Body.Page,
		Note:    input.Body.Note,
	}); err != nil {
		return nil, err
	}

	view, err := s.services.Highlight.Get(ctx, ownerID, input.ID)
	if err != nil {
		return nil, err
	}
	return &HighlightOutput{Body: toHighlightResponse(view)}, nil
}

func (s *Server) handleDeleteHighlight(ctx context.Context, input *DeleteHighlightInput) (*MessageOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}

	if err := s.services.Highlight.Delete(ctx, ownerID, input.ID); err != nil {
		return nil, err
	}
	return &MessageOutput{Body: MessageResponse{Message: "Highlight deleted"}}, nil
}

func (s *Server) handleSetHighlightTags(ctx context.Context, input *SetHighlightTagsInput) (*HighlightOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}

	view, err := s.services.Highlight.SetTags(ctx, ownerID, input.ID, input.Body.TagIDs)
	if err != nil {
		return nil, err
	}
	return &HighlightOutput{Body: toHighlightResponse(view)}, nil
}
