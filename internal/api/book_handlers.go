package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/marginalia-app/marginalia-server/internal/service"
)

func (s *Server) registerBookRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listBooks",
		Method:      http.MethodGet,
		Path:        "/api/v1/books",
		Summary:     "List books",
		Tags:        []string{"Books"},
	}, s.handleListBooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "getBook",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}",
		Summary:     "Get book",
		Tags:        []string{"Books"},
	}, s.handleGetBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateBook",
		Method:      http.MethodPatch,
		Path:        "/api/v1/books/{id}",
		Summary:     "Update book",
		Description: "Edits book metadata. Title and author changes reindex the book's highlights.",
		Tags:        []string{"Books"},
	}, s.handleUpdateBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteBook",
		Method:      http.MethodDelete,
		Path:        "/api/v1/books/{id}",
		Summary:     "Delete book",
		Description: "Deletes a book and all of its highlights",
		Tags:        []string{"Books"},
	}, s.handleDeleteBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "setBookTags",
		Method:      http.MethodPut,
		Path:        "/api/v1/books/{id}/tags",
		Summary:     "Set book tags",
		Description: "Replaces the book's tags, which are inherited by its highlights",
		Tags:        []string{"Books"},
	}, s.handleSetBookTags)
}

// === DTOs ===

// ListBooksInput contains parameters for listing books.
type ListBooksInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
}

// ListBooksResponse contains the user's books.
type ListBooksResponse struct {
	Books []BookResponse `json:"books" doc:"Books ordered by title"`
}

// ListBooksOutput wraps the list response for Huma.
type ListBooksOutput struct {
	Body ListBooksResponse
}

// GetBookInput contains parameters for getting a book.
type GetBookInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
	ID      string `path:"id" doc:"Book ID"`
}

// BookOutput wraps a single book response for Huma.
type BookOutput struct {
	Body BookResponse
}

// UpdateBookRequest is the request body for updating a book.
// Omitted fields are left unchanged.
type UpdateBookRequest struct {
	Title  *string `json:"title,omitempty" validate:"omitempty,min=1,max=500" doc:"Book title"`
	Author *string `json:"author,omitempty" validate:"omitempty,max=500" doc:"Book author"`
}

// UpdateBookInput wraps the update request for Huma.
type UpdateBookInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
	ID      string `path:"id" doc:"Book ID"`
	Body    UpdateBookRequest
}

// DeleteBookInput contains parameters for deleting a book.
type DeleteBookInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
	ID      string `path:"id" doc:"Book ID"`
}

// SetBookTagsRequest is the request body for replacing book tags.
type SetBookTagsRequest struct {
	TagIDs []string `json:"tag_ids" doc:"Tag IDs to attach (empty clears)"`
}

// SetBookTagsInput wraps the set-tags request for Huma.
type SetBookTagsInput struct {
	XUserID string `header:"X-User-ID" doc:"Acting user ID"`
	ID      string `path:"id" doc:"Book ID"`
	Body    SetBookTagsRequest
}

// === Handlers ===

func (s *Server) handleListBooks(ctx context.Context, input *ListBooksInput) (*ListBooksOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}

	views, err := s.services.Book.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	resp := ListBooksResponse{Books: make([]BookResponse, len(views))}
	for i, v := range views {
		resp.Books[i] = toBookResponse(v)
	}
	return &ListBooksOutput{Body: resp}, nil
}

func (s *Server) handleGetBook(ctx context.Context, input *GetBookInput) (*BookOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}

	view, err := s.services.Book.Get(ctx, ownerID, input.ID)
	if err != nil {
		return nil, err
	}
	return &BookOutput{Body: toBookResponse(view)}, nil
}

func (s *Server) handleUpdateBook(ctx context.Context, input *UpdateBookInput) (*BookOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	if _, err := s.services.Book.Update(ctx, ownerID, input.ID, service.UpdateBookInput{
		Title:  input.Body.Title,
		Author: input.Body.Author,
	}); err != nil {
		return nil, err
	}

	view, err := s.services.Book.Get(ctx, ownerID, input.ID)
	if err != nil {
		return nil, err
	}
	return &BookOutput{Body: toBookResponse(view)}, nil
}

func (s *Server) handleDeleteBook(ctx context.Context, input *DeleteBookInput) (*MessageOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}

	if err := s.services.Book.Delete(ctx, ownerID, input.ID); err != nil {
		return nil, err
	}
	return &MessageOutput{Body: MessageResponse{Message: "Book deleted"}}, nil
}

func (s *Server) handleSetBookTags(ctx context.Context, input *SetBookTagsInput) (*BookOutput, error) {
	ownerID, err := s.ownerID(input.XUserID)
	if err != nil {
		return nil, err
	}

	view, err := s.services.Book.SetTags(ctx, ownerID, input.ID, input.Body.TagIDs)
	if err != nil {
		return nil, err
	}
	return &BookOutput{Body: toBookResponse(view)}, nil
}
