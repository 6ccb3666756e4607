package domain

import "time"

// User is the owner of books and highlights. Authentication is handled by an
// external collaborator; the server only needs identity for ownership checks.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
