package domain

import "time"

type Note struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Content    string    `json:"content"`
	IsPublic   bool      `json:"is_public"`
	ShareToken string    `json:"share_token,omitempty"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CreateNoteRequest struct {
	Content string `json:"content" validate:"max=1048576"`
}

type UpdateNoteRequest struct {
	Content string `json:"content" validate:"max=1048576"`
	Version *int64 `json:"version" validate:"required,min=0"`
}

// NoteResponse is the public projection of a Note. It never carries the
// owner or the share token.
type NoteResponse struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

type ShareResponse struct {
	ShareURL string `json:"share_url"`
}
