package api

import (
	"github.com/google/uuid"

	"todoq/internal/state"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

const (
	ErrInvalidJSON       = "invalid_json"
	ErrInvalidPagination = "invalid_pagination"
	ErrMissingTitle      = "missing_title"
	ErrInvalidID         = "invalid_id"
	ErrNotFound          = "not_found"
	ErrStore             = "store_error"
	ErrPublish           = "publish_failed"
)

type CreateItemRequest struct {
	Title string `json:"title"`
}

type JobResponse struct {
	ID     uuid.UUID   `json:"id"`
	Status state.State `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
