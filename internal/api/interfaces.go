package api

import (
	"context"

	"github.com/google/uuid"

	"todoq/internal/producer"
	"todoq/internal/store"
)

// Reader is the read side of the ledger served by the API.
type Reader interface {
	GetItem(ctx context.Context, id uuid.UUID) (store.Item, error)
	ListItems(ctx context.Context, limit, offset int) ([]store.Item, error)
	GetJob(ctx context.Context, id uuid.UUID) (store.Job, error)
}

type Producer interface {
	Create(ctx context.Context, title string) (producer.Accepted, error)
	Toggle(ctx context.Context, itemID uuid.UUID) (producer.Accepted, error)
	Delete(ctx context.Context, itemID uuid.UUID) (producer.Accepted, error)
}
