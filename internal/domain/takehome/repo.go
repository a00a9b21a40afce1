package takehome

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// CreateBatch inserts every bottle of a batch. Callers run it inside
	// a transaction so a failed insert leaves zero rows.
	CreateBatch(ctx context.Context, bottles []*Bottle) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bottle, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*Bottle, error)
	// MarkFilled transitions label_printed to dispensed. An already
	// dispensed bottle returns ErrAlreadyFilled.
	MarkFilled(ctx context.Context, id, staffID uuid.UUID) (*Bottle, error)
}
