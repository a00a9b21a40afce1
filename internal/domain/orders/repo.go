package orders

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *ChangeRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*ChangeRequest, error)
	ListPendingByPhysician(ctx context.Context, physicianID uuid.UUID, limit, offset int) ([]*ChangeRequest, int, error)
	// Review persists an approve/deny guarded by Version; a stale
	// version returns dosing.ErrStaleVersion.
	Review(ctx context.Context, r *ChangeRequest) error
}
