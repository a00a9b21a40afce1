package dosing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type OrderRepository interface {
	Create(ctx context.Context, o *MedicationOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicationOrder, error)
	// GetActiveByPatient returns ErrNoActiveOrder when the patient has no
	// active order.
	GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*MedicationOrder, error)
	// UpdateDose changes the daily dose guarded by the order's version;
	// a stale version returns ErrStaleVersion.
	UpdateDose(ctx context.Context, o *MedicationOrder) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
}

type HoldRepository interface {
	Create(ctx context.Context, h *DosingHold) error
	GetByID(ctx context.Context, id uuid.UUID) (*DosingHold, error)
	ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*DosingHold, error)
	// Update persists sign-off and status changes guarded by Version;
	// a stale version returns ErrStaleVersion.
	Update(ctx context.Context, h *DosingHold) error
}

type DoseRepository interface {
	// Create inserts an immutable dose row. Duplicate idempotency key or
	// duplicate (patient, dosed_at) returns ErrDuplicateDispense.
	Create(ctx context.Context, d *DoseEntry) error
	GetByIdempotencyKey(ctx context.Context, key string) (*DoseEntry, error)
	ListRecentByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*DoseEntry, error)
	ListByPatientRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*DoseEntry, error)
}
