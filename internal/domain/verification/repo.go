package verification

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Enrollment) error
	GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*Enrollment, error)
	RecordAttempt(ctx context.Context, enrollmentID uuid.UUID, success bool) error
	Revoke(ctx context.Context, enrollmentID uuid.UUID) error
}
