package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/otpcare/emr/pkg/dosage"
)

// Change types a nurse can request against an active order.
const (
	ChangeIncrease = "increase"
	ChangeDecrease = "decrease"
	ChangeTaper    = "taper"
	ChangeSplit    = "split"
)

// Change request statuses.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestDenied   = "denied"
)

// ChangeRequest maps to the order_change_requests table. A nurse submits
// the request; the named physician approves or denies it.
type ChangeRequest struct {
	ID             uuid.UUID         `db:"id" json:"id"`
	PatientID      uuid.UUID         `db:"patient_id" json:"patient_id"`
	OrderID        uuid.UUID         `db:"order_id" json:"order_id"`
	PhysicianID    uuid.UUID         `db:"physician_id" json:"physician_id"`
	RequestedBy    uuid.UUID         `db:"requested_by" json:"requested_by"`
	ChangeType     string            `db:"change_type" json:"change_type"`
	CurrentDose    dosage.Milligrams `db:"current_dose" json:"current_dose"`
	RequestedDose  dosage.Milligrams `db:"requested_dose" json:"requested_dose"`
	Justification  string            `db:"justification" json:"justification"`
	NurseSignature string            `db:"nurse_signature" json:"nurse_signature"`
	Status         string            `db:"status" json:"status"`
	ReviewedBy     *uuid.UUID        `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time        `db:"reviewed_at" json:"reviewed_at,omitempty"`
	DenialReason   *string           `db:"denial_reason" json:"denial_reason,omitempty"`
	Version        int               `db:"version" json:"version"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}
