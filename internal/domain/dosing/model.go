package dosing

import (
	"time"

	"github.com/google/uuid"

	"github.com/otpcare/emr/internal/domain/patient"
	"github.com/otpcare/emr/internal/domain/verification"
	"github.com/otpcare/emr/pkg/dosage"
)

// Medication order statuses.
const (
	OrderActive    = "active"
	OrderSuspended = "suspended"
	OrderCompleted = "completed"
)

// MedicationOrder maps to the medication_orders table. At most one active
// order exists per patient, enforced by a partial unique index.
type MedicationOrder struct {
	ID           uuid.UUID         `db:"id" json:"id"`
	PatientID    uuid.UUID         `db:"patient_id" json:"patient_id"`
	Medication   string            `db:"medication" json:"medication"`
	DailyDose    dosage.Milligrams `db:"daily_dose" json:"daily_dose"`
	MaxTakehome  int               `db:"max_takehome" json:"max_takehome"`
	Status       string            `db:"status" json:"status"`
	PrescribedBy uuid.UUID         `db:"prescribed_by" json:"prescribed_by"`
	StartDate    time.Time         `db:"start_date" json:"start_date"`
	Version      int               `db:"version" json:"version"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// Hold types recognized by the gate. Any active hold blocks dispensing
// regardless of type.
const (
	HoldClinical          = "clinical"
	HoldBehavioral        = "behavioral"
	HoldUDS               = "uds"
	HoldMissingCounseling = "missing_counseling"
	HoldAdministrative    = "administrative"
)

// Hold statuses.
const (
	HoldStatusActive  = "active"
	HoldStatusCleared = "cleared"
)

// DosingHold maps to the dosing_holds table. A hold clears only after every
// role in RolesRequired has signed off; updates race behind Version.
type DosingHold struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	Type          string     `db:"hold_type" json:"type"`
	Reason        string     `db:"reason" json:"reason"`
	Status        string     `db:"status" json:"status"`
	RolesRequired []string   `db:"roles_required" json:"roles_required"`
	RolesCleared  []string   `db:"roles_cleared" json:"roles_cleared"`
	CreatedBy     uuid.UUID  `db:"created_by" json:"created_by"`
	ClearedAt     *time.Time `db:"cleared_at" json:"cleared_at,omitempty"`
	Version       int        `db:"version" json:"version"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// ValidHoldType reports whether t is a recognized hold type.
func ValidHoldType(t string) bool {
	switch t {
	case HoldClinical, HoldBehavioral, HoldUDS, HoldMissingCounseling, HoldAdministrative:
		return true
	}
	return false
}

// HasCleared reports whether the given role has already signed off.
func (h *DosingHold) HasCleared(role string) bool {
	for _, r := range h.RolesCleared {
		if r == role {
			return true
		}
	}
	return false
}

// FullyCleared reports whether every required role has signed off.
func (h *DosingHold) FullyCleared() bool {
	for _, required := range h.RolesRequired {
		if !h.HasCleared(required) {
			return false
		}
	}
	return true
}

// DoseEntry maps to the dose_log table. Rows are immutable once written;
// (patient_id, dosed_at) and idempotency_key are unique.
type DoseEntry struct {
	ID             uuid.UUID         `db:"id" json:"id"`
	PatientID      uuid.UUID         `db:"patient_id" json:"patient_id"`
	OrderID        uuid.UUID         `db:"order_id" json:"order_id"`
	Medication     string            `db:"medication" json:"medication"`
	Amount         dosage.Milligrams `db:"amount" json:"amount"`
	DosedAt        time.Time         `db:"dosed_at" json:"dosed_at"`
	DispensedBy    uuid.UUID         `db:"dispensed_by" json:"dispensed_by"`
	WitnessID      *uuid.UUID        `db:"witness_id" json:"witness_id,omitempty"`
	Notes          *string           `db:"notes" json:"notes,omitempty"`
	BehaviorNotes  *string           `db:"behavior_notes" json:"behavior_notes,omitempty"`
	BottleSerial   string            `db:"bottle_serial" json:"bottle_serial"`
	IdempotencyKey string            `db:"idempotency_key" json:"idempotency_key"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
}

// Session is the aggregate a dosing terminal loads when a patient steps up
// to the window. Order and Enrollment are nil when absent; RecentDoses is
// newest first.
type Session struct {
	Patient     *patient.Patient         `json:"patient"`
	Order       *MedicationOrder         `json:"order,omitempty"`
	Holds       []*DosingHold            `json:"holds"`
	Enrollment  *verification.Enrollment `json:"enrollment,omitempty"`
	RecentDoses []*DoseEntry             `json:"recent_doses"`
}

// Dispensable reports whether the session passes the hold and order gates.
// Verification is checked separately via the token.
func (s *Session) Dispensable() bool {
	return s.Order != nil && len(s.Holds) == 0
}
