package verification

import (
	"time"

	"github.com/google/uuid"
)

// Verification methods accepted by the gate.
const (
	MethodPIN         = "pin"
	MethodFingerprint = "fingerprint"
	MethodFacial      = "facial"
)

// Enrollment statuses.
const (
	EnrollmentActive  = "active"
	EnrollmentRevoked = "revoked"
)

// Enrollment maps to the biometric_enrollments table. A patient has at most
// one active enrollment; the PIN hash is bcrypt, never a plaintext PIN.
type Enrollment struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	PatientID             uuid.UUID  `db:"patient_id" json:"patient_id"`
	PINHash               string     `db:"pin_hash" json:"-"`
	FacialEnrolledAt      *time.Time `db:"facial_enrolled_at" json:"facial_enrolled_at,omitempty"`
	FingerprintEnrolledAt *time.Time `db:"fingerprint_enrolled_at" json:"fingerprint_enrolled_at,omitempty"`
	SuccessCount          int        `db:"success_count" json:"success_count"`
	FailureCount          int        `db:"failure_count" json:"failure_count"`
	Status                string     `db:"status" json:"status"`
	Version               int        `db:"version" json:"version"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// SupportsMethod reports whether the enrollment can attempt the given
// verification method.
func (e *Enrollment) SupportsMethod(method string) bool {
	switch method {
	case MethodPIN:
		return e.PINHash != ""
	case MethodFingerprint:
		return e.FingerprintEnrolledAt != nil
	case MethodFacial:
		return e.FacialEnrolledAt != nil
	default:
		return false
	}
}

// Result is returned to the dosing terminal after a verification attempt.
// On success it carries the single-use token the dispense consumes.
type Result struct {
	PatientID uuid.UUID `json:"patient_id"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)
