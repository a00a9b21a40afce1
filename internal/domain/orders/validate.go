package orders

import (
	"strings"

	"github.com/google/uuid"

	"github.com/otpcare/emr/pkg/dosage"
)

// signatureLen is the exact digit count of a nurse signature.
const signatureLen = 4

// Input is one change request as entered at the nursing station. Doses
// arrive as strings so a malformed number is a field error, not a 400.
type Input struct {
	PatientID      uuid.UUID
	PhysicianID    uuid.UUID
	ChangeType     string
	CurrentDose    dosage.Milligrams
	RequestedDose  string
	Justification  string
	NurseSignature string
}

// Validate checks one change request and returns per-field messages. It is
// pure: no I/O, no state. An empty map means the request is submittable.
func Validate(in Input) (bool, map[string]string) {
	errs := make(map[string]string)

	if in.PatientID == uuid.Nil {
		errs["patient_id"] = "patient is required"
	}
	if in.PhysicianID == uuid.Nil {
		errs["physician_id"] = "physician is required"
	}
	if strings.TrimSpace(in.Justification) == "" {
		errs["justification"] = "justification is required"
	}

	if !validSignature(in.NurseSignature) {
		errs["nurse_signature"] = "signature must be exactly 4 digits"
	}

	requested, err := dosage.Parse(in.RequestedDose)
	switch {
	case err != nil:
		errs["requested_dose"] = "requested dose must be a number"
	case !requested.IsPositive():
		errs["requested_dose"] = "requested dose must be positive"
	default:
		if msg := checkDirection(in.ChangeType, in.CurrentDose, requested); msg != "" {
			errs["requested_dose"] = msg
		}
	}

	switch in.ChangeType {
	case ChangeIncrease, ChangeDecrease, ChangeTaper, ChangeSplit:
	default:
		errs["change_type"] = "unknown change type"
	}

	return len(errs) == 0, errs
}

func validSignature(sig string) bool {
	if len(sig) != signatureLen {
		return false
	}
	for _, r := range sig {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func checkDirection(changeType string, current, requested dosage.Milligrams) string {
	switch changeType {
	case ChangeIncrease:
		if requested <= current {
			return "an increase must exceed the current dose"
		}
	case ChangeDecrease:
		if requested >= current {
			return "a decrease must be below the current dose"
		}
	case ChangeTaper:
		if requested >= current {
			return "a taper must be below the current dose"
		}
	case ChangeSplit:
		if requested != current {
			return "a split must keep the current total dose"
		}
	}
	return ""
}
