package dosing

import "errors"

var (
	// ErrNoActiveOrder means the patient has no active medication order.
	ErrNoActiveOrder = errors.New("patient has no active medication order")

	// ErrOrderExists means the patient already has an active order.
	ErrOrderExists = errors.New("patient already has an active medication order")

	// ErrHoldActive means at least one active hold blocks dispensing.
	ErrHoldActive = errors.New("dosing hold active for patient")

	// ErrDuplicateDispense means a dose row already exists for this
	// idempotency key or dose timestamp.
	ErrDuplicateDispense = errors.New("dose already recorded")

	// ErrStaleVersion means a concurrent update won; the caller must
	// re-read and retry.
	ErrStaleVersion = errors.New("record was modified concurrently")

	// ErrInvalidAmount means the entered dose amount is not positive.
	ErrInvalidAmount = errors.New("dose amount must be positive")

	// ErrHoldNotFound is returned for clear attempts on unknown holds.
	ErrHoldNotFound = errors.New("hold not found")

	// ErrRoleNotRequired means the signing role is not on the hold's
	// required list.
	ErrRoleNotRequired = errors.New("role is not required to clear this hold")

	// ErrNoStaff means the request carries no authenticated staff
	// identity. Every dispense and hold action requires attribution.
	ErrNoStaff = errors.New("authenticated staff identity is required")
)
