package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otpcare/emr/internal/domain/dosing"
	"github.com/otpcare/emr/pkg/dosage"
)

var (
	// ErrValidation wraps per-field messages from Validate.
	ErrValidation = errors.New("change request failed validation")

	// ErrNotPending means the request was already reviewed.
	ErrNotPending = errors.New("change request is not pending")

	// ErrWrongPhysician means the reviewer is not the physician the
	// request was addressed to.
	ErrWrongPhysician = errors.New("request is assigned to a different physician")
)

// ValidationError carries the field messages back to the handler.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return ErrValidation.Error() }
func (e *ValidationError) Unwrap() error { return ErrValidation }

// OrderChanger applies an approved dose change to the live order.
type OrderChanger interface {
	GetActiveOrder(ctx context.Context, patientID uuid.UUID) (*dosing.MedicationOrder, error)
	ChangeOrderDose(ctx context.Context, orderID uuid.UUID, newDose dosage.Milligrams, version int) (*dosing.MedicationOrder, error)
}

type Service struct {
	repo   Repository
	dosing OrderChanger
}

func NewService(repo Repository, changer OrderChanger) *Service {
	return &Service{repo: repo, dosing: changer}
}

// Submit validates and persists a pending change request. The current dose
// always comes from the live order, never from the form.
func (s *Service) Submit(ctx context.Context, in Input, requestedBy uuid.UUID) (*ChangeRequest, error) {
	if requestedBy == uuid.Nil {
		return nil, dosing.ErrNoStaff
	}

	order, err := s.dosing.GetActiveOrder(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	in.CurrentDose = order.DailyDose

	ok, fields := Validate(in)
	if !ok {
		return nil, &ValidationError{Fields: fields}
	}

	requested, err := dosage.Parse(in.RequestedDose)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"requested_dose": "requested dose must be a number"}}
	}

	cr := &ChangeRequest{
		PatientID:      in.PatientID,
		OrderID:        order.ID,
		PhysicianID:    in.PhysicianID,
		RequestedBy:    requestedBy,
		ChangeType:     in.ChangeType,
		CurrentDose:    in.CurrentDose,
		RequestedDose:  requested,
		Justification:  in.Justification,
		NurseSignature: in.NurseSignature,
		Status:         RequestPending,
	}
	if err := s.repo.Create(ctx, cr); err != nil {
		return nil, fmt.Errorf("create change request: %w", err)
	}
	return cr, nil
}

// ListPending returns the physician's review queue.
func (s *Service) ListPending(ctx context.Context, physicianID uuid.UUID, limit, offset int) ([]*ChangeRequest, int, error) {
	return s.repo.ListPendingByPhysician(ctx, physicianID, limit, offset)
}

// Approve marks the request approved and applies the new dose to the order
// under the order's version. Split requests keep the dose unchanged.
func (s *Service) Approve(ctx context.Context, requestID, physicianID uuid.UUID) (*ChangeRequest, error) {
	cr, err := s.reviewable(ctx, requestID, physicianID)
	if err != nil {
		return nil, err
	}

	if cr.ChangeType != ChangeSplit {
		order, err := s.dosing.GetActiveOrder(ctx, cr.PatientID)
		if err != nil {
			return nil, err
		}
		if _, err := s.dosing.ChangeOrderDose(ctx, order.ID, cr.RequestedDose, order.Version); err != nil {
			return nil, fmt.Errorf("apply dose change: %w", err)
		}
	}

	now := time.Now().UTC()
	cr.Status = RequestApproved
	cr.ReviewedBy = &physicianID
	cr.ReviewedAt = &now
	if err := s.repo.Review(ctx, cr); err != nil {
		return nil, err
	}
	return cr, nil
}

// Deny marks the request denied with a reason. The order is untouched.
func (s *Service) Deny(ctx context.Context, requestID, physicianID uuid.UUID, reason string) (*ChangeRequest, error) {
	cr, err := s.reviewable(ctx, requestID, physicianID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cr.Status = RequestDenied
	cr.ReviewedBy = &physicianID
	cr.ReviewedAt = &now
	if reason != "" {
		cr.DenialReason = &reason
	}
	if err := s.repo.Review(ctx, cr); err != nil {
		return nil, err
	}
	return cr, nil
}

func (s *Service) reviewable(ctx context.Context, requestID, physicianID uuid.UUID) (*ChangeRequest, error) {
	cr, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if cr.Status != RequestPending {
		return nil, ErrNotPending
	}
	if cr.PhysicianID != physicianID {
		return nil, ErrWrongPhysician
	}
	return cr, nil
}
