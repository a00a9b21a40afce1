package dosing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/otpcare/emr/internal/domain/patient"
	"github.com/otpcare/emr/internal/domain/pump"
	"github.com/otpcare/emr/internal/domain/verification"
	"github.com/otpcare/emr/internal/platform/ws"
	"github.com/otpcare/emr/pkg/dosage"
)

// RecentDoseCount is how many past doses a dosing session shows.
const RecentDoseCount = 7

// Verifier is the slice of the verification service the dosing workflow
// needs: consuming tokens and resetting gate state on patient change.
type Verifier interface {
	ConsumeToken(token string, patientID uuid.UUID) error
	ResetForPatient(patientID uuid.UUID)
	GetEnrollment(ctx context.Context, patientID uuid.UUID) (*verification.Enrollment, error)
}

// Dispenser is the slice of the pump service the dispense path needs.
type Dispenser interface {
	CanDebit(terminalID string, amount dosage.Milligrams) error
	Dispense(ctx context.Context, terminalID string, amount dosage.Milligrams) (*pump.Bottle, error)
	State(terminalID string) (*pump.Bottle, error)
}

type Service struct {
	orders    OrderRepository
	holds     HoldRepository
	doses     DoseRepository
	patients  patient.Repository
	verifier  Verifier
	pump      Dispenser
	publisher ws.EventPublisher
}

func NewService(orders OrderRepository, holds HoldRepository, doses DoseRepository,
	patients patient.Repository, verifier Verifier, dispenser Dispenser,
	publisher ws.EventPublisher) *Service {
	return &Service{
		orders:    orders,
		holds:     holds,
		doses:     doses,
		patients:  patients,
		verifier:  verifier,
		pump:      dispenser,
		publisher: publisher,
	}
}

// LoadSession assembles everything a terminal needs for one patient at the
// dosing window. Any repository failure fails the whole load rather than
// returning a partial session. Loading also invalidates any outstanding
// verification token so switching patients always re-verifies.
func (s *Service) LoadSession(ctx context.Context, patientID uuid.UUID) (*Session, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	session := &Session{Patient: p, Holds: []*DosingHold{}, RecentDoses: []*DoseEntry{}}

	order, err := s.orders.GetActiveByPatient(ctx, patientID)
	switch err {
	case nil:
		session.Order = order
	case ErrNoActiveOrder:
		// A patient between orders still loads; dispensing is gated later.
	default:
		return nil, fmt.Errorf("load active order: %w", err)
	}

	holds, err := s.holds.ListActiveByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load holds: %w", err)
	}
	if holds != nil {
		session.Holds = holds
	}

	enrollment, err := s.verifier.GetEnrollment(ctx, patientID)
	switch err {
	case nil:
		session.Enrollment = enrollment
	case verification.ErrNotEnrolled:
	default:
		return nil, fmt.Errorf("load enrollment: %w", err)
	}

	doses, err := s.doses.ListRecentByPatient(ctx, patientID, RecentDoseCount)
	if err != nil {
		return nil, fmt.Errorf("load dose history: %w", err)
	}
	if doses != nil {
		session.RecentDoses = doses
	}

	s.verifier.ResetForPatient(patientID)
	return session, nil
}

// DispenseRequest carries everything one dispense needs. DispensedBy comes
// from the authenticated staff token, never from the request body.
type DispenseRequest struct {
	PatientID         uuid.UUID
	VerificationToken string
	Amount            dosage.Milligrams
	DosedAt           time.Time
	TerminalID        string
	IdempotencyKey    string
	DispensedBy       uuid.UUID
	WitnessID         *uuid.UUID
	Notes             *string
	BehaviorNotes     *string
}

// Dispense records one supervised dose. Preconditions run in a fixed order:
// staff identity, verification token, holds, active order, amount, bottle
// volume. The dose row persists before the ledger debits, so a failed insert
// leaves the bottle untouched.
func (s *Service) Dispense(ctx context.Context, req DispenseRequest) (*DoseEntry, error) {
	if req.DispensedBy == uuid.Nil {
		return nil, ErrNoStaff
	}

	if err := s.verifier.ConsumeToken(req.VerificationToken, req.PatientID); err != nil {
		return nil, err
	}

	holds, err := s.holds.ListActiveByPatient(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("check holds: %w", err)
	}
	if len(holds) > 0 {
		return nil, ErrHoldActive
	}

	order, err := s.orders.GetActiveByPatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if err := s.pump.CanDebit(req.TerminalID, req.Amount); err != nil {
		return nil, err
	}

	bottle, err := s.pump.State(req.TerminalID)
	if err != nil {
		return nil, err
	}

	dosedAt := req.DosedAt
	if dosedAt.IsZero() {
		dosedAt = time.Now()
	}
	dosedAt = dosedAt.UTC().Truncate(time.Second)

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	entry := &DoseEntry{
		PatientID:      req.PatientID,
		OrderID:        order.ID,
		Medication:     order.Medication,
		Amount:         req.Amount,
		DosedAt:        dosedAt,
		DispensedBy:    req.DispensedBy,
		WitnessID:      req.WitnessID,
		Notes:          req.Notes,
		BehaviorNotes:  req.BehaviorNotes,
		BottleSerial:   bottle.Serial,
		IdempotencyKey: key,
	}

	if err := s.doses.Create(ctx, entry); err != nil {
		return nil, err
	}

	// Debit only after the row persists; an insert failure must leave the
	// bottle volume untouched.
	if _, err := s.pump.Dispense(ctx, req.TerminalID, req.Amount); err != nil {
		return nil, fmt.Errorf("dose recorded but pump failed: %w", err)
	}

	s.publish(ctx, ws.NewEvent(ws.EventDoseDispensed, ws.PatientTopic(req.PatientID), entry))
	return entry, nil
}

// -- Holds --

func (s *Service) CreateHold(ctx context.Context, h *DosingHold) error {
	if !ValidHoldType(h.Type) {
		return fmt.Errorf("unknown hold type %q", h.Type)
	}
	if strings.TrimSpace(h.Reason) == "" {
		return fmt.Errorf("hold reason is required")
	}
	if h.CreatedBy == uuid.Nil {
		return ErrNoStaff
	}
	if len(h.RolesRequired) == 0 {
		h.RolesRequired = []string{"nurse"}
	}
	if err := s.holds.Create(ctx, h); err != nil {
		return err
	}
	s.publish(ctx, ws.NewEvent(ws.EventHoldPlaced, ws.PatientTopic(h.PatientID), h))
	return nil
}

// ClearHold records one role's sign-off at the supplied version. The hold
// flips to cleared only when every required role has signed; a concurrent
// update returns ErrStaleVersion so the caller re-reads before retrying.
func (s *Service) ClearHold(ctx context.Context, holdID uuid.UUID, role string, version int) (*DosingHold, error) {
	h, err := s.holds.GetByID(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if h.Status != HoldStatusActive {
		return nil, ErrStaleVersion
	}
	if h.Version != version {
		return nil, ErrStaleVersion
	}

	required := false
	for _, r := range h.RolesRequired {
		if r == role {
			required = true
			break
		}
	}
	if !required {
		return nil, ErrRoleNotRequired
	}

	if h.HasCleared(role) {
		return h, nil
	}

	h.RolesCleared = append(h.RolesCleared, role)
	if h.FullyCleared() {
		now := time.Now().UTC()
		h.Status = HoldStatusCleared
		h.ClearedAt = &now
	}

	if err := s.holds.Update(ctx, h); err != nil {
		return nil, err
	}

	if h.Status == HoldStatusCleared {
		s.publish(ctx, ws.NewEvent(ws.EventHoldCleared, ws.PatientTopic(h.PatientID), h))
	}
	return h, nil
}

func (s *Service) ListActiveHolds(ctx context.Context, patientID uuid.UUID) ([]*DosingHold, error) {
	return s.holds.ListActiveByPatient(ctx, patientID)
}

// -- Orders --

func (s *Service) CreateOrder(ctx context.Context, o *MedicationOrder) error {
	if strings.TrimSpace(o.Medication) == "" {
		return fmt.Errorf("medication is required")
	}
	if !o.DailyDose.IsPositive() {
		return ErrInvalidAmount
	}
	if o.MaxTakehome < 0 {
		return fmt.Errorf("max_takehome must not be negative")
	}
	if o.PrescribedBy == uuid.Nil {
		return fmt.Errorf("prescribing physician is required")
	}
	if o.StartDate.IsZero() {
		o.StartDate = time.Now().UTC().Truncate(24 * time.Hour)
	}
	return s.orders.Create(ctx, o)
}

func (s *Service) GetActiveOrder(ctx context.Context, patientID uuid.UUID) (*MedicationOrder, error) {
	return s.orders.GetActiveByPatient(ctx, patientID)
}

// ChangeOrderDose updates the daily dose under the order's version.
func (s *Service) ChangeOrderDose(ctx context.Context, orderID uuid.UUID, newDose dosage.Milligrams, version int) (*MedicationOrder, error) {
	if !newDose.IsPositive() {
		return nil, ErrInvalidAmount
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Version != version {
		return nil, ErrStaleVersion
	}
	o.DailyDose = newDose
	if err := s.orders.UpdateDose(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) SetOrderStatus(ctx context.Context, orderID uuid.UUID, status string) error {
	switch status {
	case OrderActive, OrderSuspended, OrderCompleted:
	default:
		return fmt.Errorf("unknown order status %q", status)
	}
	return s.orders.SetStatus(ctx, orderID, status)
}

func (s *Service) publish(ctx context.Context, event ws.Event) {
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, event)
	}
}
