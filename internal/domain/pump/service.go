package pump

import (
	"context"
	"fmt"

	"github.com/otpcare/emr/pkg/dosage"
)

type Service struct {
	ledger     *Ledger
	controller Controller
}

func NewService(ledger *Ledger, controller Controller) *Service {
	return &Service{ledger: ledger, controller: controller}
}

// Ledger exposes the underlying ledger for the dispense path.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

func (s *Service) LoadBottle(terminalID, serial, medication string, startVolume dosage.Milligrams) (*Bottle, error) {
	return s.ledger.Load(terminalID, serial, medication, startVolume)
}

// Calibrate drives the pump's calibration cycle and, on success, resets the
// ledger volume to the bottle's start volume.
func (s *Service) Calibrate(ctx context.Context, terminalID string) (*Bottle, error) {
	if _, err := s.ledger.State(terminalID); err != nil {
		return nil, err
	}
	if err := s.controller.Calibrate(ctx, terminalID); err != nil {
		return nil, fmt.Errorf("pump calibration: %w", err)
	}
	return s.ledger.MarkCalibrated(terminalID)
}

// CanDebit checks bottle presence, calibration, and volume without moving
// hardware or changing state.
func (s *Service) CanDebit(terminalID string, amount dosage.Milligrams) error {
	return s.ledger.CanDebit(terminalID, amount)
}

// Dispense drives the pump for one dose and debits the ledger. The ledger
// check runs first so hardware never moves for a dose it cannot cover.
func (s *Service) Dispense(ctx context.Context, terminalID string, amount dosage.Milligrams) (*Bottle, error) {
	if err := s.ledger.CanDebit(terminalID, amount); err != nil {
		return nil, err
	}
	if err := s.controller.Dispense(ctx, terminalID, amount.Float64()); err != nil {
		return nil, fmt.Errorf("pump dispense: %w", err)
	}
	return s.ledger.Debit(terminalID, amount)
}

func (s *Service) State(terminalID string) (*Bottle, error) {
	return s.ledger.State(terminalID)
}

func (s *Service) Reset(terminalID string) {
	s.ledger.Reset(terminalID)
}
