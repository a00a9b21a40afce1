// Package pump tracks the medication bottle loaded at each dosing terminal
// and debits its volume as doses dispense. The ledger mirrors the physical
// bottle on the pump; it is per-process session state, not durable records.
package pump

import (
	"errors"
	"sync"
	"time"

	"github.com/otpcare/emr/pkg/dosage"
)

var (
	// ErrNoBottle means no bottle is loaded at the terminal.
	ErrNoBottle = errors.New("no bottle loaded at terminal")

	// ErrNotCalibrated means the loaded bottle has not been calibrated.
	ErrNotCalibrated = errors.New("pump not calibrated")

	// ErrInsufficientVolume means the bottle holds less than the
	// requested dose.
	ErrInsufficientVolume = errors.New("insufficient bottle volume")
)

// Bottle is the state of the bottle loaded at one terminal.
type Bottle struct {
	Serial        string            `json:"serial"`
	Medication    string            `json:"medication"`
	StartVolume   dosage.Milligrams `json:"start_volume"`
	CurrentVolume dosage.Milligrams `json:"current_volume"`
	LoadedAt      time.Time         `json:"loaded_at"`
	CalibratedAt  *time.Time        `json:"calibrated_at,omitempty"`
}

// Calibrated reports whether the bottle has been calibrated since loading.
func (b *Bottle) Calibrated() bool {
	return b.CalibratedAt != nil
}

// Ledger holds the bottle state for every terminal. All operations are
// keyed by terminal ID and guarded by a single mutex.
type Ledger struct {
	mu      sync.Mutex
	bottles map[string]*Bottle
	now     func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		bottles: make(map[string]*Bottle),
		now:     time.Now,
	}
}

// Load replaces the terminal's bottle. Loading clears calibration; the new
// bottle must be calibrated before any debit.
func (l *Ledger) Load(terminalID, serial, medication string, startVolume dosage.Milligrams) (*Bottle, error) {
	if serial == "" {
		return nil, errors.New("bottle serial is required")
	}
	if !startVolume.IsPositive() {
		return nil, errors.New("start volume must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := &Bottle{
		Serial:        serial,
		Medication:    medication,
		StartVolume:   startVolume,
		CurrentVolume: startVolume,
		LoadedAt:      l.now().UTC(),
	}
	l.bottles[terminalID] = b
	return b.copy(), nil
}

// MarkCalibrated sets current volume back to start and stamps the
// calibration time.
func (l *Ledger) MarkCalibrated(terminalID string) (*Bottle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.bottles[terminalID]
	if !ok {
		return nil, ErrNoBottle
	}
	now := l.now().UTC()
	b.CurrentVolume = b.StartVolume
	b.CalibratedAt = &now
	return b.copy(), nil
}

// CanDebit checks whether the terminal could dispense the amount right now.
func (l *Ledger) CanDebit(terminalID string, amount dosage.Milligrams) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canDebitLocked(terminalID, amount)
}

// Debit removes exactly amount from the terminal's bottle. It fails without
// changing state when the bottle is missing, uncalibrated, or short.
func (l *Ledger) Debit(terminalID string, amount dosage.Milligrams) (*Bottle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.canDebitLocked(terminalID, amount); err != nil {
		return nil, err
	}
	b := l.bottles[terminalID]
	b.CurrentVolume -= amount
	return b.copy(), nil
}

func (l *Ledger) canDebitLocked(terminalID string, amount dosage.Milligrams) error {
	b, ok := l.bottles[terminalID]
	if !ok {
		return ErrNoBottle
	}
	if !b.Calibrated() {
		return ErrNotCalibrated
	}
	if !amount.IsPositive() {
		return errors.New("debit amount must be positive")
	}
	if b.CurrentVolume < amount {
		return ErrInsufficientVolume
	}
	return nil
}

// State returns a copy of the terminal's bottle.
func (l *Ledger) State(terminalID string) (*Bottle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.bottles[terminalID]
	if !ok {
		return nil, ErrNoBottle
	}
	return b.copy(), nil
}

// Reset removes the terminal's bottle, used on patient change or when the
// physical bottle is pulled.
func (l *Ledger) Reset(terminalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.bottles, terminalID)
}

func (b *Bottle) copy() *Bottle {
	dup := *b
	if b.CalibratedAt != nil {
		t := *b.CalibratedAt
		dup.CalibratedAt = &t
	}
	return &dup
}
