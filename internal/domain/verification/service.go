package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotVerified means no valid verification token exists for the
	// patient. Dispensing must not proceed.
	ErrNotVerified = errors.New("patient identity not verified")

	// ErrNotEnrolled means the patient has no active enrollment.
	ErrNotEnrolled = errors.New("patient has no active verification enrollment")

	// ErrModalityUnavailable means the requested method is not enrolled
	// for this patient.
	ErrModalityUnavailable = errors.New("verification method not enrolled for patient")
)

type Service struct {
	repo     Repository
	provider Provider
	tokens   *TokenStore
}

func NewService(repo Repository, provider Provider, tokens *TokenStore) *Service {
	return &Service{repo: repo, provider: provider, tokens: tokens}
}

// Verify runs one verification attempt. On success it issues the single-use
// token the dispense and take-home operations consume. Attempt counters are
// recorded either way.
func (s *Service) Verify(ctx context.Context, patientID uuid.UUID, method, pin string) (*Result, error) {
	switch method {
	case MethodPIN, MethodFingerprint, MethodFacial:
	default:
		return nil, fmt.Errorf("unknown verification method %q", method)
	}

	enrollment, err := s.repo.GetActiveByPatient(ctx, patientID)
	if err != nil {
		return nil, ErrNotEnrolled
	}
	if !enrollment.SupportsMethod(method) {
		return nil, ErrModalityUnavailable
	}

	ok, err := s.provider.Verify(ctx, enrollment, method, pin)
	if err != nil {
		return nil, fmt.Errorf("verification provider: %w", err)
	}

	if recErr := s.repo.RecordAttempt(ctx, enrollment.ID, ok); recErr != nil {
		return nil, fmt.Errorf("record verification attempt: %w", recErr)
	}

	result := &Result{PatientID: patientID, Method: method}
	if !ok {
		result.Status = StatusFailed
		return result, nil
	}

	tok := s.tokens.Issue(patientID)
	result.Status = StatusSuccess
	result.Token = tok.Value
	result.ExpiresAt = tok.ExpiresAt
	return result, nil
}

// ConsumeToken spends a verification token for the patient. After a
// successful consume the patient must verify again before the next dose.
func (s *Service) ConsumeToken(token string, patientID uuid.UUID) error {
	return s.tokens.Consume(token, patientID)
}

// ResetForPatient drops any outstanding token, used when a dosing session
// loads so a terminal switching patients always starts unverified.
func (s *Service) ResetForPatient(patientID uuid.UUID) {
	s.tokens.InvalidatePatient(patientID)
}

// Enroll creates an active enrollment for the patient, hashing the PIN.
// Any prior enrollment is revoked.
func (s *Service) Enroll(ctx context.Context, patientID uuid.UUID, pin string, facial, fingerprint bool) (*Enrollment, error) {
	if len(pin) < 4 {
		return nil, fmt.Errorf("pin must be at least 4 digits")
	}
	hash, err := HashPIN(pin)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}

	e := &Enrollment{PatientID: patientID, PINHash: hash}
	now := time.Now().UTC()
	if facial {
		e.FacialEnrolledAt = &now
	}
	if fingerprint {
		e.FingerprintEnrolledAt = &now
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	return e, nil
}

// Revoke deactivates the patient's active enrollment and drops any
// outstanding token.
func (s *Service) Revoke(ctx context.Context, patientID uuid.UUID) error {
	enrollment, err := s.repo.GetActiveByPatient(ctx, patientID)
	if err != nil {
		return ErrNotEnrolled
	}
	if err := s.repo.Revoke(ctx, enrollment.ID); err != nil {
		return fmt.Errorf("revoke enrollment: %w", err)
	}
	s.tokens.InvalidatePatient(patientID)
	return nil
}

// GetEnrollment returns the patient's active enrollment.
func (s *Service) GetEnrollment(ctx context.Context, patientID uuid.UUID) (*Enrollment, error) {
	enrollment, err := s.repo.GetActiveByPatient(ctx, patientID)
	if err != nil {
		return nil, ErrNotEnrolled
	}
	return enrollment, nil
}
