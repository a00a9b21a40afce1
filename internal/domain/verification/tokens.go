package verification

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTTL bounds how long a successful verification stays usable.
// Long enough to enter a dose at the window, short enough that a walked-away
// terminal cannot dispense for the wrong patient.
const DefaultTokenTTL = 2 * time.Minute

// Token is a single-use proof of identity verification. Dispensing and
// take-home generation consume it; consumption returns the gate to idle so
// every dose requires a fresh verification.
type Token struct {
	Value     string
	PatientID uuid.UUID
	ExpiresAt time.Time
}

// TokenStore holds outstanding verification tokens in memory. Tokens are
// per-process session state, not durable records.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]Token
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenStore{
		tokens: make(map[string]Token),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue invalidates any outstanding token for the patient and returns a new
// one. A patient has at most one live token at a time.
func (ts *TokenStore) Issue(patientID uuid.UUID) Token {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.invalidateLocked(patientID)

	tok := Token{
		Value:     uuid.NewString(),
		PatientID: patientID,
		ExpiresAt: ts.now().Add(ts.ttl),
	}
	ts.tokens[tok.Value] = tok
	return tok
}

// Consume validates and removes a token. It fails if the token is unknown,
// expired, or issued for a different patient. A consumed token never
// validates twice.
func (ts *TokenStore) Consume(value string, patientID uuid.UUID) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	tok, ok := ts.tokens[value]
	if !ok {
		return ErrNotVerified
	}
	delete(ts.tokens, value)

	if ts.now().After(tok.ExpiresAt) {
		return ErrNotVerified
	}
	if tok.PatientID != patientID {
		return ErrNotVerified
	}
	return nil
}

// InvalidatePatient drops any outstanding token for the patient. Called when
// a dosing session loads so switching patients always re-verifies.
func (ts *TokenStore) InvalidatePatient(patientID uuid.UUID) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.invalidateLocked(patientID)
}

func (ts *TokenStore) invalidateLocked(patientID uuid.UUID) {
	for value, tok := range ts.tokens {
		if tok.PatientID == patientID {
			delete(ts.tokens, value)
		}
	}
}
