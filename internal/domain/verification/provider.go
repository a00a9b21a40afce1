package verification

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Provider performs the actual identity check for one verification attempt.
// Implementations must be safe for concurrent use.
type Provider interface {
	Verify(ctx context.Context, enrollment *Enrollment, method, pin string) (bool, error)
}

// SimulatedProvider stands in for biometric capture hardware. Fingerprint
// and facial checks succeed after a configurable delay once the modality is
// enrolled; PIN checks compare against the enrollment's bcrypt hash.
type SimulatedProvider struct {
	Latency time.Duration
}

func NewSimulatedProvider(latency time.Duration) *SimulatedProvider {
	return &SimulatedProvider{Latency: latency}
}

func (p *SimulatedProvider) Verify(ctx context.Context, enrollment *Enrollment, method, pin string) (bool, error) {
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	switch method {
	case MethodPIN:
		err := bcrypt.CompareHashAndPassword([]byte(enrollment.PINHash), []byte(pin))
		return err == nil, nil
	case MethodFingerprint, MethodFacial:
		// Hardware capture is out of scope; an enrolled modality matches.
		return true, nil
	default:
		return false, nil
	}
}

// HashPIN produces the bcrypt hash stored on an enrollment row.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
