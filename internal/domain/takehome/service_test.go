package takehome

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/otpcare/emr/internal/domain/dosing"
	"github.com/otpcare/emr/internal/domain/verification"
	"github.com/otpcare/emr/pkg/dosage"
)

func mg(s string) dosage.Milligrams {
	v, err := dosage.Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// -- Mocks --

type mockRepo struct {
	bottles map[uuid.UUID]*Bottle
	// failAtBottle makes CreateBatch fail when it reaches this bottle
	// number; 0 disables.
	failAtBottle int
}

func newMockRepo() *mockRepo {
	return &mockRepo{bottles: make(map[uuid.UUID]*Bottle)}
}

func (m *mockRepo) CreateBatch(_ context.Context, bottles []*Bottle) error {
	// Stage first, commit at the end, as a transaction would.
	staged := make([]*Bottle, 0, len(bottles))
	for _, b := range bottles {
		if m.failAtBottle > 0 && b.BottleNumber == m.failAtBottle {
			return fmt.Errorf("insert failed at bottle %d", b.BottleNumber)
		}
		b.ID = uuid.New()
		b.CreatedAt = time.Now()
		staged = append(staged, b)
	}
	for _, b := range staged {
		m.bottles[b.ID] = b
	}
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Bottle, error) {
	b, ok := m.bottles[id]
	if !ok {
		return nil, ErrBottleNotFound
	}
	return b, nil
}

func (m *mockRepo) ListByBatch(_ context.Context, batchID uuid.UUID) ([]*Bottle, error) {
	var result []*Bottle
	for _, b := range m.bottles {
		if b.BatchID == batchID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (m *mockRepo) MarkFilled(_ context.Context, id, staffID uuid.UUID) (*Bottle, error) {
	b, ok := m.bottles[id]
	if !ok {
		return nil, ErrBottleNotFound
	}
	if b.Status != StatusLabelPrinted {
		return nil, ErrAlreadyFilled
	}
	now := time.Now()
	b.Status = StatusDispensed
	b.FilledAt = &now
	b.FilledBy = &staffID
	return b, nil
}

type mockOrders struct {
	order *dosing.MedicationOrder
}

func (m *mockOrders) GetActiveByPatient(_ context.Context, patientID uuid.UUID) (*dosing.MedicationOrder, error) {
	if m.order == nil || m.order.PatientID != patientID {
		return nil, dosing.ErrNoActiveOrder
	}
	return m.order, nil
}

type mockVerifier struct {
	tokens map[string]uuid.UUID
}

func newMockVerifier() *mockVerifier {
	return &mockVerifier{tokens: make(map[string]uuid.UUID)}
}

func (m *mockVerifier) issue(patientID uuid.UUID) string {
	tok := uuid.NewString()
	m.tokens[tok] = patientID
	return tok
}

func (m *mockVerifier) ConsumeToken(token string, patientID uuid.UUID) error {
	owner, ok := m.tokens[token]
	if !ok || owner != patientID {
		return verification.ErrNotVerified
	}
	delete(m.tokens, token)
	return nil
}

// -- Fixture --

type fixture struct {
	svc       *Service
	repo      *mockRepo
	verifier  *mockVerifier
	patientID uuid.UUID
	staffID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	patientID := uuid.New()
	f := &fixture{
		repo:      newMockRepo(),
		verifier:  newMockVerifier(),
		patientID: patientID,
		staffID:   uuid.New(),
	}
	orders := &mockOrders{order: &dosing.MedicationOrder{
		ID:          uuid.New(),
		PatientID:   patientID,
		Medication:  "methadone",
		DailyDose:   mg("80"),
		MaxTakehome: 6,
		Status:      dosing.OrderActive,
	}}
	f.svc = NewService(f.repo, orders, f.verifier, nil, nil, DefaultExpiryDays)
	return f
}

func (f *fixture) generate(count int, start time.Time) ([]*Bottle, error) {
	return f.svc.GenerateBatch(context.Background(), GenerateRequest{
		PatientID:         f.patientID,
		Count:             count,
		StartDate:         start,
		VerificationToken: f.verifier.issue(f.patientID),
		GeneratedBy:       f.staffID,
	})
}

// -- Tests --

func TestGenerateBatchFields(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	bottles, err := f.generate(6, start)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(bottles) != 6 {
		t.Fatalf("expected 6 bottles, got %d", len(bottles))
	}

	for i, b := range bottles {
		wantDate := start.AddDate(0, 0, i)
		if !b.ScheduledConsumeDate.Equal(wantDate) {
			t.Errorf("bottle %d: scheduled %v, want %v", i+1, b.ScheduledConsumeDate, wantDate)
		}
		if !b.Expiration.Equal(wantDate.AddDate(0, 0, DefaultExpiryDays)) {
			t.Errorf("bottle %d: expiration %v, want scheduled+%dd", i+1, b.Expiration, DefaultExpiryDays)
		}
		if b.BottleNumber != i+1 {
			t.Errorf("bottle %d: number %d", i+1, b.BottleNumber)
		}
		if b.TotalBottles != 6 {
			t.Errorf("bottle %d: total %d, want 6", i+1, b.TotalBottles)
		}
		if b.Status != StatusLabelPrinted {
			t.Errorf("bottle %d: status %q", i+1, b.Status)
		}
		if b.DoseAmount != mg("80") {
			t.Errorf("bottle %d: dose %s, want order dose", i+1, b.DoseAmount)
		}
		if b.GeneratedBy != f.staffID {
			t.Errorf("bottle %d: missing staff attribution", i+1)
		}
	}
}

func TestGenerateBatchQRPayloadsUnique(t *testing.T) {
	f := newFixture(t)

	first, err := f.generate(3, time.Now())
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	second, err := f.generate(3, time.Now())
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}

	seen := make(map[string]bool)
	for _, b := range append(first, second...) {
		if seen[b.QRPayload] {
			t.Errorf("duplicate QR payload %q", b.QRPayload)
		}
		seen[b.QRPayload] = true
		if !strings.HasPrefix(b.QRPayload, "TH|"+f.patientID.String()) {
			t.Errorf("payload %q missing patient prefix", b.QRPayload)
		}
	}
}

func TestGenerateBatchOverLimitCreatesNothing(t *testing.T) {
	f := newFixture(t)

	if _, err := f.generate(7, time.Now()); err != ErrTakehomeLimit {
		t.Fatalf("expected ErrTakehomeLimit, got %v", err)
	}
	if len(f.repo.bottles) != 0 {
		t.Errorf("expected zero bottles after over-limit request, got %d", len(f.repo.bottles))
	}
}

func TestGenerateBatchRequiresVerification(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenerateBatch(context.Background(), GenerateRequest{
		PatientID:         f.patientID,
		Count:             3,
		VerificationToken: "bogus",
		GeneratedBy:       f.staffID,
	})
	if err != verification.ErrNotVerified {
		t.Errorf("expected ErrNotVerified, got %v", err)
	}
	if len(f.repo.bottles) != 0 {
		t.Error("unverified request must create nothing")
	}
}

func TestGenerateBatchRequiresStaff(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenerateBatch(context.Background(), GenerateRequest{
		PatientID:         f.patientID,
		Count:             3,
		VerificationToken: f.verifier.issue(f.patientID),
	})
	if err != dosing.ErrNoStaff {
		t.Errorf("expected ErrNoStaff, got %v", err)
	}
}

func TestGenerateBatchInvalidCount(t *testing.T) {
	f := newFixture(t)

	if _, err := f.generate(0, time.Now()); err != ErrInvalidCount {
		t.Errorf("expected ErrInvalidCount for 0, got %v", err)
	}
	if _, err := f.generate(-2, time.Now()); err != ErrInvalidCount {
		t.Errorf("expected ErrInvalidCount for negative, got %v", err)
	}
}

func TestGenerateBatchAtomic(t *testing.T) {
	f := newFixture(t)
	f.repo.failAtBottle = 4

	if _, err := f.generate(6, time.Now()); err == nil {
		t.Fatal("expected insert failure")
	}
	if len(f.repo.bottles) != 0 {
		t.Errorf("failed batch must leave zero rows, got %d", len(f.repo.bottles))
	}
}

func TestFillIsTerminalAndIdempotencyGuarded(t *testing.T) {
	f := newFixture(t)

	bottles, err := f.generate(2, time.Now())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	b, err := f.svc.Fill(context.Background(), bottles[0].ID, f.staffID)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if b.Status != StatusDispensed {
		t.Errorf("expected dispensed, got %s", b.Status)
	}
	if b.FilledAt == nil || b.FilledBy == nil || *b.FilledBy != f.staffID {
		t.Error("expected fill attribution")
	}

	if _, err := f.svc.Fill(context.Background(), bottles[0].ID, f.staffID); err != ErrAlreadyFilled {
		t.Errorf("expected ErrAlreadyFilled on second fill, got %v", err)
	}
}

func TestBatchProgress(t *testing.T) {
	f := newFixture(t)

	bottles, err := f.generate(3, time.Now())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	batchID := bottles[0].BatchID

	progress, err := f.svc.Progress(context.Background(), batchID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress.Filled != 0 || progress.Total != 3 || progress.AllFilled {
		t.Errorf("fresh batch progress wrong: %+v", progress)
	}

	for _, b := range bottles {
		if _, err := f.svc.Fill(context.Background(), b.ID, f.staffID); err != nil {
			t.Fatalf("fill %d: %v", b.BottleNumber, err)
		}
	}

	progress, err = f.svc.Progress(context.Background(), batchID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress.Filled != 3 || !progress.AllFilled {
		t.Errorf("expected all filled, got %+v", progress)
	}
}
