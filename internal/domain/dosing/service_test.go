package dosing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/otpcare/emr/internal/domain/patient"
	"github.com/otpcare/emr/internal/domain/pump"
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

// -- Mock Repositories --

type mockOrderRepo struct {
	orders map[uuid.UUID]*MedicationOrder
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[uuid.UUID]*MedicationOrder)}
}

func (m *mockOrderRepo) Create(_ context.Context, o *MedicationOrder) error {
	if o.Status == "" {
		o.Status = OrderActive
	}
	if o.Status == OrderActive {
		for _, existing := range m.orders {
			if existing.PatientID == o.PatientID && existing.Status == OrderActive {
				return ErrOrderExists
			}
		}
	}
	o.ID = uuid.New()
	m.orders[o.ID] = o
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*MedicationOrder, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return o, nil
}

func (m *mockOrderRepo) GetActiveByPatient(_ context.Context, patientID uuid.UUID) (*MedicationOrder, error) {
	for _, o := range m.orders {
		if o.PatientID == patientID && o.Status == OrderActive {
			return o, nil
		}
	}
	return nil, ErrNoActiveOrder
}

func (m *mockOrderRepo) UpdateDose(_ context.Context, o *MedicationOrder) error {
	stored, ok := m.orders[o.ID]
	if !ok || stored.Version != o.Version {
		return ErrStaleVersion
	}
	stored.DailyDose = o.DailyDose
	stored.Version++
	o.Version = stored.Version
	return nil
}

func (m *mockOrderRepo) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	o.Status = status
	o.Version++
	return nil
}

type mockHoldRepo struct {
	holds map[uuid.UUID]*DosingHold
}

func newMockHoldRepo() *mockHoldRepo {
	return &mockHoldRepo{holds: make(map[uuid.UUID]*DosingHold)}
}

func (m *mockHoldRepo) Create(_ context.Context, h *DosingHold) error {
	h.ID = uuid.New()
	if h.Status == "" {
		h.Status = HoldStatusActive
	}
	if h.RolesCleared == nil {
		h.RolesCleared = []string{}
	}
	m.holds[h.ID] = h
	return nil
}

func (m *mockHoldRepo) GetByID(_ context.Context, id uuid.UUID) (*DosingHold, error) {
	h, ok := m.holds[id]
	if !ok {
		return nil, ErrHoldNotFound
	}
	dup := *h
	return &dup, nil
}

func (m *mockHoldRepo) ListActiveByPatient(_ context.Context, patientID uuid.UUID) ([]*DosingHold, error) {
	var result []*DosingHold
	for _, h := range m.holds {
		if h.PatientID == patientID && h.Status == HoldStatusActive {
			result = append(result, h)
		}
	}
	return result, nil
}

func (m *mockHoldRepo) Update(_ context.Context, h *DosingHold) error {
	stored, ok := m.holds[h.ID]
	if !ok || stored.Version != h.Version {
		return ErrStaleVersion
	}
	dup := *h
	dup.Version++
	m.holds[h.ID] = &dup
	h.Version = dup.Version
	return nil
}

type mockDoseRepo struct {
	doses []*DoseEntry
}

func newMockDoseRepo() *mockDoseRepo {
	return &mockDoseRepo{}
}

func (m *mockDoseRepo) Create(_ context.Context, d *DoseEntry) error {
	for _, existing := range m.doses {
		if existing.IdempotencyKey == d.IdempotencyKey {
			return ErrDuplicateDispense
		}
		if existing.PatientID == d.PatientID && existing.DosedAt.Equal(d.DosedAt) {
			return ErrDuplicateDispense
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	m.doses = append(m.doses, d)
	return nil
}

func (m *mockDoseRepo) GetByIdempotencyKey(_ context.Context, key string) (*DoseEntry, error) {
	for _, d := range m.doses {
		if d.IdempotencyKey == key {
			return d, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (m *mockDoseRepo) ListRecentByPatient(_ context.Context, patientID uuid.UUID, limit int) ([]*DoseEntry, error) {
	var result []*DoseEntry
	for i := len(m.doses) - 1; i >= 0 && len(result) < limit; i-- {
		if m.doses[i].PatientID == patientID {
			result = append(result, m.doses[i])
		}
	}
	return result, nil
}

func (m *mockDoseRepo) ListByPatientRange(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*DoseEntry, error) {
	var result []*DoseEntry
	for _, d := range m.doses {
		if d.PatientID == patientID && !d.DosedAt.Before(from) && d.DosedAt.Before(to) {
			result = append(result, d)
		}
	}
	return result, nil
}

type mockPatientRepo struct {
	patients map[uuid.UUID]*patient.Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*patient.Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *patient.Patient) error {
	p.ID = uuid.New()
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return p, nil
}

func (m *mockPatientRepo) GetByClientNumber(_ context.Context, n string) (*patient.Patient, error) {
	return nil, fmt.Errorf("not found")
}

func (m *mockPatientRepo) Search(_ context.Context, q string, limit, offset int) ([]*patient.Patient, int, error) {
	return nil, 0, nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *patient.Patient) error {
	m.patients[p.ID] = p
	return nil
}

// mockVerifier hands out one-shot tokens without a provider round trip.
type mockVerifier struct {
	tokens map[string]uuid.UUID
	resets int
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

func (m *mockVerifier) ResetForPatient(patientID uuid.UUID) {
	m.resets++
	for tok, owner := range m.tokens {
		if owner == patientID {
			delete(m.tokens, tok)
		}
	}
}

func (m *mockVerifier) GetEnrollment(_ context.Context, _ uuid.UUID) (*verification.Enrollment, error) {
	return nil, verification.ErrNotEnrolled
}

// -- Fixture --

type fixture struct {
	svc       *Service
	orders    *mockOrderRepo
	holds     *mockHoldRepo
	doses     *mockDoseRepo
	patients  *mockPatientRepo
	verifier  *mockVerifier
	pump      *pump.Service
	patientID uuid.UUID
	staffID   uuid.UUID
}

const terminal = "window-1"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:   newMockOrderRepo(),
		holds:    newMockHoldRepo(),
		doses:    newMockDoseRepo(),
		patients: newMockPatientRepo(),
		verifier: newMockVerifier(),
		pump:     pump.NewService(pump.NewLedger(), pump.NewSimulatedController(0)),
		staffID:  uuid.New(),
	}
	f.svc = NewService(f.orders, f.holds, f.doses, f.patients, f.verifier, f.pump, nil)

	p := &patient.Patient{ClientNumber: "MMT-1042", FirstName: "Ana", LastName: "Reyes", Status: patient.StatusActive}
	if err := f.patients.Create(context.Background(), p); err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	f.patientID = p.ID

	order := &MedicationOrder{
		PatientID:    f.patientID,
		Medication:   "methadone",
		DailyDose:    mg("80"),
		MaxTakehome:  6,
		PrescribedBy: uuid.New(),
		StartDate:    time.Now().AddDate(0, -3, 0),
	}
	if err := f.orders.Create(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	if _, err := f.pump.LoadBottle(terminal, "BTL-001", "methadone", mg("1000")); err != nil {
		t.Fatalf("load bottle: %v", err)
	}
	if _, err := f.pump.Calibrate(context.Background(), terminal); err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	return f
}

func (f *fixture) dispenseReq() DispenseRequest {
	return DispenseRequest{
		PatientID:         f.patientID,
		VerificationToken: f.verifier.issue(f.patientID),
		Amount:            mg("80"),
		TerminalID:        terminal,
		IdempotencyKey:    uuid.NewString(),
		DispensedBy:       f.staffID,
	}
}

// -- Dispense tests --

func TestDispenseHappyPath(t *testing.T) {
	f := newFixture(t)

	entry, err := f.svc.Dispense(context.Background(), f.dispenseReq())
	if err != nil {
		t.Fatalf("dispense: %v", err)
	}
	if entry.Amount != mg("80") {
		t.Errorf("expected 80mg, got %s", entry.Amount)
	}
	if entry.DispensedBy != f.staffID {
		t.Error("expected staff attribution on dose row")
	}
	if entry.BottleSerial != "BTL-001" {
		t.Errorf("expected bottle serial, got %q", entry.BottleSerial)
	}

	bottle, _ := f.pump.State(terminal)
	if bottle.CurrentVolume != mg("920") {
		t.Errorf("expected 920mg remaining, got %s", bottle.CurrentVolume)
	}
}

func TestDispenseRequiresStaffIdentity(t *testing.T) {
	f := newFixture(t)

	req := f.dispenseReq()
	req.DispensedBy = uuid.Nil
	if _, err := f.svc.Dispense(context.Background(), req); err != ErrNoStaff {
		t.Errorf("expected ErrNoStaff, got %v", err)
	}
	if len(f.doses.doses) != 0 {
		t.Error("no dose row must be written without staff identity")
	}
}

func TestDispenseBlockedWithoutVerification(t *testing.T) {
	f := newFixture(t)

	req := f.dispenseReq()
	req.VerificationToken = "bogus"
	if _, err := f.svc.Dispense(context.Background(), req); err != verification.ErrNotVerified {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}
	if len(f.doses.doses) != 0 {
		t.Error("no dose row must be written while unverified")
	}
	bottle, _ := f.pump.State(terminal)
	if bottle.CurrentVolume != mg("1000") {
		t.Error("bottle volume must be untouched on blocked dispense")
	}
}

func TestVerificationTokenIsSingleUse(t *testing.T) {
	f := newFixture(t)

	token := f.verifier.issue(f.patientID)

	req := f.dispenseReq()
	req.VerificationToken = token
	if _, err := f.svc.Dispense(context.Background(), req); err != nil {
		t.Fatalf("first dispense: %v", err)
	}

	// Re-using the consumed token must force re-verification.
	second := f.dispenseReq()
	second.VerificationToken = token
	second.DosedAt = time.Now().Add(time.Hour)
	if _, err := f.svc.Dispense(context.Background(), second); err != verification.ErrNotVerified {
		t.Errorf("expected ErrNotVerified on token reuse, got %v", err)
	}
	if len(f.doses.doses) != 1 {
		t.Errorf("expected exactly 1 dose row, got %d", len(f.doses.doses))
	}
}

func TestDispenseBlockedByActiveHold(t *testing.T) {
	f := newFixture(t)

	hold := &DosingHold{PatientID: f.patientID, Type: HoldUDS, Reason: "missing result", CreatedBy: f.staffID}
	if err := f.svc.CreateHold(context.Background(), hold); err != nil {
		t.Fatalf("create hold: %v", err)
	}

	if _, err := f.svc.Dispense(context.Background(), f.dispenseReq()); err != ErrHoldActive {
		t.Fatalf("expected ErrHoldActive, got %v", err)
	}
	if len(f.doses.doses) != 0 {
		t.Error("no dose row must be written under an active hold")
	}
}

func TestAnyHoldTypeBlocksDispensing(t *testing.T) {
	for _, holdType := range []string{HoldClinical, HoldBehavioral, HoldUDS, HoldMissingCounseling, HoldAdministrative} {
		f := newFixture(t)
		hold := &DosingHold{PatientID: f.patientID, Type: holdType, Reason: "review", CreatedBy: f.staffID}
		if err := f.svc.CreateHold(context.Background(), hold); err != nil {
			t.Fatalf("create %s hold: %v", holdType, err)
		}
		if _, err := f.svc.Dispense(context.Background(), f.dispenseReq()); err != ErrHoldActive {
			t.Errorf("hold type %s: expected ErrHoldActive, got %v", holdType, err)
		}
	}
}

func TestDispenseRequiresActiveOrder(t *testing.T) {
	f := newFixture(t)

	order, _ := f.orders.GetActiveByPatient(context.Background(), f.patientID)
	f.orders.SetStatus(context.Background(), order.ID, OrderSuspended)

	if _, err := f.svc.Dispense(context.Background(), f.dispenseReq()); err != ErrNoActiveOrder {
		t.Errorf("expected ErrNoActiveOrder, got %v", err)
	}
}

func TestDispenseRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)

	req := f.dispenseReq()
	req.Amount = 0
	if _, err := f.svc.Dispense(context.Background(), req); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDispenseInsufficientVolume(t *testing.T) {
	f := newFixture(t)

	req := f.dispenseReq()
	req.Amount = mg("1000.1")
	if _, err := f.svc.Dispense(context.Background(), req); err != pump.ErrInsufficientVolume {
		t.Fatalf("expected ErrInsufficientVolume, got %v", err)
	}
	if len(f.doses.doses) != 0 {
		t.Error("no dose row must be written when the bottle is short")
	}
}

func TestDispenseDuplicateIdempotencyKey(t *testing.T) {
	f := newFixture(t)

	key := uuid.NewString()
	req := f.dispenseReq()
	req.IdempotencyKey = key
	if _, err := f.svc.Dispense(context.Background(), req); err != nil {
		t.Fatalf("first dispense: %v", err)
	}

	retry := f.dispenseReq()
	retry.IdempotencyKey = key
	retry.DosedAt = time.Now().Add(time.Hour)
	if _, err := f.svc.Dispense(context.Background(), retry); err != ErrDuplicateDispense {
		t.Fatalf("expected ErrDuplicateDispense, got %v", err)
	}

	if len(f.doses.doses) != 1 {
		t.Errorf("expected exactly 1 dose row, got %d", len(f.doses.doses))
	}
	bottle, _ := f.pump.State(terminal)
	if bottle.CurrentVolume != mg("920") {
		t.Errorf("duplicate must not debit twice, got %s", bottle.CurrentVolume)
	}
}

func TestDispenseDuplicateTimestamp(t *testing.T) {
	f := newFixture(t)

	at := time.Now()
	req := f.dispenseReq()
	req.DosedAt = at
	if _, err := f.svc.Dispense(context.Background(), req); err != nil {
		t.Fatalf("first dispense: %v", err)
	}

	retry := f.dispenseReq()
	retry.DosedAt = at
	if _, err := f.svc.Dispense(context.Background(), retry); err != ErrDuplicateDispense {
		t.Errorf("expected ErrDuplicateDispense for same timestamp, got %v", err)
	}
	if len(f.doses.doses) != 1 {
		t.Errorf("expected exactly 1 dose row, got %d", len(f.doses.doses))
	}
}

// -- Session tests --

func TestLoadSessionAggregates(t *testing.T) {
	f := newFixture(t)

	// One prior dose on the log.
	if _, err := f.svc.Dispense(context.Background(), f.dispenseReq()); err != nil {
		t.Fatalf("seed dose: %v", err)
	}

	session, err := f.svc.LoadSession(context.Background(), f.patientID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Patient == nil || session.Patient.ID != f.patientID {
		t.Error("expected patient on session")
	}
	if session.Order == nil || session.Order.Medication != "methadone" {
		t.Error("expected active order on session")
	}
	if len(session.RecentDoses) != 1 {
		t.Errorf("expected 1 recent dose, got %d", len(session.RecentDoses))
	}
	if !session.Dispensable() {
		t.Error("expected session to be dispensable")
	}
}

func TestLoadSessionResetsVerification(t *testing.T) {
	f := newFixture(t)

	token := f.verifier.issue(f.patientID)
	if _, err := f.svc.LoadSession(context.Background(), f.patientID); err != nil {
		t.Fatalf("load session: %v", err)
	}

	req := f.dispenseReq()
	req.VerificationToken = token
	if _, err := f.svc.Dispense(context.Background(), req); err != verification.ErrNotVerified {
		t.Errorf("expected token invalidated by session load, got %v", err)
	}
}

func TestLoadSessionWithoutOrder(t *testing.T) {
	f := newFixture(t)

	order, _ := f.orders.GetActiveByPatient(context.Background(), f.patientID)
	f.orders.SetStatus(context.Background(), order.ID, OrderCompleted)

	session, err := f.svc.LoadSession(context.Background(), f.patientID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Order != nil {
		t.Error("expected nil order")
	}
	if session.Dispensable() {
		t.Error("session without order must not be dispensable")
	}
}

func TestLoadSessionRecentDosesNewestFirst(t *testing.T) {
	f := newFixture(t)

	base := time.Now().Add(-10 * 24 * time.Hour)
	for i := 0; i < 9; i++ {
		req := f.dispenseReq()
		req.DosedAt = base.Add(time.Duration(i) * 24 * time.Hour)
		if _, err := f.svc.Dispense(context.Background(), req); err != nil {
			t.Fatalf("dose %d: %v", i, err)
		}
	}

	session, err := f.svc.LoadSession(context.Background(), f.patientID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if len(session.RecentDoses) != RecentDoseCount {
		t.Fatalf("expected %d doses, got %d", RecentDoseCount, len(session.RecentDoses))
	}
	for i := 1; i < len(session.RecentDoses); i++ {
		if session.RecentDoses[i].DosedAt.After(session.RecentDoses[i-1].DosedAt) {
			t.Fatal("recent doses must be newest first")
		}
	}
}

// -- Hold tests --

func TestClearHoldRequiresAllRoles(t *testing.T) {
	f := newFixture(t)

	hold := &DosingHold{
		PatientID:     f.patientID,
		Type:          HoldClinical,
		Reason:        "physician review",
		RolesRequired: []string{"nurse", "physician"},
		CreatedBy:     f.staffID,
	}
	if err := f.svc.CreateHold(context.Background(), hold); err != nil {
		t.Fatalf("create hold: %v", err)
	}

	h, err := f.svc.ClearHold(context.Background(), hold.ID, "nurse", hold.Version)
	if err != nil {
		t.Fatalf("nurse sign-off: %v", err)
	}
	if h.Status != HoldStatusActive {
		t.Fatal("hold must stay active until every role signs")
	}

	h, err = f.svc.ClearHold(context.Background(), hold.ID, "physician", h.Version)
	if err != nil {
		t.Fatalf("physician sign-off: %v", err)
	}
	if h.Status != HoldStatusCleared {
		t.Error("expected hold cleared after all sign-offs")
	}
	if h.ClearedAt == nil {
		t.Error("expected cleared_at timestamp")
	}

	holds, _ := f.svc.ListActiveHolds(context.Background(), f.patientID)
	if len(holds) != 0 {
		t.Errorf("expected no active holds, got %d", len(holds))
	}
}

func TestClearHoldStaleVersion(t *testing.T) {
	f := newFixture(t)

	hold := &DosingHold{PatientID: f.patientID, Type: HoldBehavioral, Reason: "incident", CreatedBy: f.staffID}
	if err := f.svc.CreateHold(context.Background(), hold); err != nil {
		t.Fatalf("create hold: %v", err)
	}

	if _, err := f.svc.ClearHold(context.Background(), hold.ID, "nurse", hold.Version+5); err != ErrStaleVersion {
		t.Errorf("expected ErrStaleVersion, got %v", err)
	}
}

func TestClearHoldRoleNotRequired(t *testing.T) {
	f := newFixture(t)

	hold := &DosingHold{
		PatientID:     f.patientID,
		Type:          HoldMissingCounseling,
		Reason:        "missed session",
		RolesRequired: []string{"counselor"},
		CreatedBy:     f.staffID,
	}
	if err := f.svc.CreateHold(context.Background(), hold); err != nil {
		t.Fatalf("create hold: %v", err)
	}

	if _, err := f.svc.ClearHold(context.Background(), hold.ID, "nurse", hold.Version); err != ErrRoleNotRequired {
		t.Errorf("expected ErrRoleNotRequired, got %v", err)
	}
}

func TestClearClearedHoldConflicts(t *testing.T) {
	f := newFixture(t)

	hold := &DosingHold{PatientID: f.patientID, Type: HoldAdministrative, Reason: "paperwork", CreatedBy: f.staffID}
	if err := f.svc.CreateHold(context.Background(), hold); err != nil {
		t.Fatalf("create hold: %v", err)
	}
	h, err := f.svc.ClearHold(context.Background(), hold.ID, "nurse", hold.Version)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := f.svc.ClearHold(context.Background(), hold.ID, "nurse", h.Version); err != ErrStaleVersion {
		t.Errorf("expected ErrStaleVersion clearing a cleared hold, got %v", err)
	}
}

// -- Order tests --

func TestCreateOrderEnforcesSingleActive(t *testing.T) {
	f := newFixture(t)

	dup := &MedicationOrder{
		PatientID:    f.patientID,
		Medication:   "methadone",
		DailyDose:    mg("60"),
		PrescribedBy: uuid.New(),
	}
	if err := f.svc.CreateOrder(context.Background(), dup); err != ErrOrderExists {
		t.Errorf("expected ErrOrderExists, got %v", err)
	}
}

func TestChangeOrderDoseVersionGuard(t *testing.T) {
	f := newFixture(t)

	order, _ := f.orders.GetActiveByPatient(context.Background(), f.patientID)

	updated, err := f.svc.ChangeOrderDose(context.Background(), order.ID, mg("90"), order.Version)
	if err != nil {
		t.Fatalf("change dose: %v", err)
	}
	if updated.DailyDose != mg("90") {
		t.Errorf("expected 90mg, got %s", updated.DailyDose)
	}

	if _, err := f.svc.ChangeOrderDose(context.Background(), order.ID, mg("100"), 0); err != ErrStaleVersion {
		t.Errorf("expected ErrStaleVersion, got %v", err)
	}
}
