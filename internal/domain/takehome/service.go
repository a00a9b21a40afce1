package takehome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otpcare/emr/internal/domain/dosing"
	"github.com/otpcare/emr/internal/platform/ws"
)

var (
	// ErrTakehomeLimit means the requested bottle count exceeds the
	// order's take-home allowance.
	ErrTakehomeLimit = errors.New("requested count exceeds order take-home limit")

	// ErrAlreadyFilled means the bottle is already dispensed; the state
	// is terminal.
	ErrAlreadyFilled = errors.New("bottle already dispensed")

	// ErrBottleNotFound is returned for unknown bottle ids.
	ErrBottleNotFound = errors.New("take-home bottle not found")

	// ErrInvalidCount means the requested bottle count is not positive.
	ErrInvalidCount = errors.New("bottle count must be positive")
)

// TokenConsumer is the slice of the verification service batch generation
// needs.
type TokenConsumer interface {
	ConsumeToken(token string, patientID uuid.UUID) error
}

// OrderSource resolves the patient's active medication order.
type OrderSource interface {
	GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*dosing.MedicationOrder, error)
}

// TxRunner executes fn atomically. Production wiring uses db.WithTx; tests
// pass a passthrough.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	repo       Repository
	orders     OrderSource
	verifier   TokenConsumer
	publisher  ws.EventPublisher
	runTx      TxRunner
	expiryDays int
	now        func() time.Time
}

func NewService(repo Repository, orders OrderSource, verifier TokenConsumer,
	publisher ws.EventPublisher, runTx TxRunner, expiryDays int) *Service {
	if expiryDays <= 0 {
		expiryDays = DefaultExpiryDays
	}
	if runTx == nil {
		runTx = func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		}
	}
	return &Service{
		repo:       repo,
		orders:     orders,
		verifier:   verifier,
		publisher:  publisher,
		runTx:      runTx,
		expiryDays: expiryDays,
		now:        time.Now,
	}
}

// GenerateRequest carries one batch generation. GeneratedBy comes from the
// authenticated staff token.
type GenerateRequest struct {
	PatientID         uuid.UUID
	Count             int
	StartDate         time.Time
	VerificationToken string
	GeneratedBy       uuid.UUID
}

// GenerateBatch creates Count bottles in one transaction. Bottle i (from 1)
// is scheduled for StartDate + (i-1) days and expires expiryDays after its
// scheduled date. A failed insert rolls back the whole batch.
func (s *Service) GenerateBatch(ctx context.Context, req GenerateRequest) ([]*Bottle, error) {
	if req.GeneratedBy == uuid.Nil {
		return nil, dosing.ErrNoStaff
	}
	if err := s.verifier.ConsumeToken(req.VerificationToken, req.PatientID); err != nil {
		return nil, err
	}

	order, err := s.orders.GetActiveByPatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	if req.Count <= 0 {
		return nil, ErrInvalidCount
	}
	if req.Count > order.MaxTakehome {
		return nil, ErrTakehomeLimit
	}

	batchID := uuid.New()
	issuedAt := s.now().UTC()
	start := req.StartDate
	if start.IsZero() {
		start = issuedAt.Truncate(24 * time.Hour)
	}

	bottles := make([]*Bottle, 0, req.Count)
	for i := 1; i <= req.Count; i++ {
		scheduled := start.AddDate(0, 0, i-1)
		bottles = append(bottles, &Bottle{
			BatchID:              batchID,
			PatientID:            req.PatientID,
			OrderID:              order.ID,
			Medication:           order.Medication,
			DoseAmount:           order.DailyDose,
			BottleNumber:         i,
			TotalBottles:         req.Count,
			ScheduledConsumeDate: scheduled,
			Expiration:           scheduled.AddDate(0, 0, s.expiryDays),
			QRPayload:            QRPayloadFor(req.PatientID, batchID, i, issuedAt),
			Status:               StatusLabelPrinted,
			GeneratedBy:          req.GeneratedBy,
		})
	}

	err = s.runTx(ctx, func(ctx context.Context) error {
		return s.repo.CreateBatch(ctx, bottles)
	})
	if err != nil {
		return nil, fmt.Errorf("create take-home batch: %w", err)
	}

	s.publish(ctx, ws.NewEvent(ws.EventBatchGenerated, ws.BatchTopic(batchID), BatchProgress{
		BatchID: batchID, PatientID: req.PatientID, Filled: 0, Total: req.Count,
	}))
	return bottles, nil
}

// Fill transitions one bottle to dispensed. Dispensed is terminal; a second
// fill returns ErrAlreadyFilled. Filling the last bottle of a batch
// publishes a batch_filled event.
func (s *Service) Fill(ctx context.Context, bottleID, staffID uuid.UUID) (*Bottle, error) {
	if staffID == uuid.Nil {
		return nil, dosing.ErrNoStaff
	}

	b, err := s.repo.MarkFilled(ctx, bottleID, staffID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ws.NewEvent(ws.EventBottleFilled, ws.BatchTopic(b.BatchID), b))

	progress, err := s.Progress(ctx, b.BatchID)
	if err == nil && progress.AllFilled {
		s.publish(ctx, ws.NewEvent(ws.EventBatchFilled, ws.BatchTopic(b.BatchID), progress))
	}
	return b, nil
}

// GetBottle returns one bottle.
func (s *Service) GetBottle(ctx context.Context, bottleID uuid.UUID) (*Bottle, error) {
	return s.repo.GetByID(ctx, bottleID)
}

// Progress reports how many bottles of the batch have been filled.
func (s *Service) Progress(ctx context.Context, batchID uuid.UUID) (*BatchProgress, error) {
	bottles, err := s.repo.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(bottles) == 0 {
		return nil, ErrBottleNotFound
	}

	progress := &BatchProgress{
		BatchID:   batchID,
		PatientID: bottles[0].PatientID,
		Total:     len(bottles),
	}
	for _, b := range bottles {
		if b.Status == StatusDispensed {
			progress.Filled++
		}
	}
	progress.AllFilled = progress.Filled == progress.Total
	return progress, nil
}

// ListBatch returns every bottle of a batch ordered by bottle number.
func (s *Service) ListBatch(ctx context.Context, batchID uuid.UUID) ([]*Bottle, error) {
	return s.repo.ListByBatch(ctx, batchID)
}

func (s *Service) publish(ctx context.Context, event ws.Event) {
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, event)
	}
}
