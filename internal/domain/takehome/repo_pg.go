package takehome

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otpcare/emr/internal/platform/db"
	"github.com/otpcare/emr/pkg/dosage"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const bottleCols = `id, batch_id, patient_id, order_id, medication, dose_amount_ug,
	bottle_number, total_bottles, scheduled_consume_date, expiration, qr_payload,
	status, generated_by, filled_at, filled_by, created_at`

func scanBottle(row pgx.Row) (*Bottle, error) {
	var b Bottle
	var doseUg int64
	err := row.Scan(&b.ID, &b.BatchID, &b.PatientID, &b.OrderID, &b.Medication, &doseUg,
		&b.BottleNumber, &b.TotalBottles, &b.ScheduledConsumeDate, &b.Expiration, &b.QRPayload,
		&b.Status, &b.GeneratedBy, &b.FilledAt, &b.FilledBy, &b.CreatedAt)
	b.DoseAmount = dosage.Milligrams(doseUg)
	return &b, err
}

func (r *repoPG) CreateBatch(ctx context.Context, bottles []*Bottle) error {
	for _, b := range bottles {
		b.ID = uuid.New()
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO takehome_bottles
				(id, batch_id, patient_id, order_id, medication, dose_amount_ug,
				 bottle_number, total_bottles, scheduled_consume_date, expiration,
				 qr_payload, status, generated_by)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			b.ID, b.BatchID, b.PatientID, b.OrderID, b.Medication, int64(b.DoseAmount),
			b.BottleNumber, b.TotalBottles, b.ScheduledConsumeDate, b.Expiration,
			b.QRPayload, b.Status, b.GeneratedBy)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bottle, error) {
	b, err := scanBottle(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bottleCols+` FROM takehome_bottles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBottleNotFound
	}
	return b, err
}

func (r *repoPG) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*Bottle, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bottleCols+` FROM takehome_bottles
		 WHERE batch_id = $1 ORDER BY bottle_number`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Bottle
	for rows.Next() {
		b, err := scanBottle(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *repoPG) MarkFilled(ctx context.Context, id, staffID uuid.UUID) (*Bottle, error) {
	// Guarding on status makes the terminal transition race-safe: a
	// second fill matches zero rows.
	b, err := scanBottle(r.conn(ctx).QueryRow(ctx, `
		UPDATE takehome_bottles
		SET status = 'dispensed', filled_at = NOW(), filled_by = $2
		WHERE id = $1 AND status = 'label_printed'
		RETURNING `+bottleCols, id, staffID))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyFilled
	}
	return b, err
}
