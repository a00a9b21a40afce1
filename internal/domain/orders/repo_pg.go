package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otpcare/emr/internal/domain/dosing"
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

const requestCols = `id, patient_id, order_id, physician_id, requested_by, change_type,
	current_dose_ug, requested_dose_ug, justification, nurse_signature, status,
	reviewed_by, reviewed_at, denial_reason, version, created_at, updated_at`

func scanRequest(row pgx.Row) (*ChangeRequest, error) {
	var cr ChangeRequest
	var currentUg, requestedUg int64
	err := row.Scan(&cr.ID, &cr.PatientID, &cr.OrderID, &cr.PhysicianID, &cr.RequestedBy, &cr.ChangeType,
		&currentUg, &requestedUg, &cr.Justification, &cr.NurseSignature, &cr.Status,
		&cr.ReviewedBy, &cr.ReviewedAt, &cr.DenialReason, &cr.Version, &cr.CreatedAt, &cr.UpdatedAt)
	cr.CurrentDose = dosage.Milligrams(currentUg)
	cr.RequestedDose = dosage.Milligrams(requestedUg)
	return &cr, err
}

func (r *repoPG) Create(ctx context.Context, cr *ChangeRequest) error {
	cr.ID = uuid.New()
	if cr.Status == "" {
		cr.Status = RequestPending
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO order_change_requests
			(id, patient_id, order_id, physician_id, requested_by, change_type,
			 current_dose_ug, requested_dose_ug, justification, nurse_signature, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		cr.ID, cr.PatientID, cr.OrderID, cr.PhysicianID, cr.RequestedBy, cr.ChangeType,
		int64(cr.CurrentDose), int64(cr.RequestedDose), cr.Justification, cr.NurseSignature, cr.Status)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ChangeRequest, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM order_change_requests WHERE id = $1`, id))
}

func (r *repoPG) ListPendingByPhysician(ctx context.Context, physicianID uuid.UUID, limit, offset int) ([]*ChangeRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM order_change_requests WHERE physician_id = $1 AND status = 'pending'`,
		physicianID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+requestCols+` FROM order_change_requests
		 WHERE physician_id = $1 AND status = 'pending'
		 ORDER BY created_at LIMIT $2 OFFSET $3`, physicianID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ChangeRequest
	for rows.Next() {
		cr, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, cr)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Review(ctx context.Context, cr *ChangeRequest) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE order_change_requests
		SET status = $2, reviewed_by = $3, reviewed_at = $4, denial_reason = $5,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $6 AND status = 'pending'`,
		cr.ID, cr.Status, cr.ReviewedBy, cr.ReviewedAt, cr.DenialReason, cr.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return dosing.ErrStaleVersion
	}
	cr.Version++
	return nil
}
