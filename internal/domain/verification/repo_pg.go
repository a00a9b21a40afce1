package verification

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otpcare/emr/internal/platform/db"
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

const enrollmentCols = `id, patient_id, pin_hash, facial_enrolled_at, fingerprint_enrolled_at,
	success_count, failure_count, status, version, created_at, updated_at`

func (r *repoPG) scanRow(row pgx.Row) (*Enrollment, error) {
	var e Enrollment
	err := row.Scan(&e.ID, &e.PatientID, &e.PINHash, &e.FacialEnrolledAt, &e.FingerprintEnrolledAt,
		&e.SuccessCount, &e.FailureCount, &e.Status, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, e *Enrollment) error {
	e.ID = uuid.New()
	if e.Status == "" {
		e.Status = EnrollmentActive
	}
	// A fresh enrollment supersedes any prior one for the patient.
	if _, err := r.conn(ctx).Exec(ctx,
		`UPDATE biometric_enrollments SET status='revoked', updated_at=NOW()
		 WHERE patient_id = $1 AND status = 'active'`, e.PatientID); err != nil {
		return err
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO biometric_enrollments
			(id, patient_id, pin_hash, facial_enrolled_at, fingerprint_enrolled_at, status)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.PatientID, e.PINHash, e.FacialEnrolledAt, e.FingerprintEnrolledAt, e.Status)
	return err
}

func (r *repoPG) GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*Enrollment, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+enrollmentCols+` FROM biometric_enrollments
		 WHERE patient_id = $1 AND status = 'active'
		 ORDER BY created_at DESC LIMIT 1`, patientID))
}

func (r *repoPG) RecordAttempt(ctx context.Context, enrollmentID uuid.UUID, success bool) error {
	var err error
	if success {
		_, err = r.conn(ctx).Exec(ctx,
			`UPDATE biometric_enrollments
			 SET success_count = success_count + 1, version = version + 1, updated_at = NOW()
			 WHERE id = $1`, enrollmentID)
	} else {
		_, err = r.conn(ctx).Exec(ctx,
			`UPDATE biometric_enrollments
			 SET failure_count = failure_count + 1, version = version + 1, updated_at = NOW()
			 WHERE id = $1`, enrollmentID)
	}
	return err
}

func (r *repoPG) Revoke(ctx context.Context, enrollmentID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE biometric_enrollments
		 SET status = 'revoked', version = version + 1, updated_at = NOW()
		 WHERE id = $1`, enrollmentID)
	return err
}
