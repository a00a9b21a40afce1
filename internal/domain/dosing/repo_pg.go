package dosing

import (
	"context"
	"errors"
	"time"

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

func connFrom(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// -- Orders --

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

const orderCols = `id, patient_id, medication, daily_dose_ug, max_takehome, status,
	prescribed_by, start_date, version, created_at, updated_at`

func scanOrder(row pgx.Row) (*MedicationOrder, error) {
	var o MedicationOrder
	var doseUg int64
	err := row.Scan(&o.ID, &o.PatientID, &o.Medication, &doseUg, &o.MaxTakehome, &o.Status,
		&o.PrescribedBy, &o.StartDate, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	o.DailyDose = dosage.Milligrams(doseUg)
	return &o, err
}

func (r *orderRepoPG) Create(ctx context.Context, o *MedicationOrder) error {
	o.ID = uuid.New()
	if o.Status == "" {
		o.Status = OrderActive
	}
	_, err := connFrom(ctx, r.pool).Exec(ctx, `
		INSERT INTO medication_orders
			(id, patient_id, medication, daily_dose_ug, max_takehome, status, prescribed_by, start_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.PatientID, o.Medication, int64(o.DailyDose), o.MaxTakehome, o.Status,
		o.PrescribedBy, o.StartDate)
	if isUniqueViolation(err) {
		return ErrOrderExists
	}
	return err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicationOrder, error) {
	return scanOrder(connFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orderCols+` FROM medication_orders WHERE id = $1`, id))
}

func (r *orderRepoPG) GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*MedicationOrder, error) {
	o, err := scanOrder(connFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orderCols+` FROM medication_orders
		 WHERE patient_id = $1 AND status = 'active'`, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveOrder
	}
	return o, err
}

func (r *orderRepoPG) UpdateDose(ctx context.Context, o *MedicationOrder) error {
	tag, err := connFrom(ctx, r.pool).Exec(ctx, `
		UPDATE medication_orders
		SET daily_dose_ug = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3`,
		o.ID, int64(o.DailyDose), o.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion
	}
	o.Version++
	return nil
}

func (r *orderRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := connFrom(ctx, r.pool).Exec(ctx, `
		UPDATE medication_orders SET status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1`, id, status)
	return err
}

// -- Holds --

type holdRepoPG struct{ pool *pgxpool.Pool }

func NewHoldRepoPG(pool *pgxpool.Pool) HoldRepository {
	return &holdRepoPG{pool: pool}
}

const holdCols = `id, patient_id, hold_type, reason, status, roles_required, roles_cleared,
	created_by, cleared_at, version, created_at, updated_at`

func scanHold(row pgx.Row) (*DosingHold, error) {
	var h DosingHold
	err := row.Scan(&h.ID, &h.PatientID, &h.Type, &h.Reason, &h.Status,
		&h.RolesRequired, &h.RolesCleared,
		&h.CreatedBy, &h.ClearedAt, &h.Version, &h.CreatedAt, &h.UpdatedAt)
	return &h, err
}

func (r *holdRepoPG) Create(ctx context.Context, h *DosingHold) error {
	h.ID = uuid.New()
	if h.Status == "" {
		h.Status = HoldStatusActive
	}
	if h.RolesCleared == nil {
		h.RolesCleared = []string{}
	}
	_, err := connFrom(ctx, r.pool).Exec(ctx, `
		INSERT INTO dosing_holds
			(id, patient_id, hold_type, reason, status, roles_required, roles_cleared, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		h.ID, h.PatientID, h.Type, h.Reason, h.Status, h.RolesRequired, h.RolesCleared, h.CreatedBy)
	return err
}

func (r *holdRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DosingHold, error) {
	h, err := scanHold(connFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT `+holdCols+` FROM dosing_holds WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrHoldNotFound
	}
	return h, err
}

func (r *holdRepoPG) ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*DosingHold, error) {
	rows, err := connFrom(ctx, r.pool).Query(ctx,
		`SELECT `+holdCols+` FROM dosing_holds
		 WHERE patient_id = $1 AND status = 'active'
		 ORDER BY created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DosingHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

func (r *holdRepoPG) Update(ctx context.Context, h *DosingHold) error {
	tag, err := connFrom(ctx, r.pool).Exec(ctx, `
		UPDATE dosing_holds
		SET status = $2, roles_cleared = $3, cleared_at = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $5`,
		h.ID, h.Status, h.RolesCleared, h.ClearedAt, h.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion
	}
	h.Version++
	return nil
}

// -- Dose log --

type doseRepoPG struct{ pool *pgxpool.Pool }

func NewDoseRepoPG(pool *pgxpool.Pool) DoseRepository {
	return &doseRepoPG{pool: pool}
}

const doseCols = `id, patient_id, order_id, medication, amount_ug, dosed_at,
	dispensed_by, witness_id, notes, behavior_notes, bottle_serial, idempotency_key, created_at`

func scanDose(row pgx.Row) (*DoseEntry, error) {
	var d DoseEntry
	var amountUg int64
	err := row.Scan(&d.ID, &d.PatientID, &d.OrderID, &d.Medication, &amountUg, &d.DosedAt,
		&d.DispensedBy, &d.WitnessID, &d.Notes, &d.BehaviorNotes, &d.BottleSerial,
		&d.IdempotencyKey, &d.CreatedAt)
	d.Amount = dosage.Milligrams(amountUg)
	return &d, err
}

func (r *doseRepoPG) Create(ctx context.Context, d *DoseEntry) error {
	d.ID = uuid.New()
	_, err := connFrom(ctx, r.pool).Exec(ctx, `
		INSERT INTO dose_log
			(id, patient_id, order_id, medication, amount_ug, dosed_at,
			 dispensed_by, witness_id, notes, behavior_notes, bottle_serial, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.ID, d.PatientID, d.OrderID, d.Medication, int64(d.Amount), d.DosedAt,
		d.DispensedBy, d.WitnessID, d.Notes, d.BehaviorNotes, d.BottleSerial, d.IdempotencyKey)
	if isUniqueViolation(err) {
		return ErrDuplicateDispense
	}
	return err
}

func (r *doseRepoPG) GetByIdempotencyKey(ctx context.Context, key string) (*DoseEntry, error) {
	return scanDose(connFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT `+doseCols+` FROM dose_log WHERE idempotency_key = $1`, key))
}

func (r *doseRepoPG) ListRecentByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*DoseEntry, error) {
	rows, err := connFrom(ctx, r.pool).Query(ctx,
		`SELECT `+doseCols+` FROM dose_log
		 WHERE patient_id = $1 ORDER BY dosed_at DESC LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DoseEntry
	for rows.Next() {
		d, err := scanDose(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *doseRepoPG) ListByPatientRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*DoseEntry, error) {
	rows, err := connFrom(ctx, r.pool).Query(ctx,
		`SELECT `+doseCols+` FROM dose_log
		 WHERE patient_id = $1 AND dosed_at >= $2 AND dosed_at < $3
		 ORDER BY dosed_at DESC`, patientID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DoseEntry
	for rows.Next() {
		d, err := scanDose(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
