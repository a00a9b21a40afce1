package takehome

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otpcare/emr/pkg/dosage"
)

// Bottle statuses. label_printed is the initial state; dispensed is
// terminal.
const (
	StatusLabelPrinted = "label_printed"
	StatusDispensed    = "dispensed"
)

// DefaultExpiryDays is how long after its scheduled consume date a
// take-home bottle stays usable.
const DefaultExpiryDays = 30

// Bottle maps to the takehome_bottles table. Bottles are created as a batch
// in a single transaction; each carries a unique QR payload.
type Bottle struct {
	ID                   uuid.UUID         `db:"id" json:"id"`
	BatchID              uuid.UUID         `db:"batch_id" json:"batch_id"`
	PatientID            uuid.UUID         `db:"patient_id" json:"patient_id"`
	OrderID              uuid.UUID         `db:"order_id" json:"order_id"`
	Medication           string            `db:"medication" json:"medication"`
	DoseAmount           dosage.Milligrams `db:"dose_amount" json:"dose_amount"`
	BottleNumber         int               `db:"bottle_number" json:"bottle_number"`
	TotalBottles         int               `db:"total_bottles" json:"total_bottles"`
	ScheduledConsumeDate time.Time         `db:"scheduled_consume_date" json:"scheduled_consume_date"`
	Expiration           time.Time         `db:"expiration" json:"expiration"`
	QRPayload            string            `db:"qr_payload" json:"qr_payload"`
	Status               string            `db:"status" json:"status"`
	GeneratedBy          uuid.UUID         `db:"generated_by" json:"generated_by"`
	FilledAt             *time.Time        `db:"filled_at" json:"filled_at,omitempty"`
	FilledBy             *uuid.UUID        `db:"filled_by" json:"filled_by,omitempty"`
	CreatedAt            time.Time         `db:"created_at" json:"created_at"`
}

// QRPayloadFor builds the payload encoded on a bottle label. Batch ID and
// bottle number make it unique across every bottle ever printed.
func QRPayloadFor(patientID, batchID uuid.UUID, bottleNumber int, issuedAt time.Time) string {
	return fmt.Sprintf("TH|%s|%s|%d|%d", patientID, batchID, bottleNumber, issuedAt.Unix())
}

// BatchProgress summarizes fulfillment of one batch.
type BatchProgress struct {
	BatchID   uuid.UUID `json:"batch_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Filled    int       `json:"filled"`
	Total     int       `json:"total"`
	AllFilled bool      `json:"all_filled"`
}
