package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patients table.
type Patient struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	ClientNumber string     `db:"client_number" json:"client_number"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	BirthDate    *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Phone        *string    `db:"phone" json:"phone,omitempty"`
	PhotoURL     *string    `db:"photo_url" json:"photo_url,omitempty"`
	Status       string     `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Patient statuses.
const (
	StatusActive     = "active"
	StatusDischarged = "discharged"
)

// FullName returns the display name used on labels and dashboards.
func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}
