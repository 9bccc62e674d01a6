package patient

import (
	"time"

	"github.com/google/uuid"
)

// Monitoring statuses. Only active patients are part of the risk sweep.
const (
	StatusActive     = "active"
	StatusInactive   = "inactive"
	StatusDischarged = "discharged"
)

// Patient maps to the patient table.
type Patient struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	FullName         string     `db:"full_name" json:"full_name"`
	DocumentNumber   *string    `db:"document_number" json:"document_number,omitempty"`
	AssignedDoctorID *uuid.UUID `db:"assigned_doctor_id" json:"assigned_doctor_id,omitempty"`
	MonitoringStatus string     `db:"monitoring_status" json:"monitoring_status"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}
