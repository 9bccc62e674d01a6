package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Appointment statuses.
const (
	StatusRequested = "requested"
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusAttended  = "attended"
	StatusNoShow    = "no-show"
	StatusCancelled = "cancelled"
)

// ActionRescheduled is recorded in the status history only; it never
// becomes an appointment status.
const ActionRescheduled = "rescheduled"

// StatusChange is one immutable entry of an appointment's status history.
type StatusChange struct {
	Action  string     `json:"action"`
	At      time.Time  `json:"at"`
	ActorID *uuid.UUID `json:"actor_id,omitempty"`
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	PatientID     uuid.UUID      `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID      `db:"doctor_id" json:"doctor_id"`
	ScheduledAt   time.Time      `db:"scheduled_at" json:"scheduled_at"`
	Reason        *string        `db:"reason" json:"reason,omitempty"`
	Status        string         `db:"status" json:"status"`
	StatusHistory []StatusChange `db:"status_history" json:"status_history"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) IsNoShow() bool {
	return a.Status == StatusNoShow
}
