package alert

import (
	"time"

	"github.com/google/uuid"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Lifecycle statuses. Resolved is terminal.
const (
	StatusActive   = "active"
	StatusReviewed = "reviewed"
	StatusResolved = "resolved"
)

// Alert maps to the alert table. At most one alert per (patient, category)
// may be active at a time; the database enforces it with a partial unique
// index.
type Alert struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID    *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	Category    string     `db:"category" json:"category"`
	Description string     `db:"description" json:"description"`
	Codes       []string   `db:"codes" json:"codes"`
	Severity    string     `db:"severity" json:"severity"`
	Status      string     `db:"status" json:"status"`
	ActionTaken *string    `db:"action_taken" json:"action_taken,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

var validStatuses = map[string]bool{
	StatusActive: true, StatusReviewed: true, StatusResolved: true,
}

// transitions lists the statuses each status may move to.
var transitions = map[string][]string{
	StatusActive:   {StatusReviewed, StatusResolved},
	StatusReviewed: {StatusResolved},
}

// CanTransition reports whether a clinician may move an alert from one
// status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
