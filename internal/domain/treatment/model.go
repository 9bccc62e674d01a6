package treatment

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive   = "active"
	StatusFinished = "finished"
)

// History actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
}

// Treatment maps to the treatment table. A patient has at most one.
type Treatment struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	PatientID   uuid.UUID    `db:"patient_id" json:"patient_id"`
	StartDate   time.Time    `db:"start_date" json:"start_date"`
	EndDate     *time.Time   `db:"end_date" json:"end_date,omitempty"`
	Medications []Medication `db:"medications" json:"medications"`
	Notes       *string      `db:"notes" json:"notes,omitempty"`
	Status      string       `db:"status" json:"status"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// State is the full treatment snapshot stored with every history entry,
// together with the weight and symptoms recorded alongside the change.
type State struct {
	StartDate   *time.Time   `json:"start_date,omitempty"`
	EndDate     *time.Time   `json:"end_date,omitempty"`
	Medications []Medication `json:"medications,omitempty"`
	Notes       *string      `json:"notes,omitempty"`
	Status      string       `json:"status,omitempty"`
	WeightKg    *float64     `json:"weight_kg,omitempty"`
	Symptoms    []string     `json:"symptoms,omitempty"`
}

// NotesText returns the recorded notes, or "".
func (s State) NotesText() string {
	if s.Notes == nil {
		return ""
	}
	return *s.Notes
}

// HistoryEntry maps to the append-only treatment_history table.
type HistoryEntry struct {
	ID          uuid.UUID `db:"id" json:"id"`
	TreatmentID uuid.UUID `db:"treatment_id" json:"treatment_id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	Action      string    `db:"action" json:"action"`
	State       State     `db:"state" json:"state"`
	RecordedAt  time.Time `db:"recorded_at" json:"recorded_at"`
}
