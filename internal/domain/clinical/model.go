package clinical

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time capture of a patient's clinical state. The
// current snapshot lives in clinical_detail; historical captures are
// immutable rows in clinical_detail_history with CapturedAt set.
type Snapshot struct {
	ID                    *uuid.UUID `db:"id" json:"id,omitempty"`
	PatientID             uuid.UUID  `db:"patient_id" json:"patient_id"`
	WeightKg              *float64   `db:"weight_kg" json:"weight_kg,omitempty"`
	BMI                   *float64   `db:"bmi" json:"bmi,omitempty"`
	BacteriologicalStatus *string    `db:"bacteriological_status" json:"bacteriological_status,omitempty"`
	TreatmentPhase        *string    `db:"treatment_phase" json:"treatment_phase,omitempty"`
	Comorbidities         []string   `db:"comorbidities" json:"comorbidities"`
	HIVStatus             *string    `db:"hiv_status" json:"hiv_status,omitempty"`
	Smoking               bool       `db:"smoking" json:"smoking"`
	Alcohol               bool       `db:"alcohol" json:"alcohol"`
	PriorTBContact        bool       `db:"prior_tb_contact" json:"prior_tb_contact"`
	PriorTBTreatment      bool       `db:"prior_tb_treatment" json:"prior_tb_treatment"`
	Symptoms              []string   `db:"symptoms" json:"symptoms"`
	Notes                 *string    `db:"notes" json:"notes,omitempty"`
	AdherenceRisk         *string    `db:"adherence_risk" json:"adherence_risk,omitempty"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
	CapturedAt            *time.Time `db:"captured_at" json:"captured_at,omitempty"`
}

// NotesText returns the free-text notes, or "" when none were recorded.
func (s *Snapshot) NotesText() string {
	if s == nil || s.Notes == nil {
		return ""
	}
	return *s.Notes
}
