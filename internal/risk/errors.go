package risk

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the patient being evaluated does not exist.
var ErrNotFound = errors.New("risk: patient not found")

// EvaluationInternalError wraps a panic recovered while evaluating one
// patient. It indicates a defect, never bad input.
type EvaluationInternalError struct {
	PatientID uuid.UUID
	Panic     interface{}
	Stack     []byte
}

func (e *EvaluationInternalError) Error() string {
	return fmt.Sprintf("risk: internal error evaluating patient %s: %v", e.PatientID, e.Panic)
}

// MaterializationError reports that the alert for one category could not be
// stored. Other categories of the same run are unaffected.
type MaterializationError struct {
	PatientID uuid.UUID
	Category  Category
	Codes     []RuleCode
	Err       error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("risk: materialize %s alert for patient %s: %v", e.Category, e.PatientID, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }
