package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// ListByPatient returns every appointment for the patient, newest first
	// by scheduled time.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error)
}
