package education

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// ListViewsByPatient returns every content view for the patient, newest
	// first, with the content's clinical tags attached.
	ListViewsByPatient(ctx context.Context, patientID uuid.UUID) ([]*View, error)
}
