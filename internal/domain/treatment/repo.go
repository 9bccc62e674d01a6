package treatment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// GetByPatient returns (nil, nil) when the patient has no treatment.
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*Treatment, error)
	// ListHistory returns every history entry for the patient, oldest first.
	ListHistory(ctx context.Context, patientID uuid.UUID) ([]*HistoryEntry, error)
}
