package clinical

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// GetCurrent returns (nil, nil) when the patient has no clinical record yet.
	GetCurrent(ctx context.Context, patientID uuid.UUID) (*Snapshot, error)
	// ListHistory returns historical snapshots newest-first.
	ListHistory(ctx context.Context, patientID uuid.UUID) ([]*Snapshot, error)
}
