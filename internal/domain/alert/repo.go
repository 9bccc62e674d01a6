package alert

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("alert not found")

// Filter narrows List results. Zero values match everything.
type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    string
	Category  string
}

type Repository interface {
	// CreateIfNoActive inserts a as an active alert unless an active alert
	// already exists for (a.PatientID, a.Category). It reports whether a row
	// was created. The check and the insert are a single atomic statement.
	CreateIfNoActive(ctx context.Context, a *Alert) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Alert, int, error)
	// Transition moves the alert from one status to another. It returns
	// ErrNotFound when no alert with that id is currently in status from.
	Transition(ctx context.Context, id uuid.UUID, from, to string, actionTaken *string) (*Alert, error)
}
