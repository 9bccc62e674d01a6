package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("patient not found")

type Repository interface {
	// GetByID returns ErrNotFound when no patient has the given id.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// ListActiveIDs pages through active patients ordered by id, starting
	// strictly after the given cursor. uuid.Nil starts from the beginning.
	ListActiveIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}
