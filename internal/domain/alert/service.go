package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidTransition = errors.New("invalid alert status transition")
	ErrActionRequired    = errors.New("action_taken is required")
	ErrInvalidFilter     = errors.New("invalid alert filter")
)

// Service implements the clinician side of the alert lifecycle. Alerts are
// only ever created by the risk materializer.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Alert, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return s.repo.GetByID(ctx, id)
}

// Review marks an active alert as seen by the clinician.
func (s *Service) Review(ctx context.Context, id uuid.UUID, note *string) (*Alert, error) {
	return s.transition(ctx, id, StatusReviewed, note)
}

// Resolve closes an alert. An action-taken note is required.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, note *string) (*Alert, error) {
	if note == nil || strings.TrimSpace(*note) == "" {
		return nil, ErrActionRequired
	}
	return s.transition(ctx, id, StatusResolved, note)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to string, note *string) (*Alert, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}
	updated, err := s.repo.Transition(ctx, id, current.Status, to, note)
	if errors.Is(err, ErrNotFound) {
		// The status changed between the read and the update.
		return nil, fmt.Errorf("%w: alert %s is no longer %s", ErrInvalidTransition, id, current.Status)
	}
	return updated, err
}
