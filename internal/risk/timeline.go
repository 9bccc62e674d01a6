package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tbrisk/tbrisk/internal/domain/clinical"
	"github.com/tbrisk/tbrisk/internal/domain/education"
	"github.com/tbrisk/tbrisk/internal/domain/patient"
	"github.com/tbrisk/tbrisk/internal/domain/scheduling"
	"github.com/tbrisk/tbrisk/internal/domain/treatment"
)

// Timeline is everything the evaluator reads for one patient. Collections
// may be empty and Current and Treatment may be nil.
type Timeline struct {
	Patient          *patient.Patient
	Current          *clinical.Snapshot
	History          []*clinical.Snapshot      // newest first
	Treatment        *treatment.Treatment
	TreatmentHistory []*treatment.HistoryEntry // oldest first
	Appointments     []*scheduling.Appointment // newest first
	Views            []*education.View         // newest first
}

// Repositories are the read sources of the aggregator.
type Repositories struct {
	Patients     patient.Repository
	Clinical     clinical.Repository
	Treatments   treatment.Repository
	Appointments scheduling.Repository
	Education    education.Repository
}

// Aggregator loads timelines. The reads are independent and run
// concurrently without a shared transaction, so collections may be read at
// slightly different instants.
type Aggregator struct {
	repos   Repositories
	timeout time.Duration
}

func NewAggregator(repos Repositories, timeout time.Duration) *Aggregator {
	return &Aggregator{repos: repos, timeout: timeout}
}

// LoadTimeline returns ErrNotFound only when the patient does not exist.
// Missing clinical, treatment, appointment or engagement data is an empty
// value.
func (a *Aggregator) LoadTimeline(ctx context.Context, patientID uuid.UUID) (*Timeline, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	p, err := a.repos.Patients.GetByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("load patient %s: %w", patientID, err)
	}

	tl := &Timeline{Patient: p}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s, err := a.repos.Clinical.GetCurrent(gctx, patientID)
		if err != nil {
			return fmt.Errorf("load clinical snapshot: %w", err)
		}
		tl.Current = s
		return nil
	})
	g.Go(func() error {
		h, err := a.repos.Clinical.ListHistory(gctx, patientID)
		if err != nil {
			return fmt.Errorf("load clinical history: %w", err)
		}
		tl.History = h
		return nil
	})
	g.Go(func() error {
		t, err := a.repos.Treatments.GetByPatient(gctx, patientID)
		if err != nil {
			return fmt.Errorf("load treatment: %w", err)
		}
		tl.Treatment = t
		return nil
	})
	g.Go(func() error {
		h, err := a.repos.Treatments.ListHistory(gctx, patientID)
		if err != nil {
			return fmt.Errorf("load treatment history: %w", err)
		}
		tl.TreatmentHistory = h
		return nil
	})
	g.Go(func() error {
		appts, err := a.repos.Appointments.ListByPatient(gctx, patientID)
		if err != nil {
			return fmt.Errorf("load appointments: %w", err)
		}
		tl.Appointments = appts
		return nil
	})
	g.Go(func() error {
		views, err := a.repos.Education.ListViewsByPatient(gctx, patientID)
		if err != nil {
			return fmt.Errorf("load educational views: %w", err)
		}
		tl.Views = views
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	tl.dropNil()
	tl.normalize()
	return tl, nil
}

// normalize enforces the documented orderings regardless of what the
// repositories returned. Equal timestamps fall back to the row id.
func (tl *Timeline) normalize() {
	sort.SliceStable(tl.History, func(i, j int) bool {
		ti, tj := snapshotTime(tl.History[i]), snapshotTime(tl.History[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return snapshotID(tl.History[i]) < snapshotID(tl.History[j])
	})
	sort.SliceStable(tl.TreatmentHistory, func(i, j int) bool {
		a, b := tl.TreatmentHistory[i], tl.TreatmentHistory[j]
		if !a.RecordedAt.Equal(b.RecordedAt) {
			return a.RecordedAt.Before(b.RecordedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	sort.SliceStable(tl.Appointments, func(i, j int) bool {
		a, b := tl.Appointments[i], tl.Appointments[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.After(b.ScheduledAt)
		}
		return a.ID.String() < b.ID.String()
	})
	sort.SliceStable(tl.Views, func(i, j int) bool {
		a, b := tl.Views[i], tl.Views[j]
		if !a.ViewedAt.Equal(b.ViewedAt) {
			return a.ViewedAt.After(b.ViewedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

func snapshotID(s *clinical.Snapshot) string {
	if s.ID == nil {
		return ""
	}
	return s.ID.String()
}

func snapshotTime(s *clinical.Snapshot) time.Time {
	if s.CapturedAt != nil {
		return *s.CapturedAt
	}
	return s.UpdatedAt
}
