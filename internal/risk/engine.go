// Package risk evaluates tuberculosis patients' longitudinal records against
// fixed clinical rules and materializes the triggered rule codes into
// deduplicated alerts.
//
// A cycle for one patient is: load the timeline, evaluate it, materialize
// the codes. Cycles are started by data-change triggers (through a bounded
// dispatcher) and by a periodic population sweep.
package risk

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tbrisk/tbrisk/internal/domain/patient"
	"github.com/tbrisk/tbrisk/internal/platform/metrics"
)

// Evaluation sources, used in logs and metrics.
const (
	SourceTrigger = "trigger"
	SourceSweep   = "sweep"
	SourceManual  = "manual"
)

// Cycle outcomes, used in sweep reports and metrics.
const (
	outcomeOK       = "ok"
	outcomeNotFound = "not_found"
	outcomePartial  = "partial"
	outcomeInternal = "internal_error"
	outcomeFailed   = "failed"
)

// TimelineLoader loads a patient's timeline. *Aggregator implements it.
type TimelineLoader interface {
	LoadTimeline(ctx context.Context, patientID uuid.UUID) (*Timeline, error)
}

// Options sizes the engine's worker pools.
type Options struct {
	SweepWorkers     int
	SweepPageSize    int
	TriggerWorkers   int
	TriggerQueueSize int
	StoreTimeout     time.Duration
}

// Outcome is the result of one full cycle.
type Outcome struct {
	Evaluation      Evaluation             `json:"evaluation"`
	DoctorID        *uuid.UUID             `json:"doctor_id,omitempty"`
	Materialization *MaterializationResult `json:"materialization"`
}

// SweepReport summarizes one population sweep.
type SweepReport struct {
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Duration      time.Duration `json:"duration_ns"`
	Patients      int           `json:"patients"`
	Evaluated     int           `json:"evaluated"`
	AlertsCreated int           `json:"alerts_created"`
	Skipped       int           `json:"skipped"`
	Partial       int           `json:"partial"`
	Failed        int           `json:"failed"`
}

type Engine struct {
	loader       TimelineLoader
	patients     patient.Repository
	evaluator    *Evaluator
	materializer *Materializer
	dispatcher   *Dispatcher
	opts         Options
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewEngine(loader TimelineLoader, patients patient.Repository, evaluator *Evaluator, materializer *Materializer, opts Options, logger zerolog.Logger, m *metrics.Metrics) *Engine {
	if opts.SweepWorkers < 1 {
		opts.SweepWorkers = 1
	}
	if opts.SweepPageSize < 1 {
		opts.SweepPageSize = 100
	}
	e := &Engine{
		loader:       loader,
		patients:     patients,
		evaluator:    evaluator,
		materializer: materializer,
		opts:         opts,
		logger:       logger.With().Str("component", "risk").Logger(),
		metrics:      m,
		now:          time.Now,
	}
	e.dispatcher = NewDispatcher(e.runTrigger, opts.TriggerWorkers, opts.TriggerQueueSize, logger, m)
	return e
}

// Start launches the trigger workers.
func (e *Engine) Start(ctx context.Context) {
	e.dispatcher.Start(ctx)
}

// Stop drains queued triggers.
func (e *Engine) Stop() {
	e.dispatcher.Stop()
}

// Evaluate loads and evaluates the patient without materializing alerts.
func (e *Engine) Evaluate(ctx context.Context, patientID uuid.UUID) (*Evaluation, error) {
	tl, err := e.loader.LoadTimeline(ctx, patientID)
	if err != nil {
		return nil, err
	}
	ev := e.evaluator.Evaluate(tl, e.now())
	return &ev, nil
}

// EvaluatePatient runs one full cycle. A panic anywhere in the cycle is
// returned as *EvaluationInternalError. Materialization failures are
// returned together with the Outcome, which still lists the categories that
// succeeded.
func (e *Engine) EvaluatePatient(ctx context.Context, patientID uuid.UUID, source string) (out *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &EvaluationInternalError{PatientID: patientID, Panic: r, Stack: debug.Stack()}
		}
		e.metrics.ObserveEvaluation(source, outcomeOf(err))
	}()

	tl, err := e.loader.LoadTimeline(ctx, patientID)
	if err != nil {
		return nil, err
	}

	ev := e.evaluator.Evaluate(tl, e.now())
	for _, c := range ev.Codes {
		e.metrics.ObserveRule(string(c))
	}

	doctorID := responsibleDoctor(tl)
	res, err := e.materializer.Materialize(ctx, patientID, doctorID, ev.Codes)
	return &Outcome{Evaluation: ev, DoctorID: doctorID, Materialization: res}, err
}

// OnPatientDataChanged schedules one cycle for the patient. It reports
// whether the cycle was queued; false means it already ran inline.
func (e *Engine) OnPatientDataChanged(ctx context.Context, patientID uuid.UUID) bool {
	return e.dispatcher.Submit(ctx, patientID)
}

func (e *Engine) runTrigger(ctx context.Context, patientID uuid.UUID) {
	out, err := e.EvaluatePatient(ctx, patientID, SourceTrigger)
	if err != nil {
		e.logCycleError(patientID, SourceTrigger, err)
		return
	}
	e.logger.Debug().
		Str("patient_id", patientID.String()).
		Int("codes", len(out.Evaluation.Codes)).
		Int("alerts_created", len(out.Materialization.Created)).
		Msg("trigger evaluated")
}

// RunSweep evaluates every active patient with bounded concurrency. Each
// patient is isolated: its failure is counted and logged, never returned.
// The returned error is a listing failure or ctx's error when the sweep was
// cancelled; alerts created before cancellation stay valid.
func (e *Engine) RunSweep(ctx context.Context) (*SweepReport, error) {
	start := e.now()
	report := &SweepReport{StartedAt: start}

	var (
		mu      sync.Mutex
		g       errgroup.Group
		listErr error
	)
	g.SetLimit(e.opts.SweepWorkers)

	cursor := uuid.Nil
pages:
	for ctx.Err() == nil {
		ids, err := e.listPage(ctx, cursor)
		if err != nil {
			listErr = fmt.Errorf("list active patients: %w", err)
			break
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				break pages
			}
			id := id
			g.Go(func() error {
				out, err := e.EvaluatePatient(ctx, id, SourceSweep)
				outcome := outcomeOf(err)
				if err != nil {
					e.logCycleError(id, SourceSweep, err)
				}
				e.metrics.ObserveSweepPatient(outcome)

				mu.Lock()
				defer mu.Unlock()
				report.Patients++
				if out != nil {
					report.Evaluated++
					if out.Materialization != nil {
						report.AlertsCreated += len(out.Materialization.Created)
					}
				}
				switch outcome {
				case outcomeNotFound:
					report.Skipped++
				case outcomePartial:
					report.Partial++
				case outcomeInternal, outcomeFailed:
					report.Failed++
				}
				return nil
			})
		}
		if len(ids) < e.opts.SweepPageSize {
			break
		}
		cursor = ids[len(ids)-1]
	}
	_ = g.Wait()

	report.FinishedAt = e.now()
	report.Duration = report.FinishedAt.Sub(start)
	e.metrics.ObserveSweep(report.Duration)

	level := zerolog.InfoLevel
	if listErr != nil || ctx.Err() != nil {
		level = zerolog.WarnLevel
	}
	e.logger.WithLevel(level).
		Int("patients", report.Patients).
		Int("alerts_created", report.AlertsCreated).
		Int("skipped", report.Skipped).
		Int("partial", report.Partial).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("sweep finished")

	if listErr != nil {
		return report, listErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) listPage(ctx context.Context, cursor uuid.UUID) ([]uuid.UUID, error) {
	if e.opts.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.StoreTimeout)
		defer cancel()
	}
	return e.patients.ListActiveIDs(ctx, cursor, e.opts.SweepPageSize)
}

func (e *Engine) logCycleError(patientID uuid.UUID, source string, err error) {
	level := zerolog.ErrorLevel
	if errors.Is(err, ErrNotFound) {
		level = zerolog.WarnLevel
	}
	ev := e.logger.WithLevel(level)
	var internal *EvaluationInternalError
	if errors.As(err, &internal) {
		ev = ev.Bytes("stack", internal.Stack)
	}
	ev.Err(err).
		Str("patient_id", patientID.String()).
		Str("source", source).
		Msg("risk cycle failed")
}

func outcomeOf(err error) string {
	var internal *EvaluationInternalError
	var mat *MaterializationError
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrNotFound):
		return outcomeNotFound
	case errors.As(err, &internal):
		return outcomeInternal
	case errors.As(err, &mat):
		return outcomePartial
	default:
		return outcomeFailed
	}
}

// responsibleDoctor is the patient's assigned doctor, or else the doctor of
// the most recent appointment.
func responsibleDoctor(tl *Timeline) *uuid.UUID {
	if tl == nil {
		return nil
	}
	if tl.Patient != nil && tl.Patient.AssignedDoctorID != nil {
		id := *tl.Patient.AssignedDoctorID
		return &id
	}
	var latest *uuid.UUID
	var latestAt time.Time
	for _, a := range tl.Appointments {
		if a == nil || a.DoctorID == uuid.Nil {
			continue
		}
		if latest == nil || a.ScheduledAt.After(latestAt) {
			id := a.DoctorID
			latest, latestAt = &id, a.ScheduledAt
		}
	}
	return latest
}
