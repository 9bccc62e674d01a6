package risk

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbrisk/tbrisk/internal/platform/metrics"
)

// Dispatcher runs per-patient trigger cycles on a fixed pool of goroutines
// fed by a bounded queue. When the queue is full, or the pool is not
// running, the cycle runs on the caller's goroutine instead, so a trigger is
// never dropped.
type Dispatcher struct {
	run     func(ctx context.Context, patientID uuid.UUID)
	queue   chan uuid.UUID
	workers int
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(run func(ctx context.Context, patientID uuid.UUID), workers, queueSize int, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Dispatcher{
		run:     run,
		queue:   make(chan uuid.UUID, queueSize),
		workers: workers,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		metrics: m,
	}
}

// Start launches the workers. Queued cycles run under ctx, not under the
// context of the request that submitted them.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for id := range d.queue {
				d.run(ctx, id)
			}
		}()
	}
}

// Submit queues a cycle for the patient and reports whether it was queued.
// A false return means the cycle already ran inline.
func (d *Dispatcher) Submit(ctx context.Context, patientID uuid.UUID) bool {
	d.mu.RLock()
	if d.started && !d.closed {
		select {
		case d.queue <- patientID:
			d.mu.RUnlock()
			d.metrics.ObserveTrigger(true)
			return true
		default:
		}
	}
	d.mu.RUnlock()

	d.metrics.ObserveTrigger(false)
	d.logger.Debug().Str("patient_id", patientID.String()).Msg("trigger queue unavailable, running inline")
	d.run(ctx, patientID)
	return false
}

// Stop closes the queue and waits for queued cycles to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}
