package risk

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbrisk/tbrisk/internal/domain/alert"
	"github.com/tbrisk/tbrisk/internal/domain/clinical"
	"github.com/tbrisk/tbrisk/internal/domain/education"
	"github.com/tbrisk/tbrisk/internal/domain/patient"
	"github.com/tbrisk/tbrisk/internal/domain/scheduling"
	"github.com/tbrisk/tbrisk/internal/domain/treatment"
	"github.com/tbrisk/tbrisk/internal/platform/notification"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return testNow.Add(-time.Duration(n) * 24 * time.Hour) }

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func timePtr(t time.Time) *time.Time { return &t }

func testEvaluator() *Evaluator {
	return NewEvaluator(DefaultVocabulary().MustCompile())
}

// ---------------------------------------------------------------------------
// In-memory record store implementing every read repository. Lists are
// returned as copies, like rows scanned from the database.
// ---------------------------------------------------------------------------

type memRecords struct {
	mu           sync.RWMutex
	patients     map[uuid.UUID]*patient.Patient
	current      map[uuid.UUID]*clinical.Snapshot
	history      map[uuid.UUID][]*clinical.Snapshot
	treatments   map[uuid.UUID]*treatment.Treatment
	treatHistory map[uuid.UUID][]*treatment.HistoryEntry
	appointments map[uuid.UUID][]*scheduling.Appointment
	views        map[uuid.UUID][]*education.View

	listErr error
	readErr error
}

func newMemRecords() *memRecords {
	return &memRecords{
		patients:     make(map[uuid.UUID]*patient.Patient),
		current:      make(map[uuid.UUID]*clinical.Snapshot),
		history:      make(map[uuid.UUID][]*clinical.Snapshot),
		treatments:   make(map[uuid.UUID]*treatment.Treatment),
		treatHistory: make(map[uuid.UUID][]*treatment.HistoryEntry),
		appointments: make(map[uuid.UUID][]*scheduling.Appointment),
		views:        make(map[uuid.UUID][]*education.View),
	}
}

func (m *memRecords) repos() Repositories {
	return Repositories{Patients: m, Clinical: m, Treatments: memTreatments{m}, Appointments: m, Education: m}
}

func (m *memRecords) addPatient(status string, doctor *uuid.UUID) *patient.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &patient.Patient{
		ID:               uuid.New(),
		FullName:         "Test Patient",
		AssignedDoctorID: doctor,
		MonitoringStatus: status,
		CreatedAt:        daysAgo(100),
		UpdatedAt:        daysAgo(100),
	}
	m.patients[p.ID] = p
	return p
}

func (m *memRecords) addAppointment(patientID, doctorID uuid.UUID, at time.Time, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[patientID] = append(m.appointments[patientID], &scheduling.Appointment{
		ID: uuid.New(), PatientID: patientID, DoctorID: doctorID, ScheduledAt: at, Status: status,
	})
}

func (m *memRecords) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

func (m *memRecords) ListActiveIDs(_ context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var ids []uuid.UUID
	for id, p := range m.patients {
		if p.MonitoringStatus == patient.StatusActive {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	var out []uuid.UUID
	for _, id := range ids {
		if after != uuid.Nil && id.String() <= after.String() {
			continue
		}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memRecords) GetCurrent(_ context.Context, id uuid.UUID) (*clinical.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.current[id], nil
}

func (m *memRecords) ListHistory(_ context.Context, id uuid.UUID) ([]*clinical.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*clinical.Snapshot(nil), m.history[id]...), nil
}

func (m *memRecords) GetByPatient(_ context.Context, id uuid.UUID) (*treatment.Treatment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.treatments[id], nil
}

func (m *memRecords) ListByPatient(_ context.Context, id uuid.UUID) ([]*scheduling.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*scheduling.Appointment(nil), m.appointments[id]...), nil
}

func (m *memRecords) ListViewsByPatient(_ context.Context, id uuid.UUID) ([]*education.View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*education.View(nil), m.views[id]...), nil
}

// treatment.Repository and clinical.Repository both declare ListHistory with
// different result types, so treatment history is served by a wrapper.
type memTreatments struct{ *memRecords }

func (m memTreatments) ListHistory(_ context.Context, id uuid.UUID) ([]*treatment.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*treatment.HistoryEntry(nil), m.treatHistory[id]...), nil
}

// ---------------------------------------------------------------------------
// Alert store with the same "one active per (patient, category)" guarantee
// as the partial unique index.
// ---------------------------------------------------------------------------

type memAlerts struct {
	mu       sync.Mutex
	alerts   []*alert.Alert
	attempts int
	failFor  map[string]error
	delay    time.Duration
}

func newMemAlerts() *memAlerts {
	return &memAlerts{failFor: make(map[string]error)}
}

func (m *memAlerts) CreateIfNoActive(ctx context.Context, a *alert.Alert) (bool, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if err := m.failFor[a.Category]; err != nil {
		return false, err
	}
	for _, existing := range m.alerts {
		if existing.PatientID == a.PatientID && existing.Category == a.Category && existing.Status == alert.StatusActive {
			return false, nil
		}
	}
	cp := *a
	m.alerts = append(m.alerts, &cp)
	return true, nil
}

func (m *memAlerts) GetByID(_ context.Context, id uuid.UUID) (*alert.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, alert.ErrNotFound
}

func (m *memAlerts) List(context.Context, alert.Filter, int, int) ([]*alert.Alert, int, error) {
	return nil, 0, errors.New("not implemented")
}

func (m *memAlerts) Transition(context.Context, uuid.UUID, string, string, *string) (*alert.Alert, error) {
	return nil, errors.New("not implemented")
}

func (m *memAlerts) active(patientID uuid.UUID) []*alert.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*alert.Alert
	for _, a := range m.alerts {
		if a.PatientID == patientID && a.Status == alert.StatusActive {
			out = append(out, a)
		}
	}
	return out
}

func (m *memAlerts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

// ---------------------------------------------------------------------------
// Publisher double.
// ---------------------------------------------------------------------------

type published struct {
	Recipient uuid.UUID
	Payload   notification.AlertPayload
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls []published
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, recipient uuid.UUID, payload notification.AlertPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, published{Recipient: recipient, Payload: payload})
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
