package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbrisk/tbrisk/internal/domain/alert"
	"github.com/tbrisk/tbrisk/internal/platform/metrics"
	"github.com/tbrisk/tbrisk/internal/platform/notification"
)

// Alert results, also used as metric labels.
const (
	resultCreated  = "created"
	resultExisting = "existing"
	resultFailed   = "failed"
)

// MaterializationResult lists what happened per category.
type MaterializationResult struct {
	PatientID uuid.UUID      `json:"patient_id"`
	Created   []*alert.Alert `json:"created"`
	Existing  []Category     `json:"existing"`
	Failed    []Category     `json:"failed"`
}

// Materializer turns triggered codes into alerts, at most one active alert
// per patient and category. It never changes existing alerts.
type Materializer struct {
	alerts    alert.Repository
	publisher notification.Publisher
	timeout   time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewMaterializer builds a Materializer. publisher may be nil; timeout
// bounds each category's storage call.
func NewMaterializer(alerts alert.Repository, publisher notification.Publisher, timeout time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Materializer {
	return &Materializer{
		alerts:    alerts,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger.With().Str("component", "materializer").Logger(),
		metrics:   m,
		now:       time.Now,
	}
}

// Materialize creates one alert per category of codes unless an active alert
// for that category exists. Categories are independent: a failed category is
// reported as a *MaterializationError (joined with the others) and never
// undoes a category that succeeded. doctorID may be nil when no responsible
// doctor is known; the alert is then stored without a recipient.
func (m *Materializer) Materialize(ctx context.Context, patientID uuid.UUID, doctorID *uuid.UUID, codes []RuleCode) (*MaterializationResult, error) {
	res := &MaterializationResult{
		PatientID: patientID,
		Created:   []*alert.Alert{},
		Existing:  []Category{},
		Failed:    []Category{},
	}
	if len(codes) == 0 {
		return res, nil
	}

	grouped, err := groupByCategory(codes)
	if err != nil {
		return res, err
	}

	var errs []error
	for _, cat := range Categories {
		catCodes := grouped[cat]
		if len(catCodes) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, cat)
			errs = append(errs, &MaterializationError{PatientID: patientID, Category: cat, Codes: catCodes, Err: err})
			continue
		}

		a := m.newAlert(patientID, doctorID, cat, catCodes)
		created, err := m.create(ctx, a)
		switch {
		case err != nil:
			m.metrics.ObserveAlert(string(cat), resultFailed)
			m.logger.Error().Err(err).
				Str("patient_id", patientID.String()).
				Str("category", string(cat)).
				Msg("failed to materialize alert")
			res.Failed = append(res.Failed, cat)
			errs = append(errs, &MaterializationError{PatientID: patientID, Category: cat, Codes: catCodes, Err: err})
		case created:
			m.metrics.ObserveAlert(string(cat), resultCreated)
			m.logger.Info().
				Str("patient_id", patientID.String()).
				Str("alert_id", a.ID.String()).
				Str("category", string(cat)).
				Str("severity", a.Severity).
				Msg("alert created")
			res.Created = append(res.Created, a)
			m.publish(ctx, a)
		default:
			m.metrics.ObserveAlert(string(cat), resultExisting)
			res.Existing = append(res.Existing, cat)
		}
	}
	return res, errors.Join(errs...)
}

func (m *Materializer) create(ctx context.Context, a *alert.Alert) (bool, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return m.alerts.CreateIfNoActive(ctx, a)
}

func (m *Materializer) newAlert(patientID uuid.UUID, doctorID *uuid.UUID, cat Category, codes []RuleCode) *alert.Alert {
	now := m.now().UTC()
	strCodes := make([]string, len(codes))
	for i, c := range codes {
		strCodes[i] = string(c)
	}
	return &alert.Alert{
		ID:          uuid.New(),
		PatientID:   patientID,
		DoctorID:    doctorID,
		Category:    string(cat),
		Description: fmt.Sprintf("%s (%s)", CategoryLabel(cat), strings.Join(strCodes, ", ")),
		Codes:       strCodes,
		Severity:    severityFor(len(codes)),
		Status:      alert.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// publish is best effort: the alert is already stored, so delivery
// failures are only logged.
func (m *Materializer) publish(ctx context.Context, a *alert.Alert) {
	if m.publisher == nil || a.DoctorID == nil {
		return
	}
	err := m.publisher.Publish(ctx, *a.DoctorID, notification.AlertPayload{
		ID:          a.ID,
		Category:    a.Category,
		Description: a.Description,
		Severity:    a.Severity,
		CreatedAt:   a.CreatedAt,
	})
	if err != nil {
		m.logger.Warn().Err(err).
			Str("alert_id", a.ID.String()).
			Str("recipient_id", a.DoctorID.String()).
			Msg("alert notification not delivered")
	}
}

func severityFor(codeCount int) string {
	if codeCount >= 2 {
		return alert.SeverityHigh
	}
	return alert.SeverityMedium
}

// groupByCategory keeps the codes of each category in input order and drops
// repeated codes.
func groupByCategory(codes []RuleCode) (map[Category][]RuleCode, error) {
	grouped := make(map[Category][]RuleCode)
	seen := make(map[RuleCode]bool, len(codes))
	for _, c := range codes {
		if seen[c] {
			continue
		}
		seen[c] = true
		cat, ok := CategoryOf(c)
		if !ok {
			return nil, fmt.Errorf("risk: rule code %q has no category", c)
		}
		grouped[cat] = append(grouped[cat], c)
	}
	return grouped, nil
}
