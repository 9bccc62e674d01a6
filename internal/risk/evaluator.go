package risk

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tbrisk/tbrisk/internal/domain/clinical"
	"github.com/tbrisk/tbrisk/internal/domain/education"
	"github.com/tbrisk/tbrisk/internal/domain/scheduling"
	"github.com/tbrisk/tbrisk/internal/domain/treatment"
)

const (
	AdherenceLow    = "low"
	AdherenceMedium = "medium"

	DropoutLow  = "low"
	DropoutHigh = "high"
)

// Rule thresholds, in whole days unless noted.
const (
	noShowWindowDays        = 30
	noShowThreshold         = 2
	interruptionGapDays     = 3
	dropoutInterruptionDays = 5
	staleRecordDays         = 14
	weightDropRatio         = 0.95
	ineffectivenessDays     = 28
	resistanceDays          = 42
	updateResistanceCount   = 2
	educationStaleDays      = 60
	riskContentViews        = 3
	inactivityDays          = 30

	// neverDays stands in for "no record at all".
	neverDays = 999
)

// Engagement summarizes educational content views.
type Engagement struct {
	TotalViewed  int        `json:"total_viewed"`
	LastViewedAt *time.Time `json:"last_viewed_at,omitempty"`
}

// Evaluation is the transient result of one evaluator run. It is never
// stored; the materializer consumes Codes.
type Evaluation struct {
	PatientID            uuid.UUID  `json:"patient_id"`
	AdherenceLevel       string     `json:"adherence_level"`
	DropoutRisk          string     `json:"dropout_risk"`
	AbandonmentSuspected bool       `json:"abandonment_suspected"`
	ResistanceSuspected  bool       `json:"resistance_suspected"`
	Recommendations      []string   `json:"recommendations"`
	Codes                []RuleCode `json:"codes"`
	Engagement           Engagement `json:"engagement"`
	EvaluatedAt          time.Time  `json:"evaluated_at"`
}

func (ev *Evaluation) trigger(code RuleCode) {
	ev.Codes = append(ev.Codes, code)
	ev.Recommendations = append(ev.Recommendations, recommendations[code])
}

// Evaluator applies the rule groups. It holds only the compiled vocabulary
// and is safe for concurrent use.
type Evaluator struct {
	vocab *Matcher
}

func NewEvaluator(vocab *Matcher) *Evaluator {
	return &Evaluator{vocab: vocab}
}

// evalState carries facts computed by one rule group and read by a later one.
type evalState struct {
	noShowsLast30   int
	maxGapDays      int
	interruptions   int
	noImprovement   bool
	updateCount     int
	treatmentDays   int
	hasTreatment    bool
	emptyRecord     bool
	currentSymptoms []string
}

// Evaluate is pure and total: it never fails, accepts a nil or empty
// timeline, and returns the same Evaluation for the same timeline and now.
// The order of the input slices does not matter.
func (e *Evaluator) Evaluate(tl *Timeline, now time.Time) Evaluation {
	t := tl.sorted()

	ev := Evaluation{
		AdherenceLevel:  AdherenceMedium,
		DropoutRisk:     DropoutLow,
		Recommendations: []string{},
		Codes:           []RuleCode{},
		EvaluatedAt:     now,
	}
	if t.Patient != nil {
		ev.PatientID = t.Patient.ID
	}

	st := &evalState{
		emptyRecord: len(t.Appointments) == 0 && t.Treatment == nil && t.Current == nil && len(t.History) == 0,
	}
	if t.Current != nil {
		st.currentSymptoms = t.Current.Symptoms
	}

	e.adherence(t, now, st, &ev)
	e.dropout(t, st, &ev)
	e.ineffectiveness(t, now, st, &ev)
	e.resistance(t, st, &ev)
	e.education(t, now, st, &ev)
	e.complementary(t, now, st, &ev)

	ev.Engagement.TotalViewed = len(t.Views)
	if len(t.Views) > 0 {
		last := t.Views[0].ViewedAt
		ev.Engagement.LastViewedAt = &last
	}
	return ev
}

func (e *Evaluator) adherence(t Timeline, now time.Time, st *evalState, ev *Evaluation) {
	for _, a := range t.Appointments {
		if !a.IsNoShow() {
			continue
		}
		age := now.Sub(a.ScheduledAt)
		if age >= 0 && age <= noShowWindowDays*24*time.Hour {
			st.noShowsLast30++
		}
	}
	if st.noShowsLast30 >= noShowThreshold {
		ev.AdherenceLevel = AdherenceLow
		ev.trigger(ADH01)
	}

	for i := 1; i < len(t.TreatmentHistory); i++ {
		gap := wholeDays(t.TreatmentHistory[i].RecordedAt.Sub(t.TreatmentHistory[i-1].RecordedAt))
		if gap >= interruptionGapDays {
			st.interruptions++
		}
		if gap > st.maxGapDays {
			st.maxGapDays = gap
		}
	}
	if st.interruptions > 0 {
		ev.trigger(ADH02)
	}

	// An empty record is reported once, as CMP02.
	if !st.emptyRecord {
		staleDays := neverDays
		if t.Current != nil {
			staleDays = wholeDays(now.Sub(t.Current.UpdatedAt))
		}
		if staleDays >= staleRecordDays {
			ev.trigger(ADH03)
		}
	}
}

func (e *Evaluator) dropout(t Timeline, st *evalState, ev *Evaluation) {
	if st.noShowsLast30 >= noShowThreshold && st.maxGapDays >= dropoutInterruptionDays {
		ev.DropoutRisk = DropoutHigh
		ev.AbandonmentSuspected = true
		ev.trigger(ABN01)
	}

	if recent, prior := latestSnapshotPair(t); recent != nil && prior != nil {
		if recent.WeightKg != nil && prior.WeightKg != nil && *prior.WeightKg > 0 &&
			*recent.WeightKg <= *prior.WeightKg*weightDropRatio &&
			e.vocab.MentionsDecline(recent.NotesText()) {
			ev.trigger(ABN02)
		}
	}

	if e.vocab.MentionsAbandonment(t.Current.NotesText()) {
		ev.trigger(ABN03)
	}
}

func (e *Evaluator) ineffectiveness(t Timeline, now time.Time, st *evalState, ev *Evaluation) {
	if t.Treatment != nil {
		st.hasTreatment = true
		st.treatmentDays = wholeDays(now.Sub(t.Treatment.StartDate))
	}

	if st.hasTreatment && st.treatmentDays >= ineffectivenessDays {
		st.noImprovement = symptomsInHistoryNotes(st.currentSymptoms, t.TreatmentHistory)
		if st.noImprovement {
			ev.trigger(TRF01)
		}

		if t.Current != nil && t.Current.WeightKg != nil {
			if w := lastHistoryWeight(t.TreatmentHistory); w != nil && *t.Current.WeightKg <= *w {
				ev.trigger(TRF02)
			}
		}
	}

	// Relapse does not depend on a current treatment.
	var withSymptoms []*treatment.HistoryEntry
	for _, h := range t.TreatmentHistory {
		if len(h.State.Symptoms) > 0 {
			withSymptoms = append(withSymptoms, h)
		}
	}
	if n := len(withSymptoms); n >= 2 && shareSymptom(withSymptoms[n-1].State.Symptoms, withSymptoms[n-2].State.Symptoms) {
		ev.trigger(TRF03)
	}
}

func (e *Evaluator) resistance(t Timeline, st *evalState, ev *Evaluation) {
	for _, h := range t.TreatmentHistory {
		if h.Action == treatment.ActionUpdate {
			st.updateCount++
		}
	}

	if st.hasTreatment && st.treatmentDays >= resistanceDays {
		for _, s := range st.currentSymptoms {
			if e.vocab.IsFever(s) {
				ev.ResistanceSuspected = true
				ev.trigger(RST01)
				break
			}
		}
	}
	if st.updateCount >= updateResistanceCount {
		ev.ResistanceSuspected = true
		ev.trigger(RST02)
	}
	if st.updateCount >= 1 && st.noImprovement {
		ev.ResistanceSuspected = true
		ev.trigger(RST03)
	}
}

func (e *Evaluator) education(t Timeline, now time.Time, st *evalState, ev *Evaluation) {
	// An empty record with no views is reported once, as CMP02.
	if !st.emptyRecord || len(t.Views) > 0 {
		sinceView := neverDays
		if len(t.Views) > 0 {
			sinceView = wholeDays(now.Sub(t.Views[0].ViewedAt))
		}
		if sinceView >= educationStaleDays {
			ev.trigger(EDU01)
		}
	}

	low := ev.AdherenceLevel == AdherenceLow
	if low && len(t.Views) == 0 {
		ev.trigger(EDU02)
	}

	if low {
		tags := e.vocab.engagementTags
		n := 0
		for _, v := range t.Views {
			if v.HasAnyTag(tags) {
				n++
			}
		}
		if n >= riskContentViews {
			ev.trigger(EDU03)
		}
	}

	if len(t.Views) > 0 && !low {
		first := t.Views[len(t.Views)-1].ViewedAt
		before, after := 0, 0
		for _, a := range t.Appointments {
			if !a.IsNoShow() {
				continue
			}
			if a.ScheduledAt.Before(first) {
				before++
			} else {
				after++
			}
		}
		if before > after {
			ev.trigger(EDU04)
		}
	}
}

func (e *Evaluator) complementary(t Timeline, now time.Time, st *evalState, ev *Evaluation) {
	if len(t.Appointments) > 0 && wholeDays(now.Sub(t.Appointments[0].ScheduledAt)) > inactivityDays {
		ev.trigger(CMP01)
	}
	if st.emptyRecord {
		ev.DropoutRisk = DropoutHigh
		ev.AbandonmentSuspected = true
		ev.trigger(CMP02)
	}
}

// sorted returns a copy of tl with every collection in its documented order.
// The input is not modified.
func (tl *Timeline) sorted() Timeline {
	if tl == nil {
		return Timeline{}
	}
	out := *tl
	out.History = append([]*clinical.Snapshot(nil), tl.History...)
	out.TreatmentHistory = append([]*treatment.HistoryEntry(nil), tl.TreatmentHistory...)
	out.Appointments = append([]*scheduling.Appointment(nil), tl.Appointments...)
	out.Views = append([]*education.View(nil), tl.Views...)
	out.dropNil()
	out.normalize()
	return out
}

func (tl *Timeline) dropNil() {
	tl.History = compact(tl.History)
	tl.TreatmentHistory = compact(tl.TreatmentHistory)
	tl.Appointments = compact(tl.Appointments)
	tl.Views = compact(tl.Views)
}

func compact[T any](in []*T) []*T {
	out := in[:0]
	for _, v := range in {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// latestSnapshotPair returns the most recent snapshot and the one before it.
// With a single historical snapshot the current one is the most recent.
func latestSnapshotPair(t Timeline) (recent, prior *clinical.Snapshot) {
	switch {
	case len(t.History) >= 2:
		return t.History[0], t.History[1]
	case len(t.History) == 1 && t.Current != nil:
		return t.Current, t.History[0]
	}
	return nil, nil
}

// symptomsInHistoryNotes reports whether any symptom is mentioned in the
// notes of any treatment history snapshot.
func symptomsInHistoryNotes(symptoms []string, history []*treatment.HistoryEntry) bool {
	for _, s := range symptoms {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		for _, h := range history {
			if strings.Contains(strings.ToLower(h.State.NotesText()), s) {
				return true
			}
		}
	}
	return false
}

// lastHistoryWeight returns the weight recorded in the most recent history
// entry, or nil when that entry has none. history is oldest first.
func lastHistoryWeight(history []*treatment.HistoryEntry) *float64 {
	if len(history) == 0 {
		return nil
	}
	return history[len(history)-1].State.WeightKg
}

func shareSymptom(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			set[s] = true
		}
	}
	for _, s := range b {
		if set[strings.ToLower(strings.TrimSpace(s))] {
			return true
		}
	}
	return false
}

// wholeDays floors d to whole days.
func wholeDays(d time.Duration) int {
	const day = 24 * time.Hour
	days := d / day
	if d < 0 && d%day != 0 {
		days--
	}
	return int(days)
}
