package clinical

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tbrisk/tbrisk/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, r.pool)
}

const snapshotCols = `patient_id, weight_kg::float8, bmi::float8, bacteriological_status, treatment_phase,
	comorbidities, hiv_status, smoking, alcohol, prior_tb_contact, prior_tb_treatment,
	symptoms, notes, adherence_risk, updated_at`

func scanSnapshot(row pgx.Row, extra ...interface{}) (*Snapshot, error) {
	var s Snapshot
	dest := []interface{}{&s.PatientID, &s.WeightKg, &s.BMI, &s.BacteriologicalStatus, &s.TreatmentPhase,
		&s.Comorbidities, &s.HIVStatus, &s.Smoking, &s.Alcohol, &s.PriorTBContact, &s.PriorTBTreatment,
		&s.Symptoms, &s.Notes, &s.AdherenceRisk, &s.UpdatedAt}
	if len(extra) > 0 {
		dest = append(dest, extra...)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) GetCurrent(ctx context.Context, patientID uuid.UUID) (*Snapshot, error) {
	s, err := scanSnapshot(r.conn(ctx).QueryRow(ctx,
		`SELECT `+snapshotCols+` FROM clinical_detail WHERE patient_id = $1`, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *repoPG) ListHistory(ctx context.Context, patientID uuid.UUID) ([]*Snapshot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+snapshotCols+`, id, captured_at
		FROM clinical_detail_history
		WHERE patient_id = $1
		ORDER BY captured_at DESC, id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Snapshot
	for rows.Next() {
		var id uuid.UUID
		var capturedAt time.Time
		s, err := scanSnapshot(rows, &id, &capturedAt)
		if err != nil {
			return nil, err
		}
		s.ID = &id
		s.CapturedAt = &capturedAt
		items = append(items, s)
	}
	return items, rows.Err()
}
