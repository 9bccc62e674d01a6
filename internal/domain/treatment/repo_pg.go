package treatment

import (
	"context"
	"errors"

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

const treatmentCols = `id, patient_id, start_date, end_date, medications, notes, status,
	created_at, updated_at`

func (r *repoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Treatment, error) {
	var t Treatment
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+treatmentCols+` FROM treatment WHERE patient_id = $1`, patientID).
		Scan(&t.ID, &t.PatientID, &t.StartDate, &t.EndDate, &t.Medications, &t.Notes, &t.Status,
			&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) ListHistory(ctx context.Context, patientID uuid.UUID) ([]*HistoryEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, treatment_id, patient_id, action, state, recorded_at
		FROM treatment_history
		WHERE patient_id = $1
		ORDER BY recorded_at, id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.TreatmentID, &h.PatientID, &h.Action, &h.State, &h.RecordedAt); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}
