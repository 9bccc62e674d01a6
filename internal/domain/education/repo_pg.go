package education

import (
	"context"

	"github.com/google/uuid"
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

func (r *repoPG) ListViewsByPatient(ctx context.Context, patientID uuid.UUID) ([]*View, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT v.id, v.patient_id, v.content_id, c.title, c.tags, v.viewed_at
		FROM content_view v
		JOIN educational_content c ON c.id = v.content_id
		WHERE v.patient_id = $1
		ORDER BY v.viewed_at DESC, v.id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*View
	for rows.Next() {
		var v View
		if err := rows.Scan(&v.ID, &v.PatientID, &v.ContentID, &v.ContentTitle, &v.Tags, &v.ViewedAt); err != nil {
			return nil, err
		}
		items = append(items, &v)
	}
	return items, rows.Err()
}
