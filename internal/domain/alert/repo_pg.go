package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

const alertCols = `id, patient_id, doctor_id, category, description, codes, severity, status,
	action_taken, created_at, updated_at`

func (r *repoPG) scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Category, &a.Description, &a.Codes,
		&a.Severity, &a.Status, &a.ActionTaken, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) CreateIfNoActive(ctx context.Context, a *Alert) (bool, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Status = StatusActive
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO alert (id, patient_id, doctor_id, category, description, codes, severity, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (patient_id, category) WHERE status = 'active' DO NOTHING
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.Category, a.Description, a.Codes, a.Severity, a.Status,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if db.IsUniqueViolation(err) {
		// Lost a race against a concurrent insert outside the arbiter index.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return r.scanAlert(r.conn(ctx).QueryRow(ctx, `SELECT `+alertCols+` FROM alert WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Alert, int, error) {
	where, args := buildFilter(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM alert`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM alert%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		alertCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Alert
	for rows.Next() {
		a, err := r.scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func buildFilter(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id", *f.DoctorID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.Category != "" {
		add("category", f.Category)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *repoPG) Transition(ctx context.Context, id uuid.UUID, from, to string, actionTaken *string) (*Alert, error) {
	return r.scanAlert(r.conn(ctx).QueryRow(ctx, `
		UPDATE alert SET status = $3, action_taken = COALESCE($4, action_taken), updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+alertCols, id, from, to, actionTaken))
}
