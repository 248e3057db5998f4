package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vpass-io/vpass-server/internal/domain"
)

type AlertRepo struct{ pool *pgxpool.Pool }

func NewAlertRepo(pool *pgxpool.Pool) *AlertRepo { return &AlertRepo{pool: pool} }

const alertCols = `id, type, severity, visitor_id, title, message, gate, is_read, read_by, read_at, created_at`

func (r *AlertRepo) Create(ctx context.Context, a *domain.Alert) error {
	const q = `INSERT INTO alerts (id, type, severity, visitor_id, title, message, gate, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q,
		a.ID, a.Type, a.Severity, nullIfEmpty(a.VisitorID), a.Title, a.Message, a.Gate, a.CreatedAt)
	return err
}

func (r *AlertRepo) List(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `SELECT ` + alertCols + ` FROM alerts ORDER BY created_at DESC LIMIT $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var as []domain.Alert
	for rows.Next() {
		var (
			a         domain.Alert
			visitorID *string
		)
		if err := rows.Scan(
			&a.ID, &a.Type, &a.Severity, &visitorID, &a.Title, &a.Message,
			&a.Gate, &a.IsRead, &a.ReadBy, &a.ReadAt, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		if visitorID != nil {
			a.VisitorID = *visitorID
		}
		as = append(as, a)
	}
	return as, rows.Err()
}

func (r *AlertRepo) MarkRead(ctx context.Context, id, readBy string, at time.Time) error {
	const q = `UPDATE alerts SET is_read=TRUE, read_by=$2, read_at=$3 WHERE id=$1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, id, readBy, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
