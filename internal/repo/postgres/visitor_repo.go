package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vpass-io/vpass-server/internal/domain"
)

type VisitorRepo struct{ pool *pgxpool.Pool }

func NewVisitorRepo(pool *pgxpool.Pool) *VisitorRepo { return &VisitorRepo{pool: pool} }

const visitorCols = `id, visitor_id, status,
name, phone, email, company,
host, host_email, purpose, gate,
allowed_until, expected_duration, grace_period_minutes, qr_expires_at,
check_in_time, check_out_time, actual_duration,
approved_by, approved_at, rejection_reason, approval_token, approval_expires_at,
checked_in_by, checked_out_by,
overstay_notified, overstay_alert_sent_at, overstay_minutes,
vehicle_number, items, notes, history,
version, created_at, updated_at`

func (r *VisitorRepo) Create(ctx context.Context, v *domain.Visitor) error {
	const q = `INSERT INTO visitors (
	id, visitor_id, status,
	name, phone, email, company,
	host, host_email, purpose, gate,
	allowed_until, expected_duration, grace_period_minutes, qr_expires_at,
	approved_by, rejection_reason, approval_token, approval_expires_at,
	checked_in_by, checked_out_by,
	overstay_notified, overstay_minutes,
	vehicle_number, items, notes, history,
	version, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,1,$28,$29)`

	history, err := json.Marshal(v.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err = r.pool.Exec(ctx, q,
		v.ID, v.VisitorID, v.Status,
		v.Name, v.Phone, v.Email, v.Company,
		v.Host, v.HostEmail, v.Purpose, v.Gate,
		v.AllowedUntil, v.ExpectedDuration, v.GracePeriodMinutes, v.QRExpiresAt,
		v.ApprovedBy, v.RejectionReason, nullIfEmpty(v.ApprovalToken), v.ApprovalExpiresAt,
		v.CheckedInBy, v.CheckedOutBy,
		v.OverstayNotified, v.OverstayMinutes,
		v.VehicleNumber, v.Items, v.Notes, history,
		v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return err
	}
	v.Version = 1
	return nil
}

func (r *VisitorRepo) Get(ctx context.Context, id string) (*domain.Visitor, error) {
	const q = `SELECT ` + visitorCols + ` FROM visitors WHERE id=$1 OR visitor_id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.queryOne(ctx, q, id)
}

func (r *VisitorRepo) GetByToken(ctx context.Context, token string) (*domain.Visitor, error) {
	if token == "" {
		return nil, domain.ErrNotFound
	}
	const q = `SELECT ` + visitorCols + ` FROM visitors WHERE approval_token=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.queryOne(ctx, q, token)
}

// Update writes the full record guarded by the version the caller read. Zero
// rows affected on an existing visitor means someone else won the race.
func (r *VisitorRepo) Update(ctx context.Context, v *domain.Visitor) error {
	const q = `UPDATE visitors SET
	status=$2,
	qr_expires_at=$3,
	check_in_time=$4, check_out_time=$5, actual_duration=$6,
	approved_by=$7, approved_at=$8, rejection_reason=$9,
	approval_token=$10, approval_expires_at=$11,
	checked_in_by=$12, checked_out_by=$13,
	overstay_notified=$14, overstay_alert_sent_at=$15, overstay_minutes=$16,
	history=$17,
	version=version+1, updated_at=$18
	WHERE id=$1 AND version=$19`

	history, err := json.Marshal(v.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q,
		v.ID,
		v.Status,
		v.QRExpiresAt,
		v.CheckInTime, v.CheckOutTime, v.ActualDuration,
		v.ApprovedBy, v.ApprovedAt, v.RejectionReason,
		nullIfEmpty(v.ApprovalToken), v.ApprovalExpiresAt,
		v.CheckedInBy, v.CheckedOutBy,
		v.OverstayNotified, v.OverstayAlertSentAt, v.OverstayMinutes,
		history,
		v.UpdatedAt,
		v.Version,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		exists, err := r.exists(ctx, v.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrVersionConflict
	}
	v.Version++
	return nil
}

func (r *VisitorRepo) FindByGate(ctx context.Context, gate string) ([]domain.Visitor, error) {
	const q = `SELECT ` + visitorCols + ` FROM visitors WHERE gate=$1 ORDER BY created_at DESC`
	return r.queryMany(ctx, q, gate)
}

func (r *VisitorRepo) FindActive(ctx context.Context) ([]domain.Visitor, error) {
	const q = `SELECT ` + visitorCols + ` FROM visitors
	WHERE status IN ('PENDING','APPROVED','IN','OVERSTAY')
	ORDER BY created_at DESC`
	return r.queryMany(ctx, q)
}

func (r *VisitorRepo) FindOverstayCandidates(ctx context.Context, now time.Time) ([]domain.Visitor, error) {
	const q = `SELECT ` + visitorCols + ` FROM visitors
	WHERE status='IN' AND allowed_until < $1 AND overstay_notified=FALSE
	ORDER BY allowed_until ASC`
	return r.queryMany(ctx, q, now)
}

func (r *VisitorRepo) FindExpireCandidates(ctx context.Context, now time.Time) ([]domain.Visitor, error) {
	const q = `SELECT ` + visitorCols + ` FROM visitors
	WHERE status='APPROVED' AND LEAST(COALESCE(qr_expires_at, allowed_until), allowed_until) < $1
	ORDER BY allowed_until ASC`
	return r.queryMany(ctx, q, now)
}

func (r *VisitorRepo) ListRecent(ctx context.Context, limit int) ([]domain.Visitor, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `SELECT ` + visitorCols + ` FROM visitors ORDER BY created_at DESC LIMIT $1`
	return r.queryMany(ctx, q, limit)
}

func (r *VisitorRepo) exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM visitors WHERE id=$1)`, id).Scan(&ok)
	return ok, err
}

func (r *VisitorRepo) queryOne(ctx context.Context, q string, args ...any) (*domain.Visitor, error) {
	row := r.pool.QueryRow(ctx, q, args...)
	v, err := scanVisitor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return v, err
}

func (r *VisitorRepo) queryMany(ctx context.Context, q string, args ...any) ([]domain.Visitor, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vs []domain.Visitor
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, err
		}
		vs = append(vs, *v)
	}
	return vs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisitor(row rowScanner) (*domain.Visitor, error) {
	var (
		v       domain.Visitor
		token   *string
		history []byte
	)
	err := row.Scan(
		&v.ID, &v.VisitorID, &v.Status,
		&v.Name, &v.Phone, &v.Email, &v.Company,
		&v.Host, &v.HostEmail, &v.Purpose, &v.Gate,
		&v.AllowedUntil, &v.ExpectedDuration, &v.GracePeriodMinutes, &v.QRExpiresAt,
		&v.CheckInTime, &v.CheckOutTime, &v.ActualDuration,
		&v.ApprovedBy, &v.ApprovedAt, &v.RejectionReason, &token, &v.ApprovalExpiresAt,
		&v.CheckedInBy, &v.CheckedOutBy,
		&v.OverstayNotified, &v.OverstayAlertSentAt, &v.OverstayMinutes,
		&v.VehicleNumber, &v.Items, &v.Notes, &history,
		&v.Version, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if token != nil {
		v.ApprovalToken = *token
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &v.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	return &v, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
