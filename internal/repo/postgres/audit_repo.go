package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vpass-io/vpass-server/internal/domain"
)

type AuditRepo struct{ pool *pgxpool.Pool }

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo { return &AuditRepo{pool: pool} }

func (r *AuditRepo) Record(ctx context.Context, ev *domain.AuditEvent) error {
	const q = `INSERT INTO audit_events
	(id, actor_id, actor_role, action, entity, entity_id, visitor_id, gate, outcome, severity, source, meta, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q,
		ev.ID, ev.ActorID, ev.ActorRole, ev.Action, ev.Entity, ev.EntityID,
		ev.VisitorID, ev.Gate, ev.Outcome, ev.Severity, ev.Source, ev.Meta, ev.CreatedAt)
	return err
}
