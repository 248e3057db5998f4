package memory

import (
	"context"
	"sync"

	"github.com/vpass-io/vpass-server/internal/domain"
)

type AuditRepo struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

func (r *AuditRepo) Record(_ context.Context, ev *domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

// Events returns a snapshot, newest last. Test helper.
func (r *AuditRepo) Events() []domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditEvent(nil), r.events...)
}
