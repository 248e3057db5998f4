package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vpass-io/vpass-server/internal/domain"
)

type AlertRepo struct {
	mu     sync.Mutex
	alerts map[string]*domain.Alert
}

func NewAlertRepo() *AlertRepo {
	return &AlertRepo{alerts: make(map[string]*domain.Alert)}
}

func (r *AlertRepo) Create(_ context.Context, a *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *a
	r.alerts[a.ID] = &cp
	return nil
}

func (r *AlertRepo) List(_ context.Context, limit int) ([]domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, *a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *AlertRepo) MarkRead(_ context.Context, id, readBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.alerts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.IsRead = true
	a.ReadBy = readBy
	a.ReadAt = &at
	return nil
}
