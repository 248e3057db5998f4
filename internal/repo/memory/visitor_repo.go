package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vpass-io/vpass-server/internal/domain"
)

// VisitorRepo is an in-memory visitor store with the same compare-and-swap
// update semantics as the postgres repo. Used by tests and memory-driver
// dev runs.
type VisitorRepo struct {
	mu       sync.Mutex
	byID     map[string]*domain.Visitor
	byNumber map[string]string // VisitorID -> internal ID
}

func NewVisitorRepo() *VisitorRepo {
	return &VisitorRepo{
		byID:     make(map[string]*domain.Visitor),
		byNumber: make(map[string]string),
	}
}

func (r *VisitorRepo) Create(_ context.Context, v *domain.Visitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[v.ID]; ok {
		return domain.ErrVersionConflict
	}
	cp := clone(v)
	cp.Version = 1
	r.byID[cp.ID] = cp
	r.byNumber[cp.VisitorID] = cp.ID
	v.Version = cp.Version
	return nil
}

func (r *VisitorRepo) Get(_ context.Context, id string) (*domain.Visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(id)
}

func (r *VisitorRepo) GetByToken(_ context.Context, token string) (*domain.Visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token == "" {
		return nil, domain.ErrNotFound
	}
	for _, v := range r.byID {
		if v.ApprovalToken == token {
			return clone(v), nil
		}
	}
	return nil, domain.ErrNotFound
}

// Update lands only if the caller's Version matches the stored one; the
// stored version then advances by one.
func (r *VisitorRepo) Update(_ context.Context, v *domain.Visitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[v.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != v.Version {
		return domain.ErrVersionConflict
	}
	cp := clone(v)
	cp.Version = cur.Version + 1
	r.byID[cp.ID] = cp
	v.Version = cp.Version
	return nil
}

func (r *VisitorRepo) FindByGate(_ context.Context, gate string) ([]domain.Visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Visitor
	for _, v := range r.byID {
		if v.Gate == gate {
			out = append(out, *clone(v))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *VisitorRepo) FindActive(_ context.Context) ([]domain.Visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Visitor
	for _, v := range r.byID {
		if v.Status.IsActive() {
			out = append(out, *clone(v))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *VisitorRepo) FindOverstayCandidates(_ context.Context, now time.Time) ([]domain.Visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Visitor
	for _, v := range r.byID {
		if v.Status == domain.VisitorIn && !v.OverstayNotified && v.AllowedUntil.Before(now) {
			out = append(out, *clone(v))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *VisitorRepo) FindExpireCandidates(_ context.Context, now time.Time) ([]domain.Visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Visitor
	for _, v := range r.byID {
		if v.Status == domain.VisitorApproved && v.EntryDeadline().Before(now) {
			out = append(out, *clone(v))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *VisitorRepo) ListRecent(_ context.Context, limit int) ([]domain.Visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Visitor, 0, len(r.byID))
	for _, v := range r.byID {
		out = append(out, *clone(v))
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *VisitorRepo) lookup(id string) (*domain.Visitor, error) {
	if v, ok := r.byID[id]; ok {
		return clone(v), nil
	}
	if internal, ok := r.byNumber[id]; ok {
		return clone(r.byID[internal]), nil
	}
	return nil, domain.ErrNotFound
}

func clone(v *domain.Visitor) *domain.Visitor {
	cp := *v
	cp.History = append([]domain.HistoryEntry(nil), v.History...)
	cp.Items = append([]string(nil), v.Items...)
	if v.QRExpiresAt != nil {
		t := *v.QRExpiresAt
		cp.QRExpiresAt = &t
	}
	if v.ApprovalExpiresAt != nil {
		t := *v.ApprovalExpiresAt
		cp.ApprovalExpiresAt = &t
	}
	if v.CheckInTime != nil {
		t := *v.CheckInTime
		cp.CheckInTime = &t
	}
	if v.CheckOutTime != nil {
		t := *v.CheckOutTime
		cp.CheckOutTime = &t
	}
	if v.ApprovedAt != nil {
		t := *v.ApprovedAt
		cp.ApprovedAt = &t
	}
	if v.OverstayAlertSentAt != nil {
		t := *v.OverstayAlertSentAt
		cp.OverstayAlertSentAt = &t
	}
	return &cp
}

func sortNewestFirst(vs []domain.Visitor) {
	sort.SliceStable(vs, func(i, j int) bool {
		return vs[i].CreatedAt.After(vs[j].CreatedAt)
	})
}
