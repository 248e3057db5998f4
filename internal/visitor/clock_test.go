package visitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vpass-io/vpass-server/internal/domain"
)

// fakeClock is a controllable time source shared by the engine and sweeps
// under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeBus records published events.
type fakeBus struct {
	mu        sync.Mutex
	published []publishedEvent
}

type publishedEvent struct {
	subject string
	payload any
}

func (b *fakeBus) Publish(_ context.Context, subject string, data interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedEvent{subject: subject, payload: data})
	return nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) subjects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.published))
	for i, ev := range b.published {
		out[i] = ev.subject
	}
	return out
}

func (b *fakeBus) last(subject string) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.published) - 1; i >= 0; i-- {
		if b.published[i].subject == subject {
			return b.published[i].payload
		}
	}
	return nil
}

func (b *fakeBus) count(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.published {
		if ev.subject == subject {
			n++
		}
	}
	return n
}

// flakyAlerts refuses alert writes until cleared.
type flakyAlerts struct {
	AlertStore
	failCreate bool
}

func (a *flakyAlerts) Create(ctx context.Context, al *domain.Alert) error {
	if a.failCreate {
		return errors.New("alert store unavailable")
	}
	return a.AlertStore.Create(ctx, al)
}

// hookStore wraps a Store to rendezvous concurrent updates and inject write
// failures in race and fault tests.
type hookStore struct {
	Store
	beforeUpdate func()
	updateErr    func(*domain.Visitor) error
}

func (s *hookStore) Update(ctx context.Context, v *domain.Visitor) error {
	if s.beforeUpdate != nil {
		s.beforeUpdate()
	}
	if s.updateErr != nil {
		if err := s.updateErr(v); err != nil {
			return err
		}
	}
	return s.Store.Update(ctx, v)
}
