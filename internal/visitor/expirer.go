package visitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vpass-io/vpass-server/internal/domain"
	"github.com/vpass-io/vpass-server/pkg/events"
	"github.com/vpass-io/vpass-server/pkg/logger"
)

// Expirer retires APPROVED visitors whose entry window elapsed before they
// ever checked in. It runs on its own cadence, independent of the overstay
// scanner.
type Expirer struct {
	engine       *Engine
	store        Store
	bus          events.Publisher
	now          func() time.Time
	interval     time.Duration
	refreshLimit int

	running atomic.Bool
}

func NewExpirer(engine *Engine, store Store, bus events.Publisher, now func() time.Time, interval time.Duration, refreshLimit int) *Expirer {
	if now == nil {
		now = time.Now
	}
	if refreshLimit <= 0 {
		refreshLimit = 100
	}
	return &Expirer{
		engine:       engine,
		store:        store,
		bus:          bus,
		now:          now,
		interval:     interval,
		refreshLimit: refreshLimit,
	}
}

func (e *Expirer) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	logger.Info("expiry sweep started", "interval", e.interval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !e.running.CompareAndSwap(false, true) {
				logger.Warn("expiry sweep still running, skipping tick")
				continue
			}
			e.Sweep(ctx)
			e.running.Store(false)
		}
	}
}

func (e *Expirer) Sweep(ctx context.Context) (expired int) {
	now := e.now()

	candidates, err := e.store.FindExpireCandidates(ctx, now)
	if err != nil {
		logger.ErrorContext(ctx, "expiry sweep query failed", "error", err)
		return 0
	}

	for i := range candidates {
		c := &candidates[i]
		if _, err := e.engine.markExpired(ctx, c.ID); err != nil {
			// A visitor who checked in or was raced out of APPROVED since
			// the query is no longer ours to expire.
			if domain.IsInvalidTransition(err) {
				continue
			}
			logger.ErrorContext(ctx, "auto-expire failed",
				"visitor_id", c.VisitorID, "error", err)
			continue
		}
		expired++
	}

	if expired > 0 {
		logger.InfoContext(ctx, "expired unused visitor passes", "count", expired)
		e.publishRefresh(ctx, now)
	}
	return expired
}

func (e *Expirer) publishRefresh(ctx context.Context, now time.Time) {
	visitors, err := e.store.ListRecent(ctx, e.refreshLimit)
	if err != nil {
		logger.ErrorContext(ctx, "visitor refresh query failed", "error", err)
		return
	}
	if err := e.bus.Publish(ctx, events.VisitorsRefresh, &events.RefreshEvent{Visitors: visitors, At: now}); err != nil {
		logger.ErrorContext(ctx, "visitor refresh publish failed", "error", err)
	}
}
