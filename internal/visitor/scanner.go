package visitor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/vpass-io/vpass-server/pkg/events"
	"github.com/vpass-io/vpass-server/pkg/logger"
)

// Scanner periodically sweeps for visitors still inside past their deadline
// and escalates them through the engine. Each visitor is processed
// independently: one failure never aborts the rest of the batch.
type Scanner struct {
	engine       *Engine
	store        Store
	bus          events.Publisher
	now          func() time.Time
	interval     time.Duration
	refreshLimit int

	running atomic.Bool
}

func NewScanner(engine *Engine, store Store, bus events.Publisher, now func() time.Time, interval time.Duration, refreshLimit int) *Scanner {
	if now == nil {
		now = time.Now
	}
	if refreshLimit <= 0 {
		refreshLimit = 100
	}
	return &Scanner{
		engine:       engine,
		store:        store,
		bus:          bus,
		now:          now,
		interval:     interval,
		refreshLimit: refreshLimit,
	}
}

// Run ticks until ctx is canceled. A tick that is still in flight when the
// next fires is not stacked; the new tick is skipped.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("overstay scanner started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.running.CompareAndSwap(false, true) {
				logger.Warn("overstay sweep still running, skipping tick")
				continue
			}
			s.Sweep(ctx)
			s.running.Store(false)
		}
	}
}

// Sweep runs one pass. It is idempotent: a visitor already flagged for this
// overstay episode is filtered out by the query and, if raced, by the engine.
func (s *Scanner) Sweep(ctx context.Context) (flagged int) {
	now := s.now()

	candidates, err := s.store.FindOverstayCandidates(ctx, now)
	if err != nil {
		logger.ErrorContext(ctx, "overstay sweep query failed", "error", err)
		return 0
	}

	for i := range candidates {
		c := &candidates[i]
		v, alert, err := s.engine.markOverstay(ctx, c.ID)
		if errors.Is(err, errNotEligible) {
			continue
		}
		if err != nil {
			logger.ErrorContext(ctx, "overstay escalation failed",
				"visitor_id", c.VisitorID, "gate", c.Gate, "error", err)
			continue
		}
		flagged++
		logger.WarnContext(ctx, "visitor overstay detected",
			"visitor_id", v.VisitorID,
			"gate", v.Gate,
			"severity", string(alert.Severity),
			"overstay_minutes", v.OverstayMinutes)
	}

	if flagged > 0 {
		s.publishRefresh(ctx, now)
	}
	return flagged
}

func (s *Scanner) publishRefresh(ctx context.Context, now time.Time) {
	visitors, err := s.store.ListRecent(ctx, s.refreshLimit)
	if err != nil {
		logger.ErrorContext(ctx, "visitor refresh query failed", "error", err)
		return
	}
	if err := s.bus.Publish(ctx, events.VisitorsRefresh, &events.RefreshEvent{Visitors: visitors, At: now}); err != nil {
		logger.ErrorContext(ctx, "visitor refresh publish failed", "error", err)
	}
}
