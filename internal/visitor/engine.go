package visitor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vpass-io/vpass-server/internal/domain"
	"github.com/vpass-io/vpass-server/pkg/events"
	"github.com/vpass-io/vpass-server/pkg/logger"
)

// Store is the engine's persistence boundary. Update must only land if the
// visitor's Version still matches the stored one, and must bump it; that
// per-record guard is what serializes concurrent transitions.
type Store interface {
	Create(ctx context.Context, v *domain.Visitor) error
	Get(ctx context.Context, id string) (*domain.Visitor, error)
	GetByToken(ctx context.Context, token string) (*domain.Visitor, error)
	Update(ctx context.Context, v *domain.Visitor) error
	FindByGate(ctx context.Context, gate string) ([]domain.Visitor, error)
	FindActive(ctx context.Context) ([]domain.Visitor, error)
	FindOverstayCandidates(ctx context.Context, now time.Time) ([]domain.Visitor, error)
	FindExpireCandidates(ctx context.Context, now time.Time) ([]domain.Visitor, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Visitor, error)
}

type AlertStore interface {
	Create(ctx context.Context, a *domain.Alert) error
	List(ctx context.Context, limit int) ([]domain.Alert, error)
	MarkRead(ctx context.Context, id, readBy string, at time.Time) error
}

// conflictRetries bounds how often a transition refetches after losing a
// version race before surfacing the raw conflict.
const conflictRetries = 3

type Engine struct {
	store        Store
	alerts       AlertStore
	bus          events.Publisher
	now          func() time.Time
	approvalTTL  time.Duration
	refreshLimit int
}

func NewEngine(store Store, alerts AlertStore, bus events.Publisher, now func() time.Time, approvalTTL time.Duration, refreshLimit int) *Engine {
	if now == nil {
		now = time.Now
	}
	if refreshLimit <= 0 {
		refreshLimit = 100
	}
	return &Engine{
		store:        store,
		alerts:       alerts,
		bus:          bus,
		now:          now,
		approvalTTL:  approvalTTL,
		refreshLimit: refreshLimit,
	}
}

type CreateRequest struct {
	Name               string    `json:"name"`
	Phone              string    `json:"phone"`
	Email              string    `json:"email"`
	Company            string    `json:"company"`
	Host               string    `json:"host"`
	HostEmail          string    `json:"host_email"`
	Purpose            string    `json:"purpose"`
	Gate               string    `json:"gate"`
	AllowedUntil       time.Time `json:"allowed_until"`
	ExpectedDuration   int       `json:"expected_duration"`
	GracePeriodMinutes int       `json:"grace_period_minutes"`
	VehicleNumber      string    `json:"vehicle_number"`
	Items              []string  `json:"items"`
	Notes              string    `json:"notes"`
}

func (r *CreateRequest) validate(now time.Time) error {
	required := []struct{ field, value string }{
		{"name", r.Name},
		{"phone", r.Phone},
		{"host", r.Host},
		{"host_email", r.HostEmail},
		{"gate", r.Gate},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &domain.ValidationError{Field: f.field, Reason: "required"}
		}
	}
	if r.AllowedUntil.IsZero() {
		return &domain.ValidationError{Field: "allowed_until", Reason: "required"}
	}
	if !r.AllowedUntil.After(now) {
		return &domain.ValidationError{Field: "allowed_until", Reason: "must be in the future"}
	}
	return nil
}

// Create registers a new PENDING visitor, issues a single-use approval token
// and announces the request so the host gets a decision mail.
func (e *Engine) Create(ctx context.Context, req *CreateRequest) (*domain.Visitor, error) {
	now := e.now()
	if err := req.validate(now); err != nil {
		return nil, err
	}

	token, err := newApprovalToken()
	if err != nil {
		return nil, fmt.Errorf("generate approval token: %w", err)
	}

	expectedDuration := req.ExpectedDuration
	if expectedDuration <= 0 {
		expectedDuration = 120
	}
	grace := req.GracePeriodMinutes
	if grace <= 0 {
		grace = 10
	}

	approvalExpiry := now.Add(e.approvalTTL)
	qrExpiry := req.AllowedUntil

	v := &domain.Visitor{
		ID:                 uuid.NewString(),
		VisitorID:          newVisitorID(now),
		Status:             domain.VisitorPending,
		Name:               strings.TrimSpace(req.Name),
		Phone:              strings.TrimSpace(req.Phone),
		Email:              strings.ToLower(strings.TrimSpace(req.Email)),
		Company:            strings.TrimSpace(req.Company),
		Host:               strings.TrimSpace(req.Host),
		HostEmail:          strings.ToLower(strings.TrimSpace(req.HostEmail)),
		Purpose:            strings.TrimSpace(req.Purpose),
		Gate:               strings.TrimSpace(req.Gate),
		AllowedUntil:       req.AllowedUntil,
		ExpectedDuration:   expectedDuration,
		GracePeriodMinutes: grace,
		QRExpiresAt:        &qrExpiry,
		ApprovalToken:      token,
		ApprovalExpiresAt:  &approvalExpiry,
		VehicleNumber:      strings.ToUpper(strings.TrimSpace(req.VehicleNumber)),
		Items:              req.Items,
		Notes:              req.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	v.AddHistory("CREATED", "", "visitor registered", now)

	if err := e.store.Create(ctx, v); err != nil {
		return nil, err
	}

	e.publish(ctx, events.VisitorCreated, &events.VisitorEvent{
		Visitor:       *v,
		ApprovalToken: token,
		At:            now,
	})
	return v, nil
}

// Decision is a host/admin verdict on a pending visitor.
type Decision struct {
	Approve bool
	Actor   string
	Reason  string
}

// ConsumeToken resolves an approval token from the out-of-band mail link and
// applies the decision. A token is single use: the visitor leaves PENDING and
// the token is nulled in the same versioned write, so a concurrent replay
// loses the race and observes the processed state.
func (e *Engine) ConsumeToken(ctx context.Context, token string, d Decision) (*domain.Visitor, error) {
	v, err := e.store.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrTokenInvalid
		}
		return nil, err
	}
	if v.ApprovalExpiresAt != nil && e.now().After(*v.ApprovalExpiresAt) {
		return nil, domain.ErrTokenExpired
	}

	decided, err := e.transition(ctx, v.ID, func(v *domain.Visitor, now time.Time) error {
		if v.Status != domain.VisitorPending || v.ApprovalToken != token {
			return domain.ErrAlreadyProcessed
		}
		return e.applyDecision(v, d, now)
	})
	if err != nil {
		return nil, err
	}
	e.publishRefresh(ctx)
	return decided, nil
}

// Decide applies a dashboard decision by an authenticated host/admin, no
// token required.
func (e *Engine) Decide(ctx context.Context, id string, d Decision) (*domain.Visitor, error) {
	trigger := "approve"
	if !d.Approve {
		trigger = "reject"
	}
	decided, err := e.transition(ctx, id, func(v *domain.Visitor, now time.Time) error {
		if v.Status != domain.VisitorPending {
			return &domain.InvalidTransitionError{Trigger: trigger, Status: v.Status}
		}
		return e.applyDecision(v, d, now)
	})
	if err != nil {
		return nil, err
	}
	e.publishRefresh(ctx)
	return decided, nil
}

func (e *Engine) applyDecision(v *domain.Visitor, d Decision, now time.Time) error {
	v.ApprovalToken = ""
	v.ApprovalExpiresAt = nil
	if d.Approve {
		v.Status = domain.VisitorApproved
		v.ApprovedBy = d.Actor
		v.ApprovedAt = &now
		v.AddHistory("APPROVED", d.Actor, noteOr(d.Reason, "approved by host"), now)
	} else {
		v.Status = domain.VisitorRejected
		v.RejectionReason = noteOr(d.Reason, "rejected by host")
		v.AddHistory("REJECTED", d.Actor, v.RejectionReason, now)
	}
	return nil
}

// CheckIn admits an APPROVED (or previously OUT) visitor at their bound gate.
// actorGate is the gate the acting security post is bound to; empty means the
// caller carries no gate identity (admin/reception) and skips the gate guard.
func (e *Engine) CheckIn(ctx context.Context, id, actor, actorGate string) (*domain.Visitor, error) {
	v, err := e.transition(ctx, id, func(v *domain.Visitor, now time.Time) error {
		if actorGate != "" && actorGate != v.Gate {
			return &domain.WrongGateError{Want: v.Gate, Got: actorGate}
		}
		if v.Status != domain.VisitorApproved && v.Status != domain.VisitorOut {
			return &domain.InvalidTransitionError{Trigger: "check-in", Status: v.Status}
		}
		if now.After(v.EntryDeadline()) {
			return domain.ErrEntryWindowClosed
		}
		v.Status = domain.VisitorIn
		v.CheckInTime = &now
		v.CheckedInBy = actor
		// Re-arm overstay detection for this entry.
		v.OverstayNotified = false
		v.OverstayAlertSentAt = nil
		v.OverstayMinutes = 0
		v.AddHistory("CHECKED_IN", actor, "", now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, events.VisitorCheckedIn, &events.VisitorEvent{Visitor: *v, Actor: actor, At: v.UpdatedAt})
	e.publishRefresh(ctx)
	return v, nil
}

// CheckOut releases a visitor who is IN or OVERSTAY. Leaving the premises
// closes the overstay episode, so detection is re-armed.
func (e *Engine) CheckOut(ctx context.Context, id, actor, actorGate string) (*domain.Visitor, error) {
	v, err := e.transition(ctx, id, func(v *domain.Visitor, now time.Time) error {
		if actorGate != "" && actorGate != v.Gate {
			return &domain.WrongGateError{Want: v.Gate, Got: actorGate}
		}
		if !v.Status.IsInside() {
			return &domain.InvalidTransitionError{Trigger: "check-out", Status: v.Status}
		}
		v.Status = domain.VisitorOut
		v.CheckOutTime = &now
		v.CheckedOutBy = actor
		if v.CheckInTime != nil {
			v.ActualDuration = int(now.Sub(*v.CheckInTime) / time.Minute)
		}
		v.OverstayNotified = false
		v.AddHistory("CHECKED_OUT", actor, "", now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, events.VisitorCheckedOut, &events.VisitorEvent{Visitor: *v, Actor: actor, At: v.UpdatedAt})
	e.publishRefresh(ctx)
	return v, nil
}

// markExpired retires an APPROVED visitor whose entry window elapsed unused.
// Driven by the expiry sweep, never by requests.
func (e *Engine) markExpired(ctx context.Context, id string) (*domain.Visitor, error) {
	v, err := e.transition(ctx, id, func(v *domain.Visitor, now time.Time) error {
		if v.Status != domain.VisitorApproved {
			return &domain.InvalidTransitionError{Trigger: "auto-expire", Status: v.Status}
		}
		if !v.EntryDeadline().Before(now) {
			return &domain.InvalidTransitionError{Trigger: "auto-expire", Status: v.Status}
		}
		v.Status = domain.VisitorExpired
		v.AddHistory("AUTO_EXPIRED", "", "entry window elapsed unused", now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, events.VisitorExpired, &events.VisitorEvent{Visitor: *v, At: v.UpdatedAt})
	return v, nil
}

// markOverstay flags an IN visitor past their deadline, persists the alert
// and announces both. The overstayNotified flag makes this at-most-once per
// episode; a visitor already flagged is not eligible.
func (e *Engine) markOverstay(ctx context.Context, id string) (*domain.Visitor, *domain.Alert, error) {
	var minutes int
	v, err := e.transition(ctx, id, func(v *domain.Visitor, now time.Time) error {
		if v.Status != domain.VisitorIn || v.OverstayNotified {
			return errNotEligible
		}
		// Strict comparison: a deadline equal to now is not yet an overstay.
		if !v.OverstayDeadline().Before(now) {
			return errNotEligible
		}
		minutes = int(now.Sub(v.OverstayDeadline()) / time.Minute)
		v.Status = domain.VisitorOverstay
		v.OverstayNotified = true
		v.OverstayAlertSentAt = &now
		v.OverstayMinutes = minutes
		v.AddHistory("OVERSTAY_DETECTED", "", fmt.Sprintf("%d minutes", minutes), now)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	alert := &domain.Alert{
		ID:        uuid.NewString(),
		Type:      domain.AlertOverstay,
		Severity:  domain.OverstaySeverity(minutes),
		VisitorID: v.ID,
		Title:     fmt.Sprintf("Overstay Alert - %s", v.Name),
		Message: fmt.Sprintf("Visitor %s (ID: %s) has overstayed by %d minutes at Gate %s",
			v.Name, v.VisitorID, minutes, v.Gate),
		Gate:      v.Gate,
		CreatedAt: v.UpdatedAt,
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		// Roll the transition back so the next sweep picks this episode up
		// again; a set flag with no alert record would silence it forever.
		if _, rerr := e.transition(ctx, id, func(v *domain.Visitor, _ time.Time) error {
			if v.Status != domain.VisitorOverstay || !v.OverstayNotified {
				return errNotEligible
			}
			v.Status = domain.VisitorIn
			v.OverstayNotified = false
			v.OverstayAlertSentAt = nil
			v.OverstayMinutes = 0
			return nil
		}); rerr != nil && !errors.Is(rerr, errNotEligible) {
			logger.ErrorContext(ctx, "overstay rollback failed", "visitor_id", v.VisitorID, "error", rerr)
		}
		return nil, nil, fmt.Errorf("persist overstay alert: %w", err)
	}

	e.publish(ctx, events.VisitorOverstay, &events.VisitorEvent{Visitor: *v, At: v.UpdatedAt})
	e.publish(ctx, events.AlertCreated, &events.AlertEvent{Alert: *alert, At: v.UpdatedAt})
	return v, alert, nil
}

var errNotEligible = errors.New("visitor not eligible")

// transition runs one atomic read-modify-write on a single visitor. Losing a
// version race refetches and revalidates, so the loser of a double check-in
// or token replay fails with the domain error for the post-transition state
// rather than a raw conflict.
func (e *Engine) transition(ctx context.Context, id string, apply func(v *domain.Visitor, now time.Time) error) (*domain.Visitor, error) {
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		v, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		now := e.now()
		if err := apply(v, now); err != nil {
			return nil, err
		}
		v.UpdatedAt = now

		err = e.store.Update(ctx, v)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		switch v.Status {
		case domain.VisitorApproved:
			e.publishDecision(ctx, events.VisitorApproved, v)
		case domain.VisitorRejected:
			e.publishDecision(ctx, events.VisitorRejected, v)
		}
		return v, nil
	}
	return nil, domain.ErrVersionConflict
}

func (e *Engine) publishDecision(ctx context.Context, subject string, v *domain.Visitor) {
	e.publish(ctx, subject, &events.VisitorEvent{Visitor: *v, Actor: v.ApprovedBy, At: v.UpdatedAt})
}

// publishRefresh pushes a fresh recent-visitors snapshot to the dashboards.
// Request-driven transitions call this directly; the sweeps batch one per
// pass instead.
func (e *Engine) publishRefresh(ctx context.Context) {
	visitors, err := e.store.ListRecent(ctx, e.refreshLimit)
	if err != nil {
		logger.ErrorContext(ctx, "visitor refresh query failed", "error", err)
		return
	}
	e.publish(ctx, events.VisitorsRefresh, &events.RefreshEvent{Visitors: visitors, At: e.now()})
}

// publish is fire-and-forget: fan-out failures are logged and never roll
// back the transition that triggered them.
func (e *Engine) publish(ctx context.Context, subject string, payload any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, subject, payload); err != nil {
		logger.ErrorContext(ctx, "event publish failed", "subject", subject, "error", err)
	}
}

// Read-side pass-throughs so callers depend on the engine, not the store.

func (e *Engine) Get(ctx context.Context, id string) (*domain.Visitor, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) ListRecent(ctx context.Context, limit int) ([]domain.Visitor, error) {
	return e.store.ListRecent(ctx, limit)
}

func (e *Engine) ListByGate(ctx context.Context, gate string) ([]domain.Visitor, error) {
	return e.store.FindByGate(ctx, gate)
}

func (e *Engine) ListActive(ctx context.Context) ([]domain.Visitor, error) {
	return e.store.FindActive(ctx)
}

func newApprovalToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func newVisitorID(now time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		// crypto/rand failing here is as fatal as it is unlikely; fall back
		// to the timestamp alone.
		return fmt.Sprintf("VIS-%s-%04d", now.Format("20060102"), now.UnixNano()%10000)
	}
	return fmt.Sprintf("VIS-%s-%04d", now.Format("20060102"), 1000+n.Int64())
}

func noteOr(note, fallback string) string {
	if strings.TrimSpace(note) != "" {
		return note
	}
	return fallback
}
