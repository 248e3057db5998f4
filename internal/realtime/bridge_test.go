package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpass-io/vpass-server/internal/domain"
	"github.com/vpass-io/vpass-server/internal/repo/memory"
	"github.com/vpass-io/vpass-server/internal/visitor"
	"github.com/vpass-io/vpass-server/pkg/events"
)

// memoryBus is a synchronous in-process Subscriber for bridge tests. Wildcard
// matching is limited to the one pattern the bridge uses.
type memoryBus struct {
	handlers map[string][]func(*events.Message)
}

func newMemoryBus() *memoryBus {
	return &memoryBus{handlers: make(map[string][]func(*events.Message))}
}

func (b *memoryBus) Subscribe(subject string, handler func(msg *events.Message)) error {
	b.handlers[subject] = append(b.handlers[subject], handler)
	return nil
}

func (b *memoryBus) Close() error { return nil }

// Publish makes the bus usable as the engine's Publisher too, delivering to
// subscribers in the caller's goroutine.
func (b *memoryBus) Publish(_ context.Context, subject string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b.dispatch(&events.Message{Subject: subject, Data: raw, Timestamp: time.Now()})
	return nil
}

func (b *memoryBus) emit(t *testing.T, subject string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	b.dispatch(&events.Message{Subject: subject, Data: data, Timestamp: time.Now()})
}

func (b *memoryBus) dispatch(msg *events.Message) {
	for pattern, hs := range b.handlers {
		if pattern == msg.Subject || (pattern == events.VisitorLifecycle && strings.HasPrefix(msg.Subject, "visitor.")) {
			for _, h := range hs {
				h(msg)
			}
		}
	}
}

func bridgeFixture(t *testing.T) (*memoryBus, *Hub) {
	t.Helper()
	hub := NewHub(nil, nil)
	bus := newMemoryBus()
	require.NoError(t, NewBridge(hub).Subscribe(bus))
	return bus, hub
}

func TestBridgeRoutesLifecycleToGate(t *testing.T) {
	bus, hub := bridgeFixture(t)
	g1 := hub.Register("sec-1", "security", "G1", GateGroup("G1"))
	g2 := hub.Register("sec-2", "security", "G2", GateGroup("G2"))

	bus.emit(t, events.VisitorCheckedIn, &events.VisitorEvent{
		Visitor: domain.Visitor{ID: "uuid-1", VisitorID: "VIS-1", Gate: "G1", Status: domain.VisitorIn},
		At:      time.Now(),
	})

	env := drain(t, g1)
	assert.Equal(t, EventVisitorUpdate, env.Event)
	assertEmpty(t, g2)

	var v domain.Visitor
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	assert.Equal(t, "VIS-1", v.VisitorID)
	assert.Equal(t, domain.VisitorIn, v.Status)
}

// The approval token rides on visitor.created for the mail worker but must
// never surface on the wire to dashboards.
func TestBridgeStripsApprovalToken(t *testing.T) {
	bus, hub := bridgeFixture(t)
	g1 := hub.Register("sec-1", "security", "G1", GateGroup("G1"))

	bus.emit(t, events.VisitorCreated, &events.VisitorEvent{
		Visitor:       domain.Visitor{ID: "uuid-1", Gate: "G1", Status: domain.VisitorPending},
		ApprovalToken: "super-secret-token",
		At:            time.Now(),
	})

	env := drain(t, g1)
	assert.NotContains(t, string(env.Payload), "super-secret-token")
}

func TestBridgeRoutesAlerts(t *testing.T) {
	bus, hub := bridgeFixture(t)
	g1 := hub.Register("sec-1", "security", "G1", GateGroup("G1"))
	g2 := hub.Register("sec-2", "security", "G2", GateGroup("G2"))
	admin := hub.Register("admin-1", "admin", "", GroupAdmin)
	reception := hub.Register("rec-1", "reception", "", GroupReception)

	bus.emit(t, events.AlertCreated, &events.AlertEvent{
		Alert: domain.Alert{ID: "a1", Type: domain.AlertOverstay, Gate: "G1"},
		At:    time.Now(),
	})

	assert.Equal(t, EventAlertNew, drain(t, g1).Event)
	assert.Equal(t, EventAlertNew, drain(t, admin).Event)
	assertEmpty(t, g2)
	assertEmpty(t, reception)
}

func TestBridgeRoutesRefresh(t *testing.T) {
	bus, hub := bridgeFixture(t)
	g1 := hub.Register("sec-1", "security", "G1", GateGroup("G1"))
	admin := hub.Register("admin-1", "admin", "", GroupAdmin)
	reception := hub.Register("rec-1", "reception", "", GroupReception)

	bus.emit(t, events.VisitorsRefresh, &events.RefreshEvent{
		Visitors: []domain.Visitor{{ID: "uuid-1"}, {ID: "uuid-2"}},
		At:       time.Now(),
	})

	env := drain(t, admin)
	assert.Equal(t, EventVisitorsUpdate, env.Event)
	var vs []domain.Visitor
	require.NoError(t, json.Unmarshal(env.Payload, &vs))
	assert.Len(t, vs, 2)

	assert.Equal(t, EventVisitorsUpdate, drain(t, reception).Event)
	assertEmpty(t, g1)
}

// End to end through the real engine: a check-in must land a fresh roster on
// the admin and reception dashboards, not just a visitor:update at the gate.
func TestBridgeDeliversRefreshAfterCheckIn(t *testing.T) {
	bus, hub := bridgeFixture(t)
	ctx := context.Background()

	g1 := hub.Register("sec-1", "security", "G1", GateGroup("G1"))
	admin := hub.Register("admin-1", "admin", "", GroupAdmin)
	reception := hub.Register("rec-1", "reception", "", GroupReception)

	engine := visitor.NewEngine(memory.NewVisitorRepo(), memory.NewAlertRepo(), bus, nil, 24*time.Hour, 100)
	v, err := engine.Create(ctx, &visitor.CreateRequest{
		Name:         "Ada Lovelace",
		Phone:        "555-0100",
		Host:         "Grace Hopper",
		HostEmail:    "grace@example.com",
		Gate:         "G1",
		AllowedUntil: time.Now().Add(2 * time.Hour),
	})
	require.NoError(t, err)

	// Creation reaches only the gate.
	assert.Equal(t, EventVisitorUpdate, drain(t, g1).Event)
	assertEmpty(t, admin)
	assertEmpty(t, reception)

	_, err = engine.ConsumeToken(ctx, v.ApprovalToken, visitor.Decision{Approve: true})
	require.NoError(t, err)
	_, err = engine.CheckIn(ctx, v.VisitorID, "sec-1", "G1")
	require.NoError(t, err)

	// Gate gets the two lifecycle frames, admin and reception each get a
	// roster refresh per transition.
	assert.Equal(t, EventVisitorUpdate, drain(t, g1).Event)
	assert.Equal(t, EventVisitorUpdate, drain(t, g1).Event)
	for _, c := range []*Client{admin, reception} {
		env := drain(t, c)
		assert.Equal(t, EventVisitorsUpdate, env.Event)

		var vs []domain.Visitor
		require.NoError(t, json.Unmarshal(env.Payload, &vs))
		require.Len(t, vs, 1)

		env = drain(t, c)
		assert.Equal(t, EventVisitorsUpdate, env.Event)
		require.NoError(t, json.Unmarshal(env.Payload, &vs))
		require.Len(t, vs, 1)
		assert.Equal(t, domain.VisitorIn, vs[0].Status)
	}
}

func TestBridgeIgnoresMalformedPayload(t *testing.T) {
	bus, hub := bridgeFixture(t)
	admin := hub.Register("admin-1", "admin", "", GroupAdmin)

	msg := &events.Message{Subject: events.AlertCreated, Data: []byte("{not json"), Timestamp: time.Now()}
	for _, h := range bus.handlers[events.AlertCreated] {
		h(msg)
	}
	assertEmpty(t, admin)
}
