package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/vpass-io/vpass-server/pkg/events"
	"github.com/vpass-io/vpass-server/pkg/logger"
)

// Wire event names, matching what dashboards subscribe to.
const (
	EventVisitorUpdate  = "visitor:update"
	EventVisitorsUpdate = "visitors:update"
	EventAlertNew       = "alert:new"
)

// Bridge feeds bus events into the hub with gate-scoped routing: lifecycle
// changes go only to the visitor's own gate, alerts also reach admins, and
// full list refreshes go to admins and reception.
type Bridge struct {
	hub *Hub
}

func NewBridge(hub *Hub) *Bridge {
	return &Bridge{hub: hub}
}

func (b *Bridge) Subscribe(bus events.Subscriber) error {
	if err := bus.Subscribe(events.VisitorLifecycle, b.onVisitor); err != nil {
		return fmt.Errorf("subscribe visitor lifecycle: %w", err)
	}
	if err := bus.Subscribe(events.AlertCreated, b.onAlert); err != nil {
		return fmt.Errorf("subscribe alerts: %w", err)
	}
	if err := bus.Subscribe(events.VisitorsRefresh, b.onRefresh); err != nil {
		return fmt.Errorf("subscribe refresh: %w", err)
	}
	return nil
}

func (b *Bridge) onVisitor(msg *events.Message) {
	var ev events.VisitorEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logger.Error("malformed visitor event", "subject", msg.Subject, "error", err)
		return
	}
	// Re-marshaling only the snapshot strips the approval token, which is
	// excluded from the visitor's JSON form.
	b.hub.Broadcast(EventVisitorUpdate, ev.Visitor, GateGroup(ev.Visitor.Gate))
}

func (b *Bridge) onAlert(msg *events.Message) {
	var ev events.AlertEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logger.Error("malformed alert event", "subject", msg.Subject, "error", err)
		return
	}
	groups := []Group{GroupAdmin}
	if ev.Alert.Gate != "" {
		groups = append(groups, GateGroup(ev.Alert.Gate))
	}
	b.hub.Broadcast(EventAlertNew, ev.Alert, groups...)
}

func (b *Bridge) onRefresh(msg *events.Message) {
	var ev events.RefreshEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logger.Error("malformed refresh event", "subject", msg.Subject, "error", err)
		return
	}
	b.hub.Broadcast(EventVisitorsUpdate, ev.Visitors, GroupAdmin, GroupReception)
}
