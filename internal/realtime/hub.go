package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vpass-io/vpass-server/internal/domain"
	"github.com/vpass-io/vpass-server/pkg/logger"
)

// Group is a delivery scope. Security connections join their gate's group,
// admins and reception each share one.
type Group string

const (
	GroupAdmin     Group = "ADMIN"
	GroupReception Group = "RECEPTION"
)

func GateGroup(gate string) Group {
	return Group("GATE_" + gate)
}

// Envelope is one wire frame.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// AuditRecorder persists connect/disconnect events. Best-effort: a failure
// never affects the connection.
type AuditRecorder interface {
	Record(ctx context.Context, ev *domain.AuditEvent) error
}

const sendBuffer = 32

// Client is one live connection bound to exactly one group. Each client has
// a single writer draining its send channel, so delivery within a group
// preserves emission order per connection.
type Client struct {
	ID     string
	Actor  string
	Role   string
	Gate   string
	group  Group
	send   chan Envelope
	closed sync.Once
	done   chan struct{}
}

// Recv exposes the client's outbound frames to its write pump.
func (c *Client) Recv() <-chan Envelope { return c.send }

// Done closes when the client is unregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.closed.Do(func() { close(c.done) })
}

// Hub routes events to gate/role scoped groups. It holds no state beyond
// group membership, which only each connection's own handler mutates.
type Hub struct {
	mu     sync.RWMutex
	groups map[Group]map[*Client]struct{}
	audit  AuditRecorder
	now    func() time.Time
}

func NewHub(audit AuditRecorder, now func() time.Time) *Hub {
	if now == nil {
		now = time.Now
	}
	return &Hub{
		groups: make(map[Group]map[*Client]struct{}),
		audit:  audit,
		now:    now,
	}
}

// Register binds a new client into its group and records the connect.
func (h *Hub) Register(actor, role, gate string, group Group) *Client {
	c := &Client{
		ID:    uuid.NewString(),
		Actor: actor,
		Role:  role,
		Gate:  gate,
		group: group,
		send:  make(chan Envelope, sendBuffer),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Client]struct{})
		h.groups[group] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()

	h.recordAudit(c, "SOCKET_CONNECTED", "")
	logger.Info("socket connected", "role", role, "actor", actor, "group", string(group))
	return c
}

// Unregister removes the client; in-flight frames to it are dropped.
func (h *Hub) Unregister(c *Client, reason string) {
	h.mu.Lock()
	if members, ok := h.groups[c.group]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, c.group)
		}
	}
	h.mu.Unlock()

	c.close()
	h.recordAudit(c, "SOCKET_DISCONNECTED", reason)
	logger.Info("socket disconnected", "actor", c.Actor, "reason", reason)
}

// Broadcast emits one event to every member of the selected groups. The
// payload is marshaled once; a client whose buffer is full misses the frame
// rather than stalling the rest of the group.
func (h *Hub) Broadcast(event string, payload any, groups ...Group) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Error("broadcast marshal failed", "event", event, "error", err)
		return
	}
	env := Envelope{Event: event, Payload: raw}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, g := range groups {
		for c := range h.groups[g] {
			select {
			case c.send <- env:
			case <-c.done:
			default:
				logger.Warn("dropping frame for slow socket", "actor", c.Actor, "event", event)
			}
		}
	}
}

// GroupSize reports current membership of a group.
func (h *Hub) GroupSize(g Group) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[g])
}

func (h *Hub) recordAudit(c *Client, action, reason string) {
	if h.audit == nil {
		return
	}
	ev := &domain.AuditEvent{
		ID:        uuid.NewString(),
		ActorID:   c.Actor,
		ActorRole: c.Role,
		Action:    action,
		Entity:    "Socket",
		EntityID:  c.ID,
		Gate:      c.Gate,
		Outcome:   domain.OutcomeSuccess,
		Severity:  domain.SeverityLow,
		Source:    domain.SourceSocket,
		Meta:      reason,
		CreatedAt: h.now(),
	}
	// Off the hot path; the connection must not wait on the audit store.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := h.audit.Record(ctx, ev); err != nil {
			logger.Error("socket audit record failed", "action", action, "error", err)
		}
	}()
}
