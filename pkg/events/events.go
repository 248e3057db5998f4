package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vpass-io/vpass-server/internal/domain"
	"github.com/vpass-io/vpass-server/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "publishing event", "subject", subject)

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Subjects. "visitor.>" covers every lifecycle transition.
const (
	VisitorCreated    = "visitor.created"
	VisitorApproved   = "visitor.approved"
	VisitorRejected   = "visitor.rejected"
	VisitorCheckedIn  = "visitor.checked_in"
	VisitorCheckedOut = "visitor.checked_out"
	VisitorExpired    = "visitor.expired"
	VisitorOverstay   = "visitor.overstay"
	VisitorLifecycle  = "visitor.>"

	AlertCreated    = "alert.created"
	VisitorsRefresh = "visitors.refresh"
)

// VisitorEvent carries a full visitor snapshot. The approval token rides
// along only on visitor.created so the mail worker can build decision links;
// it never reaches the realtime layer (the bridge strips it by marshaling
// the embedded Visitor, whose token field is not serialized).
type VisitorEvent struct {
	Visitor       domain.Visitor `json:"visitor"`
	ApprovalToken string         `json:"approval_token,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	At            time.Time      `json:"at"`
}

type AlertEvent struct {
	Alert domain.Alert `json:"alert"`
	At    time.Time    `json:"at"`
}

type RefreshEvent struct {
	Visitors []domain.Visitor `json:"visitors"`
	At       time.Time        `json:"at"`
}
