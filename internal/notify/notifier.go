package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vpass-io/vpass-server/internal/domain"
	"github.com/vpass-io/vpass-server/internal/platform/mailer"
	"github.com/vpass-io/vpass-server/pkg/events"
	"github.com/vpass-io/vpass-server/pkg/logger"
)

type TemplateKind string

const (
	HostApprovalRequest TemplateKind = "HOST_APPROVAL_REQUEST"
	VisitorApproved     TemplateKind = "VISITOR_APPROVED"
	VisitorRejected     TemplateKind = "VISITOR_REJECTED"
	CheckedIn           TemplateKind = "CHECKED_IN"
	OverstayAlert       TemplateKind = "OVERSTAY_ALERT"
)

// Notifier is the mail half of the notification sink. It consumes lifecycle
// events off the bus and renders one template per kind. Delivery is
// best-effort: a failed send is logged, never retried here and never
// surfaced to the transition that caused it.
type Notifier struct {
	mail       mailer.Service
	baseURL    string
	adminEmail string
}

func NewNotifier(mail mailer.Service, baseURL, adminEmail string) *Notifier {
	return &Notifier{
		mail:       mail,
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminEmail: adminEmail,
	}
}

// Subscribe wires the notifier to the event bus.
func (n *Notifier) Subscribe(bus events.Subscriber) error {
	handlers := map[string]func(*events.Message){
		events.VisitorCreated:   n.onCreated,
		events.VisitorApproved:  n.onDecision,
		events.VisitorRejected:  n.onDecision,
		events.VisitorCheckedIn: n.onCheckedIn,
		events.AlertCreated:     n.onAlert,
	}
	for subject, handler := range handlers {
		if err := bus.Subscribe(subject, handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
	}
	return nil
}

func (n *Notifier) onCreated(msg *events.Message) {
	var ev events.VisitorEvent
	if !n.decode(msg, &ev) {
		return
	}
	n.Notify(context.Background(), HostApprovalRequest, &ev.Visitor, ev.ApprovalToken)
}

func (n *Notifier) onDecision(msg *events.Message) {
	var ev events.VisitorEvent
	if !n.decode(msg, &ev) {
		return
	}
	kind := VisitorApproved
	if ev.Visitor.Status == domain.VisitorRejected {
		kind = VisitorRejected
	}
	n.Notify(context.Background(), kind, &ev.Visitor, "")
}

func (n *Notifier) onCheckedIn(msg *events.Message) {
	var ev events.VisitorEvent
	if !n.decode(msg, &ev) {
		return
	}
	n.Notify(context.Background(), CheckedIn, &ev.Visitor, "")
}

func (n *Notifier) onAlert(msg *events.Message) {
	var ev events.AlertEvent
	if !n.decode(msg, &ev) {
		return
	}
	n.notifyAlert(context.Background(), &ev.Alert)
}

// Notify renders and sends the template for one lifecycle moment.
func (n *Notifier) Notify(ctx context.Context, kind TemplateKind, v *domain.Visitor, token string) {
	var (
		to      []recipient
		subject string
		text    string
		html    string
	)

	switch kind {
	case HostApprovalRequest:
		approve := fmt.Sprintf("%s/api/visitor/approve/%s", n.baseURL, token)
		reject := fmt.Sprintf("%s/api/visitor/reject/%s", n.baseURL, token)
		to = []recipient{{v.HostEmail, v.Host}}
		subject = fmt.Sprintf("Visitor Approval Required - %s", v.Name)
		text = fmt.Sprintf(
			"%s (%s) has requested to visit you at gate %s until %s.\nApprove: %s\nReject: %s",
			v.Name, v.Company, v.Gate, v.AllowedUntil.Format("Jan 2 15:04"), approve, reject)
		html = fmt.Sprintf(
			`<h3>Visitor Approval Required</h3>
<p><b>Name:</b> %s</p>
<p><b>Company:</b> %s</p>
<p><b>Purpose:</b> %s</p>
<p><b>Gate:</b> %s</p>
<p><b>Allowed until:</b> %s</p>
<p><a href="%s">Approve</a> | <a href="%s">Reject</a></p>`,
			v.Name, v.Company, v.Purpose, v.Gate, v.AllowedUntil.Format("Jan 2 15:04"), approve, reject)

	case VisitorApproved, VisitorRejected:
		verdict := "Approved"
		if kind == VisitorRejected {
			verdict = "Rejected"
		}
		to = []recipient{{v.Email, v.Name}, {n.adminEmail, ""}}
		subject = fmt.Sprintf("Visitor %s", verdict)
		text = fmt.Sprintf("Visitor %s: %s at gate %s (status %s)", verdict, v.Name, v.Gate, v.Status)
		html = fmt.Sprintf(
			`<h3>Visitor %s</h3>
<p><b>Name:</b> %s</p>
<p><b>Gate:</b> %s</p>
<p><b>Status:</b> %s</p>`,
			verdict, v.Name, v.Gate, v.Status)

	case CheckedIn:
		to = []recipient{{v.HostEmail, v.Host}, {v.Email, v.Name}}
		subject = fmt.Sprintf("Visitor Checked In - %s", v.Name)
		text = fmt.Sprintf("%s checked in at gate %s, allowed until %s.",
			v.Name, v.Gate, v.AllowedUntil.Format("Jan 2 15:04"))
		html = fmt.Sprintf(
			`<h3>Visitor Checked In</h3>
<p><b>Name:</b> %s</p>
<p><b>Gate:</b> %s</p>
<p><b>Allowed until:</b> %s</p>`,
			v.Name, v.Gate, v.AllowedUntil.Format("Jan 2 15:04"))

	default:
		logger.Warn("unknown mail template", "kind", string(kind))
		return
	}

	n.send(ctx, to, subject, text, html)
}

func (n *Notifier) notifyAlert(ctx context.Context, a *domain.Alert) {
	to := []recipient{{n.adminEmail, ""}}
	text := a.Message
	html := fmt.Sprintf(
		`<h3>%s</h3>
<p>%s</p>
<p><b>Severity:</b> %s</p>
<p><b>Gate:</b> %s</p>`,
		a.Title, a.Message, a.Severity, a.Gate)
	n.send(ctx, to, a.Title, text, html)
}

type recipient struct {
	email string
	name  string
}

func (n *Notifier) send(ctx context.Context, to []recipient, subject, text, html string) {
	for _, rcpt := range to {
		if strings.TrimSpace(rcpt.email) == "" {
			continue
		}
		if _, err := n.mail.Send(rcpt.email, rcpt.name, subject, text, html); err != nil {
			logger.ErrorContext(ctx, "mail send failed", "to", rcpt.email, "subject", subject, "error", err)
		}
	}
}

func (n *Notifier) decode(msg *events.Message, out any) bool {
	if err := json.Unmarshal(msg.Data, out); err != nil {
		logger.Error("malformed event payload", "subject", msg.Subject, "error", err)
		return false
	}
	return true
}
