package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpass-io/vpass-server/internal/domain"
	"github.com/vpass-io/vpass-server/pkg/events"
)

type sentMail struct {
	to      string
	name    string
	subject string
	text    string
	html    string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, sentMail{toEmail, toName, subject, text, html})
	return "msg-id", nil
}

func (m *recordingMailer) mails() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

// notifyBus delivers synchronously so tests can assert right after emit.
type notifyBus struct {
	handlers map[string]func(*events.Message)
}

func newNotifyBus() *notifyBus {
	return &notifyBus{handlers: make(map[string]func(*events.Message))}
}

func (b *notifyBus) Subscribe(subject string, handler func(msg *events.Message)) error {
	b.handlers[subject] = handler
	return nil
}

func (b *notifyBus) Close() error { return nil }

func (b *notifyBus) emit(t *testing.T, subject string, payload any) {
	t.Helper()
	h, ok := b.handlers[subject]
	require.True(t, ok, "no handler for %s", subject)
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	h(&events.Message{Subject: subject, Data: data, Timestamp: time.Now()})
}

func testVisitor() domain.Visitor {
	return domain.Visitor{
		ID:           "uuid-1",
		VisitorID:    "VIS-20250602-1001",
		Status:       domain.VisitorPending,
		Name:         "Ada Lovelace",
		Email:        "ada@example.com",
		Company:      "Analytical Engines Ltd",
		Host:         "Grace Hopper",
		HostEmail:    "grace@example.com",
		Gate:         "G1",
		AllowedUntil: time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC),
	}
}

func setup(t *testing.T) (*recordingMailer, *notifyBus) {
	t.Helper()
	mail := &recordingMailer{}
	bus := newNotifyBus()
	n := NewNotifier(mail, "https://vpass.example.com/", "admin@example.com")
	require.NoError(t, n.Subscribe(bus))
	return mail, bus
}

func TestApprovalRequestMail(t *testing.T) {
	mail, bus := setup(t)

	bus.emit(t, events.VisitorCreated, &events.VisitorEvent{
		Visitor:       testVisitor(),
		ApprovalToken: "tok-abc123",
		At:            time.Now(),
	})

	sent := mail.mails()
	require.Len(t, sent, 1)
	assert.Equal(t, "grace@example.com", sent[0].to)
	assert.Equal(t, "Grace Hopper", sent[0].name)
	assert.Contains(t, sent[0].subject, "Ada Lovelace")

	// The decision links carry the token; trailing slash on the base URL must
	// not double up.
	assert.Contains(t, sent[0].text, "https://vpass.example.com/api/visitor/approve/tok-abc123")
	assert.Contains(t, sent[0].text, "https://vpass.example.com/api/visitor/reject/tok-abc123")
	assert.Contains(t, sent[0].html, "approve/tok-abc123")
}

func TestDecisionMail(t *testing.T) {
	mail, bus := setup(t)

	approved := testVisitor()
	approved.Status = domain.VisitorApproved
	bus.emit(t, events.VisitorApproved, &events.VisitorEvent{Visitor: approved, At: time.Now()})

	sent := mail.mails()
	require.Len(t, sent, 2, "visitor and admin both get the verdict")
	assert.Equal(t, "ada@example.com", sent[0].to)
	assert.Equal(t, "admin@example.com", sent[1].to)
	assert.Contains(t, sent[0].subject, "Approved")

	rejected := testVisitor()
	rejected.Status = domain.VisitorRejected
	bus.emit(t, events.VisitorRejected, &events.VisitorEvent{Visitor: rejected, At: time.Now()})

	sent = mail.mails()
	require.Len(t, sent, 4)
	assert.Contains(t, sent[2].subject, "Rejected")
}

func TestCheckedInMail(t *testing.T) {
	mail, bus := setup(t)

	v := testVisitor()
	v.Status = domain.VisitorIn
	bus.emit(t, events.VisitorCheckedIn, &events.VisitorEvent{Visitor: v, At: time.Now()})

	sent := mail.mails()
	require.Len(t, sent, 2, "host and visitor are both informed")
	assert.Equal(t, "grace@example.com", sent[0].to)
	assert.Equal(t, "ada@example.com", sent[1].to)
	assert.Contains(t, sent[0].subject, "Checked In")
}

func TestOverstayAlertMail(t *testing.T) {
	mail, bus := setup(t)

	bus.emit(t, events.AlertCreated, &events.AlertEvent{
		Alert: domain.Alert{
			ID:       "a1",
			Type:     domain.AlertOverstay,
			Severity: domain.SeverityHigh,
			Title:    "Overstay Alert - Ada Lovelace",
			Message:  "Visitor Ada Lovelace (ID: VIS-20250602-1001) has overstayed by 75 minutes at Gate G1",
			Gate:     "G1",
		},
		At: time.Now(),
	})

	sent := mail.mails()
	require.Len(t, sent, 1)
	assert.Equal(t, "admin@example.com", sent[0].to)
	assert.Contains(t, sent[0].text, "75 minutes")
	assert.Contains(t, sent[0].html, "HIGH")
}

func TestRecipientsWithoutAddressAreSkipped(t *testing.T) {
	mail, bus := setup(t)

	v := testVisitor()
	v.Email = ""
	v.Status = domain.VisitorIn
	bus.emit(t, events.VisitorCheckedIn, &events.VisitorEvent{Visitor: v, At: time.Now()})

	sent := mail.mails()
	require.Len(t, sent, 1)
	assert.Equal(t, "grace@example.com", sent[0].to)
}

func TestSendFailureIsSwallowed(t *testing.T) {
	mail, bus := setup(t)
	mail.err = errors.New("smtp unreachable")

	// Must not panic or block; the failure only gets logged.
	bus.emit(t, events.VisitorCreated, &events.VisitorEvent{
		Visitor:       testVisitor(),
		ApprovalToken: "tok-abc123",
		At:            time.Now(),
	})
	assert.Empty(t, mail.mails())
}

func TestMalformedPayloadIgnored(t *testing.T) {
	mail, bus := setup(t)

	bus.handlers[events.VisitorCreated](&events.Message{
		Subject:   events.VisitorCreated,
		Data:      []byte("{not json"),
		Timestamp: time.Now(),
	})
	assert.Empty(t, mail.mails())
}
