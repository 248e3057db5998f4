package domain

import "time"

type VisitorStatus string

const (
	VisitorPending  VisitorStatus = "PENDING"
	VisitorApproved VisitorStatus = "APPROVED"
	VisitorRejected VisitorStatus = "REJECTED"
	VisitorIn       VisitorStatus = "IN"
	VisitorOut      VisitorStatus = "OUT"
	VisitorExpired  VisitorStatus = "EXPIRED"
	VisitorOverstay VisitorStatus = "OVERSTAY"
)

func ParseVisitorStatus(s string) (VisitorStatus, bool) {
	switch VisitorStatus(s) {
	case VisitorPending, VisitorApproved, VisitorRejected, VisitorIn, VisitorOut, VisitorExpired, VisitorOverstay:
		return VisitorStatus(s), true
	default:
		return "", false
	}
}

// IsInside reports whether the visitor is currently past the gate.
func (s VisitorStatus) IsInside() bool {
	return s == VisitorIn || s == VisitorOverstay
}

// IsActive reports whether the visitor still participates in the lifecycle.
func (s VisitorStatus) IsActive() bool {
	switch s {
	case VisitorPending, VisitorApproved, VisitorIn, VisitorOverstay:
		return true
	default:
		return false
	}
}

// HistoryEntry is one line of a visitor's audit trail. Entries are only ever
// appended, never mutated or reordered.
type HistoryEntry struct {
	Action string    `json:"action"`
	By     string    `json:"by,omitempty"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

type Visitor struct {
	ID        string        `json:"id"`
	VisitorID string        `json:"visitor_id"`
	Status    VisitorStatus `json:"status"`

	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Company string `json:"company,omitempty"`

	Host      string `json:"host"`
	HostEmail string `json:"host_email"`
	Purpose   string `json:"purpose,omitempty"`
	// Gate never changes after creation; a visitor is bound to one entry gate.
	Gate string `json:"gate"`

	AllowedUntil       time.Time  `json:"allowed_until"`
	ExpectedDuration   int        `json:"expected_duration"`
	GracePeriodMinutes int        `json:"grace_period_minutes"`
	QRExpiresAt        *time.Time `json:"qr_expires_at,omitempty"`

	CheckInTime    *time.Time `json:"check_in_time,omitempty"`
	CheckOutTime   *time.Time `json:"check_out_time,omitempty"`
	ActualDuration int        `json:"actual_duration,omitempty"`

	ApprovedBy        string     `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	ApprovalToken     string     `json:"-"`
	ApprovalExpiresAt *time.Time `json:"-"`

	CheckedInBy  string `json:"checked_in_by,omitempty"`
	CheckedOutBy string `json:"checked_out_by,omitempty"`

	OverstayNotified    bool       `json:"overstay_notified"`
	OverstayAlertSentAt *time.Time `json:"overstay_alert_sent_at,omitempty"`
	OverstayMinutes     int        `json:"overstay_minutes"`

	VehicleNumber string   `json:"vehicle_number,omitempty"`
	Items         []string `json:"items,omitempty"`
	Notes         string   `json:"notes,omitempty"`

	History []HistoryEntry `json:"history"`

	// Version guards every update: a write only lands if the stored version
	// still matches, so concurrent transitions on one visitor serialize.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AddHistory appends one trail entry. The caller supplies the timestamp so a
// single decision ("now") stamps every effect of one transition.
func (v *Visitor) AddHistory(action, by, note string, at time.Time) {
	v.History = append(v.History, HistoryEntry{Action: action, By: by, Note: note, At: at})
}

// OverstayDeadline is the sole overstay boundary. The grace period is
// advisory and deliberately not folded in.
func (v *Visitor) OverstayDeadline() time.Time {
	return v.AllowedUntil
}

// EntryDeadline is the latest instant a check-in is still honored.
func (v *Visitor) EntryDeadline() time.Time {
	if v.QRExpiresAt != nil && v.QRExpiresAt.Before(v.AllowedUntil) {
		return *v.QRExpiresAt
	}
	return v.AllowedUntil
}
