package domain

import "time"

type AlertType string

const (
	AlertOverstay   AlertType = "OVERSTAY"
	AlertEmergency  AlertType = "EMERGENCY"
	AlertSuspicious AlertType = "SUSPICIOUS"
	AlertSystem     AlertType = "SYSTEM"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// OverstaySeverity maps minutes past the deadline to an escalation level.
func OverstaySeverity(minutes int) Severity {
	switch {
	case minutes >= 120:
		return SeverityCritical
	case minutes >= 60:
		return SeverityHigh
	case minutes >= 30:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

type Alert struct {
	ID        string     `json:"id"`
	Type      AlertType  `json:"type"`
	Severity  Severity   `json:"severity"`
	VisitorID string     `json:"visitor_id,omitempty"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Gate      string     `json:"gate,omitempty"`
	IsRead    bool       `json:"is_read"`
	ReadBy    string     `json:"read_by,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
