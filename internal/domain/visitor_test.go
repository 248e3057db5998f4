package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVisitorStatus(t *testing.T) {
	for _, s := range []string{"PENDING", "APPROVED", "REJECTED", "IN", "OUT", "EXPIRED", "OVERSTAY"} {
		got, ok := ParseVisitorStatus(s)
		assert.True(t, ok, s)
		assert.Equal(t, VisitorStatus(s), got)
	}

	for _, s := range []string{"", "pending", "CHECKED_IN", "in"} {
		_, ok := ParseVisitorStatus(s)
		assert.False(t, ok, s)
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, VisitorIn.IsInside())
	assert.True(t, VisitorOverstay.IsInside())
	assert.False(t, VisitorOut.IsInside())
	assert.False(t, VisitorApproved.IsInside())

	for _, s := range []VisitorStatus{VisitorPending, VisitorApproved, VisitorIn, VisitorOverstay} {
		assert.True(t, s.IsActive(), string(s))
	}
	for _, s := range []VisitorStatus{VisitorRejected, VisitorOut, VisitorExpired} {
		assert.False(t, s.IsActive(), string(s))
	}
}

func TestEntryDeadline(t *testing.T) {
	allowed := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)

	v := Visitor{AllowedUntil: allowed}
	assert.Equal(t, allowed, v.EntryDeadline(), "no QR expiry falls back to the permit window")

	earlier := allowed.Add(-30 * time.Minute)
	v.QRExpiresAt = &earlier
	assert.Equal(t, earlier, v.EntryDeadline(), "the earlier of the two bounds wins")

	later := allowed.Add(30 * time.Minute)
	v.QRExpiresAt = &later
	assert.Equal(t, allowed, v.EntryDeadline())
}

func TestOverstaySeverity(t *testing.T) {
	cases := map[int]Severity{
		0:    SeverityLow,
		29:   SeverityLow,
		30:   SeverityMedium,
		59:   SeverityMedium,
		60:   SeverityHigh,
		119:  SeverityHigh,
		120:  SeverityCritical,
		1000: SeverityCritical,
	}
	for minutes, want := range cases {
		assert.Equal(t, want, OverstaySeverity(minutes), "minutes=%d", minutes)
	}
}

func TestVisitorJSONExcludesApprovalToken(t *testing.T) {
	expiry := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	v := Visitor{
		ID:                "uuid-1",
		VisitorID:         "VIS-20250602-1001",
		Status:            VisitorPending,
		ApprovalToken:     "secret-token",
		ApprovalExpiresAt: &expiry,
	}

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-token")
	assert.NotContains(t, string(raw), "approval_token")
	assert.NotContains(t, string(raw), "2025-06-03")
}

func TestAddHistory(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	var v Visitor

	v.AddHistory("CREATED", "", "visitor registered", now)
	v.AddHistory("APPROVED", "host-1", "", now.Add(time.Minute))

	require.Len(t, v.History, 2)
	assert.Equal(t, "CREATED", v.History[0].Action)
	assert.Equal(t, "host-1", v.History[1].By)
	assert.True(t, v.History[1].At.After(v.History[0].At))
}
