package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpass-io/vpass-server/internal/domain"
)

func newVisitor(id, number string) *domain.Visitor {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	return &domain.Visitor{
		ID:           id,
		VisitorID:    number,
		Status:       domain.VisitorPending,
		Name:         "Ada Lovelace",
		Gate:         "G1",
		AllowedUntil: now.Add(time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestVisitorRepoCreateAndLookup(t *testing.T) {
	repo := NewVisitorRepo()
	ctx := context.Background()

	v := newVisitor("uuid-1", "VIS-20250602-1001")
	require.NoError(t, repo.Create(ctx, v))
	assert.Equal(t, int64(1), v.Version)

	byID, err := repo.Get(ctx, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, "VIS-20250602-1001", byID.VisitorID)

	byNumber, err := repo.Get(ctx, "VIS-20250602-1001")
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", byNumber.ID)

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVisitorRepoUpdateCAS(t *testing.T) {
	repo := NewVisitorRepo()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newVisitor("uuid-1", "VIS-20250602-1001")))

	a, err := repo.Get(ctx, "uuid-1")
	require.NoError(t, err)
	b, err := repo.Get(ctx, "uuid-1")
	require.NoError(t, err)

	a.Status = domain.VisitorApproved
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	// b still holds version 1; its write must lose.
	b.Status = domain.VisitorRejected
	assert.ErrorIs(t, repo.Update(ctx, b), domain.ErrVersionConflict)

	got, err := repo.Get(ctx, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VisitorApproved, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestVisitorRepoUpdateUnknown(t *testing.T) {
	repo := NewVisitorRepo()
	err := repo.Update(context.Background(), newVisitor("ghost", "VIS-20250602-9999"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVisitorRepoReturnsCopies(t *testing.T) {
	repo := NewVisitorRepo()
	ctx := context.Background()

	v := newVisitor("uuid-1", "VIS-20250602-1001")
	v.AddHistory("CREATED", "", "", v.CreatedAt)
	require.NoError(t, repo.Create(ctx, v))

	got, err := repo.Get(ctx, "uuid-1")
	require.NoError(t, err)
	got.Name = "mutated"
	got.History[0].Action = "MUTATED"

	again, err := repo.Get(ctx, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", again.Name)
	assert.Equal(t, "CREATED", again.History[0].Action)
}

func TestVisitorRepoGetByToken(t *testing.T) {
	repo := NewVisitorRepo()
	ctx := context.Background()

	v := newVisitor("uuid-1", "VIS-20250602-1001")
	v.ApprovalToken = "tok-abc"
	require.NoError(t, repo.Create(ctx, v))

	got, err := repo.GetByToken(ctx, "tok-abc")
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", got.ID)

	_, err = repo.GetByToken(ctx, "tok-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// A consumed (nulled) token must never match visitors whose token field
	// is also empty.
	got.ApprovalToken = ""
	require.NoError(t, repo.Update(ctx, got))
	_, err = repo.GetByToken(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVisitorRepoQueries(t *testing.T) {
	repo := NewVisitorRepo()
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	mk := func(id, gate string, status domain.VisitorStatus, allowedUntil time.Time, notified bool, offset time.Duration) {
		v := newVisitor(id, "VIS-"+id)
		v.Gate = gate
		v.Status = status
		v.AllowedUntil = allowedUntil
		qr := allowedUntil
		v.QRExpiresAt = &qr
		v.OverstayNotified = notified
		v.CreatedAt = now.Add(offset)
		require.NoError(t, repo.Create(ctx, v))
	}

	mk("in-late", "G1", domain.VisitorIn, now.Add(-time.Minute), false, 0)
	mk("in-flagged", "G1", domain.VisitorIn, now.Add(-time.Hour), true, time.Minute)
	mk("in-ontime", "G2", domain.VisitorIn, now.Add(time.Hour), false, 2*time.Minute)
	mk("approved-stale", "G2", domain.VisitorApproved, now.Add(-time.Minute), false, 3*time.Minute)
	mk("rejected", "G1", domain.VisitorRejected, now.Add(time.Hour), false, 4*time.Minute)

	over, err := repo.FindOverstayCandidates(ctx, now)
	require.NoError(t, err)
	require.Len(t, over, 1)
	assert.Equal(t, "in-late", over[0].ID)

	exp, err := repo.FindExpireCandidates(ctx, now)
	require.NoError(t, err)
	require.Len(t, exp, 1)
	assert.Equal(t, "approved-stale", exp[0].ID)

	g1, err := repo.FindByGate(ctx, "G1")
	require.NoError(t, err)
	assert.Len(t, g1, 3)

	active, err := repo.FindActive(ctx)
	require.NoError(t, err)
	for _, v := range active {
		assert.True(t, v.Status.IsActive())
	}

	recent, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "rejected", recent[0].ID, "newest first")
	assert.Equal(t, "approved-stale", recent[1].ID)
}

func TestAlertRepoMarkRead(t *testing.T) {
	repo := NewAlertRepo()
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &domain.Alert{
		ID:        "alert-1",
		Type:      domain.AlertOverstay,
		Severity:  domain.SeverityLow,
		CreatedAt: now,
	}))

	require.NoError(t, repo.MarkRead(ctx, "alert-1", "admin-7", now.Add(time.Minute)))

	as, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, as, 1)
	assert.True(t, as[0].IsRead)
	assert.Equal(t, "admin-7", as[0].ReadBy)
	require.NotNil(t, as[0].ReadAt)

	assert.ErrorIs(t, repo.MarkRead(ctx, "alert-404", "admin-7", now), domain.ErrNotFound)
}
