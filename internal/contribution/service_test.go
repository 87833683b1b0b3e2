package contribution

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopledger/patronage/internal/domain"
	"github.com/coopledger/patronage/internal/event"
	"github.com/coopledger/patronage/internal/policy"
	"github.com/coopledger/patronage/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "contrib.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		require.NoError(t, st.InsertMember(ctx, domain.Member{
			ID: id, Name: id, Role: domain.RoleMember,
			Status: domain.MemberActive, JoinedAt: time.Now(),
		}))
	}
	require.NoError(t, st.InsertPeriod(ctx, domain.Period{
		ID: "2025q1", Name: "Q1 2025", Status: domain.PeriodOpen,
		StartsAt: time.Now(), EndsAt: time.Now().AddDate(0, 3, 0),
	}))

	logger := slog.New(slog.NewTextHandler(discard{}, nil))
	bus := event.NewBus(st, logger)
	return New(st, bus, policy.Default(), logger), st
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func usd(t *testing.T, s string) domain.Money {
	t.Helper()
	m, err := domain.MoneyFromString(s, "USD")
	require.NoError(t, err)
	return m
}

func TestSubmit_OpenPeriod(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	c, err := svc.Submit(ctx, "alice", "2025q1", "labor", usd(t, "6000"), "site work")
	require.NoError(t, err)
	assert.Equal(t, domain.ContributionPending, c.Status)

	// Submission is an event-visible fact.
	events, err := st.ListEvents(ctx, event.TypeContributionSubmitted, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, c.ID, events[0].AggregateID)
}

func TestSubmit_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "alice", "2025q1", "karma", usd(t, "10"), "")
	assert.True(t, errors.Is(err, ErrUnknownContributionType), "got %v", err)

	_, err = svc.Submit(ctx, "alice", "2025q1", "labor", usd(t, "0"), "")
	assert.True(t, errors.Is(err, ErrZeroAmount), "got %v", err)

	_, err = svc.Submit(ctx, "ghost", "2025q1", "labor", usd(t, "10"), "")
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	// Negative amounts are corrections and are accepted.
	_, err = svc.Submit(ctx, "alice", "2025q1", "labor", usd(t, "-50"), "overclaim correction")
	assert.NoError(t, err)
}

func TestSubmit_ClosedPeriod(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	ok, err := st.TransitionPeriod(ctx, "2025q1", domain.PeriodOpen, domain.PeriodClosing)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Submit(ctx, "alice", "2025q1", "labor", usd(t, "10"), "")
	assert.True(t, errors.Is(err, ErrClosedPeriod), "got %v", err)
}

func TestApprove_SelfApprovalRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.Submit(ctx, "alice", "2025q1", "labor", usd(t, "6000"), "")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, c.ID, "alice")
	assert.True(t, errors.Is(err, ErrSelfApproval), "got %v", err)

	// The guard holds for rejection too.
	_, err = svc.Reject(ctx, c.ID, "alice", "no")
	assert.True(t, errors.Is(err, ErrSelfApproval), "got %v", err)

	// Still pending afterwards.
	pending, err := svc.Pending(ctx, "2025q1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestApprove_EmitsApprovedEvent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	c, err := svc.Submit(ctx, "alice", "2025q1", "labor", usd(t, "6000"), "")
	require.NoError(t, err)

	resolved, err := svc.Approve(ctx, c.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.ContributionApproved, resolved.Status)
	assert.Equal(t, "bob", resolved.ResolvedBy)

	events, err := st.ListEvents(ctx, event.TypeContributionApproved, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestApprove_AlreadyResolved(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.Submit(ctx, "alice", "2025q1", "labor", usd(t, "6000"), "")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, c.ID, "bob")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, c.ID, "bob")
	assert.True(t, errors.Is(err, ErrAlreadyResolved), "got %v", err)

	_, err = svc.Reject(ctx, c.ID, "bob", "changed my mind")
	assert.True(t, errors.Is(err, ErrAlreadyResolved), "rejected must not override approved: %v", err)
}

func TestReject_NeverReachesLedger(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	c, err := svc.Submit(ctx, "alice", "2025q1", "labor", usd(t, "6000"), "")
	require.NoError(t, err)

	_, err = svc.Reject(ctx, c.ID, "bob", "unverifiable")
	require.NoError(t, err)

	got, err := st.GetContribution(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ContributionRejected, got.Status)
	assert.Equal(t, "unverifiable", got.Reason)

	// No transactions exist: rejection is ledger-invisible.
	txs, err := st.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
}
