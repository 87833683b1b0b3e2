package contribution

import (
	"context"
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

func newAccrualFixture(t *testing.T) (*Service, *event.Bus, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "accrual.db"))
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
	pol := policy.Default()
	RegisterAccrual(bus, st, pol, logger)
	return New(st, bus, pol, logger), bus, st
}

func TestAccrual_ApprovalAccruesWeightedPatronage(t *testing.T) {
	svc, _, st := newAccrualFixture(t)
	ctx := context.Background()

	c, err := svc.Submit(ctx, "alice", "2025q1", "labor", usd(t, "1000"), "")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, c.ID, "bob")
	require.NoError(t, err)

	// labor weighs 0.4 in the stock policy.
	got, err := st.PendingPatronage(ctx, "2025q1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "400", got.String())

	// A second approval of another type adds on top.
	c2, err := svc.Submit(ctx, "alice", "2025q1", "capital", usd(t, "500"), "")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, c2.ID, "bob")
	require.NoError(t, err)

	got, err = st.PendingPatronage(ctx, "2025q1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "550", got.String())
}

func TestAccrual_RejectionDoesNotAccrue(t *testing.T) {
	svc, _, st := newAccrualFixture(t)
	ctx := context.Background()

	c, err := svc.Submit(ctx, "alice", "2025q1", "labor", usd(t, "1000"), "")
	require.NoError(t, err)
	_, err = svc.Reject(ctx, c.ID, "bob", "not patronage")
	require.NoError(t, err)

	got, err := st.PendingPatronage(ctx, "2025q1", "alice")
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "rejected contribution accrued %s", got)
}

func TestAccrual_RedeliveryDoesNotDoubleCount(t *testing.T) {
	svc, bus, st := newAccrualFixture(t)
	ctx := context.Background()

	c, err := svc.Submit(ctx, "alice", "2025q1", "labor", usd(t, "1000"), "")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, c.ID, "bob")
	require.NoError(t, err)

	events, err := st.ListEvents(ctx, event.TypeContributionApproved, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	done, err := st.AlreadyProcessed(ctx, events[0].ID, AccrualConsumer)
	require.NoError(t, err)
	assert.True(t, done, "consumer outcome must be recorded after delivery")

	// Redelivery after a crash must be suppressed by the outcome record.
	require.NoError(t, bus.Redeliver(ctx, events[0]))

	got, err := st.PendingPatronage(ctx, "2025q1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "400", got.String())
}
