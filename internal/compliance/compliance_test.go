package compliance

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopledger/patronage/internal/domain"
	"github.com/coopledger/patronage/internal/store"
)

func newChecker(t *testing.T) (*Checker, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "compliance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.InsertMember(ctx, domain.Member{
		ID: "m-1", Name: "Alice", Role: domain.RoleMember,
		Status: domain.MemberActive, JoinedAt: time.Now(),
	}))
	require.NoError(t, st.EnsureSystemAccount(ctx, "retained-surplus"))

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return NewChecker(st, "USD", logger), st
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func usd(t *testing.T, s string) domain.Money {
	t.Helper()
	m, err := domain.MoneyFromString(s, "USD")
	require.NoError(t, err)
	return m
}

func appendTx(t *testing.T, st *store.Store, key string, lines []domain.Line) {
	t.Helper()
	tx := domain.Transaction{
		ID:         domain.MustTransactionID(key, domain.CategoryAllocation, "", lines, ""),
		Category:   domain.CategoryAllocation,
		Lines:      lines,
		OccurredAt: time.Now(),
	}
	_, err := st.AppendTransaction(context.Background(), tx)
	require.NoError(t, err)
}

func codes(vs []Violation) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.Code)
	}
	return out
}

func TestCheckDoubleEntry_CleanLedger(t *testing.T) {
	c, st := newChecker(t)
	appendTx(t, st, "clean-1", []domain.Line{
		{AccountID: domain.MemberAccountID("m-1", domain.BasisBook), Amount: usd(t, "100.00")},
		{AccountID: domain.SystemAccountID("retained-surplus", domain.BasisBook), Amount: usd(t, "-100.00")},
	})

	vs, err := c.CheckDoubleEntry(context.Background())
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestCheckDoubleEntry_DetectsUnbalancedTransaction(t *testing.T) {
	c, st := newChecker(t)
	// The store itself does not enforce balance; the ledger service
	// does. Appending directly simulates a corrupted log.
	appendTx(t, st, "bad-1", []domain.Line{
		{AccountID: domain.MemberAccountID("m-1", domain.BasisBook), Amount: usd(t, "10.00")},
		{AccountID: domain.SystemAccountID("retained-surplus", domain.BasisBook), Amount: usd(t, "-9.00")},
	})

	vs, err := c.CheckDoubleEntry(context.Background())
	require.NoError(t, err)
	assert.Contains(t, codes(vs), CodeUnbalancedTransaction)
}

func TestCheckDoubleEntry_DetectsIndexDrift(t *testing.T) {
	c, st := newChecker(t)
	acct := domain.MemberAccountID("m-1", domain.BasisBook)
	appendTx(t, st, "drift-1", []domain.Line{
		{AccountID: acct, Amount: usd(t, "42.00")},
		{AccountID: domain.SystemAccountID("retained-surplus", domain.BasisBook), Amount: usd(t, "-42.00")},
	})

	// Corrupt the derived index behind the store's back.
	_, err := st.DB().Exec(
		`UPDATE balances SET amount = '999' WHERE account_id = ?`, acct)
	require.NoError(t, err)

	vs, err := c.CheckDoubleEntry(context.Background())
	require.NoError(t, err)
	require.Contains(t, codes(vs), CodeIndexDrift)
	for _, v := range vs {
		if v.Code == CodeIndexDrift {
			assert.Equal(t, acct, v.Subject)
		}
	}
}

func TestCheckCapitalAccounts_NegativeWithoutProvision(t *testing.T) {
	c, st := newChecker(t)
	appendTx(t, st, "neg-1", []domain.Line{
		{AccountID: domain.MemberAccountID("m-1", domain.BasisBook), Amount: usd(t, "-75.00")},
		{AccountID: domain.SystemAccountID("retained-surplus", domain.BasisBook), Amount: usd(t, "75.00")},
	})

	vs, err := c.CheckCapitalAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, CodeNegativeCapital, vs[0].Code)
	assert.Equal(t, domain.MemberAccountID("m-1", domain.BasisBook), vs[0].Subject)
}

func TestCheckCapitalAccounts_DROPermitsDeficit(t *testing.T) {
	c, st := newChecker(t)
	ctx := context.Background()
	require.NoError(t, st.InsertMember(ctx, domain.Member{
		ID: "m-dro", Name: "Dana", Role: domain.RoleMember,
		Status: domain.MemberActive, DRO: true, JoinedAt: time.Now(),
	}))
	appendTx(t, st, "dro-1", []domain.Line{
		{AccountID: domain.MemberAccountID("m-dro", domain.BasisTax), Amount: usd(t, "-300.00")},
		{AccountID: domain.SystemAccountID("retained-surplus", domain.BasisTax), Amount: usd(t, "300.00")},
	})

	vs, err := c.CheckCapitalAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestCheckAllocations(t *testing.T) {
	c, st := newChecker(t)
	ctx := context.Background()
	require.NoError(t, st.InsertMember(ctx, domain.Member{
		ID: "m-2", Name: "Bob", Role: domain.RoleMember,
		Status: domain.MemberActive, JoinedAt: time.Now(),
	}))
	require.NoError(t, st.InsertPeriod(ctx, domain.Period{
		ID: "p-1", Name: "FY2025", Status: domain.PeriodClosing,
		StartsAt: time.Now().AddDate(-1, 0, 0), EndsAt: time.Now(),
	}))
	require.NoError(t, st.ReplaceAllocations(ctx, "p-1", []domain.Allocation{
		{PeriodID: "p-1", MemberID: "m-1", Raw: usd(t, "100"), Weighted: usd(t, "100"), Score: "1", Amount: usd(t, "600.00")},
		{PeriodID: "p-1", MemberID: "m-2", Raw: usd(t, "0"), Weighted: usd(t, "0"), Score: "0", Amount: usd(t, "-1.00")},
	}))

	vs, err := c.CheckAllocations(ctx, "p-1", usd(t, "500.00"))
	require.NoError(t, err)
	assert.Contains(t, codes(vs), CodeNegativeAllocation)
	assert.Contains(t, codes(vs), CodeAllocationOverrun)

	// A set that sums below the surplus by rounding is fine.
	require.NoError(t, st.ReplaceAllocations(ctx, "p-1", []domain.Allocation{
		{PeriodID: "p-1", MemberID: "m-1", Raw: usd(t, "100"), Weighted: usd(t, "100"), Score: "1", Amount: usd(t, "499.99")},
	}))
	vs, err = c.CheckAllocations(ctx, "p-1", usd(t, "500.00"))
	require.NoError(t, err)
	assert.Empty(t, vs)
}
