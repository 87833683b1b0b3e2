package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopledger/patronage/internal/domain"
	"github.com/coopledger/patronage/internal/event"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func usd(t *testing.T, s string) domain.Money {
	t.Helper()
	m, err := domain.MoneyFromString(s, "USD")
	if err != nil {
		t.Fatalf("bad amount %q: %v", s, err)
	}
	return m
}

func seedMember(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.InsertMember(context.Background(), domain.Member{
		ID: id, Name: id, Role: domain.RoleMember, Status: domain.MemberActive,
		JoinedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("InsertMember(%s) failed: %v", id, err)
	}
}

func TestInsertMember_CreatesAccountsPerBasis(t *testing.T) {
	s := openTest(t)
	seedMember(t, s, "alice")

	for _, basis := range domain.Bases {
		a, err := s.GetAccount(context.Background(), domain.MemberAccountID("alice", basis))
		if err != nil {
			t.Fatalf("GetAccount(%s) failed: %v", basis, err)
		}
		if a.MemberID != "alice" || a.Basis != basis || a.Kind != domain.AccountMember {
			t.Errorf("account = %+v, want member alice on %s", a, basis)
		}
	}
}

func TestInsertPeriod_SingleActiveEnforced(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	p := domain.Period{ID: "2025q1", Name: "Q1 2025", Status: domain.PeriodOpen,
		StartsAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)}
	if err := s.InsertPeriod(ctx, p); err != nil {
		t.Fatalf("InsertPeriod() failed: %v", err)
	}

	second := p
	second.ID = "2025q2"
	if err := s.InsertPeriod(ctx, second); err != ErrActivePeriodExists {
		t.Errorf("second open period: err = %v, want ErrActivePeriodExists", err)
	}

	// A closed period can coexist.
	second.Status = domain.PeriodClosed
	if err := s.InsertPeriod(ctx, second); err != nil {
		t.Errorf("closed period insert failed: %v", err)
	}
}

func TestTransitionPeriod_ConditionalUpdate(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	p := domain.Period{ID: "2025q1", Name: "Q1", Status: domain.PeriodOpen,
		StartsAt: time.Now(), EndsAt: time.Now()}
	if err := s.InsertPeriod(ctx, p); err != nil {
		t.Fatalf("InsertPeriod() failed: %v", err)
	}

	ok, err := s.TransitionPeriod(ctx, "2025q1", domain.PeriodOpen, domain.PeriodClosing)
	if err != nil || !ok {
		t.Fatalf("first transition = (%v, %v), want (true, nil)", ok, err)
	}

	// Second attempt observes closing and fails the guard.
	ok, err = s.TransitionPeriod(ctx, "2025q1", domain.PeriodOpen, domain.PeriodClosing)
	if err != nil {
		t.Fatalf("second transition errored: %v", err)
	}
	if ok {
		t.Error("second open→closing transition succeeded; the guard must fail")
	}
}

func TestAppendTransaction_IdempotentAndBalances(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	seedMember(t, s, "alice")
	if err := s.EnsureSystemAccount(ctx, "retained-surplus"); err != nil {
		t.Fatalf("EnsureSystemAccount() failed: %v", err)
	}

	lines := []domain.Line{
		{AccountID: domain.MemberAccountID("alice", domain.BasisBook), Amount: usd(t, "100.00")},
		{AccountID: domain.SystemAccountID("retained-surplus", domain.BasisBook), Amount: usd(t, "-100.00")},
	}
	tx := domain.Transaction{
		ID:         domain.MustTransactionID("test/1", domain.CategoryAllocation, "alloc", lines, ""),
		Category:   domain.CategoryAllocation,
		Memo:       "alloc",
		Lines:      lines,
		OccurredAt: time.Now(),
	}

	inserted, err := s.AppendTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("AppendTransaction() failed: %v", err)
	}
	if !inserted {
		t.Fatal("first append reported duplicate")
	}

	// Same content-addressed ID again: suppressed, balances unchanged.
	inserted, err = s.AppendTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("duplicate append failed: %v", err)
	}
	if inserted {
		t.Error("duplicate append reported inserted=true")
	}

	bal, err := s.IndexedBalance(ctx, lines[0].AccountID, "USD")
	if err != nil {
		t.Fatalf("IndexedBalance() failed: %v", err)
	}
	if bal.Amount.String() != "100" {
		t.Errorf("alice balance = %s, want 100", bal.Amount)
	}

	replay, err := s.ReplayBalance(ctx, lines[0].AccountID, "USD", time.Time{})
	if err != nil {
		t.Fatalf("ReplayBalance() failed: %v", err)
	}
	if !replay.Amount.Equal(bal.Amount) {
		t.Errorf("replay = %s, index = %s; must agree", replay.Amount, bal.Amount)
	}

	surplus, err := s.IndexedBalance(ctx, lines[1].AccountID, "USD")
	if err != nil {
		t.Fatalf("IndexedBalance(surplus) failed: %v", err)
	}
	if surplus.Amount.String() != "-100" {
		t.Errorf("surplus balance = %s, want -100", surplus.Amount)
	}
}

func TestReplayBalance_AsOfBound(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	seedMember(t, s, "alice")
	if err := s.EnsureSystemAccount(ctx, "retained-surplus"); err != nil {
		t.Fatal(err)
	}

	acct := domain.MemberAccountID("alice", domain.BasisBook)
	post := func(key, amount string, at time.Time) {
		lines := []domain.Line{
			{AccountID: acct, Amount: usd(t, amount)},
			{AccountID: domain.SystemAccountID("retained-surplus", domain.BasisBook), Amount: usd(t, amount).Neg()},
		}
		tx := domain.Transaction{
			ID:       domain.MustTransactionID(key, domain.CategoryContribution, "", lines, ""),
			Category: domain.CategoryContribution, Lines: lines, OccurredAt: at,
		}
		if _, err := s.AppendTransaction(ctx, tx); err != nil {
			t.Fatalf("append %s: %v", key, err)
		}
	}

	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	post("t1", "50.00", jan)
	post("t2", "25.00", feb)

	mid, err := s.ReplayBalance(ctx, acct, "USD", jan.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ReplayBalance() failed: %v", err)
	}
	if mid.Amount.String() != "50" {
		t.Errorf("as-of balance = %s, want 50", mid.Amount)
	}
}

func TestResolveContribution_Guarded(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	seedMember(t, s, "alice")
	if err := s.InsertPeriod(ctx, domain.Period{ID: "p", Name: "p", Status: domain.PeriodOpen,
		StartsAt: time.Now(), EndsAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	c := domain.Contribution{
		ID: "c-1", MemberID: "alice", PeriodID: "p", Type: "labor",
		Amount: usd(t, "6000"), Status: domain.ContributionPending, SubmittedAt: time.Now(),
	}
	if err := s.InsertContribution(ctx, c); err != nil {
		t.Fatalf("InsertContribution() failed: %v", err)
	}

	ok, err := s.ResolveContribution(ctx, "c-1", domain.ContributionApproved, "bob", time.Now(), "")
	if err != nil || !ok {
		t.Fatalf("first resolve = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = s.ResolveContribution(ctx, "c-1", domain.ContributionRejected, "carol", time.Now(), "late")
	if err != nil {
		t.Fatalf("second resolve errored: %v", err)
	}
	if ok {
		t.Error("resolved contribution accepted a second transition")
	}

	got, err := s.GetContribution(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ContributionApproved || got.ResolvedBy != "bob" {
		t.Errorf("contribution = %+v, want approved by bob", got)
	}
}

func TestEvents_InsertAndProcessedIdempotency(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]string{"periodId": "p"})
	ev := event.Envelope{
		ID: "ev-1", Type: event.TypePeriodClosed, AggregateID: "p",
		OccurredAt: time.Now(), Payload: payload,
	}

	inserted, err := s.InsertEvent(ctx, ev)
	if err != nil || !inserted {
		t.Fatalf("InsertEvent() = (%v, %v), want (true, nil)", inserted, err)
	}
	inserted, err = s.InsertEvent(ctx, ev)
	if err != nil {
		t.Fatalf("duplicate InsertEvent() errored: %v", err)
	}
	if inserted {
		t.Error("duplicate event insert reported inserted=true")
	}

	inserted, err = s.MarkProcessed(ctx, "ev-1", "ledger", event.OutcomeApplied)
	if err != nil || !inserted {
		t.Fatalf("MarkProcessed() = (%v, %v), want (true, nil)", inserted, err)
	}
	inserted, err = s.MarkProcessed(ctx, "ev-1", "ledger", event.OutcomeApplied)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("second MarkProcessed reported inserted=true")
	}

	done, err := s.AlreadyProcessed(ctx, "ev-1", "ledger")
	if err != nil || !done {
		t.Errorf("AlreadyProcessed() = (%v, %v), want (true, nil)", done, err)
	}
	done, err = s.AlreadyProcessed(ctx, "ev-1", "notifier")
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Error("different consumer must not share the processed record")
	}

	events, err := s.ListEvents(ctx, event.TypePeriodClosed, 0, 10)
	if err != nil {
		t.Fatalf("ListEvents() failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "ev-1" {
		t.Errorf("ListEvents() = %v, want single ev-1", events)
	}
}

func TestBalanceDecimalPrecision(t *testing.T) {
	// Decimal strings round-trip without float drift.
	d := decimal.RequireFromString("3891.891891891891")
	m := domain.NewMoney(d, "USD")
	if m.Amount.String() != "3891.891891891891" {
		t.Errorf("decimal round-trip lost precision: %s", m.Amount)
	}
}
