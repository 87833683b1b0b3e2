package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func usd(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return NewMoney(d, "USD")
}

func TestTransaction_Balanced(t *testing.T) {
	tests := []struct {
		name    string
		amounts []string
		want    bool
	}{
		{"two-line balanced", []string{"100.00", "-100.00"}, true},
		{"three-line balanced", []string{"40.25", "59.75", "-100.00"}, true},
		{"unbalanced", []string{"100.00", "-99.99"}, false},
		{"empty", nil, true},
		{"single zero line", []string{"0"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lines []Line
			for i, a := range tt.amounts {
				lines = append(lines, Line{AccountID: MemberAccountID("m", BasisBook) + string(rune('a'+i)), Amount: usd(a)})
			}
			tx := Transaction{ID: "t1", Category: CategoryAllocation, Lines: lines}
			if got := tx.Balanced(); got != tt.want {
				t.Errorf("Balanced() = %v, want %v (sum=%s)", got, tt.want, tx.Sum())
			}
		})
	}
}

func TestTransaction_Reversal(t *testing.T) {
	orig := Transaction{
		ID:       "orig",
		Category: CategoryAllocation,
		Lines: []Line{
			{AccountID: "acct:alice:book", Amount: usd("5254.05")},
			{AccountID: "acct:retained-surplus:book", Amount: usd("-5254.05")},
		},
		OccurredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	rev := orig.Reversal("rev", "posting batch rolled back", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	if rev.Reverses != "orig" {
		t.Errorf("Reverses = %q, want %q", rev.Reverses, "orig")
	}
	if !rev.Balanced() {
		t.Error("reversal must stay balanced")
	}
	for i := range orig.Lines {
		want := orig.Lines[i].Amount.Neg()
		if !rev.Lines[i].Amount.Equal(want) {
			t.Errorf("line %d = %s, want %s", i, rev.Lines[i].Amount, want)
		}
	}
	// Original must be untouched.
	if !orig.Lines[0].Amount.Equal(usd("5254.05")) {
		t.Error("reversal mutated the original transaction")
	}
}

func TestTransaction_Accounts(t *testing.T) {
	tx := Transaction{Lines: []Line{
		{AccountID: "a", Amount: usd("1")},
		{AccountID: "b", Amount: usd("2")},
		{AccountID: "a", Amount: usd("-3")},
	}}
	got := tx.Accounts()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Accounts() = %v, want [a b]", got)
	}
}

func TestMoney_RoundAndMinorUnit(t *testing.T) {
	m := usd("3891.891891")
	if got := m.RoundMinor().String(); got != "3891.89" {
		t.Errorf("RoundMinor() = %s, want 3891.89", got)
	}
	if got := m.TruncateMinor().String(); got != "3891.89" {
		t.Errorf("TruncateMinor() = %s, want 3891.89", got)
	}
	if got := m.MinorUnit().Amount.String(); got != "0.01" {
		t.Errorf("MinorUnit() = %s, want 0.01", got)
	}

	// Zero-decimal currency.
	jpy := NewMoney(decimal.RequireFromString("1000.4"), "JPY")
	if got := jpy.RoundMinor().String(); got != "1000" {
		t.Errorf("JPY RoundMinor() = %s, want 1000", got)
	}
}

func TestMoney_CurrencyMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on currency mismatch")
		}
	}()
	usd("1").Add(NewMoney(decimal.New(1, 0), "EUR"))
}
