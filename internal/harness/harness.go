// Package harness runs end-to-end patronage scenarios described in
// YAML: members, a weight policy, contributions with their approvals,
// and a period close. Scenarios execute against the real services on an
// in-memory database; golden files pin the resulting allocation sets,
// balances, and event traces.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/coopledger/patronage/internal/compliance"
	"github.com/coopledger/patronage/internal/contribution"
	"github.com/coopledger/patronage/internal/domain"
	"github.com/coopledger/patronage/internal/event"
	"github.com/coopledger/patronage/internal/ledger"
	"github.com/coopledger/patronage/internal/policy"
	"github.com/coopledger/patronage/internal/store"

	periodclose "github.com/coopledger/patronage/internal/close"
)

// Scenario is a declarative end-to-end test case.
type Scenario struct {
	// Name uniquely identifies the scenario; it is also the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Currency defaults to USD.
	Currency string `yaml:"currency,omitempty"`

	// Weights is the allocation weight table, decimal strings keyed by
	// contribution type.
	Weights map[string]string `yaml:"weights"`

	// Members to create before the flow starts.
	Members []MemberSpec `yaml:"members"`

	// Contributions submitted and resolved in order.
	Contributions []ContributionStep `yaml:"contributions,omitempty"`

	// Surplus is the distributable surplus the close is initiated with.
	Surplus string `yaml:"surplus"`

	// Close selects the governance outcome: "approve", "reject", or
	// empty to stop at the proposal gate.
	Close string `yaml:"close,omitempty"`

	// Expect holds the scenario's declarative assertions.
	Expect *Expect `yaml:"expect,omitempty"`
}

// MemberSpec creates one member.
type MemberSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Role string `yaml:"role,omitempty"` // defaults to member
	DRO  bool   `yaml:"dro,omitempty"`
	QIO  bool   `yaml:"qio,omitempty"`
}

// ContributionStep submits one contribution and resolves it.
type ContributionStep struct {
	Member      string `yaml:"member"`
	Type        string `yaml:"type"`
	Amount      string `yaml:"amount"`
	Description string `yaml:"description,omitempty"`

	// Approver resolves the contribution. Empty leaves it pending.
	Approver string `yaml:"approver,omitempty"`

	// Reject resolves as a rejection instead of an approval.
	Reject bool   `yaml:"reject,omitempty"`
	Reason string `yaml:"reason,omitempty"`
}

// Expect is the declarative outcome of a scenario.
type Expect struct {
	PeriodStatus string            `yaml:"period_status"`
	Allocations  map[string]string `yaml:"allocations,omitempty"` // member → amount
}

// Result captures everything a scenario produced.
type Result struct {
	Store        *store.Store
	PeriodStatus domain.PeriodStatus
	Allocations  []domain.Allocation
	Events       []string          // event types in append order
	Balances     map[string]string // account ID → amount
}

const periodID = "p-1"

// LoadScenario reads and validates a scenario YAML file. Unknown fields
// are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var scn Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scn); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if scn.Name == "" {
		return nil, fmt.Errorf("invalid scenario: name is required")
	}
	if len(scn.Weights) == 0 {
		return nil, fmt.Errorf("invalid scenario %s: weights are required", scn.Name)
	}
	if len(scn.Members) == 0 {
		return nil, fmt.Errorf("invalid scenario %s: members are required", scn.Name)
	}
	if scn.Surplus == "" {
		return nil, fmt.Errorf("invalid scenario %s: surplus is required", scn.Name)
	}
	return &scn, nil
}

// Run executes the scenario against a fresh in-memory database.
func Run(scn *Scenario) (*Result, error) {
	ctx := context.Background()
	currency := scn.Currency
	if currency == "" {
		currency = "USD"
	}

	weights := map[string]decimal.Decimal{}
	for typ, w := range scn.Weights {
		d, err := decimal.NewFromString(w)
		if err != nil {
			return nil, fmt.Errorf("weight %s: %w", typ, err)
		}
		weights[typ] = d
	}
	pol := policy.Policy{Currency: currency, SurplusAccount: "retained-surplus", Weights: weights}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := event.NewBus(st, logger)
	contribution.RegisterAccrual(bus, st, pol, logger)
	led := ledger.New(st, logger)
	chk := compliance.NewChecker(st, currency, logger)
	contribs := contribution.New(st, bus, pol, logger)
	orch := periodclose.New(st, led, chk, bus, pol, logger)

	if err := st.EnsureSystemAccount(ctx, pol.SurplusAccount); err != nil {
		return nil, err
	}
	for _, m := range scn.Members {
		role := domain.Role(m.Role)
		if role == "" {
			role = domain.RoleMember
		}
		err := st.InsertMember(ctx, domain.Member{
			ID: m.ID, Name: m.Name, Role: role,
			Status: domain.MemberActive, DRO: m.DRO, QIO: m.QIO,
		})
		if err != nil {
			return nil, err
		}
	}
	if err := st.InsertPeriod(ctx, domain.Period{
		ID: periodID, Name: scn.Name, Status: domain.PeriodOpen,
	}); err != nil {
		return nil, err
	}

	for i, step := range scn.Contributions {
		amount, err := domain.MoneyFromString(step.Amount, currency)
		if err != nil {
			return nil, fmt.Errorf("contribution %d: %w", i, err)
		}
		c, err := contribs.Submit(ctx, step.Member, periodID,
			domain.ContributionType(step.Type), amount, step.Description)
		if err != nil {
			return nil, fmt.Errorf("contribution %d submit: %w", i, err)
		}
		if step.Approver == "" {
			continue
		}
		if step.Reject {
			_, err = contribs.Reject(ctx, c.ID, step.Approver, step.Reason)
		} else {
			_, err = contribs.Approve(ctx, c.ID, step.Approver)
		}
		if err != nil {
			return nil, fmt.Errorf("contribution %d resolve: %w", i, err)
		}
	}

	surplus, err := domain.MoneyFromString(scn.Surplus, currency)
	if err != nil {
		return nil, fmt.Errorf("surplus: %w", err)
	}
	if err := orch.Initiate(ctx, periodID, surplus); err != nil {
		return nil, fmt.Errorf("initiate close: %w", err)
	}
	switch scn.Close {
	case "approve":
		if err := orch.Approve(ctx, periodID); err != nil {
			return nil, fmt.Errorf("approve close: %w", err)
		}
	case "reject":
		if err := orch.Reject(ctx, periodID, "scenario rejection"); err != nil {
			return nil, fmt.Errorf("reject close: %w", err)
		}
	case "":
		// Parked at the governance gate.
	default:
		return nil, fmt.Errorf("unknown close action %q", scn.Close)
	}

	return collect(ctx, scn, st, pol, currency)
}

func collect(ctx context.Context, scn *Scenario, st *store.Store, pol policy.Policy, currency string) (*Result, error) {
	period, err := st.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	allocs, err := st.AllocationsForPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	events, err := st.ListEvents(ctx, "", 0, 0)
	if err != nil {
		return nil, err
	}
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}

	balances := map[string]string{}
	for _, m := range scn.Members {
		for _, basis := range domain.Bases {
			id := domain.MemberAccountID(m.ID, basis)
			bal, err := st.IndexedBalance(ctx, id, currency)
			if err != nil {
				return nil, err
			}
			balances[id] = bal.String()
		}
	}
	for _, basis := range domain.Bases {
		id := pol.SurplusAccountID(basis)
		bal, err := st.IndexedBalance(ctx, id, currency)
		if err != nil {
			return nil, err
		}
		balances[id] = bal.String()
	}

	return &Result{
		Store:        st,
		PeriodStatus: period.Status,
		Allocations:  allocs,
		Events:       types,
		Balances:     balances,
	}, nil
}

// Verify checks the scenario's declarative expectations against a result.
func Verify(scn *Scenario, res *Result) error {
	if scn.Expect == nil {
		return nil
	}
	if want := scn.Expect.PeriodStatus; want != "" && want != string(res.PeriodStatus) {
		return fmt.Errorf("period status = %s, want %s", res.PeriodStatus, want)
	}
	if scn.Expect.Allocations != nil {
		got := map[string]string{}
		for _, a := range res.Allocations {
			got[a.MemberID] = a.Amount.String()
		}
		for member, want := range scn.Expect.Allocations {
			if got[member] != want {
				return fmt.Errorf("allocation for %s = %s, want %s", member, got[member], want)
			}
		}
		if len(got) != len(scn.Expect.Allocations) {
			return fmt.Errorf("allocation set has %d members, want %d", len(got), len(scn.Expect.Allocations))
		}
	}
	return nil
}
