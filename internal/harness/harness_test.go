package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopledger/patronage/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	scn, err := LoadScenario(filepath.Join("testdata", name))
	require.NoError(t, err)
	return scn
}

func TestWorkedExampleScenario(t *testing.T) {
	RunWithGolden(t, load(t, "worked_example.yaml"))
}

func TestEmptyPeriodScenario(t *testing.T) {
	RunWithGolden(t, load(t, "empty_period.yaml"))
}

func TestRejectedCloseRevertsScenario(t *testing.T) {
	scn := load(t, "worked_example.yaml")
	scn.Close = "reject"
	scn.Expect = &Expect{PeriodStatus: "open", Allocations: map[string]string{}}

	res, err := Run(scn)
	require.NoError(t, err)
	defer res.Store.Close()

	require.NoError(t, Verify(scn, res))
	assert.Equal(t, domain.PeriodOpen, res.PeriodStatus)
	for acct, bal := range res.Balances {
		assert.Equal(t, "0.00", bal, "account %s must be untouched", acct)
	}
}

func TestRejectedContributionsExcluded(t *testing.T) {
	scn := load(t, "worked_example.yaml")
	// Reject Carol's community contribution: her weighted total drops
	// from 2200 to 2000, shifting every share.
	scn.Contributions[11].Reject = true
	scn.Contributions[11].Reason = "not patronage"
	scn.Expect = nil

	res, err := Run(scn)
	require.NoError(t, err)
	defer res.Store.Close()

	byMember := map[string]string{}
	for _, a := range res.Allocations {
		byMember[a.MemberID] = a.Weighted.String()
	}
	assert.Equal(t, "2000.00", byMember["m-carol"])
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	writeFile(t, path, `
name: bad
description: typo in a field name
weights: {labor: "1"}
members:
  - id: m-1
    name: One
surplus: "100"
assertion: should have been expect
`)
	_, err := LoadScenario(path)
	assert.Error(t, err)
}

func TestLoadScenario_RequiresSurplus(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nosurplus.yaml")
	writeFile(t, path, `
name: nosurplus
description: missing surplus
weights: {labor: "1"}
members:
  - id: m-1
    name: One
`)
	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "surplus")
}
