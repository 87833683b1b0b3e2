package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot is the deterministic projection of a result that golden
// files pin: no UUIDs, no timestamps, stable key order via JSON map
// marshaling.
func Snapshot(scn *Scenario, res *Result) ([]byte, error) {
	allocs := map[string]map[string]string{}
	for _, a := range res.Allocations {
		allocs[a.MemberID] = map[string]string{
			"raw":      a.Raw.String(),
			"weighted": a.Weighted.String(),
			"score":    a.Score,
			"amount":   a.Amount.String(),
		}
	}
	snap := map[string]any{
		"scenario":      scn.Name,
		"period_status": string(res.PeriodStatus),
		"events":        res.Events,
		"allocations":   allocs,
		"balances":      res.Balances,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario, verifies its declarative
// expectations, and compares the snapshot against
// testdata/golden/{name}.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scn *Scenario) {
	t.Helper()

	res, err := Run(scn)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scn.Name, err)
	}
	defer res.Store.Close()

	if err := Verify(scn, res); err != nil {
		t.Fatalf("scenario %s: %v", scn.Name, err)
	}

	snap, err := Snapshot(scn, res)
	if err != nil {
		t.Fatalf("snapshot %s: %v", scn.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scn.Name, snap)
}
