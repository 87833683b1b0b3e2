// Package policy loads and validates the allocation policy: the weight
// table keyed by contribution type, the operating currency, and the
// retained-surplus account allocations post against.
//
// Policy documents are CUE files validated against an embedded schema,
// so a malformed policy fails at load time with a positioned error
// instead of surfacing as a wrong allocation later.
package policy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/shopspring/decimal"

	"github.com/coopledger/patronage/internal/domain"
)

//go:embed schema.cue
var schemaCUE string

// Policy is the validated allocation policy.
type Policy struct {
	Currency       string                     `json:"currency"`
	SurplusAccount string                     `json:"surplus_account"`
	Weights        map[string]decimal.Decimal `json:"weights"`
}

// Load reads and validates a CUE policy file.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data, path)
}

// Parse validates policy source against the embedded schema and decodes
// it. filename is used in error positions.
func Parse(data []byte, filename string) (Policy, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// The embedded schema is part of the binary; failing to
		// compile it is a bug, not user input.
		panic(fmt.Sprintf("policy schema does not compile: %v", err))
	}
	def := schema.LookupPath(cue.ParsePath("#Policy"))
	if err := def.Err(); err != nil {
		panic(fmt.Sprintf("policy schema missing #Policy: %v", err))
	}

	doc := ctx.CompileBytes(data, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %s", cueerrors.Details(err, nil))
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %s", cueerrors.Details(err, nil))
	}

	// Round-trip through JSON so weights land in decimals with the
	// exact digits written in the policy, not float approximations.
	raw, err := unified.MarshalJSON()
	if err != nil {
		return Policy{}, fmt.Errorf("encode policy: %w", err)
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if len(p.Weights) == 0 {
		return Policy{}, fmt.Errorf("invalid policy: weight table is empty")
	}
	return p, nil
}

// KnowsType reports whether the weight table covers a contribution type.
func (p Policy) KnowsType(t domain.ContributionType) bool {
	_, ok := p.Weights[string(t)]
	return ok
}

// Weight returns the weight for a contribution type, zero if unknown.
func (p Policy) Weight(t domain.ContributionType) decimal.Decimal {
	return p.Weights[string(t)]
}

// SurplusAccountID returns the retained-surplus account ID on a basis.
func (p Policy) SurplusAccountID(basis domain.Basis) string {
	return domain.SystemAccountID(p.SurplusAccount, basis)
}

// Default returns the stock cooperative policy used by `patronage init`
// when no policy file is given.
func Default() Policy {
	return Policy{
		Currency:       "USD",
		SurplusAccount: "retained-surplus",
		Weights: map[string]decimal.Decimal{
			"labor":    decimal.RequireFromString("0.4"),
			"capital":  decimal.RequireFromString("0.3"),
			"property": decimal.RequireFromString("0.3"),
		},
	}
}
