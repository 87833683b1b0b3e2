package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workedExamplePolicy = `
currency: "USD"
surplus_account: "retained-surplus"
weights: {
	labor:     0.4
	revenue:   0.3
	cash:      0.2
	community: 0.1
}
`

func TestParse_WorkedExampleWeights(t *testing.T) {
	p, err := Parse([]byte(workedExamplePolicy), "test.cue")
	require.NoError(t, err)

	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, "retained-surplus", p.SurplusAccount)
	assert.Equal(t, "0.4", p.Weights["labor"].String())
	assert.Equal(t, "0.1", p.Weights["community"].String())
	assert.True(t, p.KnowsType("revenue"))
	assert.False(t, p.KnowsType("karma"))
}

func TestParse_RejectsBadCurrency(t *testing.T) {
	_, err := Parse([]byte(`
currency: "dollars"
surplus_account: "retained-surplus"
weights: labor: 1
`), "test.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "currency")
}

func TestParse_RejectsNegativeWeight(t *testing.T) {
	_, err := Parse([]byte(`
currency: "USD"
surplus_account: "retained-surplus"
weights: labor: -0.5
`), "test.cue")
	require.Error(t, err)
}

func TestParse_RejectsMissingFields(t *testing.T) {
	_, err := Parse([]byte(`currency: "USD"`), "test.cue")
	require.Error(t, err)
}

func TestParse_RejectsEmptyWeights(t *testing.T) {
	_, err := Parse([]byte(`
currency: "USD"
surplus_account: "retained-surplus"
weights: {}
`), "test.cue")
	require.Error(t, err)
}

func TestDefault_IsValid(t *testing.T) {
	p := Default()
	assert.True(t, p.KnowsType("labor"))
	assert.Equal(t, "acct:retained-surplus:book", p.SurplusAccountID("book"))
	assert.Equal(t, "acct:retained-surplus:tax", p.SurplusAccountID("tax"))
}
