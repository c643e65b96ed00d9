package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/node"
	"github.com/openquant/flowscript/internal/timeframe"
)

func refNode(t *testing.T, opts map[string]string) *graph.ValidatedNode {
	t.Helper()
	n := node.New("ref", metadata.AssetRefID)
	tf := timeframe.MustParse("1D")
	n.TimeFrame = &tf
	for k, v := range opts {
		n.Options[k] = cty.StringVal(v)
	}
	m := graph.NewManager(metadata.Builtin())
	v, err := m.Insert(n)
	require.NoError(t, err)
	return v
}

func TestMatcherTickerExactMatch(t *testing.T) {
	m, err := newAssetMatcher(refNode(t, map[string]string{"ticker": "AAPL"}))
	require.NoError(t, err)

	matched, err := m.Match(Asset{ID: "a1", Ticker: "AAPL"})
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = m.Match(Asset{ID: "a2", Ticker: "MSFT"})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatcherFilterExpression(t *testing.T) {
	m, err := newAssetMatcher(refNode(t, map[string]string{
		"filter": `class == "equity" && sector != "energy"`,
	}))
	require.NoError(t, err)

	matched, err := m.Match(Asset{Ticker: "AAPL", Class: "equity", Sector: "tech"})
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = m.Match(Asset{Ticker: "XOM", Class: "equity", Sector: "energy"})
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = m.Match(Asset{Ticker: "GLD", Class: "commodity", Sector: "metals"})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatcherCombinesTickerAndFilter(t *testing.T) {
	m, err := newAssetMatcher(refNode(t, map[string]string{
		"ticker": "AAPL",
		"filter": `class == "equity"`,
	}))
	require.NoError(t, err)

	matched, err := m.Match(Asset{Ticker: "AAPL", Class: "equity"})
	require.NoError(t, err)
	assert.True(t, matched)

	// Ticker gate applies before the expression.
	matched, err = m.Match(Asset{Ticker: "MSFT", Class: "equity"})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatcherWithoutFiltersMatchesEverything(t *testing.T) {
	m, err := newAssetMatcher(refNode(t, nil))
	require.NoError(t, err)

	matched, err := m.Match(Asset{Ticker: "anything"})
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestMatcherRejectsInvalidFilter(t *testing.T) {
	_, err := newAssetMatcher(refNode(t, map[string]string{"filter": `class ==`}))
	assert.ErrorContains(t, err, "invalid asset filter")

	// Non-boolean expressions fail at compile time too.
	_, err = newAssetMatcher(refNode(t, map[string]string{"filter": `ticker`}))
	assert.Error(t, err)
}
