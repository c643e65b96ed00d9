package cse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/openquant/flowscript/internal/compiler"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/node"
	"github.com/openquant/flowscript/internal/timeframe"
)

func compile(t *testing.T, script string) *compiler.Result {
	t.Helper()
	c := compiler.New(metadata.Builtin(), compiler.Options{})
	res, err := c.Compile(context.Background(), "test.fs", []byte(script))
	require.NoError(t, err)
	return res
}

func findNode(res *compiler.Result, id string) *node.Node {
	for _, n := range res.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func TestDuplicateExpressionsMerge(t *testing.T) {
	res := compile(t, `
		src = market_data({timeframe: "1D"})
		a   = gt(src.c, 100)
		b   = gt(src.c, 100)
		sig = trade_signal({enter_long: a, exit_short: b})
	`)

	removed := New(metadata.Builtin()).Optimize(context.Background(), res)
	assert.Equal(t, 1, removed)

	// First occurrence survives, the later one folds into it.
	require.NotNil(t, findNode(res, "a"))
	assert.Nil(t, findNode(res, "b"))
	_, live := res.UsedIDs["b"]
	assert.False(t, live)

	sig := findNode(res, "sig")
	require.NotNil(t, sig)
	assert.Equal(t, "a", sig.Inputs["enter_long"][0].Ref.NodeID)
	assert.Equal(t, "a", sig.Inputs["exit_short"][0].Ref.NodeID)
}

func TestChainedDuplicatesMergeInOnePass(t *testing.T) {
	res := compile(t, `
		src = market_data({timeframe: "1D"})
		a   = sma(src.c, {period: 10})
		b   = sma(src.c, {period: 10})
		c   = gt(a, 100)
		d   = gt(b, 100)
		sig = trade_signal({enter_long: c, exit_long: d})
	`)

	removed := New(metadata.Builtin()).Optimize(context.Background(), res)
	assert.Equal(t, 2, removed)
	assert.Nil(t, findNode(res, "b"))
	assert.Nil(t, findNode(res, "d"))

	sig := findNode(res, "sig")
	require.NotNil(t, sig)
	assert.Equal(t, "c", sig.Inputs["exit_long"][0].Ref.NodeID)
}

func TestOptimizeIsIdempotent(t *testing.T) {
	res := compile(t, `
		src = market_data({timeframe: "1D"})
		a   = gt(src.c, 100)
		b   = gt(src.c, 100)
		sig = trade_signal({enter_long: a, exit_short: b})
	`)
	o := New(metadata.Builtin())
	assert.Equal(t, 1, o.Optimize(context.Background(), res))
	assert.Equal(t, 0, o.Optimize(context.Background(), res))
}

func TestDifferentOptionsDoNotMerge(t *testing.T) {
	res := compile(t, `
		src  = market_data({timeframe: "1D"})
		fast = sma(src.c, {period: 10})
		slow = sma(src.c, {period: 30})
		sig  = trade_signal({enter_long: gt(fast, slow)})
	`)
	assert.Equal(t, 0, New(metadata.Builtin()).Optimize(context.Background(), res))
	assert.NotNil(t, findNode(res, "fast"))
	assert.NotNil(t, findNode(res, "slow"))
}

func TestDifferentTimeframesDoNotMerge(t *testing.T) {
	res := compile(t, `
		intra = market_data({timeframe: "5Min"})
		daily = market_data({timeframe: "1D"})
		sig   = trade_signal({enter_long: gt(intra.c, 0), exit_long: gt(daily.c, 0)})
	`)
	assert.Equal(t, 0, New(metadata.Builtin()).Optimize(context.Background(), res))
}

func TestScalarsMergeAcrossTimeframes(t *testing.T) {
	a := node.New("a", "number")
	a.Options["value"] = cty.NumberIntVal(5)
	tfA := timeframe.MustParse("1Min")
	a.TimeFrame = &tfA

	b := node.New("b", "number")
	b.Options["value"] = cty.NumberIntVal(5)
	tfB := timeframe.MustParse("1D")
	b.TimeFrame = &tfB

	res := &compiler.Result{
		Nodes:   []*node.Node{a, b},
		UsedIDs: map[string]struct{}{"a": {}, "b": {}},
	}
	assert.Equal(t, 1, New(metadata.Builtin()).Optimize(context.Background(), res))
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, "a", res.Nodes[0].ID)
}

func TestAliasesNeverMerge(t *testing.T) {
	res := compile(t, `
		src   = market_data({timeframe: "1D"})
		fast  = sma(src.c, {period: 10})
		speed = fast
		pace  = fast
		sig   = trade_signal({enter_long: gt(speed, 0), exit_long: gt(pace, 0)})
	`)
	removed := New(metadata.Builtin()).Optimize(context.Background(), res)
	assert.Equal(t, 0, removed)
	assert.NotNil(t, findNode(res, "speed"))
	assert.NotNil(t, findNode(res, "pace"))
}

func TestExecutorsNeverMerge(t *testing.T) {
	a := node.New("sig_a", metadata.TradeSignalExecutorID)
	a.AddInput("enter_long", node.NewRef("x", metadata.Result))
	b := node.New("sig_b", metadata.TradeSignalExecutorID)
	b.AddInput("enter_long", node.NewRef("x", metadata.Result))
	tf := timeframe.MustParse("1D")
	a.TimeFrame, b.TimeFrame = &tf, &tf

	res := &compiler.Result{
		Nodes:   []*node.Node{a, b},
		UsedIDs: map[string]struct{}{"sig_a": {}, "sig_b": {}},
	}
	assert.Equal(t, 0, New(metadata.Builtin()).Optimize(context.Background(), res))
	assert.Len(t, res.Nodes, 2)
}

func TestHashCollisionsFallBackToEquality(t *testing.T) {
	res := compile(t, `
		src  = market_data({timeframe: "1D"})
		fast = sma(src.c, {period: 10})
		slow = sma(src.c, {period: 30})
		dup  = sma(src.c, {period: 10})
		sig  = trade_signal({enter_long: gt(fast, slow), exit_long: gt(dup, slow)})
	`)
	o := New(metadata.Builtin())
	// Force every node into one bucket; only true duplicates may merge.
	o.hash = func(*node.Node, bool) uint64 { return 42 }
	removed := o.Optimize(context.Background(), res)
	// dup folds into fast, which then makes the two comparisons identical.
	assert.Equal(t, 2, removed)
	assert.NotNil(t, findNode(res, "fast"))
	assert.NotNil(t, findNode(res, "slow"))
	assert.Nil(t, findNode(res, "dup"))
}

func TestSchemaOptionsRewriteForwardReferences(t *testing.T) {
	registry, err := metadata.NewRegistry([]*metadata.Meta{
		{
			ID: "screener", Name: "Screener", Category: metadata.CategoryReporter,
			Options: []metadata.OptionSpec{{ID: "columns", Type: metadata.OptionSchema}},
			Inputs:  []metadata.IOSpec{{ID: metadata.Arg, Type: metadata.Any}},
		},
		{
			ID: "sma", Name: "SMA", Category: metadata.CategoryTrend,
			Options: []metadata.OptionSpec{{ID: "period", Type: metadata.OptionNumber, Required: true}},
			Inputs:  []metadata.IOSpec{{ID: metadata.Arg, Type: metadata.Decimal, Required: true}},
			Outputs: []metadata.IOSpec{{ID: metadata.Result, Type: metadata.Decimal}},
		},
	})
	require.NoError(t, err)

	tf := timeframe.MustParse("1D")

	// The schema string points at a node that appears later in the list, so
	// its target is not yet known to be a duplicate when the screener is
	// visited.
	screen := node.New("screen", "screener")
	screen.Options["columns"] = cty.ObjectVal(map[string]cty.Value{
		"select_key": cty.StringVal("dup#result"),
	})
	screen.AddInput(metadata.Arg, node.NewRef("keep", metadata.Result))
	screen.TimeFrame = &tf

	keep := node.New("keep", "sma")
	keep.Options["period"] = cty.NumberIntVal(10)
	keep.AddInput(metadata.Arg, node.NewRef("src", "c"))
	keep.TimeFrame = &tf

	dup := node.New("dup", "sma")
	dup.Options["period"] = cty.NumberIntVal(10)
	dup.AddInput(metadata.Arg, node.NewRef("src", "c"))
	dup.TimeFrame = &tf

	res := &compiler.Result{
		Nodes:   []*node.Node{screen, keep, dup},
		UsedIDs: map[string]struct{}{"screen": {}, "keep": {}, "dup": {}},
	}
	removed := New(registry).Optimize(context.Background(), res)
	assert.Equal(t, 1, removed)
	assert.Nil(t, findNode(res, "dup"))

	cols := findNode(res, "screen").Options["columns"]
	assert.Equal(t, "keep#result", cols.GetAttr("select_key").AsString())
}

func TestSemanticHashDistinguishesLiteralFromReference(t *testing.T) {
	lit := node.New("x", "gt")
	lit.AddInput(metadata.Arg0, node.NewLiteral(cty.StringVal("a#result")))

	ref := node.New("y", "gt")
	ref.AddInput(metadata.Arg0, node.NewRef("a", metadata.Result))

	assert.NotEqual(t, semanticHash(lit, false), semanticHash(ref, false))
}
