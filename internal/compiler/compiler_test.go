package compiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/node"
)

func compile(t *testing.T, script string) *Result {
	t.Helper()
	c := New(metadata.Builtin(), Options{})
	res, err := c.Compile(context.Background(), "test.fs", []byte(script))
	require.NoError(t, err)
	return res
}

func compileErr(t *testing.T, script string) *Error {
	t.Helper()
	c := New(metadata.Builtin(), Options{})
	_, err := c.Compile(context.Background(), "test.fs", []byte(script))
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	return cerr
}

func findNode(res *Result, id string) *node.Node {
	for _, n := range res.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func findByType(res *Result, typ string) []*node.Node {
	var out []*node.Node
	for _, n := range res.Nodes {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func TestCompileCrossoverStrategy(t *testing.T) {
	res := compile(t, `
		src   = market_data({timeframe: "1D"})
		fast  = sma(src.c, {period: 10})
		slow  = sma(src.c, {period: 30})
		entry = fast > slow
		sig   = trade_signal({enter_long: entry})
	`)

	src := findNode(res, "src")
	require.NotNil(t, src)
	assert.Equal(t, metadata.MarketDataSourceID, src.Type)
	require.NotNil(t, src.TimeFrame)
	assert.Equal(t, "1D", src.TimeFrame.String())

	fast := findNode(res, "fast")
	require.NotNil(t, fast)
	assert.Equal(t, "sma", fast.Type)
	refs := fast.InputRefs()
	require.Len(t, refs, 1)
	assert.Equal(t, "src#c", refs[0].Ref())

	entry := findNode(res, "entry")
	require.NotNil(t, entry)
	assert.Equal(t, "gt", entry.Type)

	sig := findNode(res, "sig")
	require.NotNil(t, sig)
	assert.Equal(t, metadata.TradeSignalExecutorID, sig.Type)
	require.Len(t, sig.Inputs["enter_long"], 1)
	assert.Equal(t, "entry#result", sig.Inputs["enter_long"][0].Ref.Ref())
}

func TestCompileLiteralInputsStayInline(t *testing.T) {
	res := compile(t, `
		src = market_data({timeframe: "1D"})
		hot = gt(src.v, 1000000)
		sig = trade_signal({enter_long: hot})
	`)
	hot := findNode(res, "hot")
	require.NotNil(t, hot)
	require.Len(t, hot.Inputs[metadata.Arg1], 1)
	lit := hot.Inputs[metadata.Arg1][0]
	require.True(t, lit.IsLiteral())
	assert.Equal(t, "1e+06", node.LiteralString(*lit.Literal))

	// No scalar node was materialized for the constant.
	assert.Empty(t, findByType(res, "number"))
}

func TestCompileOperatorExpressions(t *testing.T) {
	res := compile(t, `
		src   = market_data({timeframe: "1D"})
		entry = src.c > sma(src.c, {period: 20}) && src.v > 1000000
		sig   = trade_signal({enter_long: entry})
	`)
	require.Len(t, findByType(res, "logical_and"), 1)
	require.Len(t, findByType(res, "gt"), 2)
	require.Len(t, findByType(res, "sma"), 1)
}

func TestNumericLiteralCastsToBoolean(t *testing.T) {
	res := compile(t, `
		src  = market_data({timeframe: "1D"})
		flag = 1 && src.c > 0
		sig  = trade_signal({enter_long: flag})
	`)
	ands := findByType(res, "logical_and")
	require.Len(t, ands, 1)
	lhs := ands[0].Inputs[metadata.Arg0]
	require.Len(t, lhs, 1)
	require.True(t, lhs[0].IsLiteral())
	assert.Equal(t, "true", node.LiteralString(*lhs[0].Literal))
}

func TestNumericReferenceCastsToBoolean(t *testing.T) {
	res := compile(t, `
		src  = market_data({timeframe: "1D"})
		flag = src.c && true
		sig  = trade_signal({enter_long: flag})
	`)
	casts := findByType(res, metadata.StaticCastBooleanID)
	require.Len(t, casts, 1)
	refs := casts[0].InputRefs()
	require.Len(t, refs, 1)
	assert.Equal(t, "src#c", refs[0].Ref())
}

func TestStringCannotCastToBoolean(t *testing.T) {
	cerr := compileErr(t, `
		flag = "hello" && true
		sig  = trade_signal({enter_long: flag})
	`)
	assert.Equal(t, ErrInvalidTypeCast, cerr.Kind)
	assert.Contains(t, cerr.Error(), "Cannot use type String")
}

func TestMissingTimeframeIsRejected(t *testing.T) {
	cerr := compileErr(t, `
		src = market_data({})
		hot = gt(src.c, 100)
		sig = trade_signal({enter_long: hot})
	`)
	assert.Equal(t, ErrMissingTimeframe, cerr.Kind)
	assert.Contains(t, cerr.Error(), "requires a 'timeframe' parameter")
	assert.Equal(t, "src", cerr.NodeID)
}

func TestScriptWithoutSinkIsRejected(t *testing.T) {
	cerr := compileErr(t, `
		src  = market_data({timeframe: "1D"})
		fast = sma(src.c, {period: 10})
	`)
	assert.Equal(t, ErrNoOutput, cerr.Kind)
	assert.Contains(t, cerr.Error(), "script has no output")
}

func TestPermissiveModeAllowsNoSink(t *testing.T) {
	c := New(metadata.Builtin(), Options{AllowNoOutput: true})
	res, err := c.Compile(context.Background(), "test.fs", []byte(`
		src  = market_data({timeframe: "1D"})
		fast = sma(src.c, {period: 10})
	`))
	require.NoError(t, err)
	assert.NotNil(t, findNode(res, "fast"))
}

func TestOrphanNodesAreRemoved(t *testing.T) {
	res := compile(t, `
		src    = market_data({timeframe: "1D"})
		unused = sma(src.c, {period: 50})
		hot    = gt(src.v, 1000000)
		sig    = trade_signal({enter_long: hot})
	`)
	assert.Nil(t, findNode(res, "unused"))
	assert.NotNil(t, findNode(res, "hot"))
	_, tracked := res.UsedIDs["unused"]
	assert.False(t, tracked)
}

func TestUnknownOperationType(t *testing.T) {
	cerr := compileErr(t, `
		x   = frobnicate(1)
		sig = trade_signal({enter_long: x})
	`)
	assert.Equal(t, ErrUnknownOperationType, cerr.Kind)
}

func TestUnknownOutputHandle(t *testing.T) {
	cerr := compileErr(t, `
		src = market_data({timeframe: "1D"})
		hot = gt(src.nope, 100)
		sig = trade_signal({enter_long: hot})
	`)
	assert.Equal(t, ErrUnknownReference, cerr.Kind)
}

func TestMissingRequiredOption(t *testing.T) {
	cerr := compileErr(t, `
		src  = market_data({timeframe: "1D"})
		fast = sma(src.c)
		sig  = trade_signal({enter_long: gt(fast, 100)})
	`)
	assert.Equal(t, ErrMissingRequiredOption, cerr.Kind)
	assert.Equal(t, "period", cerr.Field)
}

func TestExecutorRequiresAtLeastOneInput(t *testing.T) {
	cerr := compileErr(t, `
		sig = trade_signal({timeframe: "1D"})
	`)
	assert.Equal(t, ErrMissingRequiredInput, cerr.Kind)
}

func TestInvalidSessionRange(t *testing.T) {
	cerr := compileErr(t, `
		src = market_data({timeframe: "5Min", session: "16:00-09:30"})
		hot = gt(src.c, 100)
		sig = trade_signal({enter_long: hot})
	`)
	assert.Equal(t, ErrInvalidSessionRange, cerr.Kind)
}

func TestNamedSession(t *testing.T) {
	res := compile(t, `
		src = market_data({timeframe: "5Min", session: "NewYork"})
		hot = gt(src.c, 100)
		sig = trade_signal({enter_long: hot})
	`)
	src := findNode(res, "src")
	require.NotNil(t, src.Session)
	assert.Equal(t, "NewYork", src.Session.Named)
}

func TestRebindingCreatesAlias(t *testing.T) {
	res := compile(t, `
		src   = market_data({timeframe: "1D"})
		fast  = sma(src.c, {period: 10})
		speed = fast
		sig   = trade_signal({enter_long: gt(speed, 100)})
	`)
	alias := findNode(res, "speed")
	require.NotNil(t, alias)
	assert.Equal(t, metadata.AliasID, alias.Type)
	refs := alias.InputRefs()
	require.Len(t, refs, 1)
	assert.Equal(t, "fast#result", refs[0].Ref())
}

func TestDuplicateBindingIsRejected(t *testing.T) {
	cerr := compileErr(t, `
		a   = gt(1, 2)
		a   = gt(3, 4)
		sig = trade_signal({enter_long: a})
	`)
	assert.Equal(t, ErrParse, cerr.Kind)
}

func TestTopologicalOrder(t *testing.T) {
	res := compile(t, `
		src   = market_data({timeframe: "1D"})
		fast  = sma(src.c, {period: 10})
		entry = gt(fast, 100)
		sig   = trade_signal({enter_long: entry})
	`)
	position := make(map[string]int, len(res.Nodes))
	for i, n := range res.Nodes {
		position[n.ID] = i
	}
	for _, n := range res.Nodes {
		for _, ref := range n.InputRefs() {
			assert.Less(t, position[ref.NodeID], position[n.ID],
				"%s must precede %s", ref.NodeID, n.ID)
		}
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	res := compile(t, `
		src   = market_data({timeframe: "1D", session: "NewYork"})
		fast  = sma(src.c, {period: 10})
		entry = gt(fast, 100)
		sig   = trade_signal({enter_long: entry})
	`)
	data, err := node.Serialize(res.Nodes)
	require.NoError(t, err)
	parsed, err := node.Parse(data)
	require.NoError(t, err)
	assert.True(t, node.EqualSets(res.Nodes, parsed))
}
