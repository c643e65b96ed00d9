package transforms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/node"
	"github.com/openquant/flowscript/internal/table"
	"github.com/openquant/flowscript/internal/timeframe"
)

func validated(t *testing.T, n *node.Node) *graph.ValidatedNode {
	t.Helper()
	if n.TimeFrame == nil {
		tf := timeframe.MustParse("1D")
		n.TimeFrame = &tf
	}
	m := graph.NewManager(metadata.Builtin())
	v, err := m.Insert(n)
	require.NoError(t, err)
	return v
}

func dayIndex(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC)
	}
	return out
}

func inputTable(t *testing.T, cols map[string]*table.Series) *table.Table {
	t.Helper()
	rows := 0
	for _, s := range cols {
		rows = s.Len()
		break
	}
	tbl := table.New(dayIndex(rows))
	for name, s := range cols {
		require.NoError(t, tbl.AddColumn(name, s))
	}
	return tbl
}

func resultFloats(t *testing.T, out *table.Table) *table.Series {
	t.Helper()
	s, ok := out.Column(metadata.Result)
	require.True(t, ok)
	return s
}

func build(t *testing.T, n *node.Node) Transform {
	t.Helper()
	tr, err := NewFactory().New(validated(t, n))
	require.NoError(t, err)
	return tr
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	n := node.New("x", "number")
	n.Options["value"] = cty.NumberIntVal(1)
	v := validated(t, n)
	v.Node.Type = "mystery"
	_, err := NewFactory().New(v)
	assert.ErrorContains(t, err, "no implementation registered")
}

func TestFactoryRegisterOverrides(t *testing.T) {
	f := NewFactory()
	f.Register("gt", func(*graph.ValidatedNode) (Transform, error) {
		return castDecimal{}, nil
	})
	n := node.New("x", "gt")
	n.AddInput(metadata.Arg0, node.NewRef("a", "c"))
	n.AddInput(metadata.Arg1, node.NewRef("b", "c"))
	tr, err := f.New(validated(t, n))
	require.NoError(t, err)
	assert.IsType(t, castDecimal{}, tr)
}

func smaFixture(t *testing.T, period int) Transform {
	n := node.New("fast", "sma")
	n.Options["period"] = cty.NumberIntVal(int64(period))
	n.AddInput(metadata.Arg, node.NewRef("src", "c"))
	return build(t, n)
}

func TestSMA(t *testing.T) {
	tr := smaFixture(t, 3)
	in := inputTable(t, map[string]*table.Series{
		metadata.Arg: table.NewFloatSeries([]float64{1, 2, 3, 4, 5}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)

	s := resultFloats(t, out)
	assert.True(t, s.IsNull(0))
	assert.True(t, s.IsNull(1))
	assert.InDelta(t, 2, s.Floats[2], 1e-9)
	assert.InDelta(t, 3, s.Floats[3], 1e-9)
	assert.InDelta(t, 4, s.Floats[4], 1e-9)
}

func TestEMA(t *testing.T) {
	n := node.New("e", "ema")
	n.Options["period"] = cty.NumberIntVal(3)
	n.AddInput(metadata.Arg, node.NewRef("src", "c"))
	tr := build(t, n)

	in := inputTable(t, map[string]*table.Series{
		metadata.Arg: table.NewFloatSeries([]float64{2, 4, 6}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)

	s := resultFloats(t, out)
	assert.True(t, s.IsNull(0))
	assert.True(t, s.IsNull(1))
	// alpha = 0.5, seeded with 2: 2, 3, 4.5
	assert.InDelta(t, 4.5, s.Floats[2], 1e-9)
}

func TestLag(t *testing.T) {
	n := node.New("l", "lag")
	n.Options["period"] = cty.NumberIntVal(2)
	n.AddInput(metadata.Arg, node.NewRef("src", "c"))
	tr := build(t, n)

	in := inputTable(t, map[string]*table.Series{
		metadata.Arg: table.NewFloatSeries([]float64{10, 20, 30, 40}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)

	s := resultFloats(t, out)
	assert.True(t, s.IsNull(0))
	assert.True(t, s.IsNull(1))
	assert.Equal(t, 10.0, s.Floats[2])
	assert.Equal(t, 20.0, s.Floats[3])
}

func TestRSIAllGains(t *testing.T) {
	n := node.New("r", "rsi")
	n.Options["period"] = cty.NumberIntVal(3)
	n.AddInput(metadata.Arg, node.NewRef("src", "c"))
	tr := build(t, n)

	in := inputTable(t, map[string]*table.Series{
		metadata.Arg: table.NewFloatSeries([]float64{1, 2, 3, 4, 5}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)

	s := resultFloats(t, out)
	assert.True(t, s.IsNull(0))
	assert.True(t, s.IsNull(2))
	assert.Equal(t, 100.0, s.Floats[3])
	assert.Equal(t, 100.0, s.Floats[4])
}

func TestCrossover(t *testing.T) {
	n := node.New("x", "crossover")
	n.AddInput(metadata.Arg0, node.NewRef("fast", "result"))
	n.AddInput(metadata.Arg1, node.NewRef("slow", "result"))
	tr := build(t, n)

	in := inputTable(t, map[string]*table.Series{
		metadata.Arg0: table.NewFloatSeries([]float64{1, 2, 4, 5}),
		metadata.Arg1: table.NewFloatSeries([]float64{3, 3, 3, 3}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)

	s := resultFloats(t, out)
	assert.Equal(t, []bool{false, false, true, false}, s.Bools)
}

func TestComparisonWidensBooleans(t *testing.T) {
	n := node.New("x", "gt")
	n.AddInput(metadata.Arg0, node.NewRef("a", "result"))
	n.AddInput(metadata.Arg1, node.NewRef("b", "result"))
	tr := build(t, n)

	in := inputTable(t, map[string]*table.Series{
		metadata.Arg0: table.NewBoolSeries([]bool{true, false}),
		metadata.Arg1: table.NewFloatSeries([]float64{0.5, 0.5}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, resultFloats(t, out).Bools)
}

func TestDivideByZeroYieldsNull(t *testing.T) {
	n := node.New("x", "divide")
	n.AddInput(metadata.Arg0, node.NewRef("a", "result"))
	n.AddInput(metadata.Arg1, node.NewRef("b", "result"))
	tr := build(t, n)

	in := inputTable(t, map[string]*table.Series{
		metadata.Arg0: table.NewFloatSeries([]float64{10, 10}),
		metadata.Arg1: table.NewFloatSeries([]float64{2, 0}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)

	s := resultFloats(t, out)
	assert.Equal(t, 5.0, s.Floats[0])
	assert.True(t, s.IsNull(1))
}

func TestNullInputsPropagate(t *testing.T) {
	n := node.New("x", "add")
	n.AddInput(metadata.Arg0, node.NewRef("a", "result"))
	n.AddInput(metadata.Arg1, node.NewRef("b", "result"))
	tr := build(t, n)

	a := table.NewFloatSeries([]float64{1, 2})
	a.SetNull(0)
	in := inputTable(t, map[string]*table.Series{
		metadata.Arg0: a,
		metadata.Arg1: table.NewFloatSeries([]float64{10, 10}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)

	s := resultFloats(t, out)
	assert.True(t, s.IsNull(0))
	assert.Equal(t, 12.0, s.Floats[1])
}

func TestCastBoolean(t *testing.T) {
	n := node.New("x", metadata.StaticCastBooleanID)
	n.AddInput(metadata.Arg, node.NewRef("a", "result"))
	tr := build(t, n)

	in := inputTable(t, map[string]*table.Series{
		metadata.Arg: table.NewFloatSeries([]float64{0, 1, -2}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true}, resultFloats(t, out).Bools)
}

func TestScalarsYieldSingleRow(t *testing.T) {
	n := node.New("five", "number")
	n.Options["value"] = cty.NumberIntVal(5)
	tr := build(t, n)

	in := table.New(dayIndex(10))
	out, err := tr.TransformData(in)
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
	assert.Equal(t, dayIndex(1)[0], out.Index()[0])
	assert.Equal(t, []float64{5}, resultFloats(t, out).Floats)

	null := node.New("gap", "null_number")
	tr = build(t, null)
	out, err = tr.TransformData(in)
	require.NoError(t, err)
	assert.True(t, resultFloats(t, out).IsNull(0))
}

func TestMarketDataExpandsSources(t *testing.T) {
	n := node.New("src", metadata.MarketDataSourceID)
	n.Options["ticker"] = cty.StringVal("AAPL")
	tr := build(t, n)

	req, ok := tr.(DataSourceRequirer)
	require.True(t, ok)
	assert.Equal(t, []string{"bars/AAPL"}, req.GetRequiredDataSources())
}

func TestAliasForwardsColumn(t *testing.T) {
	n := node.New("speed", metadata.AliasID)
	n.AddInput(metadata.Arg, node.NewRef("fast", "result"))
	tr := build(t, n)

	in := inputTable(t, map[string]*table.Series{
		metadata.Arg: table.NewFloatSeries([]float64{1, 2}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, resultFloats(t, out).Floats)

	// Absent input forwards as an empty table instead of failing.
	out, err = tr.TransformData(table.New(dayIndex(2)))
	require.NoError(t, err)
	assert.Equal(t, 0, out.NumColumns())
}

func TestCrossSectionalRank(t *testing.T) {
	n := node.New("rank", "cs_rank")
	n.AddInput(metadata.Arg, node.NewRef("mom", "result"))
	tr := build(t, n)

	b := table.NewFloatSeries([]float64{20, 5})
	b.SetNull(1)
	in := inputTable(t, map[string]*table.Series{
		"aapl": table.NewFloatSeries([]float64{10, 1}),
		"msft": b,
		"goog": table.NewFloatSeries([]float64{30, 2}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)

	aapl, _ := out.Column("aapl")
	msft, _ := out.Column("msft")
	goog, _ := out.Column("goog")

	assert.InDelta(t, 0, aapl.Floats[0], 1e-9)
	assert.InDelta(t, 0.5, msft.Floats[0], 1e-9)
	assert.InDelta(t, 1, goog.Floats[0], 1e-9)

	// Null entries drop out of the row and stay null in the output.
	assert.True(t, msft.IsNull(1))
	assert.InDelta(t, 0, aapl.Floats[1], 1e-9)
	assert.InDelta(t, 1, goog.Floats[1], 1e-9)
}

func TestTradeSignalDashboard(t *testing.T) {
	n := node.New("sig", metadata.TradeSignalExecutorID)
	n.AddInput("enter_long", node.NewRef("entry", "result"))
	tr := build(t, n)

	in := inputTable(t, map[string]*table.Series{
		"enter_long": table.NewBoolSeries([]bool{true, false, true}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)

	provider, ok := tr.(DashboardProvider)
	require.True(t, ok)
	r := provider.GetDashboard(out)
	require.NotNil(t, r)
	require.Len(t, r.Cards, 1)
	assert.Equal(t, "enter_long", r.Cards[0].Title)
	assert.Equal(t, 2.0, r.Cards[0].Value)
}

func TestFlagMarker(t *testing.T) {
	n := node.New("spike", "flag_marker")
	n.Options["label"] = cty.StringVal("volume spike")
	n.Options["color"] = cty.StringVal("red")
	n.AddInput(metadata.Arg, node.NewRef("hot", "result"))
	tr := build(t, n)

	in := inputTable(t, map[string]*table.Series{
		metadata.Arg: table.NewBoolSeries([]bool{false, true, false}),
	})
	out, err := tr.TransformData(in)
	require.NoError(t, err)

	provider, ok := tr.(EventMarkerProvider)
	require.True(t, ok)
	data := provider.GetEventMarkers(out)
	require.NotNil(t, data)
	require.Len(t, data.Markers, 1)
	assert.Equal(t, "volume spike", data.Markers[0].Label)
	assert.Equal(t, dayIndex(3)[1], data.Markers[0].Timestamp)

	// All-false input produces no marker payload.
	quiet := inputTable(t, map[string]*table.Series{
		metadata.Arg: table.NewBoolSeries([]bool{false, false}),
	})
	out, err = tr.TransformData(quiet)
	require.NoError(t, err)
	assert.Nil(t, provider.GetEventMarkers(out))
}
