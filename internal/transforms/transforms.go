// Package transforms implements the operation catalog: the execution
// contract each node kind fulfills, a factory keyed by type id, and the
// builtin implementations. The orchestrator materializes a node's inputs
// into a table whose columns are named by input handle, calls
// TransformData, and stores the returned columns under the node's output
// names.
package transforms

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/report"
	"github.com/openquant/flowscript/internal/table"
)

// Transform is the contract every operation implementation fulfills.
type Transform interface {
	TransformData(input *table.Table) (*table.Table, error)
}

// DashboardProvider is the optional reporting capability: called with the
// transform's output to contribute to the asset's dashboard.
type DashboardProvider interface {
	GetDashboard(output *table.Table) *report.Report
}

// EventMarkerProvider is the optional chart-annotation capability.
type EventMarkerProvider interface {
	GetEventMarkers(output *table.Table) *report.EventMarkerData
}

// DataSourceRequirer declares external source streams a node needs, with
// {ticker} style placeholders already expanded from its options.
type DataSourceRequirer interface {
	GetRequiredDataSources() []string
}

// Builder constructs one transform instance for a validated node.
type Builder func(v *graph.ValidatedNode) (Transform, error)

// Factory maps operation type ids to builders.
type Factory struct {
	builders map[string]Builder
}

// NewFactory returns a factory seeded with the builtin operations.
func NewFactory() *Factory {
	f := &Factory{builders: make(map[string]Builder)}
	registerBuiltins(f)
	return f
}

// Register adds or replaces the builder for a type id.
func (f *Factory) Register(typeID string, b Builder) {
	f.builders[typeID] = b
}

// New builds the transform instance for a validated node.
func (f *Factory) New(v *graph.ValidatedNode) (Transform, error) {
	b, ok := f.builders[v.Node.Type]
	if !ok {
		return nil, fmt.Errorf("no implementation registered for operation type %q", v.Node.Type)
	}
	return b(v)
}

func registerBuiltins(f *Factory) {
	for id, fn := range scalarBuilders() {
		f.Register(id, fn)
	}
	for id, fn := range elementwiseBuilders() {
		f.Register(id, fn)
	}
	for id, fn := range indicatorBuilders() {
		f.Register(id, fn)
	}
	f.Register(metadata.MarketDataSourceID, newMarketData)
	f.Register(metadata.AliasID, newAlias)
	f.Register("cs_rank", newCrossSectionalRank)
	f.Register(metadata.TradeSignalExecutorID, newTradeSignal)
	f.Register("table_report", newTableReport)
	f.Register("numeric_cards_report", newNumericCards)
	f.Register("flag_marker", newFlagMarker)
}

// expandPlaceholders fills {option} placeholders in a required data source
// pattern from the node's string options.
func expandPlaceholders(pattern string, v *graph.ValidatedNode) string {
	out := pattern
	for key, val := range v.Node.Options {
		if val.IsNull() || val.Type() != cty.String {
			continue
		}
		out = strings.ReplaceAll(out, "{"+key+"}", val.AsString())
	}
	return out
}

// floatColumn fetches a decimal input column, tolerating boolean columns by
// widening them to 0/1.
func floatColumn(t *table.Table, name string) ([]float64, *table.Series, error) {
	s, ok := t.Column(name)
	if !ok {
		return nil, nil, fmt.Errorf("missing input column %q", name)
	}
	switch s.Kind {
	case metadata.Boolean:
		out := make([]float64, len(s.Bools))
		for i, b := range s.Bools {
			if b {
				out[i] = 1
			}
		}
		return out, s, nil
	case metadata.String:
		return nil, nil, fmt.Errorf("input column %q is a string column", name)
	default:
		return s.Floats, s, nil
	}
}

// boolColumn fetches a boolean input column.
func boolColumn(t *table.Table, name string) ([]bool, *table.Series, error) {
	s, ok := t.Column(name)
	if !ok {
		return nil, nil, fmt.Errorf("missing input column %q", name)
	}
	if s.Kind != metadata.Boolean {
		return nil, nil, fmt.Errorf("input column %q is not boolean", name)
	}
	return s.Bools, s, nil
}

// singleOutput wraps one series as a result table over the input's index.
func singleOutput(input *table.Table, s *table.Series) (*table.Table, error) {
	out := table.New(input.Index())
	if err := out.AddColumn(metadata.Result, s); err != nil {
		return nil, err
	}
	return out, nil
}

// carryValidity merges the validity masks of the given sources onto dst:
// a row null in any source is null in the output.
func carryValidity(dst *table.Series, sources ...*table.Series) {
	for _, src := range sources {
		if src == nil || src.Valid == nil {
			continue
		}
		for i := range src.Valid {
			if !src.Valid[i] {
				dst.SetNull(i)
			}
		}
	}
}
