package orchestrator

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/zclconf/go-cty/cty"

	"github.com/openquant/flowscript/internal/graph"
)

// assetMatcher evaluates an asset-reference node's identity filters. A
// plain ticker option matches exactly; the filter option is a boolean
// expression over the asset's identity fields, compiled once per node and
// evaluated per asset.
type assetMatcher struct {
	ticker  string
	program *vm.Program
}

func newAssetMatcher(v *graph.ValidatedNode) (*assetMatcher, error) {
	m := &assetMatcher{}
	if val, ok := v.Node.Options["ticker"]; ok && !val.IsNull() && val.Type() == cty.String {
		m.ticker = val.AsString()
	}
	if val, ok := v.Node.Options["filter"]; ok && !val.IsNull() && val.Type() == cty.String {
		program, err := expr.Compile(val.AsString(),
			expr.Env(filterEnv(Asset{})),
			expr.AsBool(),
		)
		if err != nil {
			return nil, fmt.Errorf("node %q: invalid asset filter: %w", v.Node.ID, err)
		}
		m.program = program
	}
	return m, nil
}

// Match reports whether the asset passes every configured filter. A
// matcher with no filters matches everything.
func (m *assetMatcher) Match(a Asset) (bool, error) {
	if m.ticker != "" && m.ticker != a.Ticker {
		return false, nil
	}
	if m.program == nil {
		return true, nil
	}
	out, err := expr.Run(m.program, filterEnv(a))
	if err != nil {
		return false, fmt.Errorf("asset filter: %w", err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("asset filter returned %T, want bool", out)
	}
	return matched, nil
}

func filterEnv(a Asset) map[string]any {
	return map[string]any{
		"id":     a.ID,
		"ticker": a.Ticker,
		"class":  a.Class,
		"sector": a.Sector,
	}
}
