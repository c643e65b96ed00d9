package transforms

import (
	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/table"
)

// marketData forwards the asset's bar columns unchanged; the orchestrator
// hands it the base table for the node's timeframe. Its declared data
// sources tell the loading layer which streams to materialize.
type marketData struct {
	sources []string
}

func newMarketData(v *graph.ValidatedNode) (Transform, error) {
	sources := make([]string, 0, len(v.Meta.RequiredDataSources))
	for _, pattern := range v.Meta.RequiredDataSources {
		sources = append(sources, expandPlaceholders(pattern, v))
	}
	return &marketData{sources: sources}, nil
}

func (t *marketData) TransformData(input *table.Table) (*table.Table, error) {
	return input, nil
}

func (t *marketData) GetRequiredDataSources() []string {
	return t.sources
}

// aliasTransform forwards its single input column under the result handle.
type aliasTransform struct{}

func newAlias(*graph.ValidatedNode) (Transform, error) {
	return aliasTransform{}, nil
}

func (aliasTransform) TransformData(input *table.Table) (*table.Table, error) {
	s, ok := input.Column(metadata.Arg)
	if !ok {
		// The aliased output may be absent for this asset, e.g. behind a
		// non-matching asset selection. Forward the absence.
		return table.New(input.Index()), nil
	}
	return singleOutput(input, s)
}
