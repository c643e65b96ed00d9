package compiler

import (
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/node"
	"github.com/openquant/flowscript/internal/timeframe"
)

// resolveTimeframes fills in the timeframe of every node lacking one. The
// input slice must already be topologically ordered, which lets a single
// forward pass and a single backward pass converge even for deeply chained
// dependencies.
//
// Forward pass, in dependency order: a node with an explicit timeframe
// keeps it; otherwise it adopts the coarsest resolved timeframe among its
// reference inputs, since a consumer mixing frequencies must run at the
// lowest common frequency.
//
// Backward pass, in reverse order: a node still unresolved adopts the
// coarsest timeframe among its resolved consumers. This covers constants
// consumed by resolved nodes.
//
// Nodes unresolved after both passes are compile errors unless their kind
// is scalar-category, which is timeframe-agnostic.
func resolveTimeframes(ordered []*node.Node, registry *metadata.Registry) error {
	resolved := make(map[string]timeframe.TimeFrame, len(ordered))

	// Data sources must state their timeframe explicitly; nothing upstream
	// exists to propagate one from. Intraday-only kinds fall back to the
	// smallest intraday interval instead.
	for _, n := range ordered {
		meta, ok := registry.Lookup(n.Type)
		if !ok {
			return errf(ErrUnknownOperationType, n.ID, n.Type, "",
				"operation type %q is not registered", n.Type)
		}
		if n.TimeFrame != nil || !meta.RequiresTimeFrame {
			continue
		}
		if meta.IntradayOnly {
			tf := timeframe.SmallestIntraday
			n.TimeFrame = &tf
			continue
		}
		return errf(ErrMissingTimeframe, n.ID, n.Type, optTimeframe,
			"%s requires a 'timeframe' parameter", n.Type)
	}

	// Forward pass.
	for _, n := range ordered {
		if n.TimeFrame != nil {
			resolved[n.ID] = *n.TimeFrame
			continue
		}
		var inputs []timeframe.TimeFrame
		for _, ref := range n.InputRefs() {
			if tf, ok := resolved[ref.NodeID]; ok {
				inputs = append(inputs, tf)
			}
		}
		if coarsest, ok := timeframe.Coarsest(inputs); ok {
			tf := coarsest
			n.TimeFrame = &tf
			resolved[n.ID] = tf
		}
	}

	// Backward pass. Consumers sit later in the order, so walking in
	// reverse resolves them before the nodes that feed them.
	consumers := make(map[string][]string, len(ordered))
	for _, n := range ordered {
		for _, ref := range n.InputRefs() {
			consumers[ref.NodeID] = append(consumers[ref.NodeID], n.ID)
		}
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		n := ordered[i]
		if n.TimeFrame != nil {
			continue
		}
		var dependents []timeframe.TimeFrame
		for _, id := range consumers[n.ID] {
			if tf, ok := resolved[id]; ok {
				dependents = append(dependents, tf)
			}
		}
		if coarsest, ok := timeframe.Coarsest(dependents); ok {
			tf := coarsest
			n.TimeFrame = &tf
			resolved[n.ID] = tf
		}
	}

	for _, n := range ordered {
		if n.TimeFrame != nil {
			continue
		}
		meta, _ := registry.Lookup(n.Type)
		if meta != nil && meta.IsScalar() {
			continue
		}
		return errf(ErrMissingTimeframe, n.ID, n.Type, optTimeframe,
			"could not resolve a timeframe for %q", n.ID)
	}
	return nil
}
