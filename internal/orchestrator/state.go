package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/report"
	"github.com/openquant/flowscript/internal/table"
	"github.com/openquant/flowscript/internal/transforms"
)

// state is the mutable store of one run. Tables, reports, and markers are
// guarded by mu; the transform instances and matchers are built before
// execution starts and read-only afterwards.
type state struct {
	assets []Asset
	cancel context.CancelFunc

	mu sync.Mutex
	// tables: timeframe canonical string -> asset id -> evolving table.
	tables map[string]map[string]*table.Table
	// scalars: node id -> single-row result of a scalar-category node.
	scalars map[string]*table.Table
	// assetScalars: node id -> asset id -> single-row result, for the
	// asset-reference predicate.
	assetScalars map[string]map[string]*table.Table
	reports      map[string]*report.Report
	markers      map[string][]report.EventMarkerData
	// nodeFailed marks nodes that produced nothing for any asset.
	nodeFailed map[string]bool
	// assetFailed marks (node, asset) pairs whose output is unusable, so
	// dependents skip just that asset.
	assetFailed map[string]map[string]bool
	errors      []ExecError

	instances map[string]transforms.Transform
	matchers  map[string]*assetMatcher

	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	completed atomic.Int64
	total     int
}

func newState(o *Orchestrator, in *Input, nodes []*graph.ValidatedNode) (*state, error) {
	st := &state{
		assets:       in.Assets,
		tables:       make(map[string]map[string]*table.Table, len(in.Tables)),
		scalars:      make(map[string]*table.Table),
		assetScalars: make(map[string]map[string]*table.Table),
		reports:      make(map[string]*report.Report),
		markers:      make(map[string][]report.EventMarkerData),
		nodeFailed:   make(map[string]bool),
		assetFailed:  make(map[string]map[string]bool),
		instances:    make(map[string]transforms.Transform, len(nodes)),
		matchers:     make(map[string]*assetMatcher),
		total:        len(nodes),
	}

	// Clone the per-asset tables so the caller's input stays untouched;
	// series data is shared, only column bookkeeping is copied.
	for tf, perAsset := range in.Tables {
		st.tables[tf] = make(map[string]*table.Table, len(perAsset))
		for assetID, t := range perAsset {
			st.tables[tf][assetID] = t.Clone()
		}
	}

	for _, v := range nodes {
		if isAssetScoped(v) {
			// Asset-scoped kinds bypass the generic transform call; only
			// their matcher is needed.
			m, err := newAssetMatcher(v)
			if err != nil {
				return nil, err
			}
			st.matchers[v.Node.ID] = m
			continue
		}
		inst, err := o.factory.New(v)
		if err != nil {
			return nil, err
		}
		st.instances[v.Node.ID] = inst
	}
	return st, nil
}

// baseTable returns the evolving table for one (timeframe, asset) pair.
func (st *state) baseTable(tf, assetID string) (*table.Table, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	perAsset, ok := st.tables[tf]
	if !ok {
		return nil, false
	}
	t, ok := perAsset[assetID]
	return t, ok
}

// storeColumns aligns the given columns onto the asset's table index and
// attaches them. Columns already present are left alone; the graph's
// deduplication guarantees each (node, asset) pair stores at most once.
func (st *state) storeColumns(tf, assetID string, out *table.Table, rename map[string]string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	base, ok := st.tables[tf][assetID]
	if !ok {
		return nil
	}
	aligned := out
	if !sameIndex(out.Index(), base.Index()) {
		aligned = out.AlignTo(base.Index())
	}
	for from, to := range rename {
		s, ok := aligned.Column(from)
		if !ok {
			continue
		}
		if base.HasColumn(to) {
			continue
		}
		if err := base.AddColumn(to, s); err != nil {
			return err
		}
	}
	return nil
}

// lookupColumn finds a node's output column for one asset, preferring the
// given timeframe's table and falling back to the others.
func (st *state) lookupColumn(preferredTF, assetID, column string) (*table.Table, *table.Series, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if perAsset, ok := st.tables[preferredTF]; ok {
		if t, ok := perAsset[assetID]; ok {
			if s, ok := t.Column(column); ok {
				return t, s, true
			}
		}
	}
	for tf, perAsset := range st.tables {
		if tf == preferredTF {
			continue
		}
		t, ok := perAsset[assetID]
		if !ok {
			continue
		}
		if s, ok := t.Column(column); ok {
			return t, s, true
		}
	}
	return nil, nil, false
}

func (st *state) storeScalar(nodeID string, t *table.Table) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.scalars[nodeID] = t
}

func (st *state) scalar(nodeID string) (*table.Table, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	t, ok := st.scalars[nodeID]
	return t, ok
}

func (st *state) storeAssetScalar(nodeID, assetID string, t *table.Table) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.assetScalars[nodeID] == nil {
		st.assetScalars[nodeID] = make(map[string]*table.Table)
	}
	st.assetScalars[nodeID][assetID] = t
}

func (st *state) assetScalar(nodeID, assetID string) (*table.Table, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	t, ok := st.assetScalars[nodeID][assetID]
	return t, ok
}

func (st *state) mergeReport(assetID string, r *report.Report) {
	if r == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	existing, ok := st.reports[assetID]
	if !ok {
		existing = &report.Report{}
		st.reports[assetID] = existing
	}
	existing.Merge(r)
}

func (st *state) appendMarkers(assetID string, data *report.EventMarkerData) {
	if data == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.markers[assetID] = append(st.markers[assetID], *data)
}

// markAssetFailed poisons a (node, asset) pair so dependents skip it.
func (st *state) markAssetFailed(nodeID, assetID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.assetFailed[nodeID] == nil {
		st.assetFailed[nodeID] = make(map[string]bool)
	}
	st.assetFailed[nodeID][assetID] = true
}

func (st *state) markNodeFailed(nodeID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nodeFailed[nodeID] = true
}

// producedNothing reports whether the node is unusable for every asset,
// either failed wholesale or poisoned per asset across the whole universe.
func (st *state) producedNothing(v *graph.ValidatedNode) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.nodeFailed[v.Node.ID] {
		return true
	}
	per := st.assetFailed[v.Node.ID]
	if len(per) == 0 {
		return false
	}
	for _, a := range st.assets {
		if !per[a.ID] {
			return false
		}
	}
	return true
}

// depUnavailable reports whether any reference dependency of the node has
// failed for the given asset, or failed wholesale.
func (st *state) depUnavailable(v *graph.ValidatedNode, assetID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, ref := range v.Node.InputRefs() {
		if st.nodeFailed[ref.NodeID] {
			return true
		}
		if st.assetFailed[ref.NodeID][assetID] {
			return true
		}
	}
	return false
}

func (st *state) recordError(nodeID, assetID string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.errors = append(st.errors, ExecError{NodeID: nodeID, AssetID: assetID, Err: err})
}

func (st *state) takeErrors() []ExecError {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.errors
}

func sameIndex(a, b []time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
