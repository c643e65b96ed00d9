package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openquant/flowscript/internal/ctxlog"
	"github.com/openquant/flowscript/internal/events"
	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/node"
	"github.com/openquant/flowscript/internal/table"
	"github.com/openquant/flowscript/internal/transforms"
)

func isAssetScoped(v *graph.ValidatedNode) bool {
	return v.Node.Type == metadata.AssetRefID || v.Node.Type == metadata.AssetSelectID
}

// runNode executes one node across the asset universe. Cancellation is
// checked at node boundaries: a cancelled run reports remaining nodes as
// skipped rather than silently dropping them.
func (o *Orchestrator) runNode(ctx context.Context, st *state, v *graph.ValidatedNode) {
	nodeStart := time.Now()
	log := ctxlog.FromContext(ctx)

	if ctx.Err() != nil {
		o.skipNode(st, v, "run cancelled")
		return
	}

	o.dispatcher.Emit(events.NodeStarted{
		Base:             events.Stamp(),
		NodeID:           v.Node.ID,
		Name:             v.Meta.Name,
		IsCrossSectional: v.Meta.IsCrossSectional,
		AssetCount:       len(st.assets),
	})

	switch {
	case v.Meta.IsScalar():
		o.runScalar(ctx, st, v)
	case v.Node.Type == metadata.AssetRefID:
		o.runAssetRef(st, v)
	case v.Node.Type == metadata.AssetSelectID:
		o.runAssetSelect(st, v)
	case v.Meta.IsCrossSectional:
		o.runCrossSectional(ctx, st, v)
	default:
		o.runPerAsset(ctx, st, v)
	}

	// A node that produced nothing for any asset already reported itself as
	// failed or skipped; completion is only announced for productive nodes.
	if !st.producedNothing(v) {
		o.dispatcher.Emit(events.NodeCompleted{
			Base:     events.Stamp(),
			NodeID:   v.Node.ID,
			Duration: time.Since(nodeStart),
		})
	}
	o.noteProgress(st)
	log.Debug("node finished", "node", v.Node.ID, "type", v.Node.Type,
		"duration", time.Since(nodeStart))
}

// noteProgress advances the completion counter and reports it. Every node
// passes through exactly once, skips included, so the stream ends at 100%.
func (o *Orchestrator) noteProgress(st *state) {
	completed := st.completed.Add(1)
	o.dispatcher.Emit(events.Progress{
		Base:      events.Stamp(),
		Percent:   100 * float64(completed) / float64(st.total),
		Completed: int(completed),
		Total:     st.total,
	})
}

// skipNode records a whole-node skip, once per asset it would have run for.
func (o *Orchestrator) skipNode(st *state, v *graph.ValidatedNode, reason string) {
	st.markNodeFailed(v.Node.ID)
	if v.Meta.IsScalar() {
		st.skipped.Add(1)
	} else {
		st.skipped.Add(int64(len(st.assets)))
	}
	o.dispatcher.Emit(events.NodeSkipped{Base: events.Stamp(), NodeID: v.Node.ID, Reason: reason})
	o.noteProgress(st)
}

// runScalar executes a scalar-category node once; its single-row result is
// shared by every asset.
func (o *Orchestrator) runScalar(ctx context.Context, st *state, v *graph.ValidatedNode) {
	if st.depUnavailable(v, "") {
		st.skipped.Add(1)
		o.dispatcher.Emit(events.NodeSkipped{
			Base: events.Stamp(), NodeID: v.Node.ID, Reason: "dependency unavailable",
		})
		st.markNodeFailed(v.Node.ID)
		return
	}

	input := table.New([]time.Time{{}})
	for _, spec := range v.Meta.Inputs {
		for i, val := range v.Node.Inputs[spec.ID] {
			name := inputColumnName(spec.ID, i)
			var s *table.Series
			if val.IsLiteral() {
				s = literalSeries(*val.Literal, 1)
			} else {
				src, ok := st.scalar(val.Ref.NodeID)
				if !ok {
					o.failNode(st, v, "", fmt.Errorf("scalar input %q is unavailable", val.Ref.Ref()))
					return
				}
				col, ok := src.Column(val.Ref.Handle)
				if !ok {
					col, _ = src.Column(metadata.Result)
				}
				s = col
			}
			if s == nil || input.AddColumn(name, s) != nil {
				o.failNode(st, v, "", fmt.Errorf("cannot wire scalar input %q", name))
				return
			}
		}
	}

	inst := st.instances[v.Node.ID]
	out, err := inst.TransformData(input)
	if err != nil {
		o.failNode(st, v, "", err)
		return
	}
	st.storeScalar(v.Node.ID, out)
	st.succeeded.Add(1)
}

// runAssetRef evaluates the asset-reference predicate: one boolean scalar
// per asset, no timeframe dependency, no transform call.
func (o *Orchestrator) runAssetRef(st *state, v *graph.ValidatedNode) {
	m := st.matchers[v.Node.ID]
	for _, asset := range st.assets {
		matched, err := m.Match(asset)
		if err != nil {
			o.failAsset(st, v, asset.ID, err)
			continue
		}
		out := table.New([]time.Time{{}})
		_ = out.AddColumn(metadata.Match, table.NewBoolSeries([]bool{matched}))
		st.storeAssetScalar(v.Node.ID, asset.ID, out)
		st.succeeded.Add(1)
	}
}

// runAssetSelect is the passthrough special case: on match the input column
// is renamed to the node's output and stored; on no match nothing is
// stored, and downstream consumers must tolerate the absence.
func (o *Orchestrator) runAssetSelect(st *state, v *graph.ValidatedNode) {
	m := st.matchers[v.Node.ID]
	tf := v.TimeFrame().String()
	outputCol := v.Node.OutputColumn(metadata.Result)

	var ref *node.NodeReference
	for _, values := range v.Node.Inputs {
		for _, val := range values {
			if val.IsRef() {
				ref = val.Ref
			}
		}
	}

	for _, asset := range st.assets {
		matched, err := m.Match(asset)
		if err != nil {
			o.failAsset(st, v, asset.ID, err)
			continue
		}
		if !matched || ref == nil {
			st.succeeded.Add(1)
			continue
		}
		if st.depUnavailable(v, asset.ID) {
			o.skipAsset(st, v, asset.ID, "dependency unavailable")
			continue
		}
		_, s, ok := st.lookupColumn(tf, asset.ID, ref.ColumnName())
		if !ok {
			o.warn(v, asset.ID, "input column %q is unavailable", ref.ColumnName())
			st.succeeded.Add(1)
			continue
		}
		out := table.New(nil)
		if base, ok := st.baseTable(tf, asset.ID); ok {
			out = table.New(base.Index())
		}
		if out.AddColumn(outputCol, s) == nil {
			_ = st.storeColumns(tf, asset.ID, out, map[string]string{outputCol: outputCol})
		}
		st.succeeded.Add(1)
	}
}

// runCrossSectional executes a node over the union of all assets' current
// tables: one input column per asset, one ranked output column per asset.
func (o *Orchestrator) runCrossSectional(ctx context.Context, st *state, v *graph.ValidatedNode) {
	tf := v.TimeFrame().String()

	var ref *node.NodeReference
	for _, values := range v.Node.Inputs {
		for _, val := range values {
			if val.IsRef() {
				ref = val.Ref
			}
		}
	}
	if ref == nil {
		o.failNode(st, v, "", fmt.Errorf("cross-sectional node has no reference input"))
		return
	}

	var index []time.Time
	union := table.New(nil)
	included := make([]string, 0, len(st.assets))
	for _, asset := range st.assets {
		if st.depUnavailable(v, asset.ID) {
			o.skipAsset(st, v, asset.ID, "dependency unavailable")
			continue
		}
		t, s, ok := st.lookupColumn(tf, asset.ID, ref.ColumnName())
		if !ok {
			o.warn(v, asset.ID, "input column %q is unavailable", ref.ColumnName())
			continue
		}
		if index == nil {
			index = t.Index()
			union = table.New(index)
		}
		aligned := s
		if !sameIndex(t.Index(), index) {
			tmp := table.New(t.Index())
			_ = tmp.AddColumn(asset.ID, s)
			aligned, _ = colOrNil(tmp.AlignTo(index), asset.ID)
		}
		if aligned == nil || union.AddColumn(asset.ID, aligned) != nil {
			o.warn(v, asset.ID, "cannot align input column %q", ref.ColumnName())
			continue
		}
		included = append(included, asset.ID)
	}

	if len(included) == 0 {
		o.failNode(st, v, "", fmt.Errorf("no asset supplied input %q", ref.ColumnName()))
		return
	}

	inst := st.instances[v.Node.ID]
	out, err := inst.TransformData(union)
	if err != nil {
		o.failNode(st, v, "", err)
		return
	}

	outputCol := v.Node.OutputColumn(defaultOutputHandle(v))
	for _, assetID := range included {
		s, ok := out.Column(assetID)
		if !ok {
			o.failAsset(st, v, assetID, fmt.Errorf("cross-sectional output missing asset %q", assetID))
			continue
		}
		per := table.New(out.Index())
		if per.AddColumn(outputCol, s) == nil {
			if err := st.storeColumns(tf, assetID, per, map[string]string{outputCol: outputCol}); err != nil {
				o.failAsset(st, v, assetID, err)
				continue
			}
		}
		st.succeeded.Add(1)
	}
}

// runPerAsset is the generic path: assets fan out in parallel, each
// materializing the node's inputs, transforming, and storing outputs.
func (o *Orchestrator) runPerAsset(ctx context.Context, st *state, v *graph.ValidatedNode) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, asset := range st.assets {
		asset := asset
		g.Go(func() error {
			if ctx.Err() != nil {
				o.skipAsset(st, v, asset.ID, "run cancelled")
				return nil
			}
			o.runForAsset(st, v, asset)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) runForAsset(st *state, v *graph.ValidatedNode, asset Asset) {
	if st.depUnavailable(v, asset.ID) {
		o.skipAsset(st, v, asset.ID, "dependency unavailable")
		return
	}

	tf := v.TimeFrame()
	tfKey := tf.String()
	if v.Meta.IntradayOnly && !tf.IsIntraday() {
		o.warn(v, asset.ID, "intraday-only node scheduled on %s; storing nothing", tfKey)
		st.succeeded.Add(1)
		return
	}

	base, ok := st.baseTable(tfKey, asset.ID)
	if !ok {
		o.warn(v, asset.ID, "no %s table for asset", tfKey)
		st.succeeded.Add(1)
		return
	}

	input, ok, err := o.gather(st, v, asset.ID, base)
	if err != nil {
		o.failAsset(st, v, asset.ID, err)
		return
	}
	if !ok {
		// Missing inputs yield an empty result, not a failure; downstream
		// consumers see the columns as absent.
		o.warn(v, asset.ID, "input unavailable; storing empty output")
		st.succeeded.Add(1)
		return
	}

	if v.Node.Session != nil {
		window, err := v.Node.Session.Resolve()
		if err != nil {
			o.failAsset(st, v, asset.ID, err)
			return
		}
		input = input.SliceSession(window)
	}
	if !v.Meta.AllowNullInputs {
		input = input.DropNullRows()
	}

	inst := st.instances[v.Node.ID]
	out, err := inst.TransformData(input)
	if err != nil {
		o.failAsset(st, v, asset.ID, err)
		return
	}

	if len(v.Meta.Outputs) > 0 && out != nil {
		rename := make(map[string]string, len(v.Meta.Outputs))
		for _, spec := range v.Meta.Outputs {
			rename[spec.ID] = v.Node.OutputColumn(spec.ID)
		}
		if err := st.storeColumns(tfKey, asset.ID, out, rename); err != nil {
			o.failAsset(st, v, asset.ID, err)
			return
		}
	}

	if out != nil {
		if dp, ok := inst.(transforms.DashboardProvider); ok {
			st.mergeReport(asset.ID, dp.GetDashboard(out))
		}
		if mp, ok := inst.(transforms.EventMarkerProvider); ok {
			st.appendMarkers(asset.ID, mp.GetEventMarkers(out))
		}
	}
	st.succeeded.Add(1)
}

// gather materializes the node's input table over the base index: literal
// inputs broadcast, scalar references broadcast their single row, column
// references resolve through the per-asset tables.
func (o *Orchestrator) gather(st *state, v *graph.ValidatedNode, assetID string, base *table.Table) (*table.Table, bool, error) {
	if v.Node.Type == metadata.MarketDataSourceID {
		return base, true, nil
	}

	rows := base.NumRows()
	input := table.New(base.Index())
	tfKey := v.TimeFrame().String()

	for _, spec := range v.Meta.Inputs {
		for i, val := range v.Node.Inputs[spec.ID] {
			name := inputColumnName(spec.ID, i)
			var s *table.Series

			switch {
			case val.IsLiteral():
				s = literalSeries(*val.Literal, rows)

			case val.IsRef():
				ref := *val.Ref
				if scalar, ok := st.scalar(ref.NodeID); ok {
					col, found := scalar.Column(ref.Handle)
					if !found {
						col, found = scalar.Column(metadata.Result)
					}
					if !found {
						return nil, false, nil
					}
					s = broadcast(col, rows)
					break
				}
				if perAsset, ok := st.assetScalar(ref.NodeID, assetID); ok {
					col, found := perAsset.Column(ref.Handle)
					if !found {
						col, found = perAsset.Column(metadata.Match)
					}
					if !found {
						return nil, false, nil
					}
					s = broadcast(col, rows)
					break
				}
				src, col, found := st.lookupColumn(tfKey, assetID, ref.ColumnName())
				if !found {
					return nil, false, nil
				}
				if sameIndex(src.Index(), base.Index()) {
					s = col
					break
				}
				tmp := table.New(src.Index())
				_ = tmp.AddColumn(name, col)
				s, _ = colOrNil(tmp.AlignTo(base.Index()), name)
			}

			if s == nil {
				return nil, false, nil
			}
			if err := input.AddColumn(name, s); err != nil {
				return nil, false, err
			}
		}
	}
	return input, true, nil
}

func (o *Orchestrator) failNode(st *state, v *graph.ValidatedNode, assetID string, err error) {
	st.markNodeFailed(v.Node.ID)
	st.recordError(v.Node.ID, assetID, err)
	if v.Meta.IsScalar() {
		st.failed.Add(1)
	} else {
		st.failed.Add(int64(len(st.assets)))
	}
	o.dispatcher.Emit(events.NodeFailed{Base: events.Stamp(), NodeID: v.Node.ID, AssetID: assetID, Err: err})
	o.maybeAbort(st)
}

func (o *Orchestrator) failAsset(st *state, v *graph.ValidatedNode, assetID string, err error) {
	st.markAssetFailed(v.Node.ID, assetID)
	st.recordError(v.Node.ID, assetID, err)
	st.failed.Add(1)
	o.dispatcher.Emit(events.NodeFailed{Base: events.Stamp(), NodeID: v.Node.ID, AssetID: assetID, Err: err})
	o.maybeAbort(st)
}

func (o *Orchestrator) skipAsset(st *state, v *graph.ValidatedNode, assetID, reason string) {
	st.markAssetFailed(v.Node.ID, assetID)
	st.skipped.Add(1)
	o.dispatcher.Emit(events.NodeSkipped{Base: events.Stamp(), NodeID: v.Node.ID, Reason: reason})
}

func (o *Orchestrator) warn(v *graph.ValidatedNode, assetID, format string, args ...any) {
	o.dispatcher.Emit(events.NodeWarning{
		Base:    events.Stamp(),
		NodeID:  v.Node.ID,
		Message: "asset " + assetID + ": " + fmt.Sprintf(format, args...),
	})
}

func (o *Orchestrator) maybeAbort(st *state) {
	if o.policy.FailFast && st.cancel != nil {
		st.cancel()
	}
}

func defaultOutputHandle(v *graph.ValidatedNode) string {
	if len(v.Meta.Outputs) > 0 {
		return v.Meta.Outputs[0].ID
	}
	return metadata.Result
}

func inputColumnName(handle string, i int) string {
	if i == 0 {
		return handle
	}
	return handle + "#" + strconv.Itoa(i)
}

func colOrNil(t *table.Table, name string) (*table.Series, bool) {
	s, ok := t.Column(name)
	return s, ok
}
