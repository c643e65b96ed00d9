// Package orchestrator executes a validated strategy graph over per-asset,
// per-timeframe input tables. Nodes run in dependency order on a worker
// pool; within one node, assets fan out in parallel. A node failing for one
// asset only blocks that asset's downstream continuation; other assets and
// independent branches keep going, and the run ends with an outcome summary
// instead of a first-error abort unless the fail-fast policy is set.
package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openquant/flowscript/internal/ctxlog"
	"github.com/openquant/flowscript/internal/events"
	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/report"
	"github.com/openquant/flowscript/internal/table"
	"github.com/openquant/flowscript/internal/transforms"
)

// Asset identifies one instrument in the universe.
type Asset struct {
	ID     string
	Ticker string
	Class  string
	Sector string
}

// Input is the externally loaded data one run consumes: the asset universe
// and a base table per (timeframe, asset). Timeframes key by their
// canonical string, e.g. "1D".
type Input struct {
	Assets []Asset
	Tables map[string]map[string]*table.Table
}

// Policy tunes run-wide behavior.
type Policy struct {
	// FailFast aborts the whole run on the first node failure.
	FailFast bool
	// Workers caps concurrent node execution; zero means NumCPU.
	Workers int
}

// ExecError records the first error of one (node, asset) failure.
type ExecError struct {
	NodeID  string
	AssetID string
	Err     error
}

// Summary aggregates per-node outcome counts for one run.
type Summary struct {
	RunID     string
	Duration  time.Duration
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []ExecError
}

// Output is everything a run produces.
type Output struct {
	// Tables holds the updated per-(timeframe, asset) tables: the original
	// columns plus every node's output columns.
	Tables  map[string]map[string]*table.Table
	Reports map[string]*report.Report
	Markers map[string][]report.EventMarkerData
	Summary Summary
}

// Orchestrator executes one manager's graph. The manager and factory are
// read-only for the duration of a run.
type Orchestrator struct {
	manager    *graph.Manager
	factory    *transforms.Factory
	dispatcher *events.Dispatcher
	policy     Policy
}

// New builds an orchestrator. The dispatcher may be nil when no one
// listens.
func New(manager *graph.Manager, factory *transforms.Factory, dispatcher *events.Dispatcher, policy Policy) *Orchestrator {
	if dispatcher == nil {
		dispatcher = events.NewDispatcher()
	}
	return &Orchestrator{
		manager:    manager,
		factory:    factory,
		dispatcher: dispatcher,
		policy:     policy,
	}
}

// Run executes the graph. The returned error is non-nil only for setup
// failures, fail-fast aborts, and cancellation; per-node runtime failures
// land in the summary instead.
func (o *Orchestrator) Run(ctx context.Context, in *Input) (*Output, error) {
	log := ctxlog.FromContext(ctx)
	started := time.Now()
	runID := uuid.NewString()

	nodes := o.manager.Ordered()
	for _, v := range nodes {
		if v.Node.TimeFrame == nil && !v.Meta.IsScalar() {
			// The compiler guarantees this never happens; reaching it means
			// the graph bypassed validation.
			return nil, fmt.Errorf("node %q (%s) reached execution without a timeframe", v.Node.ID, v.Node.Type)
		}
	}

	st, err := newState(o, in, nodes)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	st.cancel = cancel

	o.dispatcher.Emit(events.PipelineStarted{
		Base:        events.Stamp(),
		TotalNodes:  len(nodes),
		TotalAssets: len(in.Assets),
		NodeIDs:     nodeIDs(nodes),
	})
	log.Info("pipeline started", "run_id", runID, "nodes", len(nodes), "assets", len(in.Assets))

	o.execute(runCtx, st, nodes)

	duration := time.Since(started)
	summary := Summary{
		RunID:     runID,
		Duration:  duration,
		Succeeded: int(st.succeeded.Load()),
		Failed:    int(st.failed.Load()),
		Skipped:   int(st.skipped.Load()),
		Errors:    st.takeErrors(),
	}
	out := &Output{
		Tables:  st.tables,
		Reports: st.reports,
		Markers: st.markers,
		Summary: summary,
	}

	switch {
	case ctx.Err() != nil:
		o.dispatcher.Emit(events.PipelineCancelled{
			Base:           events.Stamp(),
			Duration:       duration,
			NodesCompleted: summary.Succeeded + summary.Failed,
			NodesTotal:     len(nodes),
		})
		return out, ctx.Err()
	case o.policy.FailFast && summary.Failed > 0:
		first := summary.Errors[0]
		err := fmt.Errorf("node %q failed for asset %q: %w", first.NodeID, first.AssetID, first.Err)
		o.dispatcher.Emit(events.PipelineFailed{Base: events.Stamp(), Duration: duration, Err: err})
		return out, err
	default:
		o.dispatcher.Emit(events.PipelineCompleted{
			Base:           events.Stamp(),
			Duration:       duration,
			NodesSucceeded: summary.Succeeded,
			NodesFailed:    summary.Failed,
			NodesSkipped:   summary.Skipped,
		})
		log.Info("pipeline completed", "run_id", runID,
			"succeeded", summary.Succeeded, "failed", summary.Failed, "skipped", summary.Skipped,
			"duration", duration)
		return out, nil
	}
}

// execute drains the graph with a worker pool. Each node carries an atomic
// count of unmet dependencies; completing a node decrements its dependents
// and pushes any that reach zero onto the ready channel.
func (o *Orchestrator) execute(ctx context.Context, st *state, nodes []*graph.ValidatedNode) {
	type pending struct {
		v        *graph.ValidatedNode
		depCount atomic.Int64
	}
	byID := make(map[string]*pending, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, v := range nodes {
		byID[v.Node.ID] = &pending{v: v}
	}
	for _, v := range nodes {
		seen := make(map[string]bool)
		for _, ref := range v.Node.InputRefs() {
			if _, inGraph := byID[ref.NodeID]; !inGraph || seen[ref.NodeID] {
				continue
			}
			seen[ref.NodeID] = true
			byID[v.Node.ID].depCount.Add(1)
			dependents[ref.NodeID] = append(dependents[ref.NodeID], v.Node.ID)
		}
	}

	ready := make(chan *pending, len(nodes))
	for _, v := range nodes {
		if p := byID[v.Node.ID]; p.depCount.Load() == 0 {
			ready <- p
		}
	}

	workers := o.policy.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var remaining atomic.Int64
	remaining.Store(int64(len(nodes)))
	done := make(chan struct{})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case p := <-ready:
					o.runNode(ctx, st, p.v)
					for _, depID := range dependents[p.v.Node.ID] {
						if byID[depID].depCount.Add(-1) == 0 {
							ready <- byID[depID]
						}
					}
					if remaining.Add(-1) == 0 {
						close(done)
					}
				case <-done:
					return
				}
			}
		}()
	}
	wg.Wait()
}

func nodeIDs(nodes []*graph.ValidatedNode) []string {
	ids := make([]string, 0, len(nodes))
	for _, v := range nodes {
		ids = append(ids, v.Node.ID)
	}
	return ids
}
