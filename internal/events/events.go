// Package events defines the lifecycle events the orchestrator emits and a
// thread-safe dispatcher that fans them out to subscribers. Worker
// goroutines emit concurrently; the dispatcher serializes nothing beyond
// its own subscriber list, so handlers must be fast or hand off.
package events

import "time"

// Kind identifies an event type for filtering.
type Kind string

const (
	KindPipelineStarted   Kind = "pipeline_started"
	KindPipelineCompleted Kind = "pipeline_completed"
	KindPipelineFailed    Kind = "pipeline_failed"
	KindPipelineCancelled Kind = "pipeline_cancelled"
	KindNodeStarted       Kind = "node_started"
	KindNodeCompleted     Kind = "node_completed"
	KindNodeFailed        Kind = "node_failed"
	KindNodeSkipped       Kind = "node_skipped"
	KindNodeWarning       Kind = "node_warning"
	KindProgress          Kind = "progress"
)

// Event is implemented by every event type.
type Event interface {
	EventKind() Kind
	At() time.Time
}

type Base struct {
	Timestamp time.Time
}

func (b Base) At() time.Time { return b.Timestamp }

// PipelineStarted is emitted once when execution begins.
type PipelineStarted struct {
	Base
	TotalNodes  int
	TotalAssets int
	NodeIDs     []string
}

func (PipelineStarted) EventKind() Kind { return KindPipelineStarted }

// PipelineCompleted is emitted when every node has finished.
type PipelineCompleted struct {
	Base
	Duration       time.Duration
	NodesSucceeded int
	NodesFailed    int
	NodesSkipped   int
}

func (PipelineCompleted) EventKind() Kind { return KindPipelineCompleted }

// PipelineFailed is emitted when a fail-fast policy aborts the run.
type PipelineFailed struct {
	Base
	Duration time.Duration
	Err      error
}

func (PipelineFailed) EventKind() Kind { return KindPipelineFailed }

// PipelineCancelled is emitted when cooperative cancellation stops the run.
type PipelineCancelled struct {
	Base
	Duration       time.Duration
	NodesCompleted int
	NodesTotal     int
}

func (PipelineCancelled) EventKind() Kind { return KindPipelineCancelled }

// NodeStarted is emitted when a worker picks up a node.
type NodeStarted struct {
	Base
	NodeID           string
	Name             string
	IsCrossSectional bool
	AssetCount       int
}

func (NodeStarted) EventKind() Kind { return KindNodeStarted }

// NodeCompleted is emitted when a node finishes across all assets.
type NodeCompleted struct {
	Base
	NodeID   string
	Duration time.Duration
}

func (NodeCompleted) EventKind() Kind { return KindNodeCompleted }

// NodeFailed is emitted per failing (node, asset) pair; AssetID is empty
// for node-level failures.
type NodeFailed struct {
	Base
	NodeID  string
	AssetID string
	Err     error
}

func (NodeFailed) EventKind() Kind { return KindNodeFailed }

// NodeSkipped is emitted when a node is not executed, with the reason.
type NodeSkipped struct {
	Base
	NodeID string
	Reason string
}

func (NodeSkipped) EventKind() Kind { return KindNodeSkipped }

// NodeWarning carries non-fatal diagnostics (missing inputs, empty frames).
type NodeWarning struct {
	Base
	NodeID  string
	Message string
}

func (NodeWarning) EventKind() Kind { return KindNodeWarning }

// Progress reports overall completion percentage.
type Progress struct {
	Base
	Percent   float64
	Completed int
	Total     int
	Running   []string
}

func (Progress) EventKind() Kind { return KindProgress }

// Stamp returns a Base carrying the current time.
func Stamp() Base { return Base{Timestamp: time.Now()} }
