// Package graph binds compiled nodes to their operation metadata and
// indexes the result for execution. A Manager freezes one compilation into
// ValidatedNodes; the orchestrator treats the set as immutable for the
// duration of one run.
package graph

import (
	"fmt"

	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/node"
	"github.com/openquant/flowscript/internal/timeframe"
)

// ValidatedNode is a node merged with its metadata record after required
// option, required input, and session checks pass.
type ValidatedNode struct {
	Node *node.Node
	Meta *metadata.Meta
}

// TimeFrame returns the node's resolved timeframe. Scalar-category nodes
// without one report the filler interval, which is never read at runtime.
func (v *ValidatedNode) TimeFrame() timeframe.TimeFrame {
	if v.Node.TimeFrame != nil {
		return *v.Node.TimeFrame
	}
	return timeframe.Default
}

// OutputColumns lists every table column the node produces.
func (v *ValidatedNode) OutputColumns() []string {
	cols := make([]string, 0, len(v.Meta.Outputs))
	for _, out := range v.Meta.Outputs {
		cols = append(cols, v.Node.OutputColumn(out.ID))
	}
	return cols
}

// Manager is a keyed collection of ValidatedNodes, indexed by id and by
// produced output-column name.
type Manager struct {
	registry *metadata.Registry
	order    []string
	byID     map[string]*ValidatedNode
	byColumn map[string]*ValidatedNode
}

// NewManager builds an empty manager over the given registry.
func NewManager(registry *metadata.Registry) *Manager {
	return &Manager{
		registry: registry,
		byID:     make(map[string]*ValidatedNode),
		byColumn: make(map[string]*ValidatedNode),
	}
}

// Insert validates and stores a node. Re-inserting an existing id is a
// no-op returning the existing entry.
func (m *Manager) Insert(n *node.Node) (*ValidatedNode, error) {
	if existing, ok := m.byID[n.ID]; ok {
		return existing, nil
	}
	return m.insert(n)
}

// InsertNamed stores a node under a fresh id, failing if the id is already
// taken.
func (m *Manager) InsertNamed(name string, n *node.Node) (*ValidatedNode, error) {
	if _, ok := m.byID[name]; ok {
		return nil, fmt.Errorf("node id %q is already registered", name)
	}
	if n.ID != name {
		n = n.Clone()
		n.ID = name
	}
	return m.insert(n)
}

func (m *Manager) insert(n *node.Node) (*ValidatedNode, error) {
	meta, ok := m.registry.Lookup(n.Type)
	if !ok {
		return nil, fmt.Errorf("node %q: operation type %q is not registered", n.ID, n.Type)
	}
	if n.TimeFrame == nil && !meta.IsScalar() {
		return nil, fmt.Errorf("node %q (%s) has no resolved timeframe", n.ID, n.Type)
	}
	for _, opt := range meta.Options {
		if !opt.Required {
			continue
		}
		if _, set := n.Options[opt.ID]; !set {
			return nil, fmt.Errorf("node %q (%s): missing required option %q", n.ID, n.Type, opt.ID)
		}
	}
	for _, in := range meta.Inputs {
		if in.Required && len(n.Inputs[in.ID]) == 0 {
			return nil, fmt.Errorf("node %q (%s): missing required input %q", n.ID, n.Type, in.ID)
		}
	}
	if meta.AtLeastOneInputRequired && n.WiredInputCount() == 0 {
		return nil, fmt.Errorf("node %q (%s): at least one input must be wired", n.ID, n.Type)
	}
	if n.Session != nil {
		if err := n.Session.Validate(); err != nil {
			return nil, fmt.Errorf("node %q (%s): %w", n.ID, n.Type, err)
		}
	}

	v := &ValidatedNode{Node: n, Meta: meta}
	m.byID[n.ID] = v
	m.order = append(m.order, n.ID)
	for _, col := range v.OutputColumns() {
		m.byColumn[col] = v
	}
	return v, nil
}

// Lookup returns the entry for the given node id.
func (m *Manager) Lookup(id string) (*ValidatedNode, bool) {
	v, ok := m.byID[id]
	return v, ok
}

// ByColumn returns the entry owning the given output column.
func (m *Manager) ByColumn(column string) (*ValidatedNode, bool) {
	v, ok := m.byColumn[column]
	return v, ok
}

// Ordered returns the entries in insertion order, which preserves the
// compiler's topological order when nodes are inserted from a compilation
// result.
func (m *Manager) Ordered() []*ValidatedNode {
	out := make([]*ValidatedNode, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

// Len returns the number of stored nodes.
func (m *Manager) Len() int { return len(m.order) }

// Merge deep-copies another manager's nodes into this one as fresh entries,
// composing independently compiled sub-graphs into one executable unit.
func (m *Manager) Merge(other *Manager) error {
	for _, v := range other.Ordered() {
		if _, err := m.InsertNamed(v.Node.ID, v.Node.Clone()); err != nil {
			return err
		}
	}
	return nil
}
