// Package node defines the canonical representation of one operation
// instance in a compiled strategy graph: its type, options, input wiring,
// timeframe, and session. Nodes are created by the compiler, mutated by the
// timeframe resolver and the CSE optimizer, then frozen by the graph
// manager.
package node

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/openquant/flowscript/internal/session"
	"github.com/openquant/flowscript/internal/timeframe"
)

// RefSeparator joins a node id and an output handle into the canonical
// reference string "<node_id>#<handle>", which doubles as the output's
// column name in result tables.
const RefSeparator = "#"

// NodeReference points at another node's named output.
type NodeReference struct {
	NodeID string
	Handle string
}

// Ref returns the canonical "<node_id>#<handle>" string.
func (r NodeReference) Ref() string {
	return r.NodeID + RefSeparator + r.Handle
}

// ColumnName is the table column a reference resolves to. It is the same
// string as Ref; the alias exists to keep call sites self-describing.
func (r NodeReference) ColumnName() string {
	return r.Ref()
}

// SplitRef parses a canonical reference string. A string without a
// separator is treated as a bare node id with an empty handle.
func SplitRef(ref string) NodeReference {
	if i := strings.Index(ref, RefSeparator); i >= 0 {
		return NodeReference{NodeID: ref[:i], Handle: ref[i+1:]}
	}
	return NodeReference{NodeID: ref}
}

// InputValue is a tagged union: either a reference to another node's output
// or a literal constant. Exactly one of the two fields is set.
type InputValue struct {
	Ref     *NodeReference
	Literal *cty.Value
}

// NewRef wraps a node reference as an input value.
func NewRef(nodeID, handle string) InputValue {
	return InputValue{Ref: &NodeReference{NodeID: nodeID, Handle: handle}}
}

// NewLiteral wraps a constant as an input value.
func NewLiteral(v cty.Value) InputValue {
	return InputValue{Literal: &v}
}

// IsRef reports whether the value is a node reference.
func (v InputValue) IsRef() bool { return v.Ref != nil }

// IsLiteral reports whether the value is a literal constant.
func (v InputValue) IsLiteral() bool { return v.Literal != nil }

// CanonicalString returns the value's canonical string form: the reference
// string for references, the literal's canonical rendering otherwise.
func (v InputValue) CanonicalString() string {
	if v.IsRef() {
		return v.Ref.Ref()
	}
	if v.IsLiteral() {
		return LiteralString(*v.Literal)
	}
	return ""
}

// Equal reports structural equality of two input values.
func (v InputValue) Equal(other InputValue) bool {
	if v.IsRef() != other.IsRef() || v.IsLiteral() != other.IsLiteral() {
		return false
	}
	if v.IsRef() {
		return *v.Ref == *other.Ref
	}
	if v.IsLiteral() {
		return v.Literal.RawEquals(*other.Literal)
	}
	return true
}

// LiteralString renders a cty value deterministically: numbers in shortest
// decimal form, strings quoted, booleans as true/false, collections in key
// order.
func LiteralString(v cty.Value) string {
	if v.IsNull() {
		return "null"
	}
	switch {
	case v.Type() == cty.Number:
		return v.AsBigFloat().Text('g', -1)
	case v.Type() == cty.String:
		return fmt.Sprintf("%q", v.AsString())
	case v.Type() == cty.Bool:
		if v.True() {
			return "true"
		}
		return "false"
	case v.Type().IsObjectType() || v.Type().IsMapType():
		attrs := v.AsValueMap()
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%q:%s", k, LiteralString(attrs[k])))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case v.Type().IsTupleType() || v.Type().IsListType():
		parts := make([]string, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			parts = append(parts, LiteralString(ev))
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return v.GoString()
	}
}

// Node is one operation instance.
type Node struct {
	ID      string
	Type    string
	Options map[string]cty.Value
	Inputs  map[string][]InputValue

	// TimeFrame is nil until resolved. Scalar-category nodes may stay nil
	// through execution; every other node must carry a resolved timeframe
	// before reaching the orchestrator.
	TimeFrame *timeframe.TimeFrame
	Session   *session.Session
}

// New returns a node with allocated option and input maps.
func New(id, typ string) *Node {
	return &Node{
		ID:      id,
		Type:    typ,
		Options: make(map[string]cty.Value),
		Inputs:  make(map[string][]InputValue),
	}
}

// AddInput appends a value to the named input handle.
func (n *Node) AddInput(handle string, v InputValue) {
	n.Inputs[handle] = append(n.Inputs[handle], v)
}

// InputRefs returns every node reference wired into the node, flattened
// across handles. Literals are skipped.
func (n *Node) InputRefs() []NodeReference {
	var refs []NodeReference
	for _, values := range n.Inputs {
		for _, v := range values {
			if v.IsRef() {
				refs = append(refs, *v.Ref)
			}
		}
	}
	return refs
}

// WiredInputCount counts input values across all handles.
func (n *Node) WiredInputCount() int {
	count := 0
	for _, values := range n.Inputs {
		count += len(values)
	}
	return count
}

// OutputColumn returns the column name this node produces for the given
// output handle.
func (n *Node) OutputColumn(handle string) string {
	return NodeReference{NodeID: n.ID, Handle: handle}.Ref()
}

// Equivalent reports structural equality of everything except the id. Used
// by the CSE optimizer as the full-equality fallback on a hash match, and
// therefore must compare every merge-relevant field.
func (n *Node) Equivalent(other *Node, ignoreTimeframeAndSession bool) bool {
	if n.Type != other.Type {
		return false
	}
	if len(n.Options) != len(other.Options) {
		return false
	}
	for k, v := range n.Options {
		ov, ok := other.Options[k]
		if !ok || !v.RawEquals(ov) {
			return false
		}
	}
	if len(n.Inputs) != len(other.Inputs) {
		return false
	}
	for handle, values := range n.Inputs {
		otherValues, ok := other.Inputs[handle]
		if !ok || len(values) != len(otherValues) {
			return false
		}
		for i, v := range values {
			if !v.Equal(otherValues[i]) {
				return false
			}
		}
	}
	if ignoreTimeframeAndSession {
		return true
	}
	if (n.TimeFrame == nil) != (other.TimeFrame == nil) {
		return false
	}
	if n.TimeFrame != nil && !n.TimeFrame.Equal(*other.TimeFrame) {
		return false
	}
	if (n.Session == nil) != (other.Session == nil) {
		return false
	}
	if n.Session != nil && !n.Session.Equal(other.Session) {
		return false
	}
	return true
}

// Equal reports full structural equality, id included.
func (n *Node) Equal(other *Node) bool {
	return n.ID == other.ID && n.Equivalent(other, false)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	out := New(n.ID, n.Type)
	for k, v := range n.Options {
		out.Options[k] = v
	}
	for handle, values := range n.Inputs {
		copied := make([]InputValue, len(values))
		copy(copied, values)
		out.Inputs[handle] = copied
	}
	if n.TimeFrame != nil {
		tf := *n.TimeFrame
		out.TimeFrame = &tf
	}
	if n.Session != nil {
		s := *n.Session
		if n.Session.Range != nil {
			r := *n.Session.Range
			s.Range = &r
		}
		out.Session = &s
	}
	return out
}
