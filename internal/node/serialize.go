package node

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"github.com/openquant/flowscript/internal/session"
	"github.com/openquant/flowscript/internal/timeframe"
)

// Wire form of a compiled graph. Round-tripping through Serialize and Parse
// reproduces an equal node set, order-independent.

type wireInput struct {
	Kind  string `yaml:"kind"` // "ref" or "literal"
	Value any    `yaml:"value"`
}

type wireNode struct {
	ID        string                 `yaml:"id"`
	Type      string                 `yaml:"type"`
	Options   map[string]any         `yaml:"options,omitempty"`
	Inputs    map[string][]wireInput `yaml:"inputs,omitempty"`
	TimeFrame string                 `yaml:"timeframe,omitempty"`
	Session   *session.Session       `yaml:"session,omitempty"`
}

type wireGraph struct {
	Nodes []wireNode `yaml:"nodes"`
}

// Serialize renders a node list as YAML. Nodes are emitted in list order;
// maps are emitted in key order for stable output.
func Serialize(nodes []*Node) ([]byte, error) {
	wire := wireGraph{Nodes: make([]wireNode, 0, len(nodes))}
	for _, n := range nodes {
		wn := wireNode{ID: n.ID, Type: n.Type}
		if len(n.Options) > 0 {
			wn.Options = make(map[string]any, len(n.Options))
			for k, v := range n.Options {
				converted, err := ctyToGo(v)
				if err != nil {
					return nil, fmt.Errorf("node %q option %q: %w", n.ID, k, err)
				}
				wn.Options[k] = converted
			}
		}
		if len(n.Inputs) > 0 {
			wn.Inputs = make(map[string][]wireInput, len(n.Inputs))
			for handle, values := range n.Inputs {
				wired := make([]wireInput, 0, len(values))
				for _, v := range values {
					if v.IsRef() {
						wired = append(wired, wireInput{Kind: "ref", Value: v.Ref.Ref()})
						continue
					}
					converted, err := ctyToGo(*v.Literal)
					if err != nil {
						return nil, fmt.Errorf("node %q input %q: %w", n.ID, handle, err)
					}
					wired = append(wired, wireInput{Kind: "literal", Value: converted})
				}
				wn.Inputs[handle] = wired
			}
		}
		if n.TimeFrame != nil {
			wn.TimeFrame = n.TimeFrame.String()
		}
		wn.Session = n.Session
		wire.Nodes = append(wire.Nodes, wn)
	}
	return yaml.Marshal(wire)
}

// Parse reads a YAML graph produced by Serialize.
func Parse(data []byte) ([]*Node, error) {
	var wire wireGraph
	if err := yaml.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parsing graph: %w", err)
	}
	nodes := make([]*Node, 0, len(wire.Nodes))
	for _, wn := range wire.Nodes {
		if wn.ID == "" || wn.Type == "" {
			return nil, fmt.Errorf("graph node missing id or type")
		}
		n := New(wn.ID, wn.Type)
		for k, v := range wn.Options {
			converted, err := goToCty(v)
			if err != nil {
				return nil, fmt.Errorf("node %q option %q: %w", wn.ID, k, err)
			}
			n.Options[k] = converted
		}
		for handle, values := range wn.Inputs {
			for _, wv := range values {
				switch wv.Kind {
				case "ref":
					ref, ok := wv.Value.(string)
					if !ok {
						return nil, fmt.Errorf("node %q input %q: ref value must be a string", wn.ID, handle)
					}
					split := SplitRef(ref)
					n.AddInput(handle, InputValue{Ref: &split})
				case "literal":
					converted, err := goToCty(wv.Value)
					if err != nil {
						return nil, fmt.Errorf("node %q input %q: %w", wn.ID, handle, err)
					}
					n.AddInput(handle, NewLiteral(converted))
				default:
					return nil, fmt.Errorf("node %q input %q: unknown kind %q", wn.ID, handle, wv.Kind)
				}
			}
		}
		if wn.TimeFrame != "" {
			tf, err := timeframe.Parse(wn.TimeFrame)
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", wn.ID, err)
			}
			n.TimeFrame = &tf
		}
		n.Session = wn.Session
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// EqualSets reports whether two node lists contain equal nodes, ignoring
// list order.
func EqualSets(a, b []*Node) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]*Node, len(a))
	for _, n := range a {
		byID[n.ID] = n
	}
	for _, n := range b {
		other, ok := byID[n.ID]
		if !ok || !other.Equal(n) {
			return false
		}
	}
	return true
}

// ctyToGo converts a cty value into plain Go data for YAML encoding.
func ctyToGo(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return f, nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			converted, err := ctyToGo(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = converted
		}
		return out, nil
	case ty.IsTupleType() || ty.IsListType():
		var out []any
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			converted, err := ctyToGo(v)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported cty type %s", ty.FriendlyName())
	}
}

// goToCty converts decoded YAML data back into a cty value.
func goToCty(v any) (cty.Value, error) {
	switch typed := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(typed), nil
	case bool:
		return cty.BoolVal(typed), nil
	case int:
		return cty.NumberIntVal(int64(typed)), nil
	case int64:
		return cty.NumberIntVal(typed), nil
	case float64:
		return cty.NumberVal(big.NewFloat(typed)), nil
	case map[string]any:
		if len(typed) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(typed))
		keys := make([]string, 0, len(typed))
		for k := range typed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			converted, err := goToCty(typed[k])
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k] = converted
		}
		return cty.ObjectVal(attrs), nil
	case []any:
		if len(typed) == 0 {
			return cty.EmptyTupleVal, nil
		}
		values := make([]cty.Value, 0, len(typed))
		for _, item := range typed {
			converted, err := goToCty(item)
			if err != nil {
				return cty.NilVal, err
			}
			values = append(values, converted)
		}
		return cty.TupleVal(values), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported value type %T", v)
	}
}
