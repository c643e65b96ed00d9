// Package compiler turns strategy-script source text into a validated,
// dependency-ordered node list. Scripts are HCL attribute bodies: each
// top-level attribute binds a name to an expression, call expressions
// matching a registered operation kind become nodes, operators map to their
// operator node kinds, and a trailing object-literal argument carries
// options. Compilation is all-or-nothing.
package compiler

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/openquant/flowscript/internal/ctxlog"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/node"
	"github.com/openquant/flowscript/internal/session"
	"github.com/openquant/flowscript/internal/timeframe"
)

// Reserved option keys available on every call expression.
const (
	optTimeframe = "timeframe"
	optSession   = "session"
)

// callAliases maps script-level call names onto operation ids where the two
// differ.
var callAliases = map[string]string{
	"market_data":  metadata.MarketDataSourceID,
	"trade_signal": metadata.TradeSignalExecutorID,
}

var binaryOps = map[*hclsyntax.Operation]string{
	hclsyntax.OpGreaterThan:        "gt",
	hclsyntax.OpLessThan:           "lt",
	hclsyntax.OpGreaterThanOrEqual: "gte",
	hclsyntax.OpLessThanOrEqual:    "lte",
	hclsyntax.OpEqual:              "eq",
	hclsyntax.OpNotEqual:           "neq",
	hclsyntax.OpAdd:                "add",
	hclsyntax.OpSubtract:           "subtract",
	hclsyntax.OpMultiply:           "multiply",
	hclsyntax.OpDivide:             "divide",
	hclsyntax.OpLogicalAnd:         "logical_and",
	hclsyntax.OpLogicalOr:          "logical_or",
}

var unaryOps = map[*hclsyntax.Operation]string{
	hclsyntax.OpNegate:     "negate",
	hclsyntax.OpLogicalNot: "logical_not",
}

// Options tunes compilation behavior.
type Options struct {
	// AllowNoOutput compiles scripts without a sink node instead of
	// rejecting them. Used when compiling report sub-graphs that are merged
	// into a larger unit later.
	AllowNoOutput bool
}

// Result is the compiler's output: the ordered, validated node list plus
// the set of ids it considers live. The CSE optimizer shrinks both.
type Result struct {
	Nodes   []*node.Node
	UsedIDs map[string]struct{}
}

// Compiler compiles scripts against one shared operation registry.
type Compiler struct {
	registry *metadata.Registry
	opts     Options
}

// New builds a compiler over the given registry.
func New(registry *metadata.Registry, opts Options) *Compiler {
	return &Compiler{registry: registry, opts: opts}
}

// Compile parses and compiles one script. On any failure it returns a
// *Error and no node list.
func (c *Compiler) Compile(ctx context.Context, filename string, src []byte) (*Result, error) {
	log := ctxlog.FromContext(ctx)

	file, diags := hclsyntax.ParseConfig(src, filename, hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, errf(ErrParse, "", "", "", "%s", diags.Error())
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, errf(ErrParse, "", "", "", "unexpected body type %T", file.Body)
	}
	if len(body.Blocks) > 0 {
		b := body.Blocks[0]
		return nil, errf(ErrParse, "", "", "", "unexpected block %q at %s", b.Type, b.DefRange().String())
	}

	u := &unit{
		registry: c.registry,
		byID:     make(map[string]*node.Node),
		bindings: make(map[string]node.NodeReference),
		literals: make(map[string]cty.Value),
	}

	for _, attr := range sourceOrdered(body.Attributes) {
		if err := u.compileBinding(attr); err != nil {
			return nil, err
		}
	}
	log.Debug("script compiled", "file", filename, "nodes", len(u.nodes))

	nodes, err := removeOrphans(u.nodes, c.registry, c.opts.AllowNoOutput)
	if err != nil {
		return nil, err
	}
	nodes, err = topoSort(nodes)
	if err != nil {
		return nil, err
	}
	if err := resolveTimeframes(nodes, c.registry); err != nil {
		return nil, err
	}
	if err := validate(nodes, c.registry); err != nil {
		return nil, err
	}
	log.Debug("graph validated", "file", filename, "nodes", len(nodes))

	used := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		used[n.ID] = struct{}{}
	}
	return &Result{Nodes: nodes, UsedIDs: used}, nil
}

// sourceOrdered returns the body's attributes in declaration order. The
// hclsyntax parser hands them back as a map.
func sourceOrdered(attrs hclsyntax.Attributes) []*hclsyntax.Attribute {
	out := make([]*hclsyntax.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, attr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SrcRange.Start.Byte < out[j].SrcRange.Start.Byte
	})
	return out
}

// unit is the mutable state of one compilation.
type unit struct {
	registry *metadata.Registry
	nodes    []*node.Node
	byID     map[string]*node.Node
	bindings map[string]node.NodeReference
	literals map[string]cty.Value
	seq      int
}

// compileBinding handles one top-level `name = expr` attribute.
func (u *unit) compileBinding(attr *hclsyntax.Attribute) error {
	name := attr.Name
	if _, dup := u.bindings[name]; dup {
		return errf(ErrParse, name, "", "", "name %q is bound twice", name)
	}
	if _, dup := u.literals[name]; dup {
		return errf(ErrParse, name, "", "", "name %q is bound twice", name)
	}

	switch expr := unparen(attr.Expr).(type) {
	case *hclsyntax.ScopeTraversalExpr:
		// Rebinding an existing output. An alias node keeps the binding
		// user-visible, so it is exempt from CSE merging.
		ref, err := u.resolveTraversal(expr.Traversal)
		if err != nil {
			return err
		}
		n := node.New(name, metadata.AliasID)
		n.AddInput(metadata.Arg, node.InputValue{Ref: &ref})
		if err := u.register(n); err != nil {
			return err
		}
		u.bindings[name] = node.NodeReference{NodeID: name, Handle: metadata.Result}
		return nil

	case *hclsyntax.LiteralValueExpr, *hclsyntax.TemplateExpr:
		v, err := staticValue(attr.Expr)
		if err != nil {
			return err
		}
		u.literals[name] = v
		return nil

	default:
		val, _, err := u.compileExpr(attr.Expr, name)
		if err != nil {
			return err
		}
		switch {
		case val.IsRef():
			u.bindings[name] = *val.Ref
		case val.IsLiteral():
			u.literals[name] = *val.Literal
		}
		// Sinks bind nothing; the name only anchors the statement.
		return nil
	}
}

// compileExpr compiles one expression into an input value. preferredID
// names the produced node when the expression sits directly on the right of
// a binding; nested sub-expressions get generated ids.
func (u *unit) compileExpr(expr hclsyntax.Expression, preferredID string) (node.InputValue, metadata.DataType, error) {
	switch e := unparen(expr).(type) {
	case *hclsyntax.LiteralValueExpr, *hclsyntax.TemplateExpr:
		v, err := staticValue(e)
		if err != nil {
			return node.InputValue{}, "", err
		}
		return node.NewLiteral(v), literalType(v), nil

	case *hclsyntax.ScopeTraversalExpr:
		if len(e.Traversal) == 1 {
			if v, ok := u.literals[e.Traversal.RootName()]; ok {
				return node.NewLiteral(v), literalType(v), nil
			}
		}
		ref, err := u.resolveTraversal(e.Traversal)
		if err != nil {
			return node.InputValue{}, "", err
		}
		return node.InputValue{Ref: &ref}, u.outputType(ref), nil

	case *hclsyntax.FunctionCallExpr:
		return u.compileCall(e, preferredID)

	case *hclsyntax.BinaryOpExpr:
		typ, ok := binaryOps[e.Op]
		if !ok {
			return node.InputValue{}, "", errf(ErrParse, preferredID, "", "",
				"unsupported binary operator at %s", e.SrcRange.String())
		}
		return u.compileOperator(typ, preferredID, []hclsyntax.Expression{e.LHS, e.RHS})

	case *hclsyntax.UnaryOpExpr:
		typ, ok := unaryOps[e.Op]
		if !ok {
			return node.InputValue{}, "", errf(ErrParse, preferredID, "", "",
				"unsupported unary operator at %s", e.SrcRange.String())
		}
		// Fold negation of a numeric literal instead of emitting a node.
		if typ == "negate" {
			if lit, ok := unparen(e.Val).(*hclsyntax.LiteralValueExpr); ok && lit.Val.Type() == cty.Number {
				f := lit.Val.AsBigFloat()
				return node.NewLiteral(cty.NumberVal(f.Neg(f))), metadata.Decimal, nil
			}
		}
		return u.compileOperator(typ, preferredID, []hclsyntax.Expression{e.Val})

	default:
		return node.InputValue{}, "", errf(ErrParse, preferredID, "", "",
			"unsupported expression at %s", expr.Range().String())
	}
}

// compileOperator builds a node for an operator expression, wiring operands
// positionally.
func (u *unit) compileOperator(typ, preferredID string, operands []hclsyntax.Expression) (node.InputValue, metadata.DataType, error) {
	meta, ok := u.registry.Lookup(typ)
	if !ok {
		return node.InputValue{}, "", errf(ErrUnknownOperationType, preferredID, typ, "",
			"operation type %q is not registered", typ)
	}
	n := node.New(u.allocID(preferredID, typ), typ)
	for i, operand := range operands {
		if i >= len(meta.Inputs) {
			return node.InputValue{}, "", errf(ErrParse, n.ID, typ, "",
				"too many operands for %s", typ)
		}
		val, valType, err := u.compileExpr(operand, "")
		if err != nil {
			return node.InputValue{}, "", err
		}
		val, err = u.coerce(n, meta.Inputs[i], val, valType)
		if err != nil {
			return node.InputValue{}, "", err
		}
		n.AddInput(meta.Inputs[i].ID, val)
	}
	if err := u.register(n); err != nil {
		return node.InputValue{}, "", err
	}
	out := defaultOutput(meta)
	ref := node.NodeReference{NodeID: n.ID, Handle: out.ID}
	return node.InputValue{Ref: &ref}, out.Type, nil
}

// compileCall builds a node for a call expression. Positional arguments map
// to declared input slots in order; a trailing object literal carries
// options, the reserved timeframe/session keys, and keyword-wired inputs.
func (u *unit) compileCall(call *hclsyntax.FunctionCallExpr, preferredID string) (node.InputValue, metadata.DataType, error) {
	typ := call.Name
	if alias, ok := callAliases[typ]; ok {
		typ = alias
	}
	meta, ok := u.registry.Lookup(typ)
	if !ok || meta.InternalUse {
		return node.InputValue{}, "", errf(ErrUnknownOperationType, preferredID, call.Name, "",
			"operation type %q is not registered", call.Name)
	}

	n := node.New(u.allocID(preferredID, typ), typ)

	args := call.Args
	var opts *hclsyntax.ObjectConsExpr
	if len(args) > 0 {
		if obj, ok := unparen(args[len(args)-1]).(*hclsyntax.ObjectConsExpr); ok {
			opts = obj
			args = args[:len(args)-1]
		}
	}

	slot := 0
	for _, arg := range args {
		if slot >= len(meta.Inputs) {
			if len(meta.Inputs) > 0 && meta.Inputs[len(meta.Inputs)-1].AllowMultiple {
				slot = len(meta.Inputs) - 1
			} else {
				return node.InputValue{}, "", errf(ErrParse, n.ID, typ, "",
					"too many arguments for %s", call.Name)
			}
		}
		spec := meta.Inputs[slot]
		val, valType, err := u.compileExpr(arg, "")
		if err != nil {
			return node.InputValue{}, "", err
		}
		val, err = u.coerce(n, spec, val, valType)
		if err != nil {
			return node.InputValue{}, "", err
		}
		n.AddInput(spec.ID, val)
		slot++
	}

	if opts != nil {
		if err := u.applyOptions(n, meta, opts); err != nil {
			return node.InputValue{}, "", err
		}
	}

	if err := u.register(n); err != nil {
		return node.InputValue{}, "", err
	}
	if meta.IsSink() {
		return node.InputValue{}, "", nil
	}
	out := defaultOutput(meta)
	ref := node.NodeReference{NodeID: n.ID, Handle: out.ID}
	return node.InputValue{Ref: &ref}, out.Type, nil
}

// applyOptions decodes the trailing object literal of a call: reserved
// timeframe/session keys, keyword-wired input slots, then declared options.
func (u *unit) applyOptions(n *node.Node, meta *metadata.Meta, obj *hclsyntax.ObjectConsExpr) error {
	for _, item := range obj.Items {
		key, err := objectKey(item.KeyExpr)
		if err != nil {
			return errf(ErrParse, n.ID, n.Type, "", "%s", err)
		}

		switch key {
		case optTimeframe:
			raw, err := staticValue(item.ValueExpr)
			if err != nil || raw.Type() != cty.String {
				return errf(ErrMissingTimeframe, n.ID, n.Type, optTimeframe,
					"timeframe must be a string such as \"5Min\" or \"1D\"")
			}
			tf, perr := timeframe.Parse(raw.AsString())
			if perr != nil {
				return errf(ErrMissingTimeframe, n.ID, n.Type, optTimeframe, "%s", perr)
			}
			n.TimeFrame = &tf
			continue

		case optSession:
			raw, err := staticValue(item.ValueExpr)
			if err != nil || raw.Type() != cty.String {
				return errf(ErrInvalidSessionRange, n.ID, n.Type, optSession,
					"session must be a named session or an \"HH:MM-HH:MM\" range")
			}
			s, perr := parseSession(raw.AsString())
			if perr != nil {
				return errf(ErrInvalidSessionRange, n.ID, n.Type, optSession, "%s", perr)
			}
			n.Session = s
			continue
		}

		if spec, ok := meta.Input(key); ok {
			val, valType, err := u.compileExpr(item.ValueExpr, "")
			if err != nil {
				return err
			}
			val, err = u.coerce(n, spec, val, valType)
			if err != nil {
				return err
			}
			n.AddInput(spec.ID, val)
			continue
		}

		spec, ok := meta.Option(key)
		if !ok {
			return errf(ErrInvalidOption, n.ID, n.Type, key,
				"%s has no option or input %q", n.Type, key)
		}
		v, err := staticValue(item.ValueExpr)
		if err != nil {
			if lit, ok := u.literalBinding(item.ValueExpr); ok {
				v = lit
			} else {
				return errf(ErrInvalidOption, n.ID, n.Type, key,
					"option %q must be a constant", key)
			}
		}
		if err := checkOption(spec, v); err != nil {
			return errf(ErrInvalidOption, n.ID, n.Type, key, "%s", err)
		}
		n.Options[key] = v
	}
	return nil
}

// literalBinding resolves an option value that is a bare reference to a
// top-level literal binding.
func (u *unit) literalBinding(expr hclsyntax.Expression) (cty.Value, bool) {
	trav, ok := unparen(expr).(*hclsyntax.ScopeTraversalExpr)
	if !ok || len(trav.Traversal) != 1 {
		return cty.NilVal, false
	}
	v, ok := u.literals[trav.Traversal.RootName()]
	return v, ok
}

// coerce checks an input value against its declared slot type and inserts
// automatic casts where legal. Literal numbers convert in place; node
// references get a cast node. String values never coerce.
func (u *unit) coerce(n *node.Node, spec metadata.IOSpec, val node.InputValue, valType metadata.DataType) (node.InputValue, error) {
	switch spec.Type {
	case metadata.Boolean:
		switch valType {
		case metadata.Boolean, metadata.Any:
			return val, nil
		case metadata.String:
			return node.InputValue{}, errf(ErrInvalidTypeCast, n.ID, n.Type, spec.ID,
				"Cannot use type String where Boolean is required")
		default:
			if val.IsLiteral() {
				f := val.Literal.AsBigFloat()
				return node.NewLiteral(cty.BoolVal(f.Sign() != 0)), nil
			}
			return u.insertCast(metadata.StaticCastBooleanID, val), nil
		}

	case metadata.Decimal, metadata.Number, metadata.Integer:
		switch valType {
		case metadata.Decimal, metadata.Number, metadata.Integer, metadata.Any, metadata.Timestamp:
			return val, nil
		case metadata.String:
			return node.InputValue{}, errf(ErrInvalidTypeCast, n.ID, n.Type, spec.ID,
				"Cannot use type String where %s is required", spec.Type)
		case metadata.Boolean:
			if val.IsLiteral() {
				if val.Literal.True() {
					return node.NewLiteral(cty.NumberIntVal(1)), nil
				}
				return node.NewLiteral(cty.NumberIntVal(0)), nil
			}
			return u.insertCast(metadata.StaticCastDecimalID, val), nil
		}
		return val, nil

	default:
		return val, nil
	}
}

// insertCast materializes a cast node over the given reference and returns
// a reference to the cast's output.
func (u *unit) insertCast(castType string, val node.InputValue) node.InputValue {
	n := node.New(u.allocID("", castType), castType)
	n.AddInput(metadata.Arg, val)
	// The id is generated, so registration cannot collide.
	u.nodes = append(u.nodes, n)
	u.byID[n.ID] = n
	return node.NewRef(n.ID, metadata.Result)
}

// resolveTraversal maps `name` or `name.handle` to a node reference.
func (u *unit) resolveTraversal(trav hcl.Traversal) (node.NodeReference, error) {
	root := trav.RootName()
	bound, ok := u.bindings[root]
	if !ok {
		return node.NodeReference{}, errf(ErrUnknownReference, "", "", root,
			"%q is not bound", root)
	}
	if len(trav) == 1 {
		return bound, nil
	}
	attr, ok := trav[1].(hcl.TraverseAttr)
	if !ok || len(trav) > 2 {
		return node.NodeReference{}, errf(ErrUnknownReference, bound.NodeID, "", root,
			"unsupported reference form at %s", trav.SourceRange().String())
	}
	producer, ok := u.byID[bound.NodeID]
	if !ok {
		return node.NodeReference{}, errf(ErrUnknownReference, bound.NodeID, "", root,
			"%q does not name a node", root)
	}
	meta, _ := u.registry.Lookup(producer.Type)
	if meta != nil {
		if _, ok := meta.Output(attr.Name); !ok {
			return node.NodeReference{}, errf(ErrUnknownReference, producer.ID, producer.Type, attr.Name,
				"%s has no output %q", producer.Type, attr.Name)
		}
	}
	return node.NodeReference{NodeID: bound.NodeID, Handle: attr.Name}, nil
}

// outputType looks up the declared type of a reference's output handle.
func (u *unit) outputType(ref node.NodeReference) metadata.DataType {
	producer, ok := u.byID[ref.NodeID]
	if !ok {
		return metadata.Any
	}
	meta, ok := u.registry.Lookup(producer.Type)
	if !ok {
		return metadata.Any
	}
	if out, ok := meta.Output(ref.Handle); ok {
		return out.Type
	}
	return metadata.Any
}

// register appends a node, rejecting id collisions.
func (u *unit) register(n *node.Node) error {
	if _, exists := u.byID[n.ID]; exists {
		return errf(ErrParse, n.ID, n.Type, "", "node id %q is already taken", n.ID)
	}
	u.nodes = append(u.nodes, n)
	u.byID[n.ID] = n
	return nil
}

// allocID returns the preferred id when given, otherwise a fresh generated
// one derived from the type.
func (u *unit) allocID(preferred, typ string) string {
	if preferred != "" {
		return preferred
	}
	for {
		u.seq++
		id := fmt.Sprintf("%s_%d", typ, u.seq)
		if _, taken := u.byID[id]; !taken {
			return id
		}
	}
}

// defaultOutput is the output slot a bare reference resolves to.
func defaultOutput(meta *metadata.Meta) metadata.IOSpec {
	if len(meta.Outputs) == 0 {
		return metadata.IOSpec{ID: metadata.Result, Type: metadata.Any}
	}
	return meta.Outputs[0]
}

func unparen(expr hclsyntax.Expression) hclsyntax.Expression {
	for {
		p, ok := expr.(*hclsyntax.ParenthesesExpr)
		if !ok {
			return expr
		}
		expr = p.Expression
	}
}

// staticValue evaluates an expression that must be fully constant.
func staticValue(expr hclsyntax.Expression) (cty.Value, error) {
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("expected a constant value: %s", diags.Error())
	}
	return v, nil
}

// objectKey extracts an object item's key. Naked identifiers and quoted
// strings are both accepted.
func objectKey(expr hclsyntax.Expression) (string, error) {
	v, diags := expr.Value(nil)
	if diags.HasErrors() || v.Type() != cty.String {
		return "", fmt.Errorf("object keys must be identifiers or strings")
	}
	return v.AsString(), nil
}

func literalType(v cty.Value) metadata.DataType {
	switch {
	case v.IsNull():
		return metadata.Any
	case v.Type() == cty.Number:
		return metadata.Decimal
	case v.Type() == cty.String:
		return metadata.String
	case v.Type() == cty.Bool:
		return metadata.Boolean
	default:
		return metadata.Any
	}
}

// parseSession accepts a named session or an explicit "HH:MM-HH:MM" range.
func parseSession(raw string) (*session.Session, error) {
	var start, end session.TimeOfDay
	if n, _ := fmt.Sscanf(raw, "%d:%d-%d:%d", &start.Hour, &start.Minute, &end.Hour, &end.Minute); n == 4 {
		s := &session.Session{Range: &session.Range{Start: start, End: end}}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		return s, nil
	}
	s := &session.Session{Named: raw}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
