// Package cse implements common-subexpression elimination over a compiled
// node list: structurally identical nodes collapse into one canonical
// instance and every reference to a removed node is redirected. Merged
// nodes are provably equivalent computations, so executed output is
// unchanged while node count only shrinks.
package cse

import (
	"context"
	"encoding/binary"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/openquant/flowscript/internal/compiler"
	"github.com/openquant/flowscript/internal/ctxlog"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/node"
)

// Optimizer deduplicates one compilation result at a time against a shared
// operation registry.
type Optimizer struct {
	registry *metadata.Registry

	// hash is swappable so tests can force collisions and exercise the
	// full-equality fallback.
	hash func(n *node.Node, ignoreTimeframeAndSession bool) uint64
}

// New builds an optimizer over the given registry.
func New(registry *metadata.Registry) *Optimizer {
	return &Optimizer{registry: registry, hash: semanticHash}
}

// Optimize merges duplicate nodes in place and rewrites references. It
// returns the number of nodes removed; a second run over the same result
// always returns zero.
func (o *Optimizer) Optimize(ctx context.Context, res *compiler.Result) int {
	log := ctxlog.FromContext(ctx)

	// canonical maps a removed id to its surviving replacement.
	canonical := make(map[string]string)
	// buckets groups candidate duplicates by semantic hash. A hash match is
	// never trusted on its own: full structural equality decides.
	type candidate struct {
		n        *node.Node
		agnostic bool
	}
	buckets := make(map[uint64][]candidate)

	kept := res.Nodes[:0]
	for _, n := range res.Nodes {
		// Nodes arrive in dependency order, so every id a node references
		// has already been processed. Rewriting before hashing lets chained
		// duplicates collapse in a single pass.
		rewriteRefs(n, canonical)

		if o.excluded(n) {
			kept = append(kept, n)
			continue
		}
		agnostic := o.timeframeAgnostic(n)
		h := o.hash(n, agnostic)

		merged := false
		for _, c := range buckets[h] {
			if c.agnostic == agnostic && c.n.Equivalent(n, agnostic) {
				canonical[n.ID] = c.n.ID
				merged = true
				break
			}
		}
		if merged {
			continue
		}
		buckets[h] = append(buckets[h], candidate{n: n, agnostic: agnostic})
		kept = append(kept, n)
	}

	if len(canonical) == 0 {
		res.Nodes = kept
		return 0
	}

	// Schema strings are not input wiring and may point at nodes that appear
	// later in the list, so they are only rewritten once the canonical map is
	// complete.
	for _, n := range kept {
		rewriteSchemaOptions(n, o.registry, canonical)
	}

	for id := range canonical {
		delete(res.UsedIDs, id)
	}
	res.Nodes = kept

	log.Debug("common subexpressions eliminated",
		"removed", len(canonical), "remaining", len(kept))
	return len(canonical)
}

// excluded reports whether a node may never merge: executors carry side
// effects per instance, and aliases are distinct user-visible bindings.
func (o *Optimizer) excluded(n *node.Node) bool {
	if n.Type == metadata.AliasID {
		return true
	}
	meta, ok := o.registry.Lookup(n.Type)
	return ok && meta.Category == metadata.CategoryExecutor
}

// timeframeAgnostic reports whether the node's kind ignores timeframe and
// session for comparison purposes.
func (o *Optimizer) timeframeAgnostic(n *node.Node) bool {
	meta, ok := o.registry.Lookup(n.Type)
	return ok && meta.IsScalar()
}

// semanticHash folds a node's merge-relevant fields into one digest, in
// fixed field order. The fold is order-sensitive, not a commutative sum,
// but collisions remain possible; callers must verify full equality on any
// match.
func semanticHash(n *node.Node, ignoreTimeframeAndSession bool) uint64 {
	d := xxhash.New()
	writeField(d, 't', n.Type)

	optKeys := make([]string, 0, len(n.Options))
	for k := range n.Options {
		optKeys = append(optKeys, k)
	}
	sort.Strings(optKeys)
	for _, k := range optKeys {
		writeField(d, 'o', k)
		writeField(d, 'v', node.LiteralString(n.Options[k]))
	}

	handles := make([]string, 0, len(n.Inputs))
	for h := range n.Inputs {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	for _, h := range handles {
		writeField(d, 'i', h)
		for _, v := range n.Inputs[h] {
			if v.IsRef() {
				writeHashed(d, 0, v.Ref.Ref())
			} else {
				writeHashed(d, 1, v.CanonicalString())
			}
		}
	}

	if !ignoreTimeframeAndSession {
		if n.TimeFrame != nil {
			writeField(d, 'f', n.TimeFrame.String())
		}
		if n.Session != nil {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], n.Session.Hash())
			_, _ = d.Write([]byte{'s'})
			_, _ = d.Write(buf[:])
		}
	}
	return d.Sum64()
}

func writeField(d *xxhash.Digest, tag byte, s string) {
	_, _ = d.Write([]byte{tag})
	_, _ = d.WriteString(s)
	_, _ = d.Write([]byte{0})
}

// writeHashed folds an input item as its tag plus the hash of its
// canonical string, matching the per-item treatment of references and
// literals.
func writeHashed(d *xxhash.Digest, tag byte, s string) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxhash.Sum64String(s))
	_, _ = d.Write([]byte{tag})
	_, _ = d.Write(buf[:])
}

// rewriteRefs redirects reference inputs pointing at removed nodes to the
// canonical survivor, keeping the handle unchanged.
func rewriteRefs(n *node.Node, canonical map[string]string) {
	for _, values := range n.Inputs {
		for i, v := range values {
			if !v.IsRef() {
				continue
			}
			if target, ok := canonical[v.Ref.NodeID]; ok {
				values[i] = node.NewRef(target, v.Ref.Handle)
			}
		}
	}
}

// rewriteSchemaOptions rewrites serialized "<node_id>#" cross-references
// embedded in structured schema options, which wire nodes outside the
// normal input mechanism. It runs after identification: unlike input
// references, schema strings carry no dependency-order guarantee.
func rewriteSchemaOptions(n *node.Node, registry *metadata.Registry, canonical map[string]string) {
	meta, ok := registry.Lookup(n.Type)
	if !ok {
		return
	}
	for key, v := range n.Options {
		spec, ok := meta.Option(key)
		if !ok || spec.Type != metadata.OptionSchema {
			continue
		}
		rewritten, err := cty.Transform(v, func(_ cty.Path, val cty.Value) (cty.Value, error) {
			if val.IsNull() || val.Type() != cty.String {
				return val, nil
			}
			s := val.AsString()
			for oldID, newID := range canonical {
				s = strings.ReplaceAll(s, oldID+node.RefSeparator, newID+node.RefSeparator)
			}
			return cty.StringVal(s), nil
		})
		if err == nil {
			n.Options[key] = rewritten
		}
	}
}
