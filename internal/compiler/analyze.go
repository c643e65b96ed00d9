package compiler

import (
	"sort"
	"strings"

	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/node"
)

// removeOrphans drops nodes unreachable from any sink. Keeping them would
// waste execution time on outputs nothing observes. A script with no sink
// at all has no observable effect and is rejected unless allowNoOutput is
// set.
func removeOrphans(nodes []*node.Node, registry *metadata.Registry, allowNoOutput bool) ([]*node.Node, error) {
	byID := make(map[string]*node.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	queue := make([]*node.Node, 0, len(nodes))
	for _, n := range nodes {
		meta, ok := registry.Lookup(n.Type)
		if ok && meta.IsSink() {
			queue = append(queue, n)
		}
	}
	if len(queue) == 0 {
		if allowNoOutput {
			return nodes, nil
		}
		return nil, errf(ErrNoOutput, "", "", "", "script has no output")
	}

	live := make(map[string]bool, len(nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if live[n.ID] {
			continue
		}
		live[n.ID] = true
		for _, ref := range n.InputRefs() {
			if dep, ok := byID[ref.NodeID]; ok && !live[dep.ID] {
				queue = append(queue, dep)
			}
		}
	}

	kept := make([]*node.Node, 0, len(nodes))
	for _, n := range nodes {
		if live[n.ID] {
			kept = append(kept, n)
		}
	}
	return kept, nil
}

// topoSort orders nodes so every dependency precedes its consumers, via
// Kahn's algorithm. Leftover nodes indicate a reference cycle, which is a
// compile error rather than a hang at execution time.
func topoSort(nodes []*node.Node) ([]*node.Node, error) {
	inSet := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		inSet[n.ID] = true
	}

	indegree := make(map[string]int, len(nodes))
	consumers := make(map[string][]*node.Node, len(nodes))
	for _, n := range nodes {
		seen := make(map[string]bool)
		for _, ref := range n.InputRefs() {
			if !inSet[ref.NodeID] || seen[ref.NodeID] {
				continue
			}
			seen[ref.NodeID] = true
			indegree[n.ID]++
			consumers[ref.NodeID] = append(consumers[ref.NodeID], n)
		}
	}

	queue := make([]*node.Node, 0, len(nodes))
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n)
		}
	}

	ordered := make([]*node.Node, 0, len(nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		ordered = append(ordered, n)
		for _, consumer := range consumers[n.ID] {
			indegree[consumer.ID]--
			if indegree[consumer.ID] == 0 {
				queue = append(queue, consumer)
			}
		}
	}

	if len(ordered) != len(nodes) {
		var cyclic []string
		for _, n := range nodes {
			if indegree[n.ID] > 0 {
				cyclic = append(cyclic, n.ID)
			}
		}
		sort.Strings(cyclic)
		return nil, errf(ErrCycle, cyclic[0], "", "",
			"reference cycle involving: %s", strings.Join(cyclic, ", "))
	}
	return ordered, nil
}
