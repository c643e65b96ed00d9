package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/node"
	"github.com/openquant/flowscript/internal/timeframe"
)

func smaNode(id string) *node.Node {
	n := node.New(id, "sma")
	n.Options["period"] = cty.NumberIntVal(10)
	n.AddInput(metadata.Arg, node.NewRef("src", "c"))
	tf := timeframe.MustParse("1D")
	n.TimeFrame = &tf
	return n
}

func TestInsertIsIdempotent(t *testing.T) {
	m := NewManager(metadata.Builtin())
	first, err := m.Insert(smaNode("fast"))
	require.NoError(t, err)

	again, err := m.Insert(smaNode("fast"))
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, m.Len())
}

func TestInsertValidates(t *testing.T) {
	m := NewManager(metadata.Builtin())

	unknown := node.New("x", "frobnicate")
	_, err := m.Insert(unknown)
	assert.ErrorContains(t, err, "not registered")

	tf := timeframe.MustParse("1D")

	missing := node.New("fast", "sma")
	missing.TimeFrame = &tf
	missing.AddInput(metadata.Arg, node.NewRef("src", "c"))
	_, err = m.Insert(missing)
	assert.ErrorContains(t, err, `required option "period"`)

	noInput := node.New("slow", "sma")
	noInput.TimeFrame = &tf
	noInput.Options["period"] = cty.NumberIntVal(30)
	_, err = m.Insert(noInput)
	assert.ErrorContains(t, err, `required input "arg"`)

	noFrame := smaNode("bare")
	noFrame.TimeFrame = nil
	_, err = m.Insert(noFrame)
	assert.ErrorContains(t, err, "no resolved timeframe")
}

func TestScalarNodesNeedNoTimeframe(t *testing.T) {
	m := NewManager(metadata.Builtin())
	n := node.New("five", "number")
	n.Options["value"] = cty.NumberIntVal(5)

	v, err := m.Insert(n)
	require.NoError(t, err)
	assert.Equal(t, timeframe.Default, v.TimeFrame())
}

func TestInsertNamedRejectsTakenIDs(t *testing.T) {
	m := NewManager(metadata.Builtin())
	_, err := m.InsertNamed("fast", smaNode("fast"))
	require.NoError(t, err)

	_, err = m.InsertNamed("fast", smaNode("other"))
	assert.ErrorContains(t, err, "already registered")
}

func TestInsertNamedClonesOnRename(t *testing.T) {
	m := NewManager(metadata.Builtin())
	original := smaNode("fast")

	v, err := m.InsertNamed("renamed", original)
	require.NoError(t, err)
	assert.Equal(t, "renamed", v.Node.ID)
	assert.Equal(t, "fast", original.ID)
}

func TestByColumn(t *testing.T) {
	m := NewManager(metadata.Builtin())
	v, err := m.Insert(smaNode("fast"))
	require.NoError(t, err)

	got, ok := m.ByColumn("fast#result")
	require.True(t, ok)
	assert.Same(t, v, got)

	_, ok = m.ByColumn("fast#nope")
	assert.False(t, ok)
}

func TestOrderedPreservesInsertionOrder(t *testing.T) {
	m := NewManager(metadata.Builtin())
	for _, id := range []string{"a", "b", "c"} {
		_, err := m.Insert(smaNode(id))
		require.NoError(t, err)
	}
	var ids []string
	for _, v := range m.Ordered() {
		ids = append(ids, v.Node.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestMerge(t *testing.T) {
	a := NewManager(metadata.Builtin())
	_, err := a.Insert(smaNode("fast"))
	require.NoError(t, err)

	b := NewManager(metadata.Builtin())
	_, err = b.Insert(smaNode("slow"))
	require.NoError(t, err)

	require.NoError(t, a.Merge(b))
	assert.Equal(t, 2, a.Len())
	_, ok := a.Lookup("slow")
	assert.True(t, ok)

	// Colliding ids fail the merge.
	c := NewManager(metadata.Builtin())
	_, err = c.Insert(smaNode("fast"))
	require.NoError(t, err)
	assert.Error(t, a.Merge(c))
}
