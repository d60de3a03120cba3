package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	primaryNode = &Node{ID: "primary"}
	workerNode  = &Node{ID: "worker", Worker: true}
)

func inst(id string, node *Node, children ...*Instance) *Instance {
	return &Instance{ID: id, Node: node, State: map[string]any{}, Children: children}
}

func ids(leaves []Leaf) []string {
	out := make([]string, 0, len(leaves))
	for _, l := range leaves {
		out = append(out, l.Instance.ID)
	}
	return out
}

func TestActiveLeaves_LeftToRight(t *testing.T) {
	root := inst("root", primaryNode,
		inst("a", primaryNode,
			inst("a1", workerNode),
			inst("a2", primaryNode),
		),
		inst("b", workerNode),
		inst("c", workerNode, inst("c1", workerNode)),
	)

	leaves := ActiveLeaves(root)
	assert.Equal(t, []string{"a1", "a2", "b", "c1"}, ids(leaves))
	assert.Equal(t, []int{0, 1}, leaves[1].Path)
	assert.Equal(t, []int{2, 0}, leaves[3].Path)
	assert.True(t, leaves[0].Worker)
	assert.False(t, leaves[1].Worker)
}

func TestActiveLeaves_ExcludesSuspended(t *testing.T) {
	suspended := inst("s", workerNode)
	suspended.Suspended = &SuspendInfo{SuspendID: "x", SuspendedAt: time.Now()}
	frozen := inst("f", primaryNode, inst("f1", workerNode))
	frozen.Suspended = &SuspendInfo{SuspendID: "y"}

	root := inst("root", primaryNode, inst("p", primaryNode), suspended, frozen)

	assert.Equal(t, []string{"p"}, ids(ActiveLeaves(root)))
	assert.Equal(t, []string{"s", "f"}, ids(SuspendedInstances(root)))
}

func TestActiveLeaves_RootLeaf(t *testing.T) {
	root := inst("root", primaryNode)
	leaves := ActiveLeaves(root)
	require.Len(t, leaves, 1)
	assert.Empty(t, leaves[0].Path)
	assert.Len(t, PrimaryLeaves(leaves), 1)
}

func TestWorkerOverride(t *testing.T) {
	w := true
	i := inst("x", primaryNode)
	i.Worker = &w
	assert.True(t, i.IsWorker())
	assert.Len(t, PrimaryLeaves(ActiveLeaves(i)), 0)
}

func TestFindAndAncestors(t *testing.T) {
	root := inst("root", primaryNode, inst("a", primaryNode, inst("a1", workerNode)))

	found, path, ok := Find(root, "a1")
	require.True(t, ok)
	assert.Equal(t, "a1", found.ID)
	assert.Equal(t, []int{0, 0}, path)

	chain := Ancestors(root, path)
	require.Len(t, chain, 2)
	assert.Equal(t, "root", chain[0].ID)
	assert.Equal(t, "a", chain[1].ID)

	at, ok := At(root, []int{0})
	require.True(t, ok)
	assert.Equal(t, "a", at.ID)

	_, _, ok = Find(root, "missing")
	assert.False(t, ok)
	assert.Equal(t, 3, Count(root))
}
