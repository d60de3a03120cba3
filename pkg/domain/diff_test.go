package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	prev := &Step{
		Index: 0,
		Instance: &Instance{
			ID: "root", Node: primaryNode, State: map[string]any{"a": 1, "gone": true},
			Children: []*Instance{
				{ID: "w1", Node: workerNode, State: map[string]any{}},
				{ID: "w2", Node: workerNode, State: map[string]any{}},
			},
		},
	}
	next := &Step{
		Index:       1,
		YieldReason: YieldSuspend,
		History:     []Message{NewTextMessage(RoleAssistant, "x")},
		Instance: &Instance{
			ID: "root", Node: primaryNode, State: map[string]any{"a": 2},
			Children: []*Instance{
				{ID: "w1", Node: workerNode, State: map[string]any{}, Suspended: &SuspendInfo{SuspendID: "s"}},
				{ID: "w3", Node: workerNode, State: map[string]any{"fresh": "yes"}},
			},
		},
	}

	d := Diff(prev, next)
	assert.Equal(t, []string{"w3"}, d.Added)
	assert.Equal(t, []string{"w2"}, d.Removed)
	assert.Equal(t, []string{"w1"}, d.Suspended)
	assert.Equal(t, map[string]any{"a": 2, "gone": nil}, d.State["root"])
	assert.Equal(t, map[string]any{"fresh": "yes"}, d.State["w3"])
	assert.Equal(t, 1, d.Messages)
	assert.False(t, d.IsEmpty())
}

func TestDiff_InitialAndUnchanged(t *testing.T) {
	s := &Step{Instance: &Instance{ID: "root", Node: primaryNode, State: map[string]any{"k": "v"}}}

	initial := Diff(nil, s)
	assert.Equal(t, []string{"root"}, initial.Added)

	same := Diff(s, &Step{Instance: s.Instance.Clone()})
	assert.True(t, same.IsEmpty())
	assert.Nil(t, Diff(s, nil))
}
