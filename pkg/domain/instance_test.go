package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/schema"
)

func TestCreateInstance_MergesInitialState(t *testing.T) {
	node := &Node{
		ID:           "triage",
		StateSchema:  schema.Schema{"topic": schema.String(), "attempts": schema.Int()},
		InitialState: map[string]any{"attempts": 0, "topic": "unknown"},
	}

	i, err := CreateInstance(node, map[string]any{"topic": "billing"}, WithInstanceID("t1"))
	require.NoError(t, err)
	assert.Equal(t, "t1", i.ID)
	assert.Equal(t, "billing", i.State["topic"])
	assert.Equal(t, 0, i.State["attempts"])

	_, err = CreateInstance(node, map[string]any{"attempts": "many"})
	require.Error(t, err)
	assert.Equal(t, "attempts", schema.FirstField(err))
}

func TestCreateInstance_GeneratesID(t *testing.T) {
	a, err := CreateInstance(&Node{ID: "n"}, nil)
	require.NoError(t, err)
	b, err := CreateInstance(&Node{ID: "n"}, nil, AsWorker(true))
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, b.IsWorker())
}

func TestClone_IsDeep(t *testing.T) {
	root := &Instance{
		ID:         "root",
		Node:       primaryNode,
		State:      map[string]any{"nested": map[string]any{"k": "v"}},
		PackStates: map[string]map[string]any{"memory": {"facts": []any{"a"}}},
		Children:   []*Instance{{ID: "c", Node: workerNode, State: map[string]any{}}},
		Inbox:      []Message{NewTextMessage(RoleCommand, "hi")},
	}

	c := root.Clone()
	c.State["nested"].(map[string]any)["k"] = "changed"
	c.PackStates["memory"]["facts"] = []any{}
	c.Children[0].ID = "other"
	c.Inbox[0].Items[0] = TextItem{Text: "bye"}

	assert.Equal(t, "v", root.State["nested"].(map[string]any)["k"])
	assert.Equal(t, []any{"a"}, root.PackStates["memory"]["facts"])
	assert.Equal(t, "c", root.Children[0].ID)
	assert.Equal(t, "hi", root.Inbox[0].Text())
}

func TestMergeState(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	out := MergeState(base, map[string]any{"b": 3, "c": 4})
	assert.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, out)
	assert.Equal(t, 2, base["b"])
}

func TestTransitionInvoke_ValidatesArgs(t *testing.T) {
	called := false
	tr := &Transition{
		Name: "escalate",
		Args: schema.Schema{"reason": schema.String()},
		Execute: func(_ context.Context, _ *Instance, args map[string]any) (Effect, error) {
			called = true
			return &Suspend{Reason: args["reason"].(string)}, nil
		},
	}

	_, err := tr.Invoke(context.Background(), inst("x", primaryNode), map[string]any{"reason": 7})
	require.Error(t, err)
	assert.Equal(t, "reason", schema.FirstField(err))
	assert.False(t, called)

	eff, err := tr.Invoke(context.Background(), inst("x", primaryNode), map[string]any{"reason": "vip"})
	require.NoError(t, err)
	assert.Equal(t, "vip", eff.(*Suspend).Reason)

	_, err = (&Transition{Name: "stub"}).Invoke(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNotExecutable)
}

func TestYieldReason_Done(t *testing.T) {
	for _, r := range []YieldReason{YieldEndTurn, YieldMaxTokens, YieldAwaitingResume} {
		assert.True(t, r.Done(), r)
	}
	for _, r := range []YieldReason{YieldToolUse, YieldCede, YieldCommand, YieldSuspend, YieldExternal} {
		assert.False(t, r.Done(), r)
	}
}

func TestMessage_ControlAndVisibility(t *testing.T) {
	assert.True(t, NewCommandMessage("reset", nil, "").IsControl())
	assert.True(t, NewResumeMessage("i", "s", nil).IsControl())
	assert.False(t, NewTextMessage(RoleUser, "hello").IsControl())

	visible := FilterVisible([]Message{
		NewTextMessage(RoleSystem, "secret prompt"),
		NewTextMessage(RoleUser, "hello"),
	})
	require.Len(t, visible, 1)
	assert.Equal(t, "hello", visible[0].Text())

	tagged := NewTextMessage(RoleAssistant, "ok").WithSource("leaf", true)
	assert.Equal(t, &Source{InstanceID: "leaf", IsPrimary: true}, tagged.Metadata.Source)
}
