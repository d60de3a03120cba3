package charter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

func noopExecutor() ports.Executor {
	return ports.ExecutorFunc(func(context.Context, *ports.RunRequest) (*ports.RunResult, error) {
		return &ports.RunResult{YieldReason: domain.YieldEndTurn}, nil
	})
}

func TestRegisterNode_AssignsIDAndRejectsDuplicates(t *testing.T) {
	c := New("support")
	triage := &domain.Node{Instructions: "route the user"}

	require.NoError(t, c.RegisterNode("triage", triage))
	assert.Equal(t, "triage", triage.ID)

	err := c.RegisterNode("triage-again", triage)
	assert.ErrorIs(t, err, ErrDuplicateNode)

	err = c.RegisterNode("clone", &domain.Node{ID: "triage"})
	assert.ErrorIs(t, err, ErrDuplicateNode)

	got, err := c.ResolveNode("triage")
	require.NoError(t, err)
	assert.Same(t, triage, got)
}

func TestRegisterNode_FailureLeavesIDUnset(t *testing.T) {
	c := New("support")
	require.NoError(t, c.RegisterNode("triage", &domain.Node{ID: "router"}))

	byName := &domain.Node{}
	err := c.RegisterNode("triage", byName)
	require.Error(t, err)
	assert.Empty(t, byName.ID)

	byID := &domain.Node{}
	err = c.RegisterNode("router", byID)
	assert.ErrorIs(t, err, ErrDuplicateNode)
	assert.Empty(t, byID.ID)

	require.NoError(t, c.RegisterNode("billing", byName))
	assert.Equal(t, "billing", byName.ID)
}

func TestResolve_ReportsMissingRefs(t *testing.T) {
	c := New("support")

	_, err := c.ResolveNode("ghost")
	var re *domain.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, domain.RefNode, re.Kind)
	assert.Equal(t, "ghost", re.Ref)

	_, err = c.ResolvePack("memory")
	require.ErrorAs(t, err, &re)
	assert.Equal(t, domain.RefPack, re.Kind)

	_, err = c.ExecutorFor(&domain.Node{ID: "x"})
	require.ErrorAs(t, err, &re)
	assert.Equal(t, DefaultExecutor, re.Ref)
}

func TestNameOf_IsByIdentity(t *testing.T) {
	c := New("support")
	registered := &domain.Node{ID: "agent"}
	require.NoError(t, c.RegisterNode("main-agent", registered))

	name, ok := c.NameOf(registered)
	assert.True(t, ok)
	assert.Equal(t, "main-agent", name)

	lookalike := &domain.Node{ID: "agent"}
	_, ok = c.NameOf(lookalike)
	assert.False(t, ok)

	_, ok = c.NameOf(&domain.Node{ID: "inline"})
	assert.False(t, ok)
}

func TestReattach_RestoresKnownBodies(t *testing.T) {
	c := New("support")
	lookup := &domain.Tool{Name: "lookup", Handler: func(context.Context, map[string]any) (any, error) { return "ok", nil }}
	require.NoError(t, c.RegisterTool(lookup))
	require.NoError(t, c.RegisterTransition(&domain.Transition{
		Name: "finish",
		Execute: func(context.Context, *domain.Instance, map[string]any) (domain.Effect, error) {
			return &domain.Cede{}, nil
		},
	}))

	stub := &domain.Node{
		ID:          "inline",
		Tools:       map[string]*domain.Tool{"lookup": {Name: "lookup"}, "unknown": {Name: "unknown"}},
		Transitions: map[string]*domain.Transition{"finish": {Name: "finish"}},
	}

	bound := c.Reattach(stub)
	assert.True(t, bound.Tools["lookup"].Executable())
	assert.False(t, bound.Tools["unknown"].Executable())
	assert.True(t, bound.Transitions["finish"].Executable())
	assert.False(t, stub.Tools["lookup"].Executable(), "input must not be modified")
}

func TestCommandFor_SearchesPacks(t *testing.T) {
	c := New("support")
	remember := &domain.Command{Name: "remember"}
	require.NoError(t, c.RegisterPack(&domain.Pack{
		Name:     "memory",
		Commands: map[string]*domain.Command{"remember": remember},
		Tools:    map[string]*domain.Tool{"recall": {Name: "recall"}, "shared": {Name: "shared", Description: "pack"}},
	}))

	node := &domain.Node{
		ID:       "agent",
		Packs:    []string{"memory"},
		Commands: map[string]*domain.Command{"reset": {Name: "reset"}},
		Tools:    map[string]*domain.Tool{"shared": {Name: "shared", Description: "node"}},
	}

	cmd, pack, err := c.CommandFor(node, "remember")
	require.NoError(t, err)
	assert.Same(t, remember, cmd)
	assert.Equal(t, "memory", pack)

	_, pack, err = c.CommandFor(node, "reset")
	require.NoError(t, err)
	assert.Empty(t, pack)

	_, _, err = c.CommandFor(node, "nope")
	var re *domain.ResolutionError
	assert.ErrorAs(t, err, &re)

	tools, err := c.ToolsFor(node)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "recall", tools[0].Name)
	assert.Equal(t, "node", tools[1].Description)
}

func TestInitialPackStates(t *testing.T) {
	c := New("support")
	require.NoError(t, c.RegisterPack(&domain.Pack{Name: "memory", InitialState: map[string]any{"facts": []any{}}}))
	require.NoError(t, c.RegisterPack(&domain.Pack{Name: "billing"}))

	root := &domain.Instance{
		ID:   "root",
		Node: &domain.Node{ID: "a", Packs: []string{"memory"}},
		Children: []*domain.Instance{
			{ID: "c", Node: &domain.Node{ID: "b", Packs: []string{"billing", "memory"}}},
		},
	}

	states, err := c.InitialPackStates(root, map[string]map[string]any{"memory": {"facts": []any{"kept"}}})
	require.NoError(t, err)
	assert.Equal(t, []any{"kept"}, states["memory"]["facts"])
	assert.Equal(t, map[string]any{}, states["billing"])

	root.Node.Packs = []string{"missing"}
	_, err = c.InitialPackStates(root, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := New("support")
	require.NoError(t, c.RegisterNode("agent", &domain.Node{Packs: []string{"memory"}, Executor: "llm"}))

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory")
	assert.Contains(t, err.Error(), "llm")

	require.NoError(t, c.RegisterPack(&domain.Pack{Name: "memory"}))
	require.NoError(t, c.RegisterExecutor("llm", noopExecutor()))
	assert.NoError(t, c.Validate())
}

func TestBind(t *testing.T) {
	c := New("support")
	require.NoError(t, c.RegisterCommand(&domain.Command{
		Name: "reset",
		Handler: func(context.Context, domain.CommandContext, map[string]any) (domain.Effect, error) {
			return &domain.Value{}, nil
		},
	}))

	err := c.Bind(&ports.Definitions{
		Packs: []*domain.Pack{{Name: "memory", Commands: map[string]*domain.Command{"reset": {Name: "reset"}}}},
		Nodes: []*domain.Node{{ID: "agent", Commands: map[string]*domain.Command{"reset": {Name: "reset"}}}},
	})
	require.NoError(t, err)

	n, err := c.ResolveNode("agent")
	require.NoError(t, err)
	assert.True(t, n.Commands["reset"].Executable())

	p, err := c.ResolvePack("memory")
	require.NoError(t, err)
	assert.True(t, p.Commands["reset"].Executable())

	name, ok := c.NameOf(n)
	assert.True(t, ok)
	assert.Equal(t, "agent", name)
}
