package dsl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/pkg/adapters/scripted"
	"github.com/aretw0/canopy/pkg/charter"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/dsl"
	"github.com/aretw0/canopy/pkg/schema"
)

func refund() *domain.Command {
	return &domain.Command{
		Name: "refund",
		Handler: func(_ context.Context, cc domain.CommandContext, _ map[string]any) (domain.Effect, error) {
			return &domain.Value{Value: "refunded " + cc.InstanceID()}, nil
		},
	}
}

func TestBuilder_Build(t *testing.T) {
	memory := &domain.Pack{Name: "memory", InitialState: map[string]any{"facts": []any{}}}
	b := dsl.New("support").
		Executor(charter.DefaultExecutor, scripted.New()).
		Pack(memory)

	b.Node("triage").
		Description("Front desk").
		Instructions("Route the customer.").
		State(schema.Schema{"topic": "string"}, map[string]any{"topic": "unknown"}).
		Go("to_billing", "billing").
		Packs("memory").
		Meta("team", "support").
		Node("billing").
		Instructions("Resolve billing questions.").
		Command(refund()).
		Node("research").
		Worker()

	ch, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"triage", "billing", "research"}, ch.Nodes())
	assert.Equal(t, []string{"memory"}, ch.Packs())

	triage, err := ch.ResolveNode("triage")
	require.NoError(t, err)
	assert.Equal(t, "Route the customer.", triage.Instructions)
	assert.Equal(t, "support", triage.Metadata["team"])
	require.Contains(t, triage.Transitions, "to_billing")

	research, err := ch.ResolveNode("research")
	require.NoError(t, err)
	assert.True(t, research.Worker)

	// Go transitions move the instance and keep its state.
	inst := &domain.Instance{ID: "i1", Node: triage, State: map[string]any{"topic": "invoice"}}
	eff, err := triage.Transitions["to_billing"].Invoke(context.Background(), inst, nil)
	require.NoError(t, err)
	to, ok := eff.(*domain.TransitionTo)
	require.True(t, ok)
	assert.Equal(t, "billing", to.Ref)
	assert.Equal(t, "invoice", to.State["topic"])

	// Attached code is registered by name so restored nodes re-attach it.
	_, err = ch.ResolveTransition("to_billing")
	assert.NoError(t, err)
}

func TestBuilder_RunsOnEngine(t *testing.T) {
	b := dsl.New("desk").Executor(charter.DefaultExecutor, scripted.New())
	b.Node("billing").Command(refund())
	ch, err := b.Build()
	require.NoError(t, err)

	eng, err := canopy.New(ch)
	require.NoError(t, err)
	m, err := eng.Start("billing", nil)
	require.NoError(t, err)

	res, err := eng.RunCommand(context.Background(), m, "refund", nil, "")
	require.NoError(t, err)
	assert.Contains(t, res.Value, "refunded ")
}

func TestBuilder_Errors(t *testing.T) {
	t.Run("missing executor", func(t *testing.T) {
		b := dsl.New("x")
		b.Node("a")
		_, err := b.Build()
		assert.Error(t, err)
	})

	t.Run("unknown pack", func(t *testing.T) {
		b := dsl.New("x").Executor(charter.DefaultExecutor, scripted.New())
		b.Node("a").Packs("nope")
		_, err := b.Build()
		var re *domain.ResolutionError
		assert.ErrorAs(t, err, &re)
	})

	t.Run("conflicting definitions", func(t *testing.T) {
		b := dsl.New("x").Executor(charter.DefaultExecutor, scripted.New())
		b.Node("a").Command(refund())
		b.Node("b").Command(refund())
		_, err := b.Build()
		assert.ErrorContains(t, err, `command "refund" defined twice`)
	})

	t.Run("shared definitions", func(t *testing.T) {
		shared := refund()
		b := dsl.New("x").Executor(charter.DefaultExecutor, scripted.New())
		b.Node("a").Command(shared)
		b.Node("b").Command(shared)
		_, err := b.Build()
		assert.NoError(t, err)
	})
}
