package validator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/internal/validator"
	"github.com/aretw0/canopy/pkg/adapters/scripted"
	"github.com/aretw0/canopy/pkg/charter"
	"github.com/aretw0/canopy/pkg/domain"
)

func charterWith(t *testing.T, nodes ...*domain.Node) *charter.Charter {
	t.Helper()
	ch := charter.New("test")
	for _, n := range nodes {
		require.NoError(t, ch.RegisterNode(n.ID, n))
	}
	return ch
}

func TestValidate_Valid(t *testing.T) {
	ch := charterWith(t, &domain.Node{ID: "start"}, &domain.Node{ID: "a"}, &domain.Node{ID: "b"})
	scripts := map[string][]scripted.Turn{
		"start": {{Transition: "a"}},
		"a":     {{Spawn: []scripted.Child{{Ref: "b"}}}},
	}

	r := validator.Validate(ch, "start", scripts)
	assert.NoError(t, r.Err())
	assert.Empty(t, r.Warnings)
}

func TestValidate_BrokenLink(t *testing.T) {
	ch := charterWith(t, &domain.Node{ID: "start"})
	scripts := map[string][]scripted.Turn{"start": {{Transition: "ghost"}}}

	r := validator.Validate(ch, "start", scripts)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], `unknown node "ghost"`)
	assert.Error(t, r.Err())
}

func TestValidate_MissingStart(t *testing.T) {
	r := validator.Validate(charterWith(t, &domain.Node{ID: "a"}), "start", nil)
	assert.ErrorContains(t, r.Err(), `start node "start" not found`)
}

func TestValidate_UnreachableAndStubs(t *testing.T) {
	ch := charterWith(t,
		&domain.Node{
			ID:          "start",
			Tools:       map[string]*domain.Tool{"lookup": {Name: "lookup"}},
			Transitions: map[string]*domain.Transition{"escalate": {Name: "escalate"}},
		},
		&domain.Node{ID: "orphan"},
	)
	scripts := map[string][]scripted.Turn{"start": {{Say: "hi"}}}

	r := validator.Validate(ch, "start", scripts)
	assert.NoError(t, r.Err())
	assert.ElementsMatch(t, []string{
		`node "start": tool "lookup" has no implementation`,
		`node "start": transition "escalate" has no implementation`,
		`node "orphan" is not reachable from "start" by script`,
	}, r.Warnings)
}

func TestValidate_NoScriptsSkipsReachability(t *testing.T) {
	ch := charterWith(t, &domain.Node{ID: "start"}, &domain.Node{ID: "other"})
	r := validator.Validate(ch, "start", nil)
	assert.Empty(t, r.Warnings)
}
