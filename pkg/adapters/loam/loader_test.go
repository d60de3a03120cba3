package loam_test

import (
	"context"
	"testing"

	"github.com/aretw0/loam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/internal/testutils"
	loamAdapter "github.com/aretw0/canopy/pkg/adapters/loam"
	"github.com/aretw0/canopy/pkg/schema"
)

func seed(t *testing.T, files map[string]string) *loamAdapter.Loader {
	t.Helper()
	_, repo := testutils.NodeRepo(t, files)
	return loamAdapter.New(loam.NewTypedRepository[loamAdapter.NodeMetadata](repo))
}

func TestLoader_Load(t *testing.T) {
	l := seed(t, map[string]string{
		"triage.md": `---
description: Front desk
state:
  topic: string?
  attempts: int
initial:
  attempts: 0
transitions: [escalate]
packs: [notes]
metadata:
  x:
    command: run
script:
  - say: "on it"
---
Route the customer to the right desk.`,
		"notes.md": `---
kind: pack
state:
  items: [string]
commands: [note]
---`,
		"researcher.md": `---
id: researcher.md
worker: true
---
Dig.`,
	})

	defs, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, defs.Nodes, 2)
	require.Len(t, defs.Packs, 1)

	nodes := map[string]int{}
	for i, n := range defs.Nodes {
		nodes[n.ID] = i
	}
	require.Contains(t, nodes, "triage")
	require.Contains(t, nodes, "researcher", "extensions are trimmed from explicit ids")

	triage := defs.Nodes[nodes["triage"]]
	assert.Contains(t, triage.Instructions, "Route the customer")
	assert.Equal(t, "Front desk", triage.Description)
	assert.Equal(t, "run", triage.Metadata["x-command"])
	assert.Contains(t, triage.Transitions, "escalate")
	assert.NoError(t, schema.Validate(triage.StateSchema, triage.InitialState))
	assert.True(t, defs.Nodes[nodes["researcher"]].Worker)

	assert.Equal(t, "notes", defs.Packs[0].Name)
	assert.Contains(t, defs.Packs[0].Commands, "note")

	scripts, err := l.Scripts(context.Background())
	require.NoError(t, err)
	require.Len(t, scripts["triage"], 1)
	assert.Equal(t, "on it", scripts["triage"][0].Say)
}

func TestLoader_DetectsCollisions(t *testing.T) {
	l := seed(t, map[string]string{
		"foo.md":   "---\nid: foo\n---\nA",
		"other.md": "---\nid: foo.md\n---\nB",
	})
	_, err := l.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collision detected")
}

func TestLoader_UnknownKind(t *testing.T) {
	l := seed(t, map[string]string{"x.md": "---\nkind: widget\n---\n"})
	_, err := l.Load(context.Background())
	assert.ErrorContains(t, err, "unknown kind")
}
