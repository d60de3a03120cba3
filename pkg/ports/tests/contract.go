// Package tests holds contract suites shared by adapter tests.
package tests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// SampleStep builds a small but complete wire step for store tests.
func SampleStep(index int) *codec.WireStep {
	return &codec.WireStep{
		Index:       index,
		YieldReason: string(domain.YieldEndTurn),
		Done:        true,
		Instance: &codec.WireInstance{
			ID:    "root",
			Node:  codec.WireNode{Ref: "triage"},
			State: map[string]any{"topic": "billing", "count": 42},
			Children: []*codec.WireInstance{
				{ID: "w1", Node: codec.WireNode{Ref: "researcher"}, State: map[string]any{}},
			},
			PackStates: map[string]map[string]any{"memory": {"facts": []any{"a"}}},
		},
		History: []codec.WireMessage{{
			ID:     fmt.Sprintf("m-%d", index),
			Role:   string(domain.RoleAssistant),
			Items:  []codec.WireItem{{Type: string(domain.ItemText), Text: "hello"}},
			Source: &codec.WireSource{InstanceID: "root", IsPrimary: true},
		}},
	}
}

// RunStepStoreContract runs a suite of tests to verify that a StepStore
// implementation adheres to the interface contract.
func RunStepStoreContract(t *testing.T, store ports.StepStore) {
	t.Helper()
	ctx := context.Background()
	sessionID := "contract-session-" + time.Now().Format("20060102150405.000000000")

	t.Run("Append and Load", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, sessionID, SampleStep(0)))
		require.NoError(t, store.Append(ctx, sessionID, SampleStep(1), SampleStep(2)))

		steps, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, steps, 3)
		for i, s := range steps {
			assert.Equal(t, i, s.Index, "steps must come back in arrival order")
		}

		first := steps[0]
		require.NotNil(t, first.Instance)
		assert.Equal(t, "triage", first.Instance.Node.Ref)
		assert.Equal(t, "billing", first.Instance.State["topic"])
		// JSON-backed stores return numbers as float64.
		assert.EqualValues(t, 42, first.Instance.State["count"])
		require.Len(t, first.Instance.Children, 1)
		assert.Equal(t, "w1", first.Instance.Children[0].ID)
		require.Len(t, first.History, 1)
		assert.Equal(t, "hello", first.History[0].Items[0].Text)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("List", func(t *testing.T) {
		other := sessionID + "-other"
		require.NoError(t, store.Append(ctx, other, SampleStep(0)))
		defer func() { _ = store.Delete(ctx, other) }()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, sessionID)
		assert.Contains(t, sessions, other)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, sessionID))

		_, err := store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, sessions, sessionID)
	})

	t.Run("Loaded steps are private copies", func(t *testing.T) {
		id := sessionID + "-copy"
		require.NoError(t, store.Append(ctx, id, SampleStep(0)))
		defer func() { _ = store.Delete(ctx, id) }()

		steps, err := store.Load(ctx, id)
		require.NoError(t, err)
		steps[0].Instance.State["topic"] = "mutated"

		again, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "billing", again[0].Instance.State["topic"])
	})
}
