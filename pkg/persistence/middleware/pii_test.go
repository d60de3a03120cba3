package middleware_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/persistence/middleware"
	"github.com/aretw0/canopy/pkg/ports/tests"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlying := memory.NewStore()
	mw, err := middleware.NewPIIMiddleware(middleware.PIIConfig{
		KeyPatterns:  []string{"password", "ssn"},
		TextPatterns: []string{`\d{3}-\d{2}-\d{4}`},
	})
	require.NoError(t, err)
	secure := mw(underlying)
	ctx := context.Background()

	step := tests.SampleStep(0)
	step.Instance.State["username"] = "jdoe"
	step.Instance.State["user_password"] = "secret123"
	step.Instance.State["details"] = map[string]any{
		"address":    "123 St",
		"ssn_number": "999-99-9999",
	}
	step.Instance.Children[0].State["password"] = "child-secret"
	step.Instance.PackStates["memory"]["ssn"] = "111-22-3333"
	step.History[0].Items[0].Text = "my ssn is 999-99-9999"

	require.NoError(t, secure.Append(ctx, "pii", step))
	assert.Equal(t, "secret123", step.Instance.State["user_password"], "caller's step must not change")

	stored, err := underlying.Load(ctx, "pii")
	require.NoError(t, err)
	inst := stored[0].Instance
	assert.Equal(t, "jdoe", inst.State["username"])
	assert.Equal(t, middleware.Mask, inst.State["user_password"])
	assert.Equal(t, middleware.Mask, inst.State["details"].(map[string]any)["ssn_number"])
	assert.Equal(t, "123 St", inst.State["details"].(map[string]any)["address"])
	assert.Equal(t, middleware.Mask, inst.Children[0].State["password"])
	assert.Equal(t, middleware.Mask, inst.PackStates["memory"]["ssn"])
	assert.Equal(t, "my ssn is ***", stored[0].History[0].Items[0].Text)
}

func TestPIIMiddleware_BadPattern(t *testing.T) {
	_, err := middleware.NewPIIMiddleware(middleware.PIIConfig{KeyPatterns: []string{"("}})
	assert.Error(t, err)
}

func TestChain_MasksBeforeSealing(t *testing.T) {
	underlying := memory.NewStore()
	pii, err := middleware.NewPIIMiddleware(middleware.PIIConfig{KeyPatterns: []string{"password"}})
	require.NoError(t, err)
	enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	require.NoError(t, err)
	store := middleware.Chain(underlying, pii, enc)
	ctx := context.Background()

	step := tests.SampleStep(0)
	step.Instance.State["password"] = "hunter2"
	require.NoError(t, store.Append(ctx, "s", step))

	raw, err := underlying.Load(ctx, "s")
	require.NoError(t, err)
	assert.NotEmpty(t, raw[0].Sealed)

	loaded, err := store.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, loaded[0].Instance.State["password"])
	assert.Equal(t, []codec.WireMessage(nil), raw[0].History)
}
