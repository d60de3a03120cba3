package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/persistence/middleware"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/ports/tests"
)

func generateKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func encrypted(t *testing.T, store ports.StepStore, cfg middleware.EncryptionConfig) ports.StepStore {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	require.NoError(t, err)
	return mw(store)
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	tests.RunStepStoreContract(t, encrypted(t, memory.NewStore(), middleware.EncryptionConfig{ActiveKey: generateKey(t)}))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewStore()
	secure := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ctx := context.Background()

	step := tests.SampleStep(0)
	step.Instance.State["secret"] = "my-secret-sauce"
	require.NoError(t, secure.Append(ctx, "s", step))
	assert.Equal(t, "my-secret-sauce", step.Instance.State["secret"], "caller's step must not change")

	stored, err := underlying.Load(ctx, "s")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Nil(t, stored[0].Instance)
	assert.Empty(t, stored[0].History)
	assert.NotEmpty(t, stored[0].Sealed)
	assert.NotContains(t, stored[0].Sealed, "my-secret-sauce")
	assert.Equal(t, 0, stored[0].Index)
	assert.True(t, stored[0].Done)

	loaded, err := secure.Load(ctx, "s")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "my-secret-sauce", loaded[0].Instance.State["secret"])
	assert.Equal(t, "hello", loaded[0].History[0].Items[0].Text)
	assert.Empty(t, loaded[0].Sealed)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewStore()
	oldKey, newKey := generateKey(t), generateKey(t)
	ctx := context.Background()

	oldStore := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: oldKey})
	require.NoError(t, oldStore.Append(ctx, "s", tests.SampleStep(0)))

	newStore := encrypted(t, underlying, middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})
	require.NoError(t, newStore.Append(ctx, "s", tests.SampleStep(1)))

	loaded, err := newStore.Load(ctx, "s")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "billing", loaded[0].Instance.State["topic"])
	assert.Equal(t, "billing", loaded[1].Instance.State["topic"])

	// The old key alone cannot open the step sealed with the new one.
	_, err = oldStore.Load(ctx, "s")
	assert.ErrorIs(t, err, middleware.ErrDecrypt)
}

func TestEncryptionMiddleware_BoundToSession(t *testing.T) {
	underlying := memory.NewStore()
	secure := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ctx := context.Background()

	require.NoError(t, secure.Append(ctx, "a", tests.SampleStep(0)))
	stored, err := underlying.Load(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, underlying.Append(ctx, "b", stored...))

	_, err = secure.Load(ctx, "b")
	assert.ErrorIs(t, err, middleware.ErrDecrypt)
}

func TestEncryptionMiddleware_Plaintext(t *testing.T) {
	underlying := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, underlying.Append(ctx, "legacy", tests.SampleStep(0)))

	strict := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	_, err := strict.Load(ctx, "legacy")
	assert.ErrorIs(t, err, middleware.ErrNotSealed)

	lenient := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: generateKey(t), AllowPlaintext: true})
	loaded, err := lenient.Load(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "billing", loaded[0].Instance.State["topic"])
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	assert.ErrorIs(t, err, middleware.ErrInvalidKey)

	_, err = middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    generateKey(t),
		FallbackKeys: [][]byte{[]byte("old")},
	})
	assert.ErrorIs(t, err, middleware.ErrInvalidKey)
}
