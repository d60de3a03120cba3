package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/internal/cli"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/codec"
)

const deskManifest = `
name: desk
nodes:
  - id: start
    script:
      - say: "hi {input}"
        transition: billing
  - id: billing
  - id: ghost
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "canopy version")
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(deskManifest), 0644))

	out, err := execute(t, "validate", "--charter", path)
	require.NoError(t, err)
	assert.Contains(t, out, `warning: node "ghost" is not reachable`)
	assert.Contains(t, out, `Charter "desk" is valid`)

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("nodes:\n  - id: start\n    script:\n      - transition: nowhere\n"), 0644))
	_, err = execute(t, "validate", "--charter", broken)
	assert.ErrorContains(t, err, `unknown node "nowhere"`)
}

func TestSessionCommands(t *testing.T) {
	dir := t.TempDir()
	st, err := cli.OpenStore(cli.Options{Store: cli.StoreFile, DataDir: dir}, logging.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Store.Append(ctx, "alpha", &codec.WireStep{Index: 0, YieldReason: "end_turn"}))
	require.NoError(t, st.Store.Append(ctx, "beta", &codec.WireStep{Index: 0, YieldReason: "end_turn"}))

	out, err := execute(t, "session", "ls", "--store", "file", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "- alpha")
	assert.Contains(t, out, "- beta")

	out, err = execute(t, "session", "inspect", "alpha", "--store", "file", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, `"yieldReason": "end_turn"`)

	out, err = execute(t, "session", "rm", "alpha", "--store", "file", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed session 'alpha'")

	_, err = execute(t, "session", "rm", "--all", "--store", "file", "--data-dir", dir)
	require.NoError(t, err)
	ids, err := st.Store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
