package cli_test

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/internal/cli"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/internal/testutils"
	"github.com/aretw0/canopy/pkg/charter"
	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/domain"
)

const manifest = `
name: desk
nodes:
  - id: greet
    script:
      - say: "hello {input}"
  - id: start
    script:
      - say: "you said {input}"
        state:
          seen: true
    state:
      seen: bool?
`

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "desk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0644))
	return path
}

func TestOptions_Env(t *testing.T) {
	env := map[string]string{
		"CANOPY_REDIS_ADDR":          "localhost:6379",
		"CANOPY_LOG_LEVEL":           "debug",
		"CANOPY_ENCRYPTION_OLD_KEYS": "a, b,,",
	}
	opts := cli.Options{LogLevel: "warn"}
	opts.Env(func(k string) string { return env[k] })

	assert.Equal(t, "localhost:6379", opts.RedisAddr)
	assert.Equal(t, "warn", opts.LogLevel, "flag value wins over the environment")
	assert.Equal(t, []string{"a", "b"}, opts.OldKeys)
}

func TestDecodeKey(t *testing.T) {
	raw := []byte(strings.Repeat("k", 32))

	k, err := cli.DecodeKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, k)

	k, err = cli.DecodeKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, k)

	_, err = cli.DecodeKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
	_, err = cli.DecodeKey("%%%")
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewNop()
	step := &codec.WireStep{Index: 0, YieldReason: "end_turn"}

	t.Run("file", func(t *testing.T) {
		dir := t.TempDir()
		st, err := cli.OpenStore(cli.Options{Store: cli.StoreFile, DataDir: dir}, logger)
		require.NoError(t, err)
		defer st.Close()

		require.NoError(t, st.Store.Append(ctx, "s1", step))
		_, err = os.Stat(filepath.Join(dir, "sessions"))
		assert.NoError(t, err)
		assert.Nil(t, st.Locker)
	})

	t.Run("badger", func(t *testing.T) {
		st, err := cli.OpenStore(cli.Options{Store: cli.StoreBadger, DataDir: t.TempDir()}, logger)
		require.NoError(t, err)
		defer st.Close()

		require.NoError(t, st.Store.Append(ctx, "s1", step))
		ids, err := st.Store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"s1"}, ids)
	})

	t.Run("redis shares its client with a locker", func(t *testing.T) {
		mr := miniredis.RunT(t)
		st, err := cli.OpenStore(cli.Options{Store: cli.StoreRedis, RedisAddr: mr.Addr()}, logger)
		require.NoError(t, err)
		defer st.Close()

		require.NotNil(t, st.Locker)
		require.NoError(t, st.Store.Append(ctx, "s1", step))
		loaded, err := st.Store.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})

	t.Run("redis address defaults the backend", func(t *testing.T) {
		mr := miniredis.RunT(t)
		st, err := cli.OpenStore(cli.Options{RedisAddr: mr.Addr()}, logger)
		require.NoError(t, err)
		defer st.Close()
		assert.NotNil(t, st.Locker)
	})

	t.Run("redis without address", func(t *testing.T) {
		_, err := cli.OpenStore(cli.Options{Store: cli.StoreRedis}, logger)
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := cli.OpenStore(cli.Options{Store: "tape"}, logger)
		assert.ErrorContains(t, err, "unknown store")
	})

	t.Run("encrypted and masked", func(t *testing.T) {
		key := hex.EncodeToString([]byte(strings.Repeat("k", 32)))
		st, err := cli.OpenStore(cli.Options{
			Store:         cli.StoreMemory,
			EncryptionKey: key,
			MaskKeys:      []string{"(?i)password"},
		}, logger)
		require.NoError(t, err)

		secret := &codec.WireStep{
			Index:    0,
			Instance: &codec.WireInstance{ID: "root", Node: codec.WireNode{Ref: "start"}, State: map[string]any{"password": "hunter2"}},
		}
		require.NoError(t, st.Store.Append(ctx, "s1", secret))
		loaded, err := st.Store.Load(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, "***", loaded[0].Instance.State["password"])
	})

	t.Run("bad key", func(t *testing.T) {
		_, err := cli.OpenStore(cli.Options{Store: cli.StoreMemory, EncryptionKey: "nope"}, logger)
		assert.Error(t, err)
	})
}

func TestBuild_RunsManifest(t *testing.T) {
	ctx := context.Background()
	app, err := cli.Build(ctx, cli.Options{
		Charter: writeManifest(t),
		Store:   cli.StoreMemory,
	}, nil, nil)
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, "start", app.Start)
	assert.Equal(t, "desk", app.Engine.Charter().Name())

	_, err = app.Sessions.Open(ctx, "s1", app.Factory())
	require.NoError(t, err)
	steps, err := app.Sessions.Send(ctx, "s1", domain.NewTextMessage(domain.RoleUser, "hi"))
	require.NoError(t, err)
	require.NotEmpty(t, steps)

	last := steps[len(steps)-1]
	require.NotEmpty(t, last.History)
	assert.Equal(t, "you said hi", last.History[len(last.History)-1].Text())
	assert.Equal(t, true, last.Instance.State["seen"])
}

func TestBuild_MarkdownDirectory(t *testing.T) {
	dir, _ := testutils.NodeRepo(t, map[string]string{
		"main.md": `---
script:
  - say: "main heard {input}"
---
Answer briefly.`,
		"other.md": `---
worker: true
---
Help out.`,
	})

	ctx := context.Background()
	app, err := cli.Build(ctx, cli.Options{Charter: dir, Store: cli.StoreMemory}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "main", app.Start)
	assert.Equal(t, filepath.Base(dir), app.Engine.Charter().Name())

	_, err = app.Sessions.Open(ctx, "s1", app.Factory())
	require.NoError(t, err)
	steps, err := app.Sessions.Send(ctx, "s1", domain.NewTextMessage(domain.RoleUser, "ping"))
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	last := steps[len(steps)-1]
	assert.Equal(t, "main heard ping", last.History[len(last.History)-1].Text())
}

func TestBuild_ExplicitStart(t *testing.T) {
	app, err := cli.Build(context.Background(), cli.Options{
		Charter: writeManifest(t),
		Store:   cli.StoreMemory,
		Start:   "greet",
	}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "greet", app.Start)

	_, err = cli.Build(context.Background(), cli.Options{
		Charter: writeManifest(t),
		Store:   cli.StoreMemory,
		Start:   "missing",
	}, nil, nil)
	assert.ErrorContains(t, err, "entry node")
}

func TestBuild_Errors(t *testing.T) {
	_, err := cli.Build(context.Background(), cli.Options{}, nil, nil)
	assert.ErrorContains(t, err, "no charter")

	_, err = cli.Build(context.Background(), cli.Options{Charter: filepath.Join(t.TempDir(), "nope.yaml")}, nil, nil)
	assert.Error(t, err)
}

func TestLoadCharter_ProcessExecutors(t *testing.T) {
	dir := t.TempDir()
	execs := filepath.Join(dir, "executors.yaml")
	require.NoError(t, os.WriteFile(execs, []byte("executors:\n  - name: start\n    command: ./bot\n"), 0644))

	src, err := cli.LoadCharter(context.Background(), cli.Options{
		Charter:   writeManifest(t),
		Executors: execs,
	}, logging.NewNop())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{charter.DefaultExecutor, cli.ProcessExecutor}, src.Charter.Executors())
	assert.Contains(t, src.Scripts, "start")
}

func TestEntryNode(t *testing.T) {
	build := func(nodes ...string) *charter.Charter {
		ch := charter.New("t")
		for _, n := range nodes {
			require.NoError(t, ch.RegisterNode(n, &domain.Node{ID: n}))
		}
		return ch
	}

	assert.Equal(t, "start", cli.EntryNode(build("main", "start"), ""))
	assert.Equal(t, "main", cli.EntryNode(build("index", "main"), ""))
	assert.Equal(t, "index", cli.EntryNode(build("other", "index"), ""))
	assert.Equal(t, "checkout", cli.EntryNode(build("other", "checkout"), "/flows/checkout.yaml"))
	assert.Equal(t, "other", cli.EntryNode(build("other", "second"), "flows"))
	assert.Equal(t, "", cli.EntryNode(build(), ""))
}
