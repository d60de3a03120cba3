package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/internal/cli"
	"github.com/aretw0/canopy/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "canopy",
	Short: "Canopy runs trees of conversational agents",
	Long: `Canopy drives a tree of agent instances described by a charter: a YAML
manifest or a directory of markdown nodes. Sessions are persisted step by
step and can be resumed from any frontend.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringP("charter", "c", "", "Charter manifest (YAML) or directory of markdown nodes")
	f.String("start", "", "Entry node for new sessions")
	f.String("executors", "", "executors.yaml with process executors")
	f.String("store", "", "Session store: file, memory, redis or badger")
	f.String("data-dir", ".canopy", "Directory for file and badger stores")
	f.String("redis-addr", "", "Redis address (or CANOPY_REDIS_ADDR)")
	f.Duration("session-ttl", 0, "Expire idle sessions on stores that support it")
	f.String("encryption-key", "", "32-byte key, hex or base64, sealing stored steps (or CANOPY_ENCRYPTION_KEY)")
	f.StringSlice("mask-key", nil, "State key pattern masked before persistence (repeatable)")
	f.String("log-level", "", "Log level: debug, info, warn or error (or CANOPY_LOG_LEVEL)")
	f.String("log-format", string(logging.FormatAuto), "Log format: auto, text or json")
	f.Bool("debug", false, "Log engine lifecycle events")
}

func optionsFrom(cmd *cobra.Command) cli.Options {
	f := cmd.Flags()
	var opts cli.Options
	opts.Charter, _ = f.GetString("charter")
	opts.Start, _ = f.GetString("start")
	opts.Executors, _ = f.GetString("executors")
	opts.Store, _ = f.GetString("store")
	opts.DataDir, _ = f.GetString("data-dir")
	opts.RedisAddr, _ = f.GetString("redis-addr")
	opts.SessionTTL, _ = f.GetDuration("session-ttl")
	opts.EncryptionKey, _ = f.GetString("encryption-key")
	opts.MaskKeys, _ = f.GetStringSlice("mask-key")
	opts.LogLevel, _ = f.GetString("log-level")
	opts.LogFormat, _ = f.GetString("log-format")
	opts.Debug, _ = f.GetBool("debug")
	opts.Env(os.Getenv)
	return opts
}

func newLogger(opts cli.Options) *slog.Logger {
	level := logging.ParseLevel(opts.LogLevel)
	if opts.Debug && opts.LogLevel == "" {
		level = slog.LevelDebug
	}
	return logging.NewWithFormat(os.Stderr, level, logging.Format(opts.LogFormat))
}

// buildApp assembles the engine and store. Metrics go to the default
// prometheus registry so /metrics exposes them.
func buildApp(ctx context.Context, cmd *cobra.Command) (*cli.App, error) {
	opts := optionsFrom(cmd)
	return cli.Build(ctx, opts, newLogger(opts), prometheus.DefaultRegisterer)
}
