package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/adapters/charterfile"
	"github.com/aretw0/canopy/pkg/adapters/loam"
	"github.com/aretw0/canopy/pkg/adapters/process"
	"github.com/aretw0/canopy/pkg/adapters/scripted"
	"github.com/aretw0/canopy/pkg/charter"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/observability"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/session"
)

// ProcessExecutor is the executor name nodes use to run on executors.yaml
// processes.
const ProcessExecutor = "process"

// App is everything a command needs to drive sessions.
type App struct {
	Engine   *canopy.Engine
	Sessions *session.Manager
	Storage  *Storage
	Metrics  *observability.Metrics
	// Start is the resolved entry node.
	Start  string
	Logger *slog.Logger
}

// Factory starts new sessions at the entry node.
func (a *App) Factory() session.Factory {
	return session.StartNode(a.Engine, a.Start, nil)
}

// Close releases the store.
func (a *App) Close() error {
	if a.Storage == nil {
		return nil
	}
	return a.Storage.Close()
}

// Source is a charter together with where its definitions come from.
type Source struct {
	Charter *charter.Charter
	Loader  ports.DefinitionLoader
	// Scripts are the scripted turns declared next to the nodes.
	Scripts map[string][]scripted.Turn
}

// LoadCharter builds a charter from opts.Charter without any store. The
// scripted executor is the default; process executors are registered when
// opts.Executors names a file. Definitions are not bound until an engine
// is created with the loader.
func LoadCharter(ctx context.Context, opts Options, logger *slog.Logger) (*Source, error) {
	if opts.Charter == "" {
		return nil, errors.New("no charter given (--charter)")
	}
	info, err := os.Stat(opts.Charter)
	if err != nil {
		return nil, fmt.Errorf("charter: %w", err)
	}

	var (
		name    string
		loader  ports.DefinitionLoader
		scripts map[string][]scripted.Turn
	)
	if info.IsDir() {
		l, err := loam.Open(opts.Charter)
		if err != nil {
			return nil, err
		}
		if scripts, err = l.Scripts(ctx); err != nil {
			return nil, err
		}
		name, loader = filepath.Base(filepath.Clean(opts.Charter)), l
	} else {
		l := charterfile.New(opts.Charter)
		m, err := l.Manifest()
		if err != nil {
			return nil, err
		}
		name, loader, scripts = m.Name, l, m.Scripts()
		if name == "" {
			name = trimExt(filepath.Base(opts.Charter))
		}
	}

	ch := charter.New(name)
	exec := scripted.New()
	for node, turns := range scripts {
		exec.Script(node, turns...)
	}
	if err := ch.RegisterExecutor(charter.DefaultExecutor, exec); err != nil {
		return nil, err
	}

	if opts.Executors != "" {
		procs, err := process.LoadConfig(opts.Executors)
		if err != nil {
			return nil, err
		}
		pe := process.New(
			process.WithRegistry(procs),
			process.WithBaseDir(filepath.Dir(opts.Executors)),
			process.WithLogger(logger),
		)
		if err := ch.RegisterExecutor(ProcessExecutor, pe); err != nil {
			return nil, err
		}
		logger.Debug("process executors loaded", "count", len(procs), "file", opts.Executors)
	}
	return &Source{Charter: ch, Loader: loader, Scripts: scripts}, nil
}

// Build loads the charter, creates the engine and opens the store. reg
// receives the engine metrics; nil uses a private registry.
func Build(ctx context.Context, opts Options, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	opts.defaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	src, err := LoadCharter(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	ch := src.Charter

	metrics := observability.NewMetrics(reg)
	hooks := metrics.Hooks()
	if opts.Debug {
		hooks = hooks.Merge(debugHooks(logger))
	}
	eng, err := canopy.New(ch,
		canopy.WithLoader(src.Loader),
		canopy.WithLogger(logger),
		canopy.WithLifecycleHooks(hooks),
	)
	if err != nil {
		return nil, err
	}

	start := opts.Start
	if start == "" {
		start = EntryNode(ch, opts.Charter)
	}
	if _, err := ch.ResolveNode(start); err != nil {
		return nil, fmt.Errorf("entry node: %w", err)
	}

	storage, err := OpenStore(opts, logger)
	if err != nil {
		return nil, err
	}
	mopts := []session.Option{session.WithLogger(logger)}
	if storage.Locker != nil {
		mopts = append(mopts, session.WithLocker(storage.Locker))
	}

	return &App{
		Engine:   eng,
		Sessions: session.NewManager(eng, storage.Store, mopts...),
		Storage:  storage,
		Metrics:  metrics,
		Start:    start,
		Logger:   logger,
	}, nil
}

// EntryNode picks the node a new session starts at: start, main, index,
// the charter directory or file name, and finally the first node.
func EntryNode(ch *charter.Charter, source string) string {
	candidates := []string{"start", "main", "index"}
	if source != "" {
		candidates = append(candidates, trimExt(filepath.Base(filepath.Clean(source))))
	}
	for _, c := range candidates {
		if _, err := ch.ResolveNode(c); err == nil {
			return c
		}
	}
	if nodes := ch.Nodes(); len(nodes) > 0 {
		return nodes[0]
	}
	return ""
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func debugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnDispatch: func(_ context.Context, e *domain.DispatchEvent) {
			logger.Debug("dispatch", "node_id", e.NodeID, "instance_id", e.InstanceID, "primary", e.IsPrimary)
		},
		OnDispatchDone: func(_ context.Context, e *domain.DispatchEvent) {
			logger.Debug("dispatch done", "node_id", e.NodeID, "yield", e.YieldReason, "duration", e.Duration, "err", e.Err)
		},
		OnCommand: func(_ context.Context, e *domain.CommandEvent) {
			logger.Debug("command", "name", e.Command, "node_id", e.NodeID, "err", e.Err)
		},
		OnSuspend: func(_ context.Context, e *domain.SuspendEvent) {
			logger.Debug("suspend", "instance_id", e.InstanceID, "suspend_id", e.SuspendID, "reason", e.Reason)
		},
		OnResume: func(_ context.Context, e *domain.SuspendEvent) {
			logger.Debug("resume", "instance_id", e.InstanceID, "suspend_id", e.SuspendID)
		},
		OnPolicyWarning: func(_ context.Context, w *domain.PolicyWarning) {
			logger.Warn("policy warning", "code", w.Code, "msg", w.Message)
		},
	}
}
