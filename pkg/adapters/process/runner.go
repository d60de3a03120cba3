package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/ports"
)

// DefaultGracePeriod is how long a cancelled process gets between the
// interrupt and the kill.
const DefaultGracePeriod = 5 * time.Second

// Executor implements ports.Executor by running an external process per
// dispatch. Only nodes present in the allow-list can run.
//
// The process receives a Request as JSON on stdin and must print a Result
// as JSON on stdout. Stderr is kept for error reports.
type Executor struct {
	registry map[string]ProcessConfig
	baseDir  string
	grace    time.Duration
	logger   *slog.Logger
}

// Option configures the executor.
type Option func(*Executor)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(procs map[string]ProcessConfig) Option {
	return func(e *Executor) {
		for name, p := range procs {
			p.Name = name
			e.registry[name] = p
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) Option {
	return func(e *Executor) {
		e.baseDir = dir
	}
}

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Executor) {
		e.grace = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// New creates a process executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		registry: make(map[string]ProcessConfig),
		grace:    DefaultGracePeriod,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a trusted command for node to the allow-list.
func (e *Executor) Register(node, command string, args ...string) {
	e.registry[node] = ProcessConfig{Name: node, Command: command, Args: args}
}

// Run implements ports.Executor.
func (e *Executor) Run(ctx context.Context, req *ports.RunRequest) (*ports.RunResult, error) {
	node := req.Instance.Node.ID
	proc, ok := e.registry[node]
	if !ok {
		return nil, fmt.Errorf("no process registered for node %q", node)
	}

	payload, err := json.Marshal(newRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	if proc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, proc.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, proc.Command, proc.Args...)
	cmd.Dir = e.baseDir
	cmd.Cancel = func() error {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = e.grace

	// Arguments travel on stdin, never as flags, so input cannot inject options.
	cmd.Env = cmd.Environ()
	for k, v := range proc.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env,
		"CANOPY_NODE="+node,
		"CANOPY_INSTANCE="+req.Instance.ID,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	e.logger.DebugContext(ctx, "executor process finished",
		"node", node, "instance", req.Instance.ID, "duration", time.Since(start), "err", err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("process %s: %w", proc.Command, ctx.Err())
		}
		return nil, fmt.Errorf("process %s failed: %w. Stderr: %s", proc.Command, err, strings.TrimSpace(stderr.String()))
	}

	var res Result
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &res); err != nil {
		return nil, fmt.Errorf("process %s printed invalid result: %w", proc.Command, err)
	}
	return res.decode()
}
