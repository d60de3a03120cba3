package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed session lock is held.
const DefaultLockTTL = 30 * time.Second

// Factory creates the machine of a session that has no persisted steps.
type Factory func(ctx context.Context, sessionID string) (*canopy.Machine, error)

// StartNode returns a Factory that roots new sessions at node.
func StartNode(eng *canopy.Engine, node string, state map[string]any) Factory {
	return func(context.Context, string) (*canopy.Machine, error) {
		return eng.Start(node, state)
	}
}

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager hosts machines keyed by session ID. It restores them from the
// step store, serializes access per session and persists every step a
// machine emits, in order.
type Manager struct {
	engine *canopy.Engine
	store  ports.StepStore

	mu       sync.Mutex
	locks    map[string]*lockEntry
	machines map[string]*canopy.Machine

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the distributed lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager persisting to store.
func NewManager(eng *canopy.Engine, store ports.StepStore, opts ...Option) *Manager {
	m := &Manager{
		engine:   eng,
		store:    store,
		locks:    make(map[string]*lockEntry),
		machines: make(map[string]*canopy.Machine),
		lockTTL:  DefaultLockTTL,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry at zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// WithLock executes fn while holding the session's lock.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Open returns the session's machine, restoring it from the store or
// creating it with factory. A nil factory makes unknown sessions fail with
// domain.ErrSessionNotFound.
func (m *Manager) Open(ctx context.Context, sessionID string, factory Factory) (*canopy.Machine, error) {
	var machine *canopy.Machine
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		machine, err = m.open(ctx, sessionID, factory)
		return err
	})
	return machine, err
}

func (m *Manager) open(ctx context.Context, sessionID string, factory Factory) (*canopy.Machine, error) {
	if machine := m.cached(sessionID); machine != nil {
		return machine, nil
	}

	steps, err := m.load(ctx, sessionID)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		if factory == nil {
			return nil, err
		}
		machine, err := factory(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("create session %s: %w", sessionID, err)
		}
		m.cache(sessionID, machine)
		m.logger.Debug("session created", "session_id", sessionID)
		return machine, nil
	case err != nil:
		return nil, err
	}

	last := steps[len(steps)-1]
	machine, err := m.engine.Restore(last, codec.Transcript(steps))
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", sessionID, err)
	}
	m.cache(sessionID, machine)
	m.logger.Debug("session restored", "session_id", sessionID, "steps", len(steps))
	return machine, nil
}

// Send enqueues msgs on the session and runs it until idle. Every step is
// persisted before the next one runs; the steps are returned in order.
func (m *Manager) Send(ctx context.Context, sessionID string, msgs ...domain.Message) ([]*domain.Step, error) {
	var out []*domain.Step
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		machine, err := m.open(ctx, sessionID, nil)
		if err != nil {
			return err
		}
		machine.Enqueue(msgs...)
		var diverged bool
		err = m.engine.Run(ctx, machine, func(step *domain.Step) error {
			if err := m.persist(ctx, sessionID, step); err != nil {
				diverged = true
				return err
			}
			out = append(out, step)
			return nil
		})
		// A failed dispatch commits nothing and keeps its input queued; only a
		// machine that got ahead of the store is dropped.
		if diverged || domain.IsFatal(err) {
			m.failed(sessionID, err)
		}
		return err
	})
	return out, err
}

// Command runs a command on the session and persists its step.
func (m *Manager) Command(ctx context.Context, sessionID, name string, input map[string]any, instanceID string) (*canopy.CommandResult, error) {
	var res *canopy.CommandResult
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		machine, err := m.open(ctx, sessionID, nil)
		if err != nil {
			return err
		}
		res, err = m.engine.RunCommand(ctx, machine, name, input, instanceID)
		if err != nil {
			return err
		}
		if err := m.persist(ctx, sessionID, res.Step); err != nil {
			m.failed(sessionID, err)
			return err
		}
		return nil
	})
	return res, err
}

// Resume lifts a suspension in the session and persists the step.
func (m *Manager) Resume(ctx context.Context, sessionID, instanceID, suspendID string, payload any) (*domain.Step, error) {
	var step *domain.Step
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		machine, err := m.open(ctx, sessionID, nil)
		if err != nil {
			return err
		}
		step, err = m.engine.Resume(ctx, machine, instanceID, suspendID, payload)
		if err != nil {
			return err
		}
		if err := m.persist(ctx, sessionID, step); err != nil {
			m.failed(sessionID, err)
			return err
		}
		return nil
	})
	return step, err
}

// Steps returns every persisted step of the session.
func (m *Manager) Steps(ctx context.Context, sessionID string) ([]*domain.Step, error) {
	var steps []*domain.Step
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		steps, err = m.load(ctx, sessionID)
		return err
	})
	return steps, err
}

// Delete removes the session from the store and from memory.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		m.Close(sessionID)
		return m.store.Delete(ctx, sessionID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Close drops the in-memory machine; the next Open restores it from the
// store. The abandoned machine's in-flight step, if any, is discarded.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	machine := m.machines[sessionID]
	delete(m.machines, sessionID)
	m.mu.Unlock()
	if machine != nil {
		machine.Abandon()
	}
}

// Store returns the underlying step store.
func (m *Manager) Store() ports.StepStore {
	return m.store
}

// Engine returns the engine machines run on.
func (m *Manager) Engine() *canopy.Engine {
	return m.engine
}

func (m *Manager) load(ctx context.Context, sessionID string) ([]*domain.Step, error) {
	wire, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(wire) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	steps := make([]*domain.Step, 0, len(wire))
	for _, w := range wire {
		s, err := codec.DeserializeStep(m.engine.Charter(), w)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", sessionID, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func (m *Manager) persist(ctx context.Context, sessionID string, step *domain.Step) error {
	w, err := codec.SerializeStep(m.engine.Charter(), step)
	if err != nil {
		return err
	}
	if err := m.store.Append(ctx, sessionID, w); err != nil {
		return fmt.Errorf("persist step %d of %s: %w", step.Index, sessionID, err)
	}
	return nil
}

// failed drops a machine whose state may have diverged from the store, so
// the next call restores from what was persisted.
func (m *Manager) failed(sessionID string, err error) {
	m.logger.Warn("session run failed", "session_id", sessionID, "err", err)
	m.mu.Lock()
	delete(m.machines, sessionID)
	m.mu.Unlock()
}

func (m *Manager) cached(sessionID string) *canopy.Machine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machines[sessionID]
}

func (m *Manager) cache(sessionID string, machine *canopy.Machine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.machines[sessionID] = machine
}
