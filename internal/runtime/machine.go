package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aretw0/canopy/pkg/charter"
	"github.com/aretw0/canopy/pkg/domain"
)

// Machine is the long-lived handle of one conversation: the charter, the
// current instance tree, the full message history and the pending input.
//
// The tree and history are replaced, never mutated in place, so a snapshot
// taken at any time is consistent. Only one step or command runs at a time.
type Machine struct {
	charter *charter.Charter

	mu      sync.Mutex
	root    *domain.Instance
	history []domain.Message
	queue   []domain.Message
	next    int
	last    *domain.Step

	wake       chan struct{}
	generation atomic.Uint64
	turn       sync.Mutex
	running    atomic.Bool
}

// NewMachine creates a machine around root. Pack states are seeded for
// every pack referenced in the tree.
func NewMachine(ch *charter.Charter, root *domain.Instance) (*Machine, error) {
	if ch == nil {
		return nil, fmt.Errorf("new machine: nil charter")
	}
	if root == nil {
		return nil, fmt.Errorf("new machine: nil root instance")
	}
	root = root.Clone()
	packs, err := ch.InitialPackStates(root, root.PackStates)
	if err != nil {
		return nil, fmt.Errorf("new machine: %w", err)
	}
	if len(packs) > 0 {
		root.PackStates = packs
	}
	return &Machine{
		charter: ch,
		root:    root,
		wake:    make(chan struct{}, 1),
	}, nil
}

// Restore rebuilds a machine from the last persisted step and the history
// accumulated over all persisted steps.
func Restore(ch *charter.Charter, last *domain.Step, history []domain.Message) (*Machine, error) {
	if last == nil || last.Instance == nil {
		return nil, fmt.Errorf("restore machine: no step to restore from")
	}
	m, err := NewMachine(ch, last.Instance)
	if err != nil {
		return nil, err
	}
	m.history = append([]domain.Message(nil), history...)
	m.next = last.Index + 1
	m.last = last
	m.generation.Store(last.Generation)
	return m, nil
}

// Charter returns the machine's charter.
func (m *Machine) Charter() *charter.Charter { return m.charter }

// Enqueue appends messages to the pending input and wakes a waiting
// scheduler. It is safe to call from any goroutine.
func (m *Machine) Enqueue(msgs ...domain.Message) {
	if len(msgs) == 0 {
		return
	}
	m.mu.Lock()
	for _, msg := range msgs {
		m.queue = append(m.queue, msg.Clone())
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Wake returns the channel signalled by Enqueue.
func (m *Machine) Wake() <-chan struct{} { return m.wake }

// Snapshot returns the current tree and a copy of the history. The tree
// is shared and must be treated as read-only.
func (m *Machine) Snapshot() (*domain.Instance, []domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root, append([]domain.Message(nil), m.history...)
}

// Root returns the current tree. It must be treated as read-only.
func (m *Machine) Root() *domain.Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// LastStep returns the most recently emitted step, or nil.
func (m *Machine) LastStep() *domain.Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Pending returns the number of queued messages.
func (m *Machine) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Generation returns the current generation marker.
func (m *Machine) Generation() uint64 { return m.generation.Load() }

// Abandon bumps the generation. A step in flight observes the change
// after its dispatch returns and discards its results.
func (m *Machine) Abandon() uint64 { return m.generation.Add(1) }

// popControl removes and returns the first queued command or resume message.
func (m *Machine) popControl() (domain.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.queue {
		if msg.IsControl() {
			m.queue = append(m.queue[:i:i], m.queue[i+1:]...)
			return msg, true
		}
	}
	return domain.Message{}, false
}

func (m *Machine) hasControl() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.queue {
		if msg.IsControl() {
			return true
		}
	}
	return false
}

// drain takes every queued message as one batch.
func (m *Machine) drain() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.queue
	m.queue = nil
	return batch
}

// requeue puts a batch back in front of anything enqueued meanwhile.
func (m *Machine) requeue(batch []domain.Message) {
	if len(batch) == 0 {
		return
	}
	m.mu.Lock()
	m.queue = append(append([]domain.Message(nil), batch...), m.queue...)
	m.mu.Unlock()
}

// commit installs a new tree and appends to the history.
func (m *Machine) commit(step *domain.Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := make([]domain.Message, 0, len(m.history)+len(step.Input)+len(step.History))
	history = append(history, m.history...)
	history = append(history, step.Input...)
	history = append(history, step.History...)
	m.history = history
	m.root = step.Instance
	m.last = step
	m.next = step.Index + 1
}

func (m *Machine) nextIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}
