package domain

// Effect is the closed set of outcomes a transition or command can return.
// The runtime's merge step switches over every variant.
type Effect interface {
	effect()
}

// TransitionTo replaces the acting instance's node and state in place,
// keeping its ID. Either Node or Ref must be set.
type TransitionTo struct {
	Node  *Node
	Ref   string
	State map[string]any
}

// Spawn appends new children under the acting instance.
type Spawn struct {
	Children []SpawnSpec
}

// SpawnSpec describes one child to create. Worker, when set, overrides the
// node's own worker flag for this child only.
type SpawnSpec struct {
	Node   *Node
	Ref    string
	ID     string
	State  map[string]any
	Worker *bool
}

// Cede retires the acting instance and hands Content to its parent.
type Cede struct {
	Content any
}

// Suspend halts dispatch to the acting instance until a matching Resume.
// An empty SuspendID is filled in by the runtime.
type Suspend struct {
	SuspendID string
	Reason    string
	Metadata  map[string]any
}

// Resume clears the suspension of the acting instance.
type Resume struct {
	SuspendID string
	Payload   any
}

// Value carries a plain result with no effect on the tree.
type Value struct {
	Value any
}

func (*TransitionTo) effect() {}
func (*Spawn) effect()        {}
func (*Cede) effect()         {}
func (*Suspend) effect()      {}
func (*Resume) effect()       {}
func (*Value) effect()        {}

// SpawnWorker describes a child that runs as a worker regardless of its node.
func SpawnWorker(node *Node, state map[string]any) SpawnSpec {
	w := true
	return SpawnSpec{Node: node, State: state, Worker: &w}
}

// SpawnPrimary describes a child that runs as the primary leaf regardless of its node.
func SpawnPrimary(node *Node, state map[string]any) SpawnSpec {
	w := false
	return SpawnSpec{Node: node, State: state, Worker: &w}
}
