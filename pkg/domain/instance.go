package domain

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/canopy/pkg/schema"
)

// Instance is one node of the live tree.
//
// Instances are replaced, never mutated, once they are part of a tree that
// has been handed to a caller: the runtime clones before it merges.
type Instance struct {
	ID       string
	Node     *Node
	State    map[string]any
	Children []*Instance
	// PackStates is only meaningful on the root instance.
	PackStates map[string]map[string]any
	Suspended  *SuspendInfo
	// Worker overrides Node.Worker when set at spawn time.
	Worker *bool
	// Inbox holds input addressed to this instance alone: cede content from
	// children, resume payloads and messages staged by commands.
	Inbox []Message
	// Ready asks the scheduler to dispatch the instance again even without
	// new external input.
	Ready bool
	// Steps counts dispatches since creation or the last resume.
	Steps int
}

// SuspendInfo marks a suspended instance.
type SuspendInfo struct {
	SuspendID   string
	Reason      string
	SuspendedAt time.Time
	Metadata    map[string]any
}

// InstanceOption configures CreateInstance.
type InstanceOption func(*Instance)

// WithInstanceID sets an explicit ID instead of a generated one.
func WithInstanceID(id string) InstanceOption {
	return func(i *Instance) { i.ID = id }
}

// WithChildren attaches initial children.
func WithChildren(children ...*Instance) InstanceOption {
	return func(i *Instance) { i.Children = append(i.Children, children...) }
}

// WithPackStates seeds pack states. Use on the root only.
func WithPackStates(states map[string]map[string]any) InstanceOption {
	return func(i *Instance) { i.PackStates = states }
}

// AsWorker overrides the node's worker flag.
func AsWorker(worker bool) InstanceOption {
	return func(i *Instance) { i.Worker = &worker }
}

// CreateInstance builds an instance of node. The node's initial state is
// applied first and state is merged over it; the result must satisfy the
// node's schema.
func CreateInstance(node *Node, state map[string]any, opts ...InstanceOption) (*Instance, error) {
	if node == nil {
		return nil, fmt.Errorf("create instance: nil node")
	}
	merged := make(map[string]any, len(node.InitialState)+len(state))
	maps.Copy(merged, CloneState(node.InitialState))
	maps.Copy(merged, CloneState(state))

	if err := schema.Validate(node.StateSchema, merged); err != nil {
		return nil, fmt.Errorf("create instance of %q: %w", node.ID, err)
	}

	inst := &Instance{Node: node, State: merged}
	for _, opt := range opts {
		opt(inst)
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	return inst, nil
}

// IsWorker reports the effective worker flag.
func (i *Instance) IsWorker() bool {
	if i.Worker != nil {
		return *i.Worker
	}
	return i.Node != nil && i.Node.Worker
}

// IsLeaf reports whether the instance has no children.
func (i *Instance) IsLeaf() bool {
	return len(i.Children) == 0
}

// IsSuspended reports whether a suspension marker is present.
func (i *Instance) IsSuspended() bool {
	return i.Suspended != nil
}

// NodeID returns the ID of the instance's node, or "" when unset.
func (i *Instance) NodeID() string {
	if i.Node == nil {
		return ""
	}
	return i.Node.ID
}

// Clone deep-copies the subtree. Nodes are shared, they are immutable.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := &Instance{
		ID:    i.ID,
		Node:  i.Node,
		State: CloneState(i.State),
		Ready: i.Ready,
		Steps: i.Steps,
	}
	if i.Worker != nil {
		w := *i.Worker
		c.Worker = &w
	}
	if i.PackStates != nil {
		c.PackStates = make(map[string]map[string]any, len(i.PackStates))
		for k, v := range i.PackStates {
			c.PackStates[k] = CloneState(v)
		}
	}
	if i.Suspended != nil {
		s := *i.Suspended
		s.Metadata = CloneState(i.Suspended.Metadata)
		c.Suspended = &s
	}
	if len(i.Inbox) > 0 {
		c.Inbox = make([]Message, len(i.Inbox))
		for n, m := range i.Inbox {
			c.Inbox[n] = m.Clone()
		}
	}
	if len(i.Children) > 0 {
		c.Children = make([]*Instance, len(i.Children))
		for n, child := range i.Children {
			c.Children[n] = child.Clone()
		}
	}
	return c
}

// CloneState deep-copies nested maps and slices of a state value.
func CloneState(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneState(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// MergeState shallow-merges patch over base into a new map.
func MergeState(base, patch map[string]any) map[string]any {
	out := CloneState(base)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}
