package codec

import (
	"fmt"
	"sort"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
)

// TimeFormat is the layout used for every timestamp on the wire.
const TimeFormat = time.RFC3339Nano

// SerializeInstance converts a tree to its wire form. reg may be nil, in
// which case every node is inlined.
func SerializeInstance(reg Registry, inst *domain.Instance) (*WireInstance, error) {
	if inst == nil {
		return nil, nil
	}
	if inst.Node == nil {
		return nil, fmt.Errorf("serialize instance %s: nil node", inst.ID)
	}

	w := &WireInstance{
		ID:         inst.ID,
		Node:       serializeNode(reg, inst.Node),
		State:      domain.CloneState(inst.State),
		Ready:      inst.Ready,
		Steps:      inst.Steps,
		PackStates: clonePackStates(inst.PackStates),
	}
	if w.State == nil {
		w.State = map[string]any{}
	}
	if inst.Worker != nil {
		v := *inst.Worker
		w.Worker = &v
	}
	if s := inst.Suspended; s != nil {
		w.Suspended = &WireSuspend{
			SuspendID:   s.SuspendID,
			Reason:      s.Reason,
			SuspendedAt: formatTime(s.SuspendedAt),
			Metadata:    domain.CloneState(s.Metadata),
		}
	}
	if len(inst.Inbox) > 0 {
		w.Inbox = EncodeMessages(inst.Inbox)
	}
	for _, child := range inst.Children {
		wc, err := SerializeInstance(reg, child)
		if err != nil {
			return nil, err
		}
		w.Children = append(w.Children, wc)
	}
	return w, nil
}

// DeserializeInstance rebuilds a tree from its wire form. Ref nodes that the
// registry cannot resolve fail with a *domain.ResolutionError.
func DeserializeInstance(reg Registry, w *WireInstance) (*domain.Instance, error) {
	if w == nil {
		return nil, nil
	}

	node, err := deserializeNode(reg, w.Node)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", w.ID, err)
	}

	inst := &domain.Instance{
		ID:         w.ID,
		Node:       node,
		State:      domain.CloneState(w.State),
		Ready:      w.Ready,
		Steps:      w.Steps,
		PackStates: clonePackStates(w.PackStates),
	}
	if inst.State == nil {
		inst.State = map[string]any{}
	}
	if w.Worker != nil {
		v := *w.Worker
		inst.Worker = &v
	}
	if s := w.Suspended; s != nil {
		at, err := parseTime(s.SuspendedAt)
		if err != nil {
			return nil, fmt.Errorf("instance %s: suspendedAt: %w", w.ID, err)
		}
		inst.Suspended = &domain.SuspendInfo{
			SuspendID:   s.SuspendID,
			Reason:      s.Reason,
			SuspendedAt: at,
			Metadata:    domain.CloneState(s.Metadata),
		}
	}
	if len(w.Inbox) > 0 {
		inbox, err := DecodeMessages(w.Inbox)
		if err != nil {
			return nil, fmt.Errorf("instance %s inbox: %w", w.ID, err)
		}
		inst.Inbox = inbox
	}
	for _, wc := range w.Children {
		child, err := DeserializeInstance(reg, wc)
		if err != nil {
			return nil, err
		}
		inst.Children = append(inst.Children, child)
	}
	return inst, nil
}

func serializeNode(reg Registry, n *domain.Node) WireNode {
	if reg != nil {
		if name, ok := reg.NameOf(n); ok {
			return WireNode{Ref: name}
		}
	}
	return WireNode{
		ID:           n.ID,
		Description:  n.Description,
		Instructions: n.Instructions,
		StateSchema:  n.StateSchema,
		InitialState: domain.CloneState(n.InitialState),
		Tools:        refs(n.Tools),
		Transitions:  refs(n.Transitions),
		Commands:     refs(n.Commands),
		Packs:        append([]string(nil), n.Packs...),
		Worker:       n.Worker,
		Executor:     n.Executor,
		Metadata:     cloneStrings(n.Metadata),
	}
}

func deserializeNode(reg Registry, w WireNode) (*domain.Node, error) {
	if w.IsRef() {
		if reg == nil {
			return nil, &domain.ResolutionError{Kind: domain.RefNode, Ref: w.Ref}
		}
		return reg.ResolveNode(w.Ref)
	}

	n := &domain.Node{
		ID:           w.ID,
		Description:  w.Description,
		Instructions: w.Instructions,
		StateSchema:  w.StateSchema,
		InitialState: domain.CloneState(w.InitialState),
		Packs:        append([]string(nil), w.Packs...),
		Worker:       w.Worker,
		Executor:     w.Executor,
		Metadata:     cloneStrings(w.Metadata),
	}
	if len(w.Tools) > 0 {
		n.Tools = make(map[string]*domain.Tool, len(w.Tools))
		for _, r := range w.Tools {
			n.Tools[r.Ref] = &domain.Tool{Name: r.Ref}
		}
	}
	if len(w.Transitions) > 0 {
		n.Transitions = make(map[string]*domain.Transition, len(w.Transitions))
		for _, r := range w.Transitions {
			n.Transitions[r.Ref] = &domain.Transition{Name: r.Ref}
		}
	}
	if len(w.Commands) > 0 {
		n.Commands = make(map[string]*domain.Command, len(w.Commands))
		for _, r := range w.Commands {
			n.Commands[r.Ref] = &domain.Command{Name: r.Ref}
		}
	}
	if reg != nil {
		n = reg.Reattach(n)
	}
	return n, nil
}

func refs[T any](m map[string]T) []WireRef {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]WireRef, len(names))
	for i, name := range names {
		out[i] = WireRef{Ref: name}
	}
	return out
}

func clonePackStates(in map[string]map[string]any) map[string]map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]map[string]any, len(in))
	for k, v := range in {
		out[k] = domain.CloneState(v)
	}
	return out
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(TimeFormat, s)
}
