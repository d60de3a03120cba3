package runtime

import (
	"fmt"
	"sort"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/schema"
)

// mergeOutcome is the result of folding every leaf's RunResult into a tree.
type mergeOutcome struct {
	messages    []domain.Message
	reason      domain.YieldReason
	cedeContent any
	warnings    []domain.PolicyWarning
	suspends    []*domain.SuspendEvent
}

// applied records what a set of effects did to its instance.
type applied struct {
	ceded       bool
	cedeContent any
	suspended   bool
	suspends    []*domain.SuspendEvent
	resumes     []*domain.SuspendEvent
}

// merge applies the results of plan to root, which must be a private clone.
// Leaves are processed in invocation order so the outcome does not depend
// on completion order.
func (e *Engine) merge(m *Machine, root *domain.Instance, plan []*dispatch) (*mergeOutcome, error) {
	out := &mergeOutcome{}

	var (
		primary     *dispatch
		primaryDone *applied
		primaryWhy  domain.YieldReason
		anyCede     bool
		anyToolUse  bool
	)

	for _, d := range plan {
		res := d.result
		id := d.leaf.Instance.ID
		inst, _, ok := domain.Find(root, id)
		if !ok {
			return nil, &domain.EffectError{InstanceID: id, Effect: "merge", Reason: "instance no longer in tree"}
		}

		reason := res.YieldReason
		switch {
		case reason == "":
			reason = domain.YieldEndTurn
		case !reason.Valid():
			out.warnings = append(out.warnings, domain.PolicyWarning{
				InstanceID: id, NodeID: inst.NodeID(), Code: domain.WarnUnknownYield,
				Message: fmt.Sprintf("unknown yield reason %q treated as end_turn", reason),
			})
			reason = domain.YieldEndTurn
		}

		effects := res.Effects
		if reason == domain.YieldCede && !hasEffect[*domain.Cede](effects) {
			effects = append(effects, &domain.Cede{})
		}
		if reason == domain.YieldSuspend && !hasEffect[*domain.Suspend](effects) {
			effects = append(effects, &domain.Suspend{Reason: "executor"})
		}

		inst.Steps++
		inst.Inbox = nil
		inst.Ready = false

		a, err := e.apply(m, root, inst, effects, res.StatePatch, false)
		if err != nil {
			return nil, err
		}
		if err := e.mergePacks(m, root, res.PackStates); err != nil {
			return nil, err
		}
		out.suspends = append(out.suspends, a.suspends...)

		primaryFlag := !d.leaf.Worker
		for _, msg := range res.Messages {
			msg = msg.WithSource(id, primaryFlag)
			if msg.ID == "" {
				msg.ID = e.newID()
			}
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = e.now()
			}
			out.messages = append(out.messages, msg)
		}

		if !a.ceded && !a.suspended && reason == domain.YieldToolUse {
			inst.Ready = true
		}

		if a.ceded {
			anyCede = true
			if out.cedeContent == nil {
				out.cedeContent = a.cedeContent
			}
		}

		if primaryFlag {
			primary, primaryDone, primaryWhy = d, a, reason
			continue
		}

		switch {
		case a.ceded || a.suspended:
		case reason == domain.YieldEndTurn:
			out.warnings = append(out.warnings, domain.PolicyWarning{
				InstanceID: id, NodeID: inst.NodeID(), Code: domain.WarnWorkerEndTurn,
				Message: "worker returned end_turn without ceding; ignored",
			})
		case reason == domain.YieldToolUse:
			anyToolUse = true
		}
	}

	switch {
	case primary != nil && primaryDone.ceded:
		out.reason = domain.YieldCede
		out.cedeContent = primaryDone.cedeContent
	case primary != nil && primaryDone.suspended:
		out.reason = domain.YieldSuspend
	case primary != nil:
		out.reason = primaryWhy
		if out.reason == domain.YieldCede || out.reason == domain.YieldSuspend {
			out.reason = domain.YieldEndTurn
		}
	case anyCede:
		out.reason = domain.YieldCede
	case anyToolUse:
		out.reason = domain.YieldToolUse
	default:
		out.reason = domain.YieldExternal
	}
	if out.reason != domain.YieldCede {
		out.cedeContent = nil
	}
	return out, nil
}

// apply folds effects and a state patch into target, in the order
// transition, spawn, state patch, resume, cede, suspend. root and target
// belong to a private clone; nothing is visible until the caller commits.
func (e *Engine) apply(m *Machine, root, target *domain.Instance, effects []domain.Effect, patch map[string]any, allowResume bool) (*applied, error) {
	var (
		transitions []*domain.TransitionTo
		spawns      []*domain.Spawn
		cedes       []*domain.Cede
		suspends    []*domain.Suspend
		resumes     []*domain.Resume
	)
	for _, eff := range effects {
		switch v := eff.(type) {
		case nil, *domain.Value:
		case *domain.TransitionTo:
			transitions = append(transitions, v)
		case *domain.Spawn:
			spawns = append(spawns, v)
		case *domain.Cede:
			cedes = append(cedes, v)
		case *domain.Suspend:
			suspends = append(suspends, v)
		case *domain.Resume:
			resumes = append(resumes, v)
		default:
			return nil, &domain.EffectError{InstanceID: target.ID, Effect: fmt.Sprintf("%T", eff), Reason: "unknown effect"}
		}
	}

	switch {
	case len(transitions) > 1:
		return nil, &domain.EffectError{InstanceID: target.ID, Effect: "transitionTo", Reason: "more than one transition"}
	case len(cedes) > 1:
		return nil, &domain.EffectError{InstanceID: target.ID, Effect: "cede", Reason: "more than one cede"}
	case len(cedes) > 0 && len(suspends) > 0:
		return nil, &domain.EffectError{InstanceID: target.ID, Effect: "cede", Reason: "cannot cede and suspend in the same step"}
	case len(resumes) > 0 && !allowResume:
		return nil, &domain.EffectError{InstanceID: target.ID, Effect: "resume", Reason: "resume is only available on the command path"}
	}

	a := &applied{}
	now := e.now()

	if len(transitions) == 1 {
		t := transitions[0]
		node, err := resolveNode(m, t.Node, t.Ref)
		if err != nil {
			return nil, err
		}
		state := domain.MergeState(node.InitialState, t.State)
		if err := schema.Validate(node.StateSchema, state); err != nil {
			return nil, &domain.StateValidationError{InstanceID: target.ID, Err: err}
		}
		target.Node = node
		target.State = state
		target.Ready = true
		if err := seedPacks(m, root, node); err != nil {
			return nil, err
		}
	}

	for _, sp := range spawns {
		for _, spec := range sp.Children {
			node, err := resolveNode(m, spec.Node, spec.Ref)
			if err != nil {
				return nil, err
			}
			id := spec.ID
			if id == "" {
				id = e.newID()
			}
			opts := []domain.InstanceOption{domain.WithInstanceID(id)}
			if spec.Worker != nil {
				opts = append(opts, domain.AsWorker(*spec.Worker))
			}
			child, err := domain.CreateInstance(node, spec.State, opts...)
			if err != nil {
				return nil, &domain.StateValidationError{InstanceID: id, Err: err}
			}
			child.Ready = true
			target.Children = append(target.Children, child)
			if err := seedPacks(m, root, node); err != nil {
				return nil, err
			}
		}
	}

	if len(patch) > 0 {
		if err := schema.ValidatePatch(target.Node.StateSchema, patch); err != nil {
			return nil, &domain.StateValidationError{InstanceID: target.ID, Err: err}
		}
		target.State = domain.MergeState(target.State, patch)
	}

	for _, r := range resumes {
		if !target.IsSuspended() {
			return nil, &domain.SuspendMismatchError{InstanceID: target.ID, Got: r.SuspendID}
		}
		if r.SuspendID != "" && r.SuspendID != target.Suspended.SuspendID {
			return nil, &domain.SuspendMismatchError{InstanceID: target.ID, Want: target.Suspended.SuspendID, Got: r.SuspendID}
		}
		a.resumes = append(a.resumes, &domain.SuspendEvent{
			Timestamp: now, InstanceID: target.ID, NodeID: target.NodeID(),
			SuspendID: target.Suspended.SuspendID, Reason: target.Suspended.Reason,
		})
		target.Suspended = nil
		target.Steps = 0
		target.Ready = true
		if r.Payload != nil {
			msg := domain.NewMessage(domain.RoleCommand, domain.StructuredItem{Name: "resume", Data: r.Payload})
			msg.ID = e.newID()
			msg.CreatedAt = now
			msg.Metadata.Extra = map[string]any{"kind": "resume"}
			target.Inbox = append(target.Inbox, msg)
		}
	}

	if len(cedes) == 1 {
		_, path, _ := domain.Find(root, target.ID)
		if len(path) == 0 {
			return nil, &domain.EffectError{InstanceID: target.ID, Effect: "cede", Reason: "the root instance has no parent to cede to"}
		}
		parent, _ := domain.At(root, path[:len(path)-1])
		idx := path[len(path)-1]
		parent.Children = append(parent.Children[:idx:idx], parent.Children[idx+1:]...)
		if len(parent.Children) == 0 {
			parent.Children = nil
		}
		parent.Inbox = append(parent.Inbox, e.cedeMessage(target, cedes[0].Content, now))
		a.ceded = true
		a.cedeContent = cedes[0].Content
	}

	if len(suspends) > 0 {
		s := suspends[len(suspends)-1]
		id := s.SuspendID
		if id == "" {
			id = e.newID()
		}
		target.Suspended = &domain.SuspendInfo{
			SuspendID:   id,
			Reason:      s.Reason,
			SuspendedAt: now,
			Metadata:    domain.CloneState(s.Metadata),
		}
		target.Ready = false
		a.suspended = true
		a.suspends = append(a.suspends, &domain.SuspendEvent{
			Timestamp: now, InstanceID: target.ID, NodeID: target.NodeID(), SuspendID: id, Reason: s.Reason,
		})
	}

	return a, nil
}

func (e *Engine) cedeMessage(child *domain.Instance, content any, now time.Time) domain.Message {
	var item domain.Item
	if text, ok := content.(string); ok {
		item = domain.TextItem{Text: text}
	} else {
		item = domain.StructuredItem{Name: "cede", Data: content}
	}
	msg := domain.NewMessage(domain.RoleCommand, item)
	msg.ID = e.newID()
	msg.CreatedAt = now
	msg.Metadata.Source = &domain.Source{InstanceID: child.ID, IsPrimary: !child.IsWorker()}
	msg.Metadata.Extra = map[string]any{"kind": "cede", "nodeId": child.NodeID()}
	return msg
}

// mergePacks validates and merges pack-state patches into the root.
func (e *Engine) mergePacks(m *Machine, root *domain.Instance, patches map[string]map[string]any) error {
	if len(patches) == 0 {
		return nil
	}
	names := make([]string, 0, len(patches))
	for name := range patches {
		names = append(names, name)
	}
	sort.Strings(names)

	if root.PackStates == nil {
		root.PackStates = make(map[string]map[string]any, len(names))
	}
	for _, name := range names {
		p, err := m.charter.ResolvePack(name)
		if err != nil {
			return err
		}
		patch := patches[name]
		if err := schema.ValidatePatch(p.StateSchema, patch); err != nil {
			return &domain.StateValidationError{Pack: name, Err: err}
		}
		base := root.PackStates[name]
		if base == nil {
			base = p.InitialState
		}
		root.PackStates[name] = domain.MergeState(base, patch)
	}
	return nil
}

func seedPacks(m *Machine, root *domain.Instance, node *domain.Node) error {
	for _, name := range node.Packs {
		if _, ok := root.PackStates[name]; ok {
			continue
		}
		p, err := m.charter.ResolvePack(name)
		if err != nil {
			return err
		}
		if root.PackStates == nil {
			root.PackStates = make(map[string]map[string]any)
		}
		state := domain.CloneState(p.InitialState)
		if state == nil {
			state = map[string]any{}
		}
		root.PackStates[name] = state
	}
	return nil
}

func resolveNode(m *Machine, node *domain.Node, ref string) (*domain.Node, error) {
	if node != nil {
		return node, nil
	}
	if ref == "" {
		return nil, &domain.ResolutionError{Kind: domain.RefNode, Ref: ref}
	}
	return m.charter.ResolveNode(ref)
}

func hasEffect[T domain.Effect](effects []domain.Effect) bool {
	for _, eff := range effects {
		if _, ok := eff.(T); ok {
			return true
		}
	}
	return false
}
