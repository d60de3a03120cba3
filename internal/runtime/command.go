package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/schema"
)

// CommandResult is the outcome of RunCommand.
type CommandResult struct {
	Step *domain.Step
	// Value is set when the handler returned a *domain.Value effect.
	Value any
}

// RunCommand invokes a command on an instance outside executor dispatch.
// An empty instanceID targets the sole active primary leaf. The command's
// effect is applied exactly like a single leaf's and yields one step with
// reason command.
func (e *Engine) RunCommand(ctx context.Context, m *Machine, name string, input map[string]any, instanceID string) (*CommandResult, error) {
	m.turn.Lock()
	defer m.turn.Unlock()
	return e.runCommand(ctx, m, domain.CommandItem{Name: name, Input: input, InstanceID: instanceID}, nil)
}

// Resume lifts the suspension of one instance. The suspend ID must match
// exactly; a payload is delivered to the instance's inbox.
func (e *Engine) Resume(ctx context.Context, m *Machine, r domain.ResumeItem) (*domain.Step, error) {
	m.turn.Lock()
	defer m.turn.Unlock()
	return e.resume(ctx, m, r, nil)
}

// control handles one queued command or resume message. Items after the
// first control item go back to the front of the queue.
func (e *Engine) control(ctx context.Context, m *Machine, msg domain.Message) (*domain.Step, error) {
	for i, item := range msg.Items {
		var (
			step *domain.Step
			err  error
			done bool
		)
		switch it := item.(type) {
		case domain.CommandItem:
			var res *CommandResult
			res, err = e.runCommand(ctx, m, it, []domain.Message{msg})
			if res != nil {
				step = res.Step
			}
			done = true
		case domain.ResumeItem:
			step, err = e.resume(ctx, m, it, []domain.Message{msg})
			done = true
		}
		if !done {
			continue
		}
		if rest := msg.Items[i+1:]; len(rest) > 0 {
			tail := msg.Clone()
			tail.Items = append([]domain.Item(nil), rest...)
			m.requeue([]domain.Message{tail})
		}
		if err != nil {
			e.logger.Warn("queued control message dropped", "message", msg.ID, "error", err)
		}
		return step, err
	}
	return nil, fmt.Errorf("message %s carries no control item", msg.ID)
}

func (e *Engine) runCommand(ctx context.Context, m *Machine, item domain.CommandItem, origin []domain.Message) (*CommandResult, error) {
	root, history := m.Snapshot()
	gen := m.Generation()

	target, err := commandTarget(root, item.InstanceID)
	if err != nil {
		return nil, err
	}
	cmd, packName, err := m.charter.CommandFor(target.Node, item.Name)
	if err != nil {
		return nil, fmt.Errorf("command %q on %s: %w", item.Name, target.ID, err)
	}
	if !cmd.Executable() {
		return nil, fmt.Errorf("command %q: %w", item.Name, domain.ErrNotExecutable)
	}
	if err := schema.Validate(cmd.Input, item.Input); err != nil {
		return nil, &domain.InvalidInputError{Command: item.Name, Field: schema.FirstField(err), Err: err}
	}

	next := root.Clone()
	tgt, _, _ := domain.Find(next, target.ID)
	cc := &commandContext{
		engine:  e,
		machine: m,
		root:    next,
		target:  tgt,
		pack:    packName,
		history: history,
	}

	eff, err := cmd.Handler(ctx, cc, domain.CloneState(item.Input))
	e.fireCommand(ctx, tgt, item.Name, err)
	if err != nil {
		return nil, fmt.Errorf("command %q: %w", item.Name, err)
	}

	tgt.Inbox = append(tgt.Inbox, cc.deliveries...)
	var effects []domain.Effect
	if eff != nil {
		effects = append(effects, eff)
	}
	a, err := e.apply(m, next, tgt, effects, cc.patch, true)
	if err != nil {
		return nil, err
	}
	if err := e.mergePacks(m, next, cc.packPatches); err != nil {
		return nil, err
	}
	if err := checkInvariant(domain.ActiveLeaves(next)); err != nil {
		e.logger.Error("invariant violation after command", "command", item.Name, "error", err)
		return nil, err
	}
	if m.Generation() != gen {
		return nil, domain.ErrAbandoned
	}

	var cede any
	if a.ceded {
		cede = a.cedeContent
	}
	step := e.emit(m, gen, next, origin, nil, domain.YieldCommand, cede, nil)
	e.fireSuspend(ctx, a.suspends, a.resumes)
	e.fireStep(ctx, step, nil)

	res := &CommandResult{Step: step}
	if v, ok := eff.(*domain.Value); ok {
		res.Value = v.Value
	}
	return res, nil
}

func (e *Engine) resume(ctx context.Context, m *Machine, r domain.ResumeItem, origin []domain.Message) (*domain.Step, error) {
	root := m.Root()
	gen := m.Generation()

	var target *domain.Instance
	if r.InstanceID != "" {
		inst, _, ok := domain.Find(root, r.InstanceID)
		if !ok {
			return nil, fmt.Errorf("resume %s: %w", r.InstanceID, domain.ErrNoTarget)
		}
		target = inst
	} else {
		for _, l := range domain.SuspendedInstances(root) {
			if l.Instance.Suspended.SuspendID == r.SuspendID {
				target = l.Instance
				break
			}
		}
		if target == nil {
			return nil, &domain.SuspendMismatchError{Got: r.SuspendID}
		}
	}
	if !target.IsSuspended() {
		return nil, &domain.SuspendMismatchError{InstanceID: target.ID, Got: r.SuspendID}
	}
	if target.Suspended.SuspendID != r.SuspendID {
		return nil, &domain.SuspendMismatchError{InstanceID: target.ID, Want: target.Suspended.SuspendID, Got: r.SuspendID}
	}

	next := root.Clone()
	tgt, _, _ := domain.Find(next, target.ID)
	a, err := e.apply(m, next, tgt, []domain.Effect{&domain.Resume{SuspendID: r.SuspendID, Payload: r.Payload}}, nil, true)
	if err != nil {
		return nil, err
	}
	if err := checkInvariant(domain.ActiveLeaves(next)); err != nil {
		e.logger.Error("invariant violation after resume", "instance", target.ID, "error", err)
		return nil, err
	}

	step := e.emit(m, gen, next, origin, nil, domain.YieldCommand, nil, nil)
	e.fireSuspend(ctx, nil, a.resumes)
	e.fireStep(ctx, step, nil)
	return step, nil
}

func (e *Engine) fireCommand(ctx context.Context, inst *domain.Instance, name string, err error) {
	if err != nil {
		e.logger.Warn("command failed", "command", name, "instance", inst.ID, "error", err)
	} else {
		e.logger.Debug("command invoked", "command", name, "instance", inst.ID)
	}
	if e.hooks.OnCommand != nil {
		e.hooks.OnCommand(ctx, &domain.CommandEvent{
			Timestamp:  e.now(),
			InstanceID: inst.ID,
			NodeID:     inst.NodeID(),
			Command:    name,
			Err:        err,
		})
	}
}

// commandTarget picks the explicit instance or the sole active primary leaf.
func commandTarget(root *domain.Instance, id string) (*domain.Instance, error) {
	if id != "" {
		inst, _, ok := domain.Find(root, id)
		if !ok {
			return nil, fmt.Errorf("instance %q: %w", id, domain.ErrNoTarget)
		}
		return inst, nil
	}
	primaries := domain.PrimaryLeaves(domain.ActiveLeaves(root))
	if len(primaries) != 1 {
		return nil, domain.ErrNoTarget
	}
	return primaries[0].Instance, nil
}

// commandContext stages a handler's changes against a private clone.
type commandContext struct {
	engine  *Engine
	machine *Machine
	root    *domain.Instance
	target  *domain.Instance
	pack    string
	history []domain.Message

	patch       map[string]any
	packPatches map[string]map[string]any
	deliveries  []domain.Message
}

func (c *commandContext) InstanceID() string { return c.target.ID }

func (c *commandContext) State() map[string]any {
	return domain.MergeState(c.target.State, c.patch)
}

func (c *commandContext) UpdateState(patch map[string]any) error {
	if err := schema.ValidatePatch(c.target.Node.StateSchema, patch); err != nil {
		return &domain.StateValidationError{InstanceID: c.target.ID, Err: err}
	}
	c.patch = domain.MergeState(c.patch, patch)
	return nil
}

// PackState falls back to the command's own pack when pack is empty.
func (c *commandContext) PackState(pack string) map[string]any {
	if pack == "" {
		pack = c.pack
	}
	var staged map[string]any
	if c.packPatches != nil {
		staged = c.packPatches[pack]
	}
	return domain.MergeState(c.root.PackStates[pack], staged)
}

func (c *commandContext) UpdatePackState(pack string, patch map[string]any) error {
	if pack == "" {
		pack = c.pack
	}
	if !c.target.Node.HasPack(pack) {
		return fmt.Errorf("pack %q is not attached to node %q", pack, c.target.NodeID())
	}
	p, err := c.machine.charter.ResolvePack(pack)
	if err != nil {
		return err
	}
	if err := schema.ValidatePatch(p.StateSchema, patch); err != nil {
		return &domain.StateValidationError{Pack: pack, Err: err}
	}
	if c.packPatches == nil {
		c.packPatches = make(map[string]map[string]any)
	}
	c.packPatches[pack] = domain.MergeState(c.packPatches[pack], patch)
	return nil
}

// InstanceMessages returns the history produced by the target plus its
// pending inbox.
func (c *commandContext) InstanceMessages() []domain.Message {
	var out []domain.Message
	for _, msg := range c.history {
		if src := msg.Metadata.Source; src != nil && src.InstanceID == c.target.ID {
			out = append(out, msg.Clone())
		}
	}
	return append(out, cloneMessages(c.target.Inbox)...)
}

func (c *commandContext) Deliver(msg domain.Message) {
	msg = msg.Clone()
	if msg.ID == "" {
		msg.ID = c.engine.newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.engine.now()
	}
	if msg.Role == "" {
		msg.Role = domain.RoleCommand
	}
	c.deliveries = append(c.deliveries, msg)
}

func (c *commandContext) Cede(content any) domain.Effect {
	return &domain.Cede{Content: content}
}

func (c *commandContext) Spawn(children ...domain.SpawnSpec) domain.Effect {
	return &domain.Spawn{Children: children}
}

func (c *commandContext) Suspend(reason string, metadata map[string]any) domain.Effect {
	return &domain.Suspend{Reason: reason, Metadata: metadata}
}

func (c *commandContext) Resume(payload any) (domain.Effect, error) {
	if !c.target.IsSuspended() {
		return nil, &domain.SuspendMismatchError{InstanceID: c.target.ID}
	}
	return &domain.Resume{SuspendID: c.target.Suspended.SuspendID, Payload: payload}, nil
}
