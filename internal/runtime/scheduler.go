package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// dispatch is one leaf selected for this round.
type dispatch struct {
	leaf     domain.Leaf
	input    []domain.Message
	executor ports.Executor
	result   *ports.RunResult
	err      error
	took     time.Duration
}

// Step runs one scheduling iteration and returns the emitted step.
//
// Queued command and resume messages are handled first, one per step,
// through the command path. Otherwise the whole queue is drained as one
// batch and every active leaf is dispatched concurrently.
func (e *Engine) Step(ctx context.Context, m *Machine) (*domain.Step, error) {
	m.turn.Lock()
	defer m.turn.Unlock()
	return e.step(ctx, m)
}

func (e *Engine) step(ctx context.Context, m *Machine) (*domain.Step, error) {
	root, history := m.Snapshot()
	leaves := domain.ActiveLeaves(root)
	if err := checkInvariant(leaves); err != nil {
		e.logger.Error("invariant violation", "error", err)
		return nil, err
	}

	if msg, ok := m.popControl(); ok {
		return e.control(ctx, m, msg)
	}

	if len(leaves) == 0 {
		return e.awaitingResume(ctx, m, root), nil
	}

	gen := m.Generation()
	batch := m.drain()
	plan, warnings, err := e.plan(m, root, leaves, batch)
	if err != nil {
		m.requeue(batch)
		return nil, err
	}

	// Every leaf may have hit its ceiling.
	if len(plan) == 0 {
		next := root.Clone()
		applyCeilings(next, warnings, e.now())
		m.requeue(batch)
		step := e.emit(m, gen, next, nil, nil, domain.YieldSuspend, nil, warnings)
		e.fireStep(ctx, step, warnings)
		return step, nil
	}

	visible := domain.FilterVisible(history)
	if d := e.runAll(ctx, m, root, plan, visible); d != nil {
		m.requeue(batch)
		e.logger.Warn("dispatch failed", "instance", d.leaf.Instance.ID, "node", d.leaf.Instance.NodeID(), "error", d.err)
		return nil, &domain.DispatchError{InstanceID: d.leaf.Instance.ID, NodeID: d.leaf.Instance.NodeID(), Err: d.err}
	}

	if m.Generation() != gen {
		e.logger.Info("step abandoned", "generation", gen)
		return nil, domain.ErrAbandoned
	}

	next := root.Clone()
	applyCeilings(next, warnings, e.now())
	out, err := e.merge(m, next, plan)
	if err != nil {
		m.requeue(batch)
		return nil, err
	}
	warnings = append(warnings, out.warnings...)

	if err := checkInvariant(domain.ActiveLeaves(next)); err != nil {
		m.requeue(batch)
		e.logger.Error("invariant violation after merge", "error", err)
		return nil, err
	}

	step := e.emit(m, gen, next, batch, out.messages, out.reason, out.cedeContent, warnings)
	e.fireSuspend(ctx, out.suspends, nil)
	e.fireStep(ctx, step, warnings)
	return step, nil
}

// plan picks the leaves to dispatch and builds their input.
//
// With external input every active leaf runs: the primary receives the
// batch and its inbox, workers only their inbox. Without it only leaves
// that asked for another round (Ready) or have inbox messages run; when no
// leaf qualifies every active leaf runs, as the caller asked for a round.
func (e *Engine) plan(m *Machine, root *domain.Instance, leaves []domain.Leaf, batch []domain.Message) ([]*dispatch, []domain.PolicyWarning, error) {
	selected := leaves
	if len(batch) == 0 {
		var runnable []domain.Leaf
		for _, l := range leaves {
			if l.Instance.Ready || len(l.Instance.Inbox) > 0 {
				runnable = append(runnable, l)
			}
		}
		if len(runnable) > 0 {
			selected = runnable
		}
	}

	var (
		plan     []*dispatch
		warnings []domain.PolicyWarning
	)
	for _, l := range selected {
		inst := l.Instance
		if l.Worker && e.maxWorkerSteps > 0 && inst.Steps >= e.maxWorkerSteps {
			warnings = append(warnings, domain.PolicyWarning{
				InstanceID: inst.ID,
				NodeID:     inst.NodeID(),
				Code:       domain.WarnWorkerStepCap,
				Message:    fmt.Sprintf("worker reached %d dispatches without ceding; suspended", e.maxWorkerSteps),
			})
			continue
		}

		exec, err := m.charter.ExecutorFor(inst.Node)
		if err != nil {
			return nil, nil, fmt.Errorf("instance %s: %w", inst.ID, err)
		}

		var input []domain.Message
		if !l.Worker {
			input = append(input, batch...)
		}
		input = append(input, inst.Inbox...)

		plan = append(plan, &dispatch{leaf: l, input: input, executor: exec})
	}
	return plan, warnings, nil
}

// runAll fans out to every planned leaf and waits for all of them. It
// returns the first dispatch to fail; siblings cancelled because of that
// failure are not reported in its place.
func (e *Engine) runAll(ctx context.Context, m *Machine, root *domain.Instance, plan []*dispatch, history []domain.Message) *dispatch {
	stepIndex := m.nextIndex()
	g, gctx := errgroup.WithContext(ctx)

	var (
		once   sync.Once
		failed *dispatch
	)

	for _, d := range plan {
		inst := d.leaf.Instance
		req := &ports.RunRequest{
			Charter:   m.charter,
			Instance:  inst.Clone(),
			Ancestors: ancestorsOf(root, d.leaf.Path),
			Input:     cloneMessages(d.input),
			Options: ports.RunOptions{
				History:      cloneMessages(history),
				Step:         stepIndex,
				InstanceStep: inst.Steps,
				IsPrimary:    !d.leaf.Worker,
				MaxTokens:    e.maxTokens,
				PackStates:   packStatesFor(root, inst.Node),
			},
		}
		if e.hooks.OnDispatch != nil {
			e.hooks.OnDispatch(ctx, &domain.DispatchEvent{
				Timestamp:  e.now(),
				InstanceID: inst.ID,
				NodeID:     inst.NodeID(),
				IsPrimary:  !d.leaf.Worker,
			})
		}

		g.Go(func() error {
			start := time.Now()
			res, err := d.executor.Run(gctx, req)
			d.took = time.Since(start)
			if err == nil && res == nil {
				err = errors.New("executor returned no result")
			}
			d.result, d.err = res, err
			if err != nil {
				once.Do(func() { failed = d })
			}
			return err
		})
	}
	_ = g.Wait()

	if e.hooks.OnDispatchDone != nil {
		e.fireDispatchDone(ctx, plan)
	}
	return failed
}

func (e *Engine) fireDispatchDone(ctx context.Context, plan []*dispatch) {
	for _, d := range plan {
		ev := &domain.DispatchEvent{
			Timestamp:  e.now(),
			InstanceID: d.leaf.Instance.ID,
			NodeID:     d.leaf.Instance.NodeID(),
			IsPrimary:  !d.leaf.Worker,
			Duration:   d.took,
			Err:        d.err,
		}
		if d.result != nil {
			ev.YieldReason = d.result.YieldReason
		}
		e.hooks.OnDispatchDone(ctx, ev)
	}
}

func (e *Engine) awaitingResume(ctx context.Context, m *Machine, root *domain.Instance) *domain.Step {
	step := e.emit(m, m.Generation(), root, nil, nil, domain.YieldAwaitingResume, nil, nil)
	e.fireStep(ctx, step, nil)
	return step
}

// emit builds a step and commits it to the machine.
func (e *Engine) emit(m *Machine, gen uint64, root *domain.Instance, input, produced []domain.Message, reason domain.YieldReason, cede any, warnings []domain.PolicyWarning) *domain.Step {
	step := &domain.Step{
		Index:       m.nextIndex(),
		Generation:  gen,
		Instance:    root,
		Input:       input,
		History:     produced,
		YieldReason: reason,
		Done:        reason.Done(),
		CedeContent: cede,
		Suspended:   domain.SummarizeSuspended(root),
		Warnings:    warnings,
		CreatedAt:   e.now(),
	}
	m.commit(step)
	e.logger.Debug("step emitted",
		"index", step.Index,
		"yield", string(step.YieldReason),
		"done", step.Done,
		"messages", len(step.History),
		"suspended", len(step.Suspended))
	return step
}

func (e *Engine) fireSuspend(ctx context.Context, suspends, resumes []*domain.SuspendEvent) {
	for _, ev := range suspends {
		e.logger.Info("instance suspended", "instance", ev.InstanceID, "node", ev.NodeID, "suspend_id", ev.SuspendID, "reason", ev.Reason)
		if e.hooks.OnSuspend != nil {
			e.hooks.OnSuspend(ctx, ev)
		}
	}
	for _, ev := range resumes {
		e.logger.Info("instance resumed", "instance", ev.InstanceID, "node", ev.NodeID, "suspend_id", ev.SuspendID)
		if e.hooks.OnResume != nil {
			e.hooks.OnResume(ctx, ev)
		}
	}
}

func (e *Engine) fireStep(ctx context.Context, step *domain.Step, warnings []domain.PolicyWarning) {
	for i := range warnings {
		w := warnings[i]
		e.logger.Warn("policy warning", "instance", w.InstanceID, "node", w.NodeID, "code", w.Code, "detail", w.Message)
		if e.hooks.OnPolicyWarning != nil {
			e.hooks.OnPolicyWarning(ctx, &w)
		}
	}
	if e.hooks.OnStep != nil {
		e.hooks.OnStep(ctx, step)
	}
}

// Run steps the machine until it has nothing left to do: the queue is
// empty and no leaf asked for another round. Every step is passed to
// yield before the next one starts; a yield error stops the run.
func (e *Engine) Run(ctx context.Context, m *Machine, yield func(*domain.Step) error) error {
	if !m.running.CompareAndSwap(false, true) {
		return domain.ErrMachineBusy
	}
	defer m.running.Store(false)
	_, err := e.run(ctx, m, yield)
	return err
}

// run reports whether a failure came from yield rather than from a step.
func (e *Engine) run(ctx context.Context, m *Machine, yield func(*domain.Step) error) (bool, error) {
	if !e.hasWork(m, nil) {
		return false, nil
	}
	for n := 0; n < e.maxSteps; n++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		step, err := e.Step(ctx, m)
		if err != nil {
			return false, err
		}
		if yield != nil {
			if err := yield(step); err != nil {
				return true, err
			}
		}
		if !e.hasWork(m, step) {
			return false, nil
		}
	}
	return false, domain.ErrStepLimit
}

// Serve runs the machine for as long as ctx lives, waiting on the queue's
// wake signal between runs.
func (e *Engine) Serve(ctx context.Context, m *Machine, yield func(*domain.Step) error) error {
	if !m.running.CompareAndSwap(false, true) {
		return domain.ErrMachineBusy
	}
	defer m.running.Store(false)

	for {
		if fromYield, err := e.run(ctx, m, yield); err != nil {
			if fromYield || domain.IsFatal(err) || errors.Is(err, domain.ErrAbandoned) || ctx.Err() != nil {
				return err
			}
			// Failed input stays queued; the next enqueue retries it.
			e.logger.Warn("run failed, waiting for input", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.Wake():
		}
	}
}

// hasWork reports whether another step should run right away.
func (e *Engine) hasWork(m *Machine, last *domain.Step) bool {
	if last != nil && last.YieldReason == domain.YieldAwaitingResume {
		return m.hasControl()
	}
	if m.Pending() > 0 {
		return true
	}
	if last != nil && last.YieldReason == domain.YieldToolUse {
		return true
	}
	for _, l := range domain.ActiveLeaves(m.Root()) {
		if l.Instance.Ready || len(l.Instance.Inbox) > 0 {
			return true
		}
	}
	return false
}

func checkInvariant(leaves []domain.Leaf) error {
	primaries := domain.PrimaryLeaves(leaves)
	if len(primaries) <= 1 {
		return nil
	}
	ids := make([]string, len(primaries))
	for i, p := range primaries {
		ids[i] = p.Instance.ID
	}
	return &domain.InvariantViolationError{PrimaryLeaves: ids}
}

// applyCeilings suspends the workers named by step-limit warnings.
func applyCeilings(root *domain.Instance, warnings []domain.PolicyWarning, now time.Time) {
	for _, w := range warnings {
		if w.Code != domain.WarnWorkerStepCap {
			continue
		}
		if inst, _, ok := domain.Find(root, w.InstanceID); ok {
			inst.Suspended = &domain.SuspendInfo{
				SuspendID:   "step-limit-" + inst.ID,
				Reason:      domain.SuspendReasonStepLimit,
				SuspendedAt: now,
			}
			inst.Ready = false
		}
	}
}

func ancestorsOf(root *domain.Instance, path []int) []*domain.Instance {
	chain := domain.Ancestors(root, path)
	out := make([]*domain.Instance, len(chain))
	for i, a := range chain {
		c := *a
		c.State = domain.CloneState(a.State)
		c.Children = nil
		c.Inbox = nil
		if a.PackStates != nil {
			c.PackStates = make(map[string]map[string]any, len(a.PackStates))
			for k, v := range a.PackStates {
				c.PackStates[k] = domain.CloneState(v)
			}
		}
		out[i] = &c
	}
	return out
}

func packStatesFor(root *domain.Instance, node *domain.Node) map[string]map[string]any {
	if node == nil || len(node.Packs) == 0 {
		return nil
	}
	out := make(map[string]map[string]any, len(node.Packs))
	for _, name := range node.Packs {
		out[name] = domain.CloneState(root.PackStates[name])
	}
	return out
}

func cloneMessages(msgs []domain.Message) []domain.Message {
	if msgs == nil {
		return nil
	}
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
