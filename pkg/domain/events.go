package domain

import (
	"context"
	"time"
)

// DispatchEvent describes one executor call.
type DispatchEvent struct {
	Timestamp   time.Time
	InstanceID  string
	NodeID      string
	IsPrimary   bool
	Duration    time.Duration
	YieldReason YieldReason
	Err         error
}

// CommandEvent describes one command-path invocation.
type CommandEvent struct {
	Timestamp  time.Time
	InstanceID string
	NodeID     string
	Command    string
	Err        error
}

// SuspendEvent describes an instance entering or leaving suspension.
type SuspendEvent struct {
	Timestamp  time.Time
	InstanceID string
	NodeID     string
	SuspendID  string
	Reason     string
}

// LifecycleHooks defines callbacks for engine observability.
// Every field is optional. Hooks run synchronously on the scheduler
// goroutine and must not call back into the machine.
type LifecycleHooks struct {
	OnStep          func(context.Context, *Step)
	OnDispatch      func(context.Context, *DispatchEvent)
	OnDispatchDone  func(context.Context, *DispatchEvent)
	OnPolicyWarning func(context.Context, *PolicyWarning)
	OnCommand       func(context.Context, *CommandEvent)
	OnSuspend       func(context.Context, *SuspendEvent)
	OnResume        func(context.Context, *SuspendEvent)
}

// Merge combines two hook sets so that both are called, a first.
func (h LifecycleHooks) Merge(b LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnStep:          chain(h.OnStep, b.OnStep),
		OnDispatch:      chain(h.OnDispatch, b.OnDispatch),
		OnDispatchDone:  chain(h.OnDispatchDone, b.OnDispatchDone),
		OnPolicyWarning: chain(h.OnPolicyWarning, b.OnPolicyWarning),
		OnCommand:       chain(h.OnCommand, b.OnCommand),
		OnSuspend:       chain(h.OnSuspend, b.OnSuspend),
		OnResume:        chain(h.OnResume, b.OnResume),
	}
}

func chain[T any](a, b func(context.Context, T)) func(context.Context, T) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, v T) {
		a(ctx, v)
		b(ctx, v)
	}
}
