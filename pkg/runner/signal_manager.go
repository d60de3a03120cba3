package runner

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SignalManager turns interrupts into context cancellation. Each turn gets
// a fresh context, so Ctrl+C during a turn abandons that turn only; an
// interrupt while waiting for input ends the session.
type SignalManager struct {
	ctx    context.Context
	cancel context.CancelFunc
	parent context.Context
}

// NewSignalManager starts listening for SIGINT and SIGTERM under parent.
func NewSignalManager(parent context.Context) *SignalManager {
	sm := &SignalManager{parent: parent}
	sm.Reset()
	return sm
}

// Context returns the current signal context.
func (sm *SignalManager) Context() context.Context {
	return sm.ctx
}

// Reset re-arms the listener after an interrupt was handled.
func (sm *SignalManager) Reset() {
	if sm.cancel != nil {
		sm.cancel()
	}
	sm.ctx, sm.cancel = signal.NotifyContext(sm.parent, os.Interrupt, syscall.SIGTERM)
}

// Interrupted reports whether the current context was cancelled by a
// signal rather than by the parent.
func (sm *SignalManager) Interrupted() bool {
	return sm.ctx.Err() != nil && sm.parent.Err() == nil
}

// Stop permanently stops the listener.
func (sm *SignalManager) Stop() {
	if sm.cancel != nil {
		sm.cancel()
	}
}
