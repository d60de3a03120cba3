package domain

import "time"

// Step is one emitted unit of the scheduling loop. It is immutable once
// yielded: Instance is a snapshot and History holds only the messages
// produced by executors during this step. Input holds what was drained
// from the queue for it.
type Step struct {
	Index       int
	Generation  uint64
	Instance    *Instance
	Input       []Message
	History     []Message
	YieldReason YieldReason
	Done        bool
	CedeContent any
	Suspended   []SuspendedSummary
	Warnings    []PolicyWarning
	CreatedAt   time.Time
}

// SuspendedSummary describes one suspended instance at the time of a step.
type SuspendedSummary struct {
	InstanceID  string
	NodeID      string
	SuspendID   string
	Reason      string
	SuspendedAt time.Time
	Metadata    map[string]any
}

// PolicyWarning is a non-fatal rule violation observed during a step.
type PolicyWarning struct {
	InstanceID string
	NodeID     string
	Code       string
	Message    string
}

// SummarizeSuspended lists every suspended instance under root.
func SummarizeSuspended(root *Instance) []SuspendedSummary {
	var out []SuspendedSummary
	for _, leaf := range SuspendedInstances(root) {
		inst := leaf.Instance
		out = append(out, SuspendedSummary{
			InstanceID:  inst.ID,
			NodeID:      inst.NodeID(),
			SuspendID:   inst.Suspended.SuspendID,
			Reason:      inst.Suspended.Reason,
			SuspendedAt: inst.Suspended.SuspendedAt,
			Metadata:    CloneState(inst.Suspended.Metadata),
		})
	}
	return out
}
