package domain

import (
	"reflect"
)

// StepDiff represents the changes between two step snapshots.
// It is designed to be serialized to JSON for partial updates on the client.
type StepDiff struct {
	Index       int         `json:"index"`
	YieldReason YieldReason `json:"yield_reason"`
	Done        bool        `json:"done"`

	// Added and Removed list instance IDs that appeared or disappeared.
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`

	// State holds, per instance, only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	State map[string]map[string]any `json:"state,omitempty"`

	// Suspended and Resumed list instances whose suspension changed.
	Suspended []string `json:"suspended,omitempty"`
	Resumed   []string `json:"resumed,omitempty"`

	// Messages is the number of messages appended by the new step.
	Messages int `json:"messages"`
}

// Diff calculates the difference between two steps of the same machine.
// If prev is nil, everything in next is reported as added.
func Diff(prev, next *Step) *StepDiff {
	if next == nil {
		return nil
	}

	d := &StepDiff{
		Index:       next.Index,
		YieldReason: next.YieldReason,
		Done:        next.Done,
		Messages:    len(next.History),
	}

	before := index(prevInstance(prev))
	after := index(next.Instance)

	Walk(next.Instance, func(inst *Instance, _ []int) {
		old, existed := before[inst.ID]
		if !existed {
			d.Added = append(d.Added, inst.ID)
			if len(inst.State) > 0 {
				d.setState(inst.ID, CloneState(inst.State))
			}
			if inst.IsSuspended() {
				d.Suspended = append(d.Suspended, inst.ID)
			}
			return
		}
		if delta := diffState(old.State, inst.State); len(delta) > 0 {
			d.setState(inst.ID, delta)
		}
		switch {
		case !old.IsSuspended() && inst.IsSuspended():
			d.Suspended = append(d.Suspended, inst.ID)
		case old.IsSuspended() && !inst.IsSuspended():
			d.Resumed = append(d.Resumed, inst.ID)
		}
	})

	Walk(prevInstance(prev), func(inst *Instance, _ []int) {
		if _, ok := after[inst.ID]; !ok {
			d.Removed = append(d.Removed, inst.ID)
		}
	})

	return d
}

func (d *StepDiff) setState(id string, delta map[string]any) {
	if d.State == nil {
		d.State = make(map[string]map[string]any)
	}
	d.State[id] = delta
}

// IsEmpty checks if the diff contains any tree changes.
func (d *StepDiff) IsEmpty() bool {
	return len(d.Added) == 0 &&
		len(d.Removed) == 0 &&
		len(d.State) == 0 &&
		len(d.Suspended) == 0 &&
		len(d.Resumed) == 0 &&
		d.Messages == 0
}

func prevInstance(s *Step) *Instance {
	if s == nil {
		return nil
	}
	return s.Instance
}

func index(root *Instance) map[string]*Instance {
	out := make(map[string]*Instance)
	Walk(root, func(inst *Instance, _ []int) { out[inst.ID] = inst })
	return out
}

func diffState(old, new map[string]any) map[string]any {
	delta := make(map[string]any)
	for k, newVal := range new {
		oldVal, exists := old[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			delta[k] = newVal
		}
	}
	for k := range old {
		if _, exists := new[k]; !exists {
			delta[k] = nil
		}
	}
	return delta
}
