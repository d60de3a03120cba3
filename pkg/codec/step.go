package codec

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/canopy/pkg/domain"
)

// SerializeStep converts a step to its persisted form.
func SerializeStep(reg Registry, s *domain.Step) (*WireStep, error) {
	if s == nil {
		return nil, nil
	}
	inst, err := SerializeInstance(reg, s.Instance)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", s.Index, err)
	}
	w := &WireStep{
		Index:       s.Index,
		Generation:  s.Generation,
		Instance:    inst,
		Input:       EncodeMessages(s.Input),
		History:     EncodeMessages(s.History),
		YieldReason: string(s.YieldReason),
		Done:        s.Done,
		CedeContent: s.CedeContent,
		CreatedAt:   formatTime(s.CreatedAt),
	}
	for _, sum := range s.Suspended {
		w.Suspended = append(w.Suspended, WireSuspended{
			InstanceID:  sum.InstanceID,
			NodeID:      sum.NodeID,
			SuspendID:   sum.SuspendID,
			Reason:      sum.Reason,
			SuspendedAt: formatTime(sum.SuspendedAt),
			Metadata:    domain.CloneState(sum.Metadata),
		})
	}
	for _, pw := range s.Warnings {
		w.Warnings = append(w.Warnings, WireWarning(pw))
	}
	return w, nil
}

// DeserializeStep rebuilds a step. Sealed steps must be unsealed first.
func DeserializeStep(reg Registry, w *WireStep) (*domain.Step, error) {
	if w == nil {
		return nil, nil
	}
	if w.Sealed != "" {
		return nil, fmt.Errorf("step %d is sealed", w.Index)
	}
	inst, err := DeserializeInstance(reg, w.Instance)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", w.Index, err)
	}
	input, err := DecodeMessages(w.Input)
	if err != nil {
		return nil, fmt.Errorf("step %d input: %w", w.Index, err)
	}
	history, err := DecodeMessages(w.History)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", w.Index, err)
	}
	created, err := parseTime(w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("step %d: createdAt: %w", w.Index, err)
	}
	s := &domain.Step{
		Index:       w.Index,
		Generation:  w.Generation,
		Instance:    inst,
		Input:       input,
		History:     history,
		YieldReason: domain.YieldReason(w.YieldReason),
		Done:        w.Done,
		CedeContent: w.CedeContent,
		CreatedAt:   created,
	}
	for _, sum := range w.Suspended {
		at, err := parseTime(sum.SuspendedAt)
		if err != nil {
			return nil, fmt.Errorf("step %d: suspended %s: %w", w.Index, sum.InstanceID, err)
		}
		s.Suspended = append(s.Suspended, domain.SuspendedSummary{
			InstanceID:  sum.InstanceID,
			NodeID:      sum.NodeID,
			SuspendID:   sum.SuspendID,
			Reason:      sum.Reason,
			SuspendedAt: at,
			Metadata:    domain.CloneState(sum.Metadata),
		})
	}
	for _, ww := range w.Warnings {
		s.Warnings = append(s.Warnings, domain.PolicyWarning(ww))
	}
	return s, nil
}

// Marshal encodes a wire value as JSON.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes JSON into a wire value.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Transcript returns every input and produced message of steps, in order.
// Together with the last step's instance it is what a machine is restored from.
func Transcript(steps []*domain.Step) []domain.Message {
	var out []domain.Message
	for _, s := range steps {
		out = append(out, s.Input...)
		out = append(out, s.History...)
	}
	return out
}

// MarshalYAML renders a wire value as YAML, for human inspection.
func MarshalYAML(v any) ([]byte, error) {
	return yaml.Marshal(v)
}
