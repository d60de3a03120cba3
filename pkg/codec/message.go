package codec

import (
	"fmt"

	"github.com/aretw0/canopy/pkg/domain"
)

// EncodeMessages converts messages to their wire form.
func EncodeMessages(msgs []domain.Message) []WireMessage {
	if msgs == nil {
		return nil
	}
	out := make([]WireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = EncodeMessage(m)
	}
	return out
}

// EncodeMessage converts one message.
func EncodeMessage(m domain.Message) WireMessage {
	w := WireMessage{
		ID:        m.ID,
		Role:      string(m.Role),
		Items:     make([]WireItem, 0, len(m.Items)),
		Extra:     domain.CloneState(m.Metadata.Extra),
		CreatedAt: formatTime(m.CreatedAt),
	}
	if src := m.Metadata.Source; src != nil {
		w.Source = &WireSource{InstanceID: src.InstanceID, IsPrimary: src.IsPrimary}
	}
	for _, it := range m.Items {
		w.Items = append(w.Items, encodeItem(it))
	}
	return w
}

func encodeItem(it domain.Item) WireItem {
	w := WireItem{Type: string(it.Type())}
	switch v := it.(type) {
	case domain.TextItem:
		w.Text = v.Text
	case domain.ThinkingItem:
		w.Text = v.Text
	case domain.ToolCallItem:
		w.CallID, w.Name, w.Args = v.CallID, v.Name, domain.CloneState(v.Args)
	case domain.ToolResultItem:
		w.CallID, w.Name, w.Output, w.IsError = v.CallID, v.Name, v.Output, v.IsError
	case domain.StructuredItem:
		w.Name, w.Data = v.Name, v.Data
	case domain.CommandItem:
		w.Name, w.Input, w.InstanceID = v.Name, domain.CloneState(v.Input), v.InstanceID
	case domain.ResumeItem:
		w.InstanceID, w.SuspendID, w.Payload = v.InstanceID, v.SuspendID, v.Payload
	}
	return w
}

// DecodeMessages converts wire messages back to domain messages.
func DecodeMessages(ws []WireMessage) ([]domain.Message, error) {
	if ws == nil {
		return nil, nil
	}
	out := make([]domain.Message, len(ws))
	for i, w := range ws {
		m, err := DecodeMessage(w)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out[i] = m
	}
	return out, nil
}

// DecodeMessage converts one wire message.
func DecodeMessage(w WireMessage) (domain.Message, error) {
	created, err := parseTime(w.CreatedAt)
	if err != nil {
		return domain.Message{}, fmt.Errorf("createdAt: %w", err)
	}
	m := domain.Message{
		ID:        w.ID,
		Role:      domain.Role(w.Role),
		Items:     make([]domain.Item, 0, len(w.Items)),
		CreatedAt: created,
		Metadata:  domain.MessageMetadata{Extra: domain.CloneState(w.Extra)},
	}
	if w.Source != nil {
		m.Metadata.Source = &domain.Source{InstanceID: w.Source.InstanceID, IsPrimary: w.Source.IsPrimary}
	}
	for _, wi := range w.Items {
		it, err := decodeItem(wi)
		if err != nil {
			return domain.Message{}, err
		}
		m.Items = append(m.Items, it)
	}
	return m, nil
}

func decodeItem(w WireItem) (domain.Item, error) {
	switch domain.ItemType(w.Type) {
	case domain.ItemText:
		return domain.TextItem{Text: w.Text}, nil
	case domain.ItemThinking:
		return domain.ThinkingItem{Text: w.Text}, nil
	case domain.ItemToolCall:
		return domain.ToolCallItem{CallID: w.CallID, Name: w.Name, Args: w.Args}, nil
	case domain.ItemToolResult:
		return domain.ToolResultItem{CallID: w.CallID, Name: w.Name, Output: w.Output, IsError: w.IsError}, nil
	case domain.ItemStructured:
		return domain.StructuredItem{Name: w.Name, Data: w.Data}, nil
	case domain.ItemCommand:
		return domain.CommandItem{Name: w.Name, Input: w.Input, InstanceID: w.InstanceID}, nil
	case domain.ItemResume:
		return domain.ResumeItem{InstanceID: w.InstanceID, SuspendID: w.SuspendID, Payload: w.Payload}, nil
	default:
		return nil, fmt.Errorf("unknown item type %q", w.Type)
	}
}
