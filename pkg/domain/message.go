package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ItemType discriminates message items on the wire.
type ItemType string

const (
	ItemText       ItemType = "text"
	ItemToolCall   ItemType = "tool_call"
	ItemToolResult ItemType = "tool_result"
	ItemThinking   ItemType = "thinking"
	ItemStructured ItemType = "structured"
	ItemCommand    ItemType = "command"
	ItemResume     ItemType = "resume"
)

// Item is one typed element of a message. The set of implementations is closed.
type Item interface {
	Type() ItemType
	item()
}

// TextItem is plain text.
type TextItem struct {
	Text string
}

// ToolCallItem records a tool invocation requested by a backend.
type ToolCallItem struct {
	CallID string
	Name   string
	Args   map[string]any
}

// ToolResultItem carries the output of a tool call.
type ToolResultItem struct {
	CallID  string
	Name    string
	Output  any
	IsError bool
}

// ThinkingItem is backend reasoning that is kept but not shown as a reply.
type ThinkingItem struct {
	Text string
}

// StructuredItem is a structured output value.
type StructuredItem struct {
	Name string
	Data any
}

// CommandItem embeds a command invocation in ordinary input.
type CommandItem struct {
	Name       string
	Input      map[string]any
	InstanceID string
}

// ResumeItem embeds a resume request in ordinary input.
type ResumeItem struct {
	InstanceID string
	SuspendID  string
	Payload    any
}

func (TextItem) Type() ItemType       { return ItemText }
func (ToolCallItem) Type() ItemType   { return ItemToolCall }
func (ToolResultItem) Type() ItemType { return ItemToolResult }
func (ThinkingItem) Type() ItemType   { return ItemThinking }
func (StructuredItem) Type() ItemType { return ItemStructured }
func (CommandItem) Type() ItemType    { return ItemCommand }
func (ResumeItem) Type() ItemType     { return ItemResume }

func (TextItem) item()       {}
func (ToolCallItem) item()   {}
func (ToolResultItem) item() {}
func (ThinkingItem) item()   {}
func (StructuredItem) item() {}
func (CommandItem) item()    {}
func (ResumeItem) item()     {}

// Source attributes a message to the instance that produced it.
type Source struct {
	InstanceID string
	IsPrimary  bool
}

// MessageMetadata is the free-form envelope of a message.
type MessageMetadata struct {
	Source *Source
	Extra  map[string]any
}

// Message is a conversation or control message.
type Message struct {
	ID        string
	Role      Role
	Items     []Item
	Metadata  MessageMetadata
	CreatedAt time.Time
}

// NewMessage builds a message with a fresh ID.
func NewMessage(role Role, items ...Item) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Items:     items,
		CreatedAt: time.Now().UTC(),
	}
}

// NewTextMessage builds a single-item text message.
func NewTextMessage(role Role, text string) Message {
	return NewMessage(role, TextItem{Text: text})
}

// NewCommandMessage wraps a command invocation as input.
func NewCommandMessage(name string, input map[string]any, instanceID string) Message {
	return NewMessage(RoleCommand, CommandItem{Name: name, Input: input, InstanceID: instanceID})
}

// NewResumeMessage wraps a resume request as input.
func NewResumeMessage(instanceID, suspendID string, payload any) Message {
	return NewMessage(RoleCommand, ResumeItem{InstanceID: instanceID, SuspendID: suspendID, Payload: payload})
}

// Text concatenates the message's text items.
func (m Message) Text() string {
	var parts []string
	for _, it := range m.Items {
		if t, ok := it.(TextItem); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// VisibleToExecutor reports whether the message may be shown to a backend.
func (m Message) VisibleToExecutor() bool {
	return m.Role != RoleSystem
}

// IsControl reports whether the message carries a command or resume item.
func (m Message) IsControl() bool {
	for _, it := range m.Items {
		switch it.(type) {
		case CommandItem, ResumeItem:
			return true
		}
	}
	return false
}

// WithSource returns a copy of m attributed to inst.
func (m Message) WithSource(instanceID string, primary bool) Message {
	c := m.Clone()
	c.Metadata.Source = &Source{InstanceID: instanceID, IsPrimary: primary}
	return c
}

// Clone copies the message envelope. Items are values and are shared.
func (m Message) Clone() Message {
	c := m
	if m.Items != nil {
		c.Items = append([]Item(nil), m.Items...)
	}
	if m.Metadata.Source != nil {
		s := *m.Metadata.Source
		c.Metadata.Source = &s
	}
	c.Metadata.Extra = CloneState(m.Metadata.Extra)
	return c
}

// FilterVisible drops messages a backend must not see.
func FilterVisible(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.VisibleToExecutor() {
			out = append(out, m)
		}
	}
	return out
}
