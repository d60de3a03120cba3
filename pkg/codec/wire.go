package codec

import (
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/schema"
)

// Registry is the charter view the codec needs.
type Registry interface {
	// NameOf returns the registered name of node, by identity.
	NameOf(node *domain.Node) (string, bool)
	ResolveNode(ref string) (*domain.Node, error)
	// Reattach returns node with executable bodies restored where the
	// registry knows them by name.
	Reattach(node *domain.Node) *domain.Node
}

// WireRef is a by-name reference.
type WireRef struct {
	Ref string `json:"ref" yaml:"ref"`
}

// WireNode is either a ref or an inline definition.
type WireNode struct {
	Ref          string            `json:"ref,omitempty" yaml:"ref,omitempty"`
	ID           string            `json:"id,omitempty" yaml:"id,omitempty"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Instructions string            `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	StateSchema  schema.Schema     `json:"stateSchema,omitempty" yaml:"stateSchema,omitempty"`
	InitialState map[string]any    `json:"initialState,omitempty" yaml:"initialState,omitempty"`
	Tools        []WireRef         `json:"tools,omitempty" yaml:"tools,omitempty"`
	Transitions  []WireRef         `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Commands     []WireRef         `json:"commands,omitempty" yaml:"commands,omitempty"`
	Packs        []string          `json:"packs,omitempty" yaml:"packs,omitempty"`
	Worker       bool              `json:"worker,omitempty" yaml:"worker,omitempty"`
	Executor     string            `json:"executor,omitempty" yaml:"executor,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsRef reports whether the node was written by reference.
func (n WireNode) IsRef() bool { return n.Ref != "" }

// WireSuspend is the wire form of domain.SuspendInfo.
type WireSuspend struct {
	SuspendID   string         `json:"suspendId" yaml:"suspendId"`
	Reason      string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	SuspendedAt string         `json:"suspendedAt" yaml:"suspendedAt"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// WireInstance is the wire form of one instance and its subtree.
type WireInstance struct {
	ID         string                    `json:"id" yaml:"id"`
	Node       WireNode                  `json:"node" yaml:"node"`
	State      map[string]any            `json:"state" yaml:"state"`
	Children   []*WireInstance           `json:"children,omitempty" yaml:"children,omitempty"`
	PackStates map[string]map[string]any `json:"packStates,omitempty" yaml:"packStates,omitempty"`
	Suspended  *WireSuspend              `json:"suspended,omitempty" yaml:"suspended,omitempty"`
	Worker     *bool                     `json:"worker,omitempty" yaml:"worker,omitempty"`
	Inbox      []WireMessage             `json:"inbox,omitempty" yaml:"inbox,omitempty"`
	Ready      bool                      `json:"ready,omitempty" yaml:"ready,omitempty"`
	Steps      int                       `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// WireItem is a flattened message item; Type selects the meaningful fields.
type WireItem struct {
	Type       string         `json:"type" yaml:"type"`
	Text       string         `json:"text,omitempty" yaml:"text,omitempty"`
	CallID     string         `json:"callId,omitempty" yaml:"callId,omitempty"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	Args       map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Output     any            `json:"output,omitempty" yaml:"output,omitempty"`
	IsError    bool           `json:"isError,omitempty" yaml:"isError,omitempty"`
	Data       any            `json:"data,omitempty" yaml:"data,omitempty"`
	Input      map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	InstanceID string         `json:"instanceId,omitempty" yaml:"instanceId,omitempty"`
	SuspendID  string         `json:"suspendId,omitempty" yaml:"suspendId,omitempty"`
	Payload    any            `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// WireSource is the wire form of domain.Source.
type WireSource struct {
	InstanceID string `json:"instanceId" yaml:"instanceId"`
	IsPrimary  bool   `json:"isPrimary" yaml:"isPrimary"`
}

// WireMessage is the wire form of domain.Message.
type WireMessage struct {
	ID        string         `json:"id" yaml:"id"`
	Role      string         `json:"role" yaml:"role"`
	Items     []WireItem     `json:"items" yaml:"items"`
	Source    *WireSource    `json:"source,omitempty" yaml:"source,omitempty"`
	Extra     map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
	CreatedAt string         `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

// WireSuspended is the wire form of domain.SuspendedSummary.
type WireSuspended struct {
	InstanceID  string         `json:"instanceId" yaml:"instanceId"`
	NodeID      string         `json:"nodeId" yaml:"nodeId"`
	SuspendID   string         `json:"suspendId" yaml:"suspendId"`
	Reason      string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	SuspendedAt string         `json:"suspendedAt" yaml:"suspendedAt"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// WireWarning is the wire form of domain.PolicyWarning.
type WireWarning struct {
	InstanceID string `json:"instanceId" yaml:"instanceId"`
	NodeID     string `json:"nodeId,omitempty" yaml:"nodeId,omitempty"`
	Code       string `json:"code" yaml:"code"`
	Message    string `json:"message" yaml:"message"`
}

// WireStep is the persisted form of a domain.Step.
type WireStep struct {
	Index       int             `json:"index" yaml:"index"`
	Generation  uint64          `json:"generation,omitempty" yaml:"generation,omitempty"`
	Instance    *WireInstance   `json:"instance,omitempty" yaml:"instance,omitempty"`
	Input       []WireMessage   `json:"input,omitempty" yaml:"input,omitempty"`
	History     []WireMessage   `json:"history,omitempty" yaml:"history,omitempty"`
	YieldReason string          `json:"yieldReason" yaml:"yieldReason"`
	Done        bool            `json:"done" yaml:"done"`
	CedeContent any             `json:"cedeContent,omitempty" yaml:"cedeContent,omitempty"`
	Suspended   []WireSuspended `json:"suspended,omitempty" yaml:"suspended,omitempty"`
	Warnings    []WireWarning   `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	CreatedAt   string          `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	// Sealed holds Instance, Input, History and CedeContent when a persistence
	// middleware encrypted them.
	Sealed string `json:"sealed,omitempty" yaml:"sealed,omitempty"`
}

// Clone deep-copies the step through its JSON form.
func (s *WireStep) Clone() (*WireStep, error) {
	if s == nil {
		return nil, nil
	}
	data, err := Marshal(s)
	if err != nil {
		return nil, err
	}
	var out WireStep
	if err := Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
