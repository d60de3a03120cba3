package loam

// Kinds of documents a repository can hold.
const (
	KindNode = "node"
	KindPack = "pack"
)

// NodeMetadata is the frontmatter of a definition document. The markdown
// body becomes the node's instructions.
type NodeMetadata struct {
	ID          string `json:"id" mapstructure:"id"`
	Kind        string `json:"kind" mapstructure:"kind"`
	Description string `json:"description" mapstructure:"description"`
	Worker      bool   `json:"worker" mapstructure:"worker"`
	Executor    string `json:"executor" mapstructure:"executor"`

	Packs []string `json:"packs" mapstructure:"packs"`
	// State maps field names to type strings ("int?", "[string]").
	State   map[string]any `json:"state" mapstructure:"state"`
	Initial map[string]any `json:"initial" mapstructure:"initial"`

	Tools       []string `json:"tools" mapstructure:"tools"`
	Transitions []string `json:"transitions" mapstructure:"transitions"`
	Commands    []string `json:"commands" mapstructure:"commands"`

	Metadata map[string]any `json:"metadata" mapstructure:"metadata"`
	// Script holds scripted turns, decoded lazily.
	Script []map[string]any `json:"script" mapstructure:"script"`
}
