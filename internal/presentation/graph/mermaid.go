// Package graph renders instance trees as Mermaid flowcharts.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
)

// Options tunes the rendering.
type Options struct {
	// Direction is the flowchart direction. Defaults to TD.
	Direction string
	// ShowState appends the instance's state keys to its label.
	ShowState bool
}

// GenerateMermaid produces a Mermaid flowchart of the tree under root.
// Shapes follow the instance's role:
// - Primary: [Rectangle]
// - Worker: [[Subroutine]]
// - Suspended: [/Parallelogram/]
// Active leaves, suspended instances and workers get their own classes.
func GenerateMermaid(root *domain.Instance, opts *Options) string {
	if opts == nil {
		opts = &Options{}
	}
	dir := opts.Direction
	if dir == "" {
		dir = "TD"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "graph %s\n", dir)
	if root == nil {
		return sb.String()
	}

	active := make(map[string]bool)
	for _, l := range domain.ActiveLeaves(root) {
		active[l.Instance.ID] = true
	}

	var classes []string
	domain.Walk(root, func(inst *domain.Instance, _ []int) {
		id := sanitizeMermaidID(inst.ID)
		opener, closer := "[", "]"
		switch {
		case inst.IsSuspended():
			opener, closer = "[/", "/]"
		case inst.IsWorker():
			opener, closer = "[[", "]]"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", id, opener, label(inst, opts), closer)

		for _, child := range inst.Children {
			arrow := "-->"
			if child.IsWorker() {
				arrow = "-.->"
			}
			fmt.Fprintf(&sb, "    %s %s %s\n", id, arrow, sanitizeMermaidID(child.ID))
		}

		switch {
		case inst.IsSuspended():
			classes = append(classes, fmt.Sprintf("    class %s suspended;\n", id))
		case active[inst.ID] && inst.IsWorker():
			classes = append(classes, fmt.Sprintf("    class %s worker;\n", id))
		case active[inst.ID]:
			classes = append(classes, fmt.Sprintf("    class %s active;\n", id))
		}
	})

	sb.WriteString("\n    %% Instance Styles\n")
	sb.WriteString("    classDef active fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
	sb.WriteString("    classDef worker fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef suspended fill:#eeeeee,stroke:#616161,stroke-dasharray:5 5,color:#000;\n")
	for _, c := range classes {
		sb.WriteString(c)
	}
	return sb.String()
}

func label(inst *domain.Instance, opts *Options) string {
	node := inst.NodeID()
	if node == "" {
		node = "?"
	}
	parts := []string{escape(node), "<small>" + escape(shortID(inst.ID)) + "</small>"}
	if inst.IsSuspended() {
		s := "⏸ " + escape(inst.Suspended.SuspendID)
		if inst.Suspended.Reason != "" {
			s += ": " + escape(inst.Suspended.Reason)
		}
		parts = append(parts, s)
	}
	if opts.ShowState && len(inst.State) > 0 {
		keys := make([]string, 0, len(inst.State))
		for k := range inst.State {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts = append(parts, escape(strings.Join(keys, ", ")))
	}
	return strings.Join(parts, " <br/> ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

// Instance IDs are often UUIDs, which Mermaid may read as numbers.
func sanitizeMermaidID(id string) string {
	s := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_").Replace(id)
	return "i_" + s
}
