package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"

	"github.com/aretw0/canopy/pkg/domain"
)

// Printer writes the visible part of steps: replies with role labels, tool
// activity, suspensions and policy warnings.
type Printer struct {
	w        io.Writer
	out      *termenv.Output
	render   func(string) (string, error)
	thinking bool
}

// PrinterOption configures a Printer.
type PrinterOption func(*Printer)

// WithProfile forces a color profile. termenv.Ascii disables colors.
func WithProfile(p termenv.Profile) PrinterOption {
	return func(pr *Printer) { pr.out = termenv.NewOutput(pr.w, termenv.WithProfile(p)) }
}

// WithRenderer sets the markdown renderer for assistant text. Nil prints
// text as is.
func WithRenderer(render func(string) (string, error)) PrinterOption {
	return func(pr *Printer) { pr.render = render }
}

// WithThinking prints thinking items too.
func WithThinking(show bool) PrinterOption {
	return func(pr *Printer) { pr.thinking = show }
}

// NewPrinter creates a printer on w.
func NewPrinter(w io.Writer, opts ...PrinterOption) *Printer {
	p := &Printer{w: w, out: termenv.NewOutput(w)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PrintStep writes one step.
func (p *Printer) PrintStep(step *domain.Step) error {
	for _, msg := range step.History {
		if err := p.PrintMessage(msg); err != nil {
			return err
		}
	}
	for _, s := range step.Suspended {
		line := fmt.Sprintf("⏸ %s (%s) waits on %q", s.NodeID, short(s.InstanceID), s.SuspendID)
		if s.Reason != "" {
			line += ": " + s.Reason
		}
		fmt.Fprintln(p.w, p.out.String(line).Foreground(p.out.Color("3")))
	}
	for _, w := range step.Warnings {
		fmt.Fprintln(p.w, p.out.String(fmt.Sprintf("! %s: %s", w.Code, w.Message)).Foreground(p.out.Color("1")))
	}
	return nil
}

// PrintMessage writes one message under its role label.
func (p *Printer) PrintMessage(msg domain.Message) error {
	fmt.Fprintln(p.w, p.label(msg))
	for _, it := range msg.Items {
		switch it := it.(type) {
		case domain.TextItem:
			text := it.Text
			if p.render != nil && msg.Role == domain.RoleAssistant {
				rendered, err := p.render(text)
				if err != nil {
					return fmt.Errorf("render markdown: %w", err)
				}
				text = strings.TrimRight(rendered, "\n")
			}
			fmt.Fprintln(p.w, text)
		case domain.ThinkingItem:
			if p.thinking {
				fmt.Fprintln(p.w, p.out.String(it.Text).Faint().Italic())
			}
		case domain.ToolCallItem:
			fmt.Fprintln(p.w, p.out.String(fmt.Sprintf("→ %s(%s)", it.Name, compact(it.Args))).Faint())
		case domain.ToolResultItem:
			mark := "←"
			if it.IsError {
				mark = "✗"
			}
			fmt.Fprintln(p.w, p.out.String(fmt.Sprintf("%s %s: %s", mark, it.Name, compact(it.Output))).Faint())
		case domain.StructuredItem:
			fmt.Fprintf(p.w, "%s: %s\n", it.Name, compact(it.Data))
		case domain.CommandItem:
			fmt.Fprintf(p.w, "/%s %s\n", it.Name, compact(it.Input))
		case domain.ResumeItem:
			fmt.Fprintf(p.w, "resume %s %s\n", it.SuspendID, compact(it.Payload))
		}
	}
	return nil
}

func (p *Printer) label(msg domain.Message) termenv.Style {
	name := string(msg.Role)
	if src := msg.Metadata.Source; src != nil && !src.IsPrimary {
		name += " · " + short(src.InstanceID)
	}
	s := p.out.String(name).Bold()
	switch msg.Role {
	case domain.RoleUser:
		return s.Foreground(p.out.Color("4"))
	case domain.RoleAssistant:
		return s.Foreground(p.out.Color("5"))
	case domain.RoleCommand:
		return s.Foreground(p.out.Color("3"))
	default:
		return s.Faint()
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func compact(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
