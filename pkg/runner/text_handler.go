package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/canopy/pkg/domain"
)

// StepPrinter displays steps to a person.
type StepPrinter interface {
	PrintStep(step *domain.Step) error
}

// TextHandler implements the interactive line-based interface.
type TextHandler struct {
	Reader  *bufio.Reader
	Writer  io.Writer
	Printer StepPrinter
	Prompt  string

	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// TextHandlerOption configures a TextHandler.
type TextHandlerOption func(*TextHandler)

// WithPrinter sets how steps are displayed.
func WithPrinter(p StepPrinter) TextHandlerOption {
	return func(h *TextHandler) { h.Printer = p }
}

// WithPrompt replaces the "> " prompt.
func WithPrompt(prompt string) TextHandlerOption {
	return func(h *TextHandler) { h.Prompt = prompt }
}

// NewTextHandler creates a handler for standard text IO.
func NewTextHandler(r io.Reader, w io.Writer, opts ...TextHandlerOption) *TextHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	h := &TextHandler{
		Reader: bufio.NewReader(r),
		Writer: w,
		Prompt: "> ",
	}
	h.Printer = plainPrinter{w: w}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// The pump reads in the background so Input can return on cancellation
// while a read is still blocked.
func (h *TextHandler) initPump() {
	h.startOnce.Do(func() {
		h.inputChan = make(chan inputResult)
		go h.pump()
	})
}

func (h *TextHandler) pump() {
	for {
		text, err := h.Reader.ReadString('\n')
		if text != "" {
			h.inputChan <- inputResult{text: text}
		}
		if err != nil {
			if err != io.EOF {
				h.inputChan <- inputResult{err: err}
			}
			close(h.inputChan)
			return
		}
	}
}

// Input prompts and reads the next turn. Blank lines and rejected input
// prompt again.
func (h *TextHandler) Input(ctx context.Context) (Input, error) {
	h.initPump()
	for {
		if ctx.Err() != nil {
			return Input{}, ctx.Err()
		}
		fmt.Fprint(h.Writer, h.Prompt)

		select {
		case <-ctx.Done():
			return Input{}, ctx.Err()
		case res, ok := <-h.inputChan:
			if !ok {
				return Input{}, io.EOF
			}
			if res.err != nil {
				return Input{}, res.err
			}
			clean, err := SanitizeInput(strings.TrimSpace(res.text))
			if err != nil {
				fmt.Fprintf(h.Writer, "Error: %v. Please try again.\n", err)
				continue
			}
			if clean == "" {
				continue
			}
			in, err := ParseLine(clean)
			if err == ErrQuit {
				return Input{}, err
			}
			if err != nil {
				fmt.Fprintf(h.Writer, "Error: %v\n", err)
				continue
			}
			return in, nil
		}
	}
}

// Output prints steps.
func (h *TextHandler) Output(_ context.Context, steps []*domain.Step) error {
	for _, s := range steps {
		if err := h.Printer.PrintStep(s); err != nil {
			return err
		}
	}
	return nil
}

// SystemOutput prints a notice from the runner itself.
func (h *TextHandler) SystemOutput(_ context.Context, msg string) error {
	_, err := fmt.Fprintf(h.Writer, "[System] %s\n", msg)
	return err
}

type plainPrinter struct {
	w io.Writer
}

func (p plainPrinter) PrintStep(step *domain.Step) error {
	for _, m := range step.History {
		if text := m.Text(); text != "" {
			if _, err := fmt.Fprintf(p.w, "%s: %s\n", m.Role, text); err != nil {
				return err
			}
		}
	}
	for _, s := range step.Suspended {
		if _, err := fmt.Fprintf(p.w, "[suspended %s on %s: %s]\n", s.InstanceID, s.SuspendID, s.Reason); err != nil {
			return err
		}
	}
	return nil
}
