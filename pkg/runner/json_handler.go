package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/domain"
)

// JSONHandler speaks JSON lines: each input line is an Input object or a
// bare JSON string, each output line is a wire step or a system event.
type JSONHandler struct {
	Reader   *bufio.Reader
	Encoder  *json.Encoder
	Registry codec.Registry
}

// Event is a non-step output line.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewJSONHandler creates a handler for JSON IO. reg names nodes in the
// emitted steps.
func NewJSONHandler(r io.Reader, w io.Writer, reg codec.Registry) *JSONHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Reader:   bufio.NewReader(r),
		Encoder:  json.NewEncoder(w),
		Registry: reg,
	}
}

func (h *JSONHandler) Input(ctx context.Context) (Input, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Input{}, err
		}
		line, err := h.Reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			if err != nil {
				return Input{}, err
			}
			continue
		}

		in, perr := h.parse(line)
		if perr != nil {
			if serr := h.SystemOutput(ctx, perr.Error()); serr != nil {
				return Input{}, serr
			}
			if err != nil {
				return Input{}, err
			}
			continue
		}
		return in, nil
	}
}

func (h *JSONHandler) parse(line string) (Input, error) {
	var text string
	if err := json.Unmarshal([]byte(line), &text); err == nil {
		return Input{Kind: InputText, Text: text}, nil
	}

	var in Input
	if err := json.Unmarshal([]byte(line), &in); err != nil {
		return Input{}, fmt.Errorf("invalid input line: %w", err)
	}
	switch in.Kind {
	case "":
		in.Kind = InputText
	case InputText, InputCommand, InputResume:
	default:
		return Input{}, fmt.Errorf("unknown input kind %q", in.Kind)
	}
	if in.Kind == InputText {
		clean, err := SanitizeInput(in.Text)
		if err != nil {
			return Input{}, err
		}
		in.Text = clean
	}
	return in, nil
}

func (h *JSONHandler) Output(_ context.Context, steps []*domain.Step) error {
	for _, s := range steps {
		w, err := codec.SerializeStep(h.Registry, s)
		if err != nil {
			return err
		}
		if err := h.Encoder.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

func (h *JSONHandler) SystemOutput(_ context.Context, msg string) error {
	return h.Encoder.Encode(Event{Type: "system", Message: msg})
}
