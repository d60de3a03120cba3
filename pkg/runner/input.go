package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrQuit is returned by handlers when the user ends the session.
var ErrQuit = errors.New("quit")

// InputKind discriminates Input.
type InputKind string

const (
	InputText    InputKind = "text"
	InputCommand InputKind = "command"
	InputResume  InputKind = "resume"
)

// Input is one parsed turn.
type Input struct {
	Kind       InputKind      `json:"kind"`
	Text       string         `json:"text,omitempty"`
	Command    string         `json:"command,omitempty"`
	Args       map[string]any `json:"input,omitempty"`
	InstanceID string         `json:"instanceId,omitempty"`
	SuspendID  string         `json:"suspendId,omitempty"`
	Payload    any            `json:"payload,omitempty"`
}

// ParseLine turns a line typed by a person into an Input.
func ParseLine(line string) (Input, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Input{Kind: InputText, Text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "":
		return Input{}, fmt.Errorf("missing command name")
	case "quit", "exit":
		return Input{}, ErrQuit
	case "resume":
		id, payload, _ := strings.Cut(rest, " ")
		if id == "" {
			return Input{}, fmt.Errorf("usage: /resume <suspend-id> [payload]")
		}
		in := Input{Kind: InputResume, SuspendID: id}
		if payload = strings.TrimSpace(payload); payload != "" {
			in.Payload = parseValue(payload)
		}
		return in, nil
	}

	in := Input{Kind: InputCommand, Command: name}
	if rest == "" {
		return in, nil
	}
	if strings.HasPrefix(rest, "{") {
		if err := json.Unmarshal([]byte(rest), &in.Args); err != nil {
			return Input{}, fmt.Errorf("command input: %w", err)
		}
		return in, nil
	}
	in.Args = make(map[string]any)
	for _, field := range strings.Fields(rest) {
		if strings.HasPrefix(field, "@") {
			in.InstanceID = field[1:]
			continue
		}
		k, v, ok := strings.Cut(field, "=")
		if !ok || k == "" {
			return Input{}, fmt.Errorf("command input %q: want key=value", field)
		}
		in.Args[k] = parseValue(v)
	}
	return in, nil
}

// parseValue reads numbers, booleans and JSON literals, falling back to
// the raw string.
func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}
