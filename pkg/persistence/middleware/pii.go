package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/ports"
)

// Mask replaces every masked value.
const Mask = "***"

// PIIConfig selects what the PII middleware masks.
type PIIConfig struct {
	// KeyPatterns match state and pack-state keys whose values are masked,
	// at any depth.
	KeyPatterns []string
	// TextPatterns match substrings of text items that are masked.
	TextPatterns []string
}

type piiMiddleware struct {
	next ports.StepStore
	keys []*regexp.Regexp
	text []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks sensitive values before
// they reach storage. Masking is one way: Load returns the masked steps.
func NewPIIMiddleware(config PIIConfig) (Middleware, error) {
	keys, err := compile(config.KeyPatterns)
	if err != nil {
		return nil, err
	}
	text, err := compile(config.TextPatterns)
	if err != nil {
		return nil, err
	}
	return func(next ports.StepStore) ports.StepStore {
		return &piiMiddleware{next: next, keys: keys, text: text}
	}, nil
}

func compile(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pii pattern %q: %w", p, err)
		}
		out[i] = re
	}
	return out, nil
}

func (m *piiMiddleware) Append(ctx context.Context, sessionID string, steps ...*codec.WireStep) error {
	out := make([]*codec.WireStep, len(steps))
	for i, s := range steps {
		// The caller keeps using its steps, so mask a copy.
		cloned, err := s.Clone()
		if err != nil {
			return fmt.Errorf("failed to copy step %d: %w", s.Index, err)
		}
		m.maskInstance(cloned.Instance)
		m.maskMessages(cloned.Input)
		m.maskMessages(cloned.History)
		out[i] = cloned
	}
	return m.next.Append(ctx, sessionID, out...)
}

func (m *piiMiddleware) Load(ctx context.Context, sessionID string) ([]*codec.WireStep, error) {
	return m.next.Load(ctx, sessionID)
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *piiMiddleware) maskInstance(inst *codec.WireInstance) {
	if inst == nil {
		return
	}
	m.maskMap(inst.State)
	for _, ps := range inst.PackStates {
		m.maskMap(ps)
	}
	m.maskMessages(inst.Inbox)
	for _, child := range inst.Children {
		m.maskInstance(child)
	}
}

func (m *piiMiddleware) maskMessages(msgs []codec.WireMessage) {
	if len(m.text) == 0 {
		return
	}
	for i := range msgs {
		for j := range msgs[i].Items {
			item := &msgs[i].Items[j]
			for _, re := range m.text {
				item.Text = re.ReplaceAllString(item.Text, Mask)
			}
		}
	}
}

func (m *piiMiddleware) maskMap(values map[string]any) {
	for k, v := range values {
		if m.sensitive(k) {
			values[k] = Mask
			continue
		}
		m.maskValue(v)
	}
}

func (m *piiMiddleware) maskValue(v any) {
	switch t := v.(type) {
	case map[string]any:
		m.maskMap(t)
	case []any:
		for _, e := range t {
			m.maskValue(e)
		}
	}
}

func (m *piiMiddleware) sensitive(key string) bool {
	for _, re := range m.keys {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}
