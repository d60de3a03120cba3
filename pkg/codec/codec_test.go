package codec_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/charter"
	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/schema"
)

func lookupTool() *domain.Tool {
	return &domain.Tool{
		Name: "lookup",
		Handler: func(context.Context, map[string]any) (any, error) {
			return "found", nil
		},
	}
}

func newCharter(t *testing.T) (*charter.Charter, *domain.Node) {
	t.Helper()
	ch := charter.New("codec")
	chat := &domain.Node{ID: "chat", StateSchema: schema.Schema{"topic": schema.Optional(schema.String())}}
	require.NoError(t, ch.RegisterNode("chat", chat))
	require.NoError(t, ch.RegisterTool(lookupTool()))
	return ch, chat
}

func TestSerializeInstance_RegisteredNodeIsRef(t *testing.T) {
	ch, chat := newCharter(t)
	inst, err := domain.CreateInstance(chat, map[string]any{"topic": "x"}, domain.WithInstanceID("root"))
	require.NoError(t, err)

	w, err := codec.SerializeInstance(ch, inst)
	require.NoError(t, err)

	data, err := codec.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"root","node":{"ref":"chat"},"state":{"topic":"x"}}`, string(data))

	back, err := codec.DeserializeInstance(ch, w)
	require.NoError(t, err)
	assert.Same(t, chat, back.Node)
}

func TestSerializeInstance_TreeRoundTrip(t *testing.T) {
	ch, chat := newCharter(t)
	scout := &domain.Node{ID: "scout", Worker: true}
	require.NoError(t, ch.RegisterNode("scout", scout))

	at := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.FixedZone("BRT", -3*60*60))
	mk := func(node *domain.Node, id string, opts ...domain.InstanceOption) *domain.Instance {
		inst, err := domain.CreateInstance(node, nil, append([]domain.InstanceOption{domain.WithInstanceID(id)}, opts...)...)
		require.NoError(t, err)
		return inst
	}

	parked := mk(scout, "w2")
	parked.Suspended = &domain.SuspendInfo{SuspendID: "s-1", Reason: "approval", SuspendedAt: at}
	leaf := mk(scout, "w1a")
	root := mk(chat, "root",
		domain.WithPackStates(map[string]map[string]any{"memory": {"notes": "kept"}}),
		domain.WithChildren(
			mk(chat, "p"),
			mk(scout, "w1", domain.WithChildren(leaf)),
			parked,
			mk(chat, "helper", domain.AsWorker(true)),
		))

	w, err := codec.SerializeInstance(ch, root)
	require.NoError(t, err)
	data, err := codec.Marshal(w)
	require.NoError(t, err)

	var decoded codec.WireInstance
	require.NoError(t, codec.Unmarshal(data, &decoded))
	back, err := codec.DeserializeInstance(ch, &decoded)
	require.NoError(t, err)

	ids := func(in []*domain.Instance) []string {
		out := make([]string, len(in))
		for i, c := range in {
			out[i] = c.ID
		}
		return out
	}
	require.Equal(t, []string{"p", "w1", "w2", "helper"}, ids(back.Children))
	assert.Equal(t, []string{"w1a"}, ids(back.Children[1].Children))
	assert.Same(t, scout, back.Children[1].Children[0].Node)
	assert.Same(t, chat, back.Children[0].Node)

	assert.Nil(t, back.Children[0].Suspended)
	got := back.Children[2].Suspended
	require.NotNil(t, got)
	assert.Equal(t, "s-1", got.SuspendID)
	assert.Equal(t, "approval", got.Reason)
	assert.True(t, at.Equal(got.SuspendedAt), "suspension instant survives: %s", got.SuspendedAt)

	require.NotNil(t, back.Children[3].Worker)
	assert.True(t, *back.Children[3].Worker)
	assert.Nil(t, back.Children[0].Worker)

	assert.Equal(t, map[string]map[string]any{"memory": {"notes": "kept"}}, back.PackStates)
	assert.Empty(t, back.Children[0].PackStates)
}

func TestSerializeInstance_InlineNodeKeepsStubs(t *testing.T) {
	ch, _ := newCharter(t)
	// Same ID as a registered node but a different value: stays inline.
	inline := &domain.Node{
		ID:    "chat",
		Tools: map[string]*domain.Tool{"lookup": lookupTool(), "missing": {Name: "missing"}},
	}
	inst, err := domain.CreateInstance(inline, nil, domain.WithInstanceID("x"))
	require.NoError(t, err)

	w, err := codec.SerializeInstance(ch, inst)
	require.NoError(t, err)
	require.False(t, w.Node.IsRef())
	assert.Equal(t, []codec.WireRef{{Ref: "lookup"}, {Ref: "missing"}}, w.Node.Tools)

	back, err := codec.DeserializeInstance(ch, w)
	require.NoError(t, err)
	assert.True(t, back.Node.Tools["lookup"].Executable(), "known tools are reattached")
	assert.False(t, back.Node.Tools["missing"].Executable())

	out, err := back.Node.Tools["missing"].Call(context.Background(), nil)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, domain.ErrNotExecutable)
}

func TestDeserializeInstance_UnknownRef(t *testing.T) {
	ch, _ := newCharter(t)
	_, err := codec.DeserializeInstance(ch, &codec.WireInstance{ID: "a", Node: codec.WireNode{Ref: "ghost"}})

	var re *domain.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "ghost", re.Ref)
}

func TestSuspendedAtRoundTrip(t *testing.T) {
	ch, chat := newCharter(t)
	at := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.UTC)
	inst, err := domain.CreateInstance(chat, nil, domain.WithInstanceID("root"))
	require.NoError(t, err)
	inst.Suspended = &domain.SuspendInfo{SuspendID: "s1", Reason: "approval", SuspendedAt: at}

	w, err := codec.SerializeInstance(ch, inst)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-04T05:06:07.123456789Z", w.Suspended.SuspendedAt)

	data, err := codec.Marshal(w)
	require.NoError(t, err)
	var decoded codec.WireInstance
	require.NoError(t, codec.Unmarshal(data, &decoded))

	back, err := codec.DeserializeInstance(ch, &decoded)
	require.NoError(t, err)
	assert.True(t, at.Equal(back.Suspended.SuspendedAt))
	assert.Equal(t, "s1", back.Suspended.SuspendID)
}

func TestMessages_RoundTrip(t *testing.T) {
	msgs := []domain.Message{
		domain.NewMessage(domain.RoleAssistant,
			domain.ThinkingItem{Text: "hmm"},
			domain.TextItem{Text: "calling"},
			domain.ToolCallItem{CallID: "c1", Name: "lookup", Args: map[string]any{"q": "x"}},
		).WithSource("w", false),
		domain.NewMessage(domain.RoleUser, domain.ToolResultItem{CallID: "c1", Name: "lookup", Output: "found"}),
		domain.NewCommandMessage("set_topic", map[string]any{"topic": "x"}, "root"),
		domain.NewResumeMessage("root", "s1", "yes"),
	}

	data, err := json.Marshal(codec.EncodeMessages(msgs))
	require.NoError(t, err)
	var wire []codec.WireMessage
	require.NoError(t, json.Unmarshal(data, &wire))

	back, err := codec.DecodeMessages(wire)
	require.NoError(t, err)
	require.Len(t, back, 4)
	assert.Equal(t, msgs[0].Items, back[0].Items)
	assert.Equal(t, "w", back[0].Metadata.Source.InstanceID)
	assert.False(t, back[0].Metadata.Source.IsPrimary)
	assert.True(t, back[2].IsControl())
	assert.Equal(t, domain.ResumeItem{InstanceID: "root", SuspendID: "s1", Payload: "yes"}, back[3].Items[0])
}

func TestDecodeMessage_UnknownItem(t *testing.T) {
	_, err := codec.DecodeMessage(codec.WireMessage{Role: "user", Items: []codec.WireItem{{Type: "video"}}})
	assert.ErrorContains(t, err, "video")
}

func TestStep_RoundTrip(t *testing.T) {
	ch, chat := newCharter(t)
	root, err := domain.CreateInstance(chat, nil, domain.WithInstanceID("root"))
	require.NoError(t, err)
	created := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	step := &domain.Step{
		Index:       3,
		Generation:  1,
		Instance:    root,
		Input:       []domain.Message{domain.NewTextMessage(domain.RoleUser, "hi")},
		History:     []domain.Message{domain.NewTextMessage(domain.RoleAssistant, "hello").WithSource("root", true)},
		YieldReason: domain.YieldEndTurn,
		Done:        true,
		Warnings:    []domain.PolicyWarning{{InstanceID: "w", Code: domain.WarnWorkerEndTurn, Message: "ignored"}},
		CreatedAt:   created,
	}

	w, err := codec.SerializeStep(ch, step)
	require.NoError(t, err)
	data, err := codec.Marshal(w)
	require.NoError(t, err)

	var decoded codec.WireStep
	require.NoError(t, codec.Unmarshal(data, &decoded))
	back, err := codec.DeserializeStep(ch, &decoded)
	require.NoError(t, err)

	assert.Equal(t, 3, back.Index)
	assert.Equal(t, uint64(1), back.Generation)
	assert.Equal(t, domain.YieldEndTurn, back.YieldReason)
	assert.True(t, back.Done)
	assert.Same(t, chat, back.Instance.Node)
	assert.Equal(t, "hello", back.History[0].Text())
	assert.Equal(t, step.Warnings, back.Warnings)
	assert.True(t, created.Equal(back.CreatedAt))

	assert.Equal(t, []string{"hi", "hello"}, texts(codec.Transcript([]*domain.Step{back})))
}

func TestDeserializeStep_Sealed(t *testing.T) {
	_, err := codec.DeserializeStep(nil, &codec.WireStep{Index: 2, Sealed: "abc"})
	assert.ErrorContains(t, err, "sealed")
}

func TestWireStep_CloneIsDeep(t *testing.T) {
	w := &codec.WireStep{Index: 1, Instance: &codec.WireInstance{ID: "root", State: map[string]any{"n": 1.0}}}
	c, err := w.Clone()
	require.NoError(t, err)
	c.Instance.State["n"] = 2.0
	assert.Equal(t, 1.0, w.Instance.State["n"])
}

func TestMarshalYAML(t *testing.T) {
	out, err := codec.MarshalYAML(&codec.WireStep{Index: 1, YieldReason: "cede"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "yieldReason: cede")
}

func texts(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text()
	}
	return out
}
