package runtime_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/internal/runtime"
	"github.com/aretw0/canopy/pkg/charter"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newEngine(opts ...runtime.Option) *runtime.Engine {
	var n atomic.Int64
	base := []runtime.Option{
		runtime.WithClock(func() time.Time { return epoch }),
		runtime.WithIDGenerator(func() string { return fmt.Sprintf("id-%d", n.Add(1)) }),
	}
	return runtime.NewEngine(append(base, opts...)...)
}

// build registers executors and nodes on a fresh charter.
func build(t *testing.T, execs map[string]ports.Executor, nodes ...*domain.Node) *charter.Charter {
	t.Helper()
	ch := charter.New("test")
	for name, ex := range execs {
		require.NoError(t, ch.RegisterExecutor(name, ex))
	}
	for _, n := range nodes {
		require.NoError(t, ch.RegisterNode(n.ID, n))
	}
	return ch
}

func instance(t *testing.T, node *domain.Node, id string, opts ...domain.InstanceOption) *domain.Instance {
	t.Helper()
	inst, err := domain.CreateInstance(node, nil, append([]domain.InstanceOption{domain.WithInstanceID(id)}, opts...)...)
	require.NoError(t, err)
	return inst
}

func say(text string, reason domain.YieldReason, effects ...domain.Effect) *ports.RunResult {
	return &ports.RunResult{
		Messages:    []domain.Message{domain.NewTextMessage(domain.RoleAssistant, text)},
		YieldReason: reason,
		Effects:     effects,
	}
}

func fixed(res func() *ports.RunResult) ports.ExecutorFunc {
	return func(context.Context, *ports.RunRequest) (*ports.RunResult, error) {
		return res(), nil
	}
}

func sources(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		if m.Metadata.Source != nil {
			out[i] = m.Metadata.Source.InstanceID
		}
	}
	return out
}

const charterDefault = charter.DefaultExecutor
