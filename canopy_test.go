package canopy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/charter"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

type failingLoader struct{ err error }

func (l failingLoader) Load(context.Context) (*ports.Definitions, error) { return nil, l.err }

func echoCharter(t *testing.T) *charter.Charter {
	t.Helper()
	ch := charter.New("facade")
	require.NoError(t, ch.RegisterExecutor(charter.DefaultExecutor, ports.ExecutorFunc(
		func(_ context.Context, req *ports.RunRequest) (*ports.RunResult, error) {
			var text string
			if len(req.Input) > 0 {
				text = req.Input[len(req.Input)-1].Text()
			}
			return &ports.RunResult{
				Messages:    []domain.Message{domain.NewTextMessage(domain.RoleAssistant, "echo: "+text)},
				YieldReason: domain.YieldEndTurn,
			}, nil
		})))
	return ch
}

func TestEngine_SendAndRestore(t *testing.T) {
	ch := echoCharter(t)
	require.NoError(t, ch.RegisterNode("desk", &domain.Node{}))

	eng, err := canopy.New(ch)
	require.NoError(t, err)
	assert.Equal(t, "facade", eng.Name)

	m, err := eng.Start("desk", nil, domain.WithInstanceID("root"))
	require.NoError(t, err)

	steps, err := eng.Send(context.Background(), m, domain.NewTextMessage(domain.RoleUser, "hello"))
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "echo: hello", steps[0].History[0].Text())

	_, history := m.Snapshot()
	restored, err := eng.Restore(m.LastStep(), history)
	require.NoError(t, err)
	steps, err = eng.Send(context.Background(), restored, domain.NewTextMessage(domain.RoleUser, "again"))
	require.NoError(t, err)
	assert.Equal(t, 1, steps[0].Index)
}

func TestEngine_LoaderDefinitionsAreBound(t *testing.T) {
	ch := echoCharter(t)
	loader, err := memory.NewLoader(&domain.Node{ID: "faq", Instructions: "Answer."})
	require.NoError(t, err)

	eng, err := canopy.New(ch, canopy.WithLoader(loader))
	require.NoError(t, err)

	m, err := eng.Start("faq", nil)
	require.NoError(t, err)
	assert.Equal(t, "Answer.", m.Root().Node.Instructions)

	_, err = eng.Watch(context.Background())
	assert.Error(t, err, "an in-memory loader cannot be watched")
}

func TestNew_Errors(t *testing.T) {
	_, err := canopy.New(nil)
	assert.Error(t, err)

	boom := errors.New("disk gone")
	_, err = canopy.New(echoCharter(t), canopy.WithLoader(failingLoader{err: boom}))
	assert.ErrorIs(t, err, boom)

	ch := charter.New("broken")
	require.NoError(t, ch.RegisterNode("desk", &domain.Node{Executor: "missing"}))
	_, err = canopy.New(ch)
	assert.Error(t, err, "nodes must name registered executors")
}

func TestEngine_CommandAndResume(t *testing.T) {
	ch := echoCharter(t)
	require.NoError(t, ch.RegisterNode("desk", &domain.Node{
		Commands: map[string]*domain.Command{
			"pause": {
				Name: "pause",
				Handler: func(_ context.Context, cc domain.CommandContext, _ map[string]any) (domain.Effect, error) {
					return &domain.Suspend{SuspendID: "p1", Reason: "break"}, nil
				},
			},
		},
	}))

	var commands int
	eng, err := canopy.New(ch, canopy.WithLifecycleHooks(domain.LifecycleHooks{
		OnCommand: func(context.Context, *domain.CommandEvent) { commands++ },
	}))
	require.NoError(t, err)
	m, err := eng.Start("desk", nil, domain.WithInstanceID("root"))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := eng.RunCommand(ctx, m, "pause", nil, "")
	require.NoError(t, err)
	assert.True(t, res.Step.Instance.IsSuspended())
	assert.Equal(t, 1, commands)

	step, err := eng.Resume(ctx, m, "root", "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.YieldCommand, step.YieldReason)
	assert.False(t, step.Instance.IsSuspended())
}
