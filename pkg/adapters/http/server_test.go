package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy"
	canopyhttp "github.com/aretw0/canopy/pkg/adapters/http"
	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/charter"
	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/session"
)

func newServer(t *testing.T) (*canopyhttp.Server, *httptest.Server) {
	t.Helper()
	ch := charter.New("http")
	require.NoError(t, ch.RegisterExecutor(charter.DefaultExecutor, ports.ExecutorFunc(
		func(_ context.Context, req *ports.RunRequest) (*ports.RunResult, error) {
			text := ""
			if len(req.Input) > 0 {
				text = req.Input[0].Text()
			}
			return &ports.RunResult{
				Messages:    []domain.Message{domain.NewTextMessage(domain.RoleAssistant, "got "+text)},
				YieldReason: domain.YieldEndTurn,
			}, nil
		})))
	require.NoError(t, ch.RegisterNode("desk", &domain.Node{
		Commands: map[string]*domain.Command{
			"hold": {
				Name: "hold",
				Handler: func(_ context.Context, _ domain.CommandContext, _ map[string]any) (domain.Effect, error) {
					return &domain.Suspend{SuspendID: "h1", Reason: "hold"}, nil
				},
			},
		},
	}))
	eng, err := canopy.New(ch)
	require.NoError(t, err)

	mgr := session.NewManager(eng, memory.NewStore())
	srv := canopyhttp.NewServer(mgr, canopyhttp.WithFactory(session.StartNode(eng, "desk", nil)))
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_Health(t *testing.T) {
	_, ts := newServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_MessagesAndSteps(t *testing.T) {
	_, ts := newServer(t)

	resp := post(t, ts.URL+"/sessions/s1/messages", canopyhttp.MessagesRequest{Text: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[canopyhttp.StepsResponse](t, resp)
	require.Len(t, body.Steps, 1)
	require.NotEmpty(t, body.Steps[0].History)
	assert.Equal(t, "got hello", body.Steps[0].History[0].Items[0].Text)

	resp2, err := http.Get(ts.URL + "/sessions/s1/steps")
	require.NoError(t, err)
	defer resp2.Body.Close()
	all := decode[canopyhttp.StepsResponse](t, resp2)
	assert.Len(t, all.Steps, 1)

	resp3, err := http.Get(ts.URL + "/sessions")
	require.NoError(t, err)
	defer resp3.Body.Close()
	list := decode[map[string][]string](t, resp3)
	assert.Equal(t, []string{"s1"}, list["sessions"])
}

func TestServer_Errors(t *testing.T) {
	_, ts := newServer(t)

	resp, err := http.Get(ts.URL + "/sessions/missing/steps")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(t, ts.URL+"/sessions/s1/messages", canopyhttp.MessagesRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bad, err := http.Post(ts.URL+"/sessions/s1/messages", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	post(t, ts.URL+"/sessions/s1/messages", canopyhttp.MessagesRequest{Text: "hi"})
	resp = post(t, ts.URL+"/sessions/s1/commands/nope", canopyhttp.CommandRequest{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_CommandAndResume(t *testing.T) {
	_, ts := newServer(t)
	post(t, ts.URL+"/sessions/s1/messages", canopyhttp.MessagesRequest{Text: "hi"})

	resp := post(t, ts.URL+"/sessions/s1/commands/hold", canopyhttp.CommandRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cmd := decode[canopyhttp.CommandResponse](t, resp)
	require.Len(t, cmd.Step.Suspended, 1)
	suspended := cmd.Step.Suspended[0]
	assert.Equal(t, "h1", suspended.SuspendID)

	resp = post(t, ts.URL+"/sessions/s1/resume", canopyhttp.ResumeRequest{
		InstanceID: suspended.InstanceID, SuspendID: "wrong",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, ts.URL+"/sessions/s1/resume", canopyhttp.ResumeRequest{
		InstanceID: suspended.InstanceID, SuspendID: "h1", Payload: "ok",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[canopyhttp.StepsResponse](t, resp)
	require.Len(t, body.Steps, 1)
	assert.Empty(t, body.Steps[0].Suspended)
}

func TestServer_Delete(t *testing.T) {
	_, ts := newServer(t)
	post(t, ts.URL+"/sessions/s1/messages", canopyhttp.MessagesRequest{Text: "hi"})

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/s1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	again, err := http.Get(ts.URL + "/sessions/s1/steps")
	require.NoError(t, err)
	defer again.Body.Close()
	assert.Equal(t, http.StatusNotFound, again.StatusCode)
}

func TestServer_Stream(t *testing.T) {
	srv, ts := newServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/s1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.Streams.Subscribers("s1") == 1 },
		time.Second, 10*time.Millisecond)

	post(t, ts.URL+"/sessions/s1/messages", canopyhttp.MessagesRequest{Text: "hello"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var step codec.WireStep
	require.NoError(t, json.Unmarshal(data, &step))
	assert.Equal(t, 0, step.Index)
	assert.Equal(t, "got hello", step.History[0].Items[0].Text)
}

func TestStreamManager_DropsWhenFull(t *testing.T) {
	sm := canopyhttp.NewStreamManager()
	ch, cancel := sm.Subscribe("s")
	for i := 0; i < 20; i++ {
		sm.Broadcast("s", []byte("x"))
	}
	assert.Len(t, ch, 16)
	cancel()
	cancel()
	assert.Equal(t, 0, sm.Subscribers("s"))
}
