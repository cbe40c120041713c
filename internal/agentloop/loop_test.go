package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nexuscore/agentcore/internal/convo"
	"github.com/nexuscore/agentcore/internal/events"
	"github.com/nexuscore/agentcore/internal/llm/backend"
	"github.com/nexuscore/agentcore/internal/llm/provider"
	"github.com/nexuscore/agentcore/internal/middleware"
	"github.com/nexuscore/agentcore/internal/permission"
	"github.com/nexuscore/agentcore/internal/toolhost"
	"github.com/stretchr/testify/require"
)

// scriptedAdapter returns one scripted response per call, in order, letting
// tests drive a multi-turn tool-call-then-final-answer exchange.
type scriptedAdapter struct {
	responses [][]*provider.Chunk
	call      int
}

func (a *scriptedAdapter) Name() string                    { return "scripted" }
func (a *scriptedAdapter) Models() []provider.Model         { return []provider.Model{{ID: "test-model"}} }
func (a *scriptedAdapter) SupportsTools() bool              { return true }
func (a *scriptedAdapter) CountTokens(req *provider.Request) int { return 0 }

func (a *scriptedAdapter) Complete(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	idx := a.call
	if idx >= len(a.responses) {
		idx = len(a.responses) - 1
	}
	a.call++
	ch := make(chan *provider.Chunk, len(a.responses[idx]))
	for _, c := range a.responses[idx] {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func newTestBackend(responses [][]*provider.Chunk) *backend.Backend {
	reg := provider.NewRegistry()
	reg.Register(&scriptedAdapter{responses: responses})
	return backend.New(reg)
}

func echoToolHost(t *testing.T) *toolhost.Host {
	host := toolhost.New(toolhost.ExecConfig{})
	err := host.Register(toolhost.Definition{
		Name: "echo",
		Handler: func(ctx context.Context, args json.RawMessage) (*toolhost.Result, error) {
			return &toolhost.Result{Content: "echoed: " + string(args)}, nil
		},
	})
	require.NoError(t, err)
	return host
}

func TestLoop_Act_FinalAnswerNoTools(t *testing.T) {
	be := newTestBackend([][]*provider.Chunk{
		{{Text: "hello there"}, {Done: true, InputTokens: 10, OutputTokens: 5}},
	})
	c := convo.New("you are a test assistant")
	var got []events.Event
	emitter := events.New(c.SessionID(), events.SinkFunc(func(ctx context.Context, ev events.Event) {
		got = append(got, ev)
	}))

	loop := New(c, be, nil, nil, nil, emitter, nil, Config{Model: "test-model"})
	err := loop.Act(context.Background(), "hi")
	require.NoError(t, err)

	msgs := c.Messages()
	require.Equal(t, convo.RoleAssistant, msgs[len(msgs)-1].Role)
	require.Equal(t, "hello there", msgs[len(msgs)-1].Content)
	require.Equal(t, 1, c.Stats().TurnCount)
	require.Equal(t, 1, c.Stats().Steps)
	require.Equal(t, 10, c.Stats().Usage.InputTokens)
	require.GreaterOrEqual(t, c.Stats().LastTurnDuration.Nanoseconds(), int64(0))
}

func TestLoop_Act_ToolCallThenFinalAnswer(t *testing.T) {
	toolCall := convo.ToolCall{ID: "call-1", Name: "echo", Arguments: `{"x":1}`}
	be := newTestBackend([][]*provider.Chunk{
		{{ToolCall: &toolCall}, {Done: true}},
		{{Text: "done"}, {Done: true}},
	})
	c := convo.New("system")
	host := echoToolHost(t)
	perm := permission.New()

	loop := New(c, be, host, perm, nil, nil, nil, Config{Model: "test-model"})
	err := loop.Act(context.Background(), "please echo")
	require.NoError(t, err)

	msgs := c.Messages()
	var sawToolMessage bool
	for _, m := range msgs {
		if m.Role == convo.RoleTool {
			sawToolMessage = true
			require.Equal(t, "call-1", m.ToolCallID)
			require.Contains(t, m.Content, "echoed")
		}
	}
	require.True(t, sawToolMessage)
	require.Equal(t, "done", msgs[len(msgs)-1].Content)
	require.Equal(t, 1, c.Stats().TurnCount)
	require.Equal(t, 2, c.Stats().Steps)
	require.Equal(t, 1, c.Stats().ToolCallsSucceeded)
	require.Equal(t, 0, c.Stats().ToolCallsFailed)
}

func TestLoop_Act_ToolDeniedStillProducesToolMessage(t *testing.T) {
	toolCall := convo.ToolCall{ID: "call-1", Name: "echo", Arguments: `{}`}
	be := newTestBackend([][]*provider.Chunk{
		{{ToolCall: &toolCall}, {Done: true}},
		{{Text: "ok"}, {Done: true}},
	})
	c := convo.New("system")
	host := echoToolHost(t)
	perm := permission.New()
	perm.SetToolConfig("echo", permission.ToolConfig{Permission: permission.Never})

	loop := New(c, be, host, perm, nil, nil, nil, Config{Model: "test-model"})
	err := loop.Act(context.Background(), "please echo")
	require.NoError(t, err)

	msgs := c.Messages()
	var toolMsg *convo.Message
	for i := range msgs {
		if msgs[i].Role == convo.RoleTool {
			toolMsg = &msgs[i]
		}
	}
	require.NotNil(t, toolMsg)
	require.Contains(t, toolMsg.Content, "skipped")
	require.Equal(t, 0, c.Stats().ToolCallsSucceeded)
	require.Equal(t, 0, c.Stats().ToolCallsFailed)
}

type alwaysStopMiddleware struct{}

func (alwaysStopMiddleware) Name() string { return "always_stop" }
func (alwaysStopMiddleware) BeforeTurn(middleware.Context) middleware.Result {
	return middleware.StopResult("test stop")
}
func (alwaysStopMiddleware) AfterTurn(middleware.Context) middleware.Result {
	return middleware.ContinueResult()
}
func (alwaysStopMiddleware) Reset(middleware.ResetReason) {}

func TestLoop_Act_MiddlewareStopEndsTurnEarly(t *testing.T) {
	be := newTestBackend([][]*provider.Chunk{
		{{Text: "should not run"}, {Done: true}},
	})
	c := convo.New("system")
	pipeline := middleware.New()
	pipeline.Use(alwaysStopMiddleware{})

	loop := New(c, be, nil, nil, pipeline, nil, nil, Config{Model: "test-model"})
	err := loop.Act(context.Background(), "hi")
	require.NoError(t, err)

	for _, m := range c.Messages() {
		require.NotEqual(t, "should not run", m.Content)
	}
}

func TestLoop_Act_MiddlewareStopEmitsAssistantStoppedEvent(t *testing.T) {
	be := newTestBackend([][]*provider.Chunk{
		{{Text: "should not run"}, {Done: true}},
	})
	c := convo.New("system")
	pipeline := middleware.New()
	pipeline.Use(alwaysStopMiddleware{})

	var captured []events.Event
	emitter := events.New(c.SessionID(), events.SinkFunc(func(_ context.Context, ev events.Event) {
		captured = append(captured, ev)
	}))

	loop := New(c, be, nil, nil, pipeline, emitter, nil, Config{Model: "test-model"})
	require.NoError(t, loop.Act(context.Background(), "hi"))

	require.Len(t, captured, 1)
	ev := captured[0]
	require.Equal(t, events.KindAssistant, ev.Kind)
	require.True(t, ev.Done)
	require.True(t, ev.StoppedByMiddleware)
	require.Equal(t, "test stop", ev.Reason)
}
