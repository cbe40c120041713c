package compaction

import (
	"context"
	"errors"
	"testing"

	"github.com/nexuscore/agentcore/internal/convo"
	"github.com/nexuscore/agentcore/internal/events"
	"github.com/nexuscore/agentcore/internal/middleware"
	"github.com/stretchr/testify/require"
)

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) GenerateSummary(ctx context.Context, messages []convo.Message, config *SummarizationConfig) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func TestManager_Compact_Success(t *testing.T) {
	c := convo.New("you are a helpful assistant")
	c.Append(convo.Message{Role: convo.RoleUser, Content: "hello"})
	c.Append(convo.Message{Role: convo.RoleAssistant, Content: "hi there"})

	var gotEvents []events.Event
	emitter := events.New(c.SessionID(), events.SinkFunc(func(ctx context.Context, ev events.Event) {
		gotEvents = append(gotEvents, ev)
	}))
	pipeline := middleware.New()
	resetSeen := false
	pipeline.Use(&resetSpy{seen: &resetSeen})

	sum := &fakeSummarizer{summary: "user said hello, assistant greeted back"}
	mgr := &Manager{Summarizer: sum, Config: DefaultSummarizationConfig(), Emitter: emitter, Pipeline: pipeline}

	oldSessionID := c.SessionID()
	err := mgr.Compact(context.Background(), c, 8000)
	require.NoError(t, err)
	require.Equal(t, 1, sum.calls)
	require.True(t, resetSeen)
	require.NotEqual(t, oldSessionID, c.SessionID())

	msgs := c.Messages()
	require.Len(t, msgs, 2) // original system + assistant summary
	require.Equal(t, convo.RoleSystem, msgs[0].Role)
	require.Equal(t, convo.RoleAssistant, msgs[1].Role)
	require.Contains(t, msgs[1].Content, sum.summary)

	require.Len(t, gotEvents, 2)
	require.Equal(t, events.KindCompactStart, gotEvents[0].Kind)
	require.Equal(t, events.KindCompactEnd, gotEvents[1].Kind)
}

func TestManager_Compact_SummarizerFailureLeavesConversationIntact(t *testing.T) {
	c := convo.New("system prompt")
	c.Append(convo.Message{Role: convo.RoleUser, Content: "hello"})

	before := c.Messages()
	sum := &fakeSummarizer{err: errors.New("backend unreachable")}
	mgr := &Manager{Summarizer: sum, Config: DefaultSummarizationConfig()}

	err := mgr.Compact(context.Background(), c, 8000)
	require.Error(t, err)

	after := c.Messages()
	require.Equal(t, before, after)
}

type resetSpy struct {
	seen *bool
}

func (r *resetSpy) Name() string                                   { return "reset_spy" }
func (r *resetSpy) BeforeTurn(middleware.Context) middleware.Result { return middleware.ContinueResult() }
func (r *resetSpy) AfterTurn(middleware.Context) middleware.Result  { return middleware.ContinueResult() }
func (r *resetSpy) Reset(reason middleware.ResetReason) {
	if reason == middleware.ResetCompact {
		*r.seen = true
	}
}
