package session

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexuscore/agentcore/internal/agentloop"
	"github.com/nexuscore/agentcore/internal/convo"
	"github.com/nexuscore/agentcore/internal/llm/backend"
	"github.com/nexuscore/agentcore/internal/llm/provider"
	"github.com/nexuscore/agentcore/internal/middleware"
	"github.com/nexuscore/agentcore/internal/permission"
	"github.com/stretchr/testify/require"
)

type staticAdapter struct{ text string }

func (a *staticAdapter) Name() string            { return "static" }
func (a *staticAdapter) Models() []provider.Model { return []provider.Model{{ID: "test-model"}} }
func (a *staticAdapter) SupportsTools() bool      { return false }
func (a *staticAdapter) CountTokens(req *provider.Request) int { return 0 }
func (a *staticAdapter) Complete(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	ch := make(chan *provider.Chunk, 2)
	ch <- &provider.Chunk{Text: a.text}
	ch <- &provider.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func newSupervisor(t *testing.T) (*Supervisor, *convo.Conversation, *permission.Engine, *middleware.Pipeline) {
	reg := provider.NewRegistry()
	reg.Register(&staticAdapter{text: "ack"})
	be := backend.New(reg)

	c := convo.New("you are a test agent")
	perm := permission.New()
	pipeline := middleware.New()
	loop := agentloop.New(c, be, nil, perm, pipeline, nil, nil, agentloop.Config{Model: "test-model"})

	dir := t.TempDir()
	store, err := NewSQLiteStore(DefaultSQLiteConfig(filepath.Join(dir, "sessions.db")))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sup := New(loop, perm, pipeline, store, nil, "test")
	return sup, c, perm, pipeline
}

func TestSupervisor_Act_Delegates(t *testing.T) {
	sup, c, _, _ := newSupervisor(t)
	err := sup.Act(context.Background(), "hello")
	require.NoError(t, err)

	msgs := c.Messages()
	require.Equal(t, convo.RoleAssistant, msgs[len(msgs)-1].Role)
	require.Equal(t, "ack", msgs[len(msgs)-1].Content)
}

func TestSupervisor_SwitchMode_AppliesAtNextTurnBoundary(t *testing.T) {
	sup, _, perm, _ := newSupervisor(t)

	sup.SwitchMode(Mode{Name: "readonly", EnabledTools: []string{"read_file"}})
	require.Equal(t, Mode{}, sup.CurrentMode(), "mode must not apply before the next turn boundary")

	err := sup.Act(context.Background(), "hi")
	require.NoError(t, err)

	require.Equal(t, "readonly", sup.CurrentMode().Name)
	dec, err := perm.Evaluate(context.Background(), "write_file", "write_file", "{}", "call-1")
	require.NoError(t, err)
	require.Equal(t, permission.Skipped, dec.Outcome)
}

func TestSupervisor_Reload_PreservesHistoryAndSessionID(t *testing.T) {
	sup, c, _, _ := newSupervisor(t)
	require.NoError(t, sup.Act(context.Background(), "hello"))

	beforeID := c.SessionID()
	beforeMsgCount := len(c.Messages())

	err := sup.Reload(context.Background(), ConfigSnapshot{SystemPrompt: "you are a reloaded test agent"})
	require.NoError(t, err)

	require.Equal(t, beforeID, c.SessionID())
	require.Equal(t, beforeMsgCount, len(c.Messages()))
	require.Equal(t, "you are a reloaded test agent", c.SystemPrompt())
}

func TestSupervisor_Clear_MintsNewSessionIDAndResetsPipeline(t *testing.T) {
	sup, c, _, pipeline := newSupervisor(t)
	require.NoError(t, sup.Act(context.Background(), "hello"))

	var resetReasons []middleware.ResetReason
	pipeline.Use(resetSpyMiddleware{calls: &resetReasons})

	beforeID := c.SessionID()
	err := sup.Clear(context.Background())
	require.NoError(t, err)

	require.NotEqual(t, beforeID, c.SessionID())
	require.Equal(t, []convo.Message{}, nonSystemMessages(c))
	require.Contains(t, resetReasons, middleware.ResetStop)
}

func TestSupervisor_Clear_PersistsBeforeRotating(t *testing.T) {
	sup, c, _, _ := newSupervisor(t)
	require.NoError(t, sup.Act(context.Background(), "hello"))
	oldID := c.SessionID()

	require.NoError(t, sup.Clear(context.Background()))

	var count int
	row := sup.store.(*SQLiteStore).db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE session_id = ?`, oldID)
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}

func TestSupervisor_Persist_WritesMetadataStatsAndConfigSnapshot(t *testing.T) {
	sup, c, _, _ := newSupervisor(t)
	require.NoError(t, sup.Act(context.Background(), "hello"))
	sessionID := c.SessionID()

	require.NoError(t, sup.Clear(context.Background()))

	store := sup.store.(*SQLiteStore)
	var environment, statsJSON, snapshotJSON string
	var startTime time.Time
	var endTime sql.NullTime
	row := store.db.QueryRow(`SELECT environment, stats, config_snapshot, start_time, end_time FROM sessions WHERE session_id = ?`, sessionID)
	require.NoError(t, row.Scan(&environment, &statsJSON, &snapshotJSON, &startTime, &endTime))

	require.Equal(t, "test", environment)
	require.Contains(t, statsJSON, `"turn_count":1`)
	require.Contains(t, snapshotJSON, "you are a test agent")
	require.False(t, startTime.IsZero())
	require.False(t, endTime.Valid, "end_time is only set once Supervisor.End is called")

	require.NoError(t, sup.End(context.Background()))
	row = store.db.QueryRow(`SELECT end_time FROM sessions WHERE session_id = ?`, c.SessionID())
	require.NoError(t, row.Scan(&endTime))
	require.True(t, endTime.Valid, "end_time must be set once the session ends")
}

type resetSpyMiddleware struct {
	calls *[]middleware.ResetReason
}

func (resetSpyMiddleware) Name() string                                    { return "reset_spy" }
func (resetSpyMiddleware) BeforeTurn(middleware.Context) middleware.Result { return middleware.ContinueResult() }
func (resetSpyMiddleware) AfterTurn(middleware.Context) middleware.Result  { return middleware.ContinueResult() }
func (m resetSpyMiddleware) Reset(reason middleware.ResetReason) {
	*m.calls = append(*m.calls, reason)
}

func nonSystemMessages(c *convo.Conversation) []convo.Message {
	all := c.Messages()
	out := []convo.Message{}
	for _, m := range all {
		if m.Role != convo.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
