package middleware

import (
	"testing"

	"github.com/nexuscore/agentcore/internal/convo"
	"github.com/stretchr/testify/require"
)

type recordingMiddleware struct {
	name        string
	before      Result
	after       Result
	resetCalled []ResetReason
}

func (m *recordingMiddleware) Name() string             { return m.name }
func (m *recordingMiddleware) BeforeTurn(Context) Result { return m.before }
func (m *recordingMiddleware) AfterTurn(Context) Result  { return m.after }
func (m *recordingMiddleware) Reset(reason ResetReason) {
	m.resetCalled = append(m.resetCalled, reason)
}

func TestPipeline_RunBefore_ContinueThrough(t *testing.T) {
	p := New()
	p.Use(&recordingMiddleware{name: "a", before: ContinueResult()})
	p.Use(&recordingMiddleware{name: "b", before: ContinueResult()})

	out := p.RunBefore(Context{})
	require.Equal(t, Continue, out.Verdict)
}

func TestPipeline_RunBefore_StopShortCircuits(t *testing.T) {
	third := &recordingMiddleware{name: "c", before: ContinueResult()}
	p := New()
	p.Use(&recordingMiddleware{name: "a", before: StopResult("limit")})
	p.Use(third)

	out := p.RunBefore(Context{})
	require.Equal(t, Stop, out.Verdict)
	require.Equal(t, "limit", out.Reason)
}

func TestPipeline_RunBefore_InjectAccumulates(t *testing.T) {
	p := New()
	p.Use(&recordingMiddleware{name: "a", before: InjectResult("one ")})
	p.Use(&recordingMiddleware{name: "b", before: InjectResult("two")})

	out := p.RunBefore(Context{})
	require.Equal(t, Inject, out.Verdict)
	require.Equal(t, "one two", out.InjectedText)
}

func TestPipeline_Reset_Broadcasts(t *testing.T) {
	a := &recordingMiddleware{name: "a"}
	b := &recordingMiddleware{name: "b"}
	p := New()
	p.Use(a)
	p.Use(b)

	p.Reset(ResetCompact)
	require.Equal(t, []ResetReason{ResetCompact}, a.resetCalled)
	require.Equal(t, []ResetReason{ResetCompact}, b.resetCalled)
}

func TestTurnLimit(t *testing.T) {
	m := &TurnLimit{Max: 3}
	res := m.BeforeTurn(Context{Stats: convo.Stats{Steps: 3}})
	require.Equal(t, Stop, res.Verdict)

	res = m.BeforeTurn(Context{Stats: convo.Stats{Steps: 2}})
	require.Equal(t, Continue, res.Verdict)
}

func TestPriceLimit(t *testing.T) {
	m := &PriceLimit{MaxUSD: 1.0}
	res := m.BeforeTurn(Context{Stats: convo.Stats{Usage: convo.Usage{CostUSD: 1.5}}})
	require.Equal(t, Stop, res.Verdict)
}

func TestAutoCompact(t *testing.T) {
	m := &AutoCompact{ThresholdTokens: 100, Estimate: func(Context) int { return 150 }}
	res := m.BeforeTurn(Context{})
	require.Equal(t, Compact, res.Verdict)
}

func TestContextWarning_FiresOnceUntilReset(t *testing.T) {
	m := &ContextWarning{WindowTokens: 1000, WarnPercent: 0.8, Estimate: func(Context) int { return 900 }}

	res := m.BeforeTurn(Context{})
	require.Equal(t, Inject, res.Verdict)

	res = m.BeforeTurn(Context{})
	require.Equal(t, Continue, res.Verdict)

	m.Reset(ResetCompact)
	res = m.BeforeTurn(Context{})
	require.Equal(t, Inject, res.Verdict)
}

func TestModeEnforcement_EveryNTurns(t *testing.T) {
	active := true
	m := &ModeEnforcement{Active: func() bool { return active }, Reminder: "read-only mode", EveryNTurns: 2}

	res := m.BeforeTurn(Context{})
	require.Equal(t, Continue, res.Verdict)

	res = m.BeforeTurn(Context{})
	require.Equal(t, Inject, res.Verdict)
}
