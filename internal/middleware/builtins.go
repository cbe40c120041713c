package middleware

import "fmt"

// TurnLimit stops the turn once cumulative LLM completion steps reach Max.
// This counts steps, not user-facing turns: a single turn that iterates
// through several tool-call rounds can exhaust the limit before the user
// sees a second prompt.
type TurnLimit struct {
	Max int
}

func (m *TurnLimit) Name() string { return "turn_limit" }

func (m *TurnLimit) BeforeTurn(ctx Context) Result {
	if m.Max > 0 && ctx.Stats.Steps >= m.Max {
		return StopResult(fmt.Sprintf("turn limit reached (%d)", m.Max))
	}
	return ContinueResult()
}

func (m *TurnLimit) AfterTurn(ctx Context) Result { return ContinueResult() }
func (m *TurnLimit) Reset(reason ResetReason)     {}

// PriceLimit stops the turn once cumulative cost reaches MaxUSD.
type PriceLimit struct {
	MaxUSD float64
}

func (m *PriceLimit) Name() string { return "price_limit" }

func (m *PriceLimit) BeforeTurn(ctx Context) Result {
	if m.MaxUSD > 0 && ctx.Stats.Usage.CostUSD >= m.MaxUSD {
		return StopResult(fmt.Sprintf("cost limit reached ($%.4f)", m.MaxUSD))
	}
	return ContinueResult()
}

func (m *PriceLimit) AfterTurn(ctx Context) Result { return ContinueResult() }
func (m *PriceLimit) Reset(reason ResetReason)     {}

// TokenEstimator estimates the context window a Context's Messages would
// occupy; the Agent Loop wires this to convo.EstimateTokens.
type TokenEstimator func(ctx Context) int

// AutoCompact triggers COMPACT once the estimated context size reaches
// ThresholdTokens.
type AutoCompact struct {
	ThresholdTokens int
	Estimate        TokenEstimator
}

func (m *AutoCompact) Name() string { return "auto_compact" }

func (m *AutoCompact) BeforeTurn(ctx Context) Result {
	if m.ThresholdTokens <= 0 || m.Estimate == nil {
		return ContinueResult()
	}
	if m.Estimate(ctx) >= m.ThresholdTokens {
		return CompactResult()
	}
	return ContinueResult()
}

func (m *AutoCompact) AfterTurn(ctx Context) Result { return ContinueResult() }
func (m *AutoCompact) Reset(reason ResetReason)     {}

// ContextWarning injects a warning line once estimated tokens reach
// WarnPercent of WindowTokens. Fires at most once per Reset cycle so the
// warning doesn't repeat on every turn.
type ContextWarning struct {
	WindowTokens int
	WarnPercent  float64 // e.g. 0.8 for 80%
	Estimate     TokenEstimator

	warned bool
}

func (m *ContextWarning) Name() string { return "context_warning" }

func (m *ContextWarning) BeforeTurn(ctx Context) Result {
	if m.warned || m.WindowTokens <= 0 || m.WarnPercent <= 0 || m.Estimate == nil {
		return ContinueResult()
	}
	threshold := int(float64(m.WindowTokens) * m.WarnPercent)
	if m.Estimate(ctx) < threshold {
		return ContinueResult()
	}
	m.warned = true
	return InjectResult(fmt.Sprintf(
		"\n\n[context warning: approaching %.0f%% of the %d-token context window; consider compacting soon]",
		m.WarnPercent*100, m.WindowTokens,
	))
}

func (m *ContextWarning) AfterTurn(ctx Context) Result { return ContinueResult() }

func (m *ContextWarning) Reset(reason ResetReason) {
	m.warned = false
}

// ModeEnforcement injects a reminder every N turns while a read-only (or
// otherwise restricted) mode is active.
type ModeEnforcement struct {
	Active      func() bool
	Reminder    string
	EveryNTurns int

	turnsSinceReminder int
}

func (m *ModeEnforcement) Name() string { return "mode_enforcement" }

func (m *ModeEnforcement) BeforeTurn(ctx Context) Result {
	if m.Active == nil || !m.Active() || m.Reminder == "" {
		return ContinueResult()
	}
	every := m.EveryNTurns
	if every <= 0 {
		every = 1
	}
	m.turnsSinceReminder++
	if m.turnsSinceReminder < every {
		return ContinueResult()
	}
	m.turnsSinceReminder = 0
	return InjectResult("\n\n[mode reminder: " + m.Reminder + "]")
}

func (m *ModeEnforcement) AfterTurn(ctx Context) Result { return ContinueResult() }

func (m *ModeEnforcement) Reset(reason ResetReason) {
	m.turnsSinceReminder = 0
}
