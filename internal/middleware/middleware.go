// Package middleware implements the Middleware Pipeline: an ordered chain
// of before/after-turn interceptors that can halt a turn, trigger
// compaction, or inject text into the pending user message.
package middleware

import (
	"sync"

	"github.com/nexuscore/agentcore/internal/convo"
)

// Verdict is a middleware hook's decision.
type Verdict string

const (
	Continue Verdict = "continue"
	Stop     Verdict = "stop"
	Compact  Verdict = "compact"
	Inject   Verdict = "inject"
)

// ResetReason tells a middleware why its state is being reset.
type ResetReason string

const (
	ResetStop    ResetReason = "stop"
	ResetCompact ResetReason = "compact"
)

// Result is what a hook returns: a Verdict plus whatever payload it carries
// (Reason for Stop, Text for Inject).
type Result struct {
	Verdict Verdict
	Reason  string
	Text    string
}

func ContinueResult() Result           { return Result{Verdict: Continue} }
func StopResult(reason string) Result  { return Result{Verdict: Stop, Reason: reason} }
func CompactResult() Result            { return Result{Verdict: Compact} }
func InjectResult(text string) Result  { return Result{Verdict: Inject, Text: text} }

// Context is the read-only view a middleware hook receives.
type Context struct {
	Messages []convo.Message
	Stats    convo.Stats
	Config   any
}

// Middleware is one pipeline stage.
type Middleware interface {
	Name() string
	BeforeTurn(ctx Context) Result
	AfterTurn(ctx Context) Result
	Reset(reason ResetReason)
}

// Outcome is the Pipeline's aggregated verdict for one before/after pass.
type Outcome struct {
	// Verdict is Stop or Compact if any middleware short-circuited,
	// otherwise Continue.
	Verdict Verdict
	Reason  string
	// InjectedText is the concatenation of every INJECT text, in
	// registration order; only ever populated by RunBefore.
	InjectedText string
}

// Pipeline runs Middlewares in registration order.
type Pipeline struct {
	mu    sync.RWMutex
	stack []Middleware
}

// New builds an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Use appends a Middleware to the end of the pipeline.
func (p *Pipeline) Use(m Middleware) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stack = append(p.stack, m)
}

// RunBefore runs every middleware's BeforeTurn in order. The first STOP or
// COMPACT short-circuits the remainder; INJECT results accumulate across
// all middlewares regardless of where they occur, consulting every
// middleware before applying the combined text atomically.
func (p *Pipeline) RunBefore(ctx Context) Outcome {
	p.mu.RLock()
	stack := append([]Middleware(nil), p.stack...)
	p.mu.RUnlock()

	var injected string
	for _, m := range stack {
		res := m.BeforeTurn(ctx)
		switch res.Verdict {
		case Stop:
			return Outcome{Verdict: Stop, Reason: res.Reason, InjectedText: injected}
		case Compact:
			return Outcome{Verdict: Compact, InjectedText: injected}
		case Inject:
			injected += res.Text
		}
	}
	if injected != "" {
		return Outcome{Verdict: Inject, InjectedText: injected}
	}
	return Outcome{Verdict: Continue}
}

// RunAfter runs every middleware's AfterTurn in order, short-circuiting on
// the first STOP or COMPACT.
func (p *Pipeline) RunAfter(ctx Context) Outcome {
	p.mu.RLock()
	stack := append([]Middleware(nil), p.stack...)
	p.mu.RUnlock()

	for _, m := range stack {
		res := m.AfterTurn(ctx)
		switch res.Verdict {
		case Stop:
			return Outcome{Verdict: Stop, Reason: res.Reason}
		case Compact:
			return Outcome{Verdict: Compact}
		}
	}
	return Outcome{Verdict: Continue}
}

// Reset broadcasts reason to every middleware, e.g. when the conversation
// is cleared or compacted.
func (p *Pipeline) Reset(reason ResetReason) {
	p.mu.RLock()
	stack := append([]Middleware(nil), p.stack...)
	p.mu.RUnlock()

	for _, m := range stack {
		m.Reset(reason)
	}
}
