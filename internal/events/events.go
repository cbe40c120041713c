// Package events implements the Event Emitter: a typed stream of
// assistant-text, reasoning, tool-call, tool-result, and compaction events
// an Agent Loop publishes for external observers (the CLI, a UI, metrics).
package events

import (
	"context"
	"sync/atomic"
	"time"
)

// Kind discriminates the Event union.
type Kind string

const (
	KindAssistant    Kind = "assistant"
	KindReasoning    Kind = "reasoning"
	KindToolCall     Kind = "tool_call"
	KindToolResult   Kind = "tool_result"
	KindCompactStart Kind = "compact_start"
	KindCompactEnd   Kind = "compact_end"
)

// ToolResultStatus is a ToolResultEvent's outcome.
type ToolResultStatus string

const (
	ToolSuccess ToolResultStatus = "success"
	ToolError   ToolResultStatus = "error"
	ToolSkipped ToolResultStatus = "skipped"
)

// Event is the single typed envelope emitted for every observable moment in
// a turn. Exactly one of the payload fields is populated, matching Kind.
type Event struct {
	Kind      Kind
	Sequence  uint64
	SessionID string
	Time      time.Time

	// KindAssistant / KindReasoning
	Delta string
	Done  bool

	// StoppedByMiddleware marks a KindAssistant event as the turn's
	// terminal event because a middleware stopped the turn rather than
	// the model reaching a natural end of generation. Reason carries the
	// stopping middleware's explanation. Delta may be empty when the
	// stop happened before the model produced any new content this step.
	StoppedByMiddleware bool
	Reason              string

	// KindToolCall
	ToolCallID   string
	ToolName     string
	ToolArgsJSON string

	// KindToolResult
	ToolResultStatus ToolResultStatus
	ToolResultText   string
	ToolDuration     time.Duration

	// KindCompactStart / KindCompactEnd
	CompactThresholdTokens int
	CompactBeforeTokens    int
	CompactAfterTokens     int
	CompactSummaryLen      int
}

// Sink receives Events. Implementations must not block the Agent Loop for
// long; a slow sink should buffer internally.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// NopSink discards every Event.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, ev Event) {}

// MultiSink fans an Event out to every child Sink.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// Emitter assigns monotonic sequence numbers and timestamps before handing
// Events to its Sink, mirroring the per-run sequencing the teacher's
// event emitter provides.
type Emitter struct {
	sessionID string
	sequence  uint64
	sink      Sink
}

// New builds an Emitter bound to sessionID, publishing to sink (NopSink if
// nil).
func New(sessionID string, sink Sink) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Emitter{sessionID: sessionID, sink: sink}
}

// SetSessionID updates the session id events are tagged with, e.g. after a
// compaction-triggered rotation.
func (e *Emitter) SetSessionID(id string) { e.sessionID = id }

func (e *Emitter) next() (uint64, time.Time) {
	return atomic.AddUint64(&e.sequence, 1), time.Now()
}

func (e *Emitter) emit(ctx context.Context, ev Event) Event {
	ev.Sequence, ev.Time = e.next()
	ev.SessionID = e.sessionID
	e.sink.Emit(ctx, ev)
	return ev
}

// Assistant emits an incremental assistant-text chunk. done marks the final
// chunk of the accumulated message.
func (e *Emitter) Assistant(ctx context.Context, delta string, done bool) Event {
	return e.emit(ctx, Event{Kind: KindAssistant, Delta: delta, Done: done})
}

// Reasoning emits an incremental reasoning-content chunk.
func (e *Emitter) Reasoning(ctx context.Context, delta string, done bool) Event {
	return e.emit(ctx, Event{Kind: KindReasoning, Delta: delta, Done: done})
}

// ToolCall emits notice that a tool call is about to be dispatched.
func (e *Emitter) ToolCall(ctx context.Context, callID, name, argsJSON string) Event {
	return e.emit(ctx, Event{Kind: KindToolCall, ToolCallID: callID, ToolName: name, ToolArgsJSON: argsJSON})
}

// ToolResult emits a tool call's outcome.
func (e *Emitter) ToolResult(ctx context.Context, callID, name string, status ToolResultStatus, text string, d time.Duration) Event {
	return e.emit(ctx, Event{
		Kind: KindToolResult, ToolCallID: callID, ToolName: name,
		ToolResultStatus: status, ToolResultText: text, ToolDuration: d,
	})
}

// CompactStart emits the estimated size and threshold that triggered
// compaction.
func (e *Emitter) CompactStart(ctx context.Context, thresholdTokens, beforeTokens int) Event {
	return e.emit(ctx, Event{Kind: KindCompactStart, CompactThresholdTokens: thresholdTokens, CompactBeforeTokens: beforeTokens})
}

// CompactEnd emits before/after token estimates and summary length.
func (e *Emitter) CompactEnd(ctx context.Context, beforeTokens, afterTokens, summaryLen int) Event {
	return e.emit(ctx, Event{Kind: KindCompactEnd, CompactBeforeTokens: beforeTokens, CompactAfterTokens: afterTokens, CompactSummaryLen: summaryLen})
}

// AssistantStopped emits the turn's terminal assistant event when a
// middleware aborts the turn instead of the model reaching a natural stop.
// delta carries any partial content produced before the stop; it is often
// empty, since before_turn and after-tool-dispatch stops land between model
// calls.
func (e *Emitter) AssistantStopped(ctx context.Context, delta, reason string) Event {
	return e.emit(ctx, Event{
		Kind: KindAssistant, Delta: delta, Done: true,
		StoppedByMiddleware: true, Reason: reason,
	})
}
