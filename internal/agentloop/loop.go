// Package agentloop implements the Agent Loop: the per-turn state machine
// that drives one user message through streaming completion, tool
// dispatch, and middleware checks until the model produces a final
// tool-call-free response.
package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexuscore/agentcore/internal/compaction"
	"github.com/nexuscore/agentcore/internal/convo"
	"github.com/nexuscore/agentcore/internal/events"
	"github.com/nexuscore/agentcore/internal/llm/backend"
	"github.com/nexuscore/agentcore/internal/llm/provider"
	"github.com/nexuscore/agentcore/internal/middleware"
	"github.com/nexuscore/agentcore/internal/permission"
	"github.com/nexuscore/agentcore/internal/toolhost"
)

// ReasoningBatchSize batches reasoning-content chunks before emitting a
// ReasoningEvent, so a chatty stream doesn't flood the Event Emitter with
// one event per token.
const ReasoningBatchSize = 5

// ErrMaxIterations is returned when a turn's tool-call/continue cycle runs
// past Config.MaxIterations without the model returning a final response.
var ErrMaxIterations = errors.New("agentloop: reached max iterations for this turn")

// Config holds the per-Loop settings that don't change between turns.
type Config struct {
	Model         string
	MaxTokens     int
	MaxIterations int // default 10
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

// Loop composes every runtime component the Agent Loop module needs:
// Conversation Store, LLM Backend, Tool Host, Permission Engine,
// Middleware Pipeline, Event Emitter, and the Compaction Manager.
type Loop struct {
	Convo      *convo.Conversation
	Backend    *backend.Backend
	Tools      *toolhost.Host
	Permission *permission.Engine
	Pipeline   *middleware.Pipeline
	Emitter    *events.Emitter
	Compactor  *compaction.Manager

	Config Config

	// pendingInjection holds text a before_turn middleware asked to have
	// appended to the pending user message. It is applied when building
	// the next completion request and then cleared; it is never persisted
	// to the Conversation Store as its own message.
	pendingInjection string
}

// New builds a Loop from its components. Compactor may be nil if automatic
// compaction is not wired for this session.
func New(c *convo.Conversation, be *backend.Backend, tools *toolhost.Host, perm *permission.Engine, pipeline *middleware.Pipeline, emitter *events.Emitter, compactor *compaction.Manager, cfg Config) *Loop {
	return &Loop{
		Convo: c, Backend: be, Tools: tools, Permission: perm,
		Pipeline: pipeline, Emitter: emitter, Compactor: compactor,
		Config: cfg.withDefaults(),
	}
}

// Act runs one turn: append userText as a user message, then loop through
// stream/execute-tools/continue until the model stops requesting tools or
// a middleware/iteration limit ends the turn early.
func (l *Loop) Act(ctx context.Context, userText string) error {
	started := time.Now()
	defer func() { l.Convo.AppendTurn(time.Since(started)) }()

	l.Convo.Append(convo.Message{Role: convo.RoleUser, Content: userText})

	for iter := 0; iter < l.Config.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return l.handleCancellation(ctx, nil)
		}

		outcome := l.runBeforeTurn(ctx)
		switch outcome.Verdict {
		case middleware.Stop:
			if l.Emitter != nil {
				l.Emitter.AssistantStopped(ctx, "", outcome.Reason)
			}
			return nil
		case middleware.Compact:
			if err := l.compact(ctx); err != nil && l.Emitter != nil {
				l.Emitter.AssistantStopped(ctx, "", "compaction_failed")
			}
		case middleware.Inject:
			l.pendingInjection += outcome.InjectedText
		}

		assistantMsg, toolCalls, err := l.streamTurn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return l.handleCancellation(ctx, assistantMsg)
			}
			if assistantMsg != nil {
				l.Convo.Append(*assistantMsg)
			}
			return fmt.Errorf("agentloop: stream: %w", err)
		}
		l.Convo.Append(*assistantMsg)

		if len(toolCalls) == 0 {
			l.Convo.AppendStep()
			return l.runAfterTurnAndMaybeCompact(ctx)
		}

		if err := l.dispatchToolCalls(ctx, toolCalls); err != nil {
			if ctx.Err() != nil {
				return l.handleCancellation(ctx, nil)
			}
			return fmt.Errorf("agentloop: tool dispatch: %w", err)
		}

		l.Convo.AppendStep()
		after := l.runAfterTurn(ctx)
		switch after.Verdict {
		case middleware.Stop:
			if l.Emitter != nil {
				l.Emitter.AssistantStopped(ctx, "", after.Reason)
			}
			return nil
		case middleware.Compact:
			if err := l.compact(ctx); err != nil && l.Emitter != nil {
				l.Emitter.AssistantStopped(ctx, "", "compaction_failed")
			}
		}
	}
	return ErrMaxIterations
}

func (l *Loop) runBeforeTurn(ctx context.Context) middleware.Outcome {
	if l.Pipeline == nil {
		return middleware.Outcome{Verdict: middleware.Continue}
	}
	return l.Pipeline.RunBefore(l.middlewareContext())
}

func (l *Loop) runAfterTurn(ctx context.Context) middleware.Outcome {
	if l.Pipeline == nil {
		return middleware.Outcome{Verdict: middleware.Continue}
	}
	return l.Pipeline.RunAfter(l.middlewareContext())
}

// runAfterTurnAndMaybeCompact runs after_turn middlewares once the model
// has produced its final, tool-call-free response for the turn.
func (l *Loop) runAfterTurnAndMaybeCompact(ctx context.Context) error {
	out := l.runAfterTurn(ctx)
	switch out.Verdict {
	case middleware.Stop:
		if l.Emitter != nil {
			l.Emitter.AssistantStopped(ctx, "", out.Reason)
		}
	case middleware.Compact:
		if err := l.compact(ctx); err != nil && l.Emitter != nil {
			l.Emitter.AssistantStopped(ctx, "", "compaction_failed")
		}
	}
	return nil
}

func (l *Loop) middlewareContext() middleware.Context {
	return middleware.Context{
		Messages: l.Convo.Messages(),
		Stats:    l.Convo.Stats(),
	}
}

// streamTurn calls the backend, accumulating chunks into one assistant
// Message. Reasoning chunks are batched (ReasoningBatchSize) into one
// ReasoningEvent; assistant text is emitted as one AssistantEvent per chunk.
func (l *Loop) streamTurn(ctx context.Context) (*convo.Message, []convo.ToolCall, error) {
	req := &provider.Request{
		Model:     l.Config.Model,
		System:    l.Convo.SystemPrompt(),
		Messages:  l.liveMessages(),
		Tools:     l.toolSpecs(),
		MaxTokens: l.Config.MaxTokens,
	}

	chunks, err := l.Backend.CompleteStream(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	msg := &convo.Message{Role: convo.RoleAssistant, CreatedAt: time.Now()}
	var toolCalls []convo.ToolCall
	var reasoningBuf strings.Builder
	reasoningChunkCount := 0

	flushReasoning := func(done bool) {
		if reasoningBuf.Len() == 0 {
			return
		}
		if l.Emitter != nil {
			l.Emitter.Reasoning(ctx, reasoningBuf.String(), done)
		}
		reasoningBuf.Reset()
		reasoningChunkCount = 0
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			flushReasoning(true)
			msg.Incomplete = true
			return msg, toolCalls, chunk.Err
		}
		if chunk.Text != "" {
			msg.Content += chunk.Text
			if l.Emitter != nil {
				l.Emitter.Assistant(ctx, chunk.Text, chunk.Done)
			}
		}
		if chunk.Reasoning != "" {
			msg.Reasoning += chunk.Reasoning
			reasoningBuf.WriteString(chunk.Reasoning)
			reasoningChunkCount++
			if reasoningChunkCount >= ReasoningBatchSize {
				flushReasoning(false)
			}
		}
		if chunk.ReasoningEnd {
			flushReasoning(true)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			l.Convo.AddUsage(convo.Usage{InputTokens: chunk.InputTokens, OutputTokens: chunk.OutputTokens})
		}
	}
	flushReasoning(true)

	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}
	return msg, toolCalls, nil
}

// liveMessages returns the conversation history minus the system message
// (Request.System carries that separately), with any pending middleware
// injection appended atomically to the last user message and then cleared.
func (l *Loop) liveMessages() []convo.Message {
	all := l.Convo.Messages()
	out := make([]convo.Message, 0, len(all))
	for _, m := range all {
		if m.Role == convo.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	if l.pendingInjection != "" {
		for i := len(out) - 1; i >= 0; i-- {
			if out[i].Role == convo.RoleUser {
				out[i].Content += l.pendingInjection
				break
			}
		}
		l.pendingInjection = ""
	}
	return out
}

func (l *Loop) toolSpecs() []provider.ToolSpec {
	if l.Tools == nil {
		return nil
	}
	defs := l.Tools.List()
	specs := make([]provider.ToolSpec, 0, len(defs))
	for _, d := range defs {
		specs = append(specs, provider.ToolSpec{Name: d.Name, Description: d.Description, Schema: d.Schema})
	}
	return specs
}

// dispatchToolCalls executes toolCalls in declared order (spec Open
// Question 1: sequential by default, parallel only if every call in the
// batch targets a SideEffectFree tool), appending exactly one role=tool
// Message per call regardless of permission outcome.
func (l *Loop) dispatchToolCalls(ctx context.Context, toolCalls []convo.ToolCall) error {
	allowed := make([]bool, len(toolCalls))
	reasons := make([]string, len(toolCalls))

	for i, call := range toolCalls {
		if l.Emitter != nil {
			l.Emitter.ToolCall(ctx, call.ID, call.Name, call.Arguments)
		}
		if l.Permission == nil {
			allowed[i] = true
			continue
		}
		decision, err := l.Permission.Evaluate(ctx, call.Name, call.Name, call.Arguments, call.ID)
		if err != nil {
			allowed[i] = false
			reasons[i] = err.Error()
			continue
		}
		allowed[i] = decision.Outcome == permission.Proceed
		reasons[i] = decision.Reason
	}

	toExecute := make([]convo.ToolCall, 0, len(toolCalls))
	executeIdx := make([]int, 0, len(toolCalls))
	for i, call := range toolCalls {
		if allowed[i] {
			toExecute = append(toExecute, call)
			executeIdx = append(executeIdx, i)
		}
	}

	var execResults []toolhost.CallResult
	if len(toExecute) > 0 {
		execResults = l.executeBatch(ctx, toExecute)
	}

	resultByIdx := make(map[int]toolhost.CallResult, len(execResults))
	for i, r := range execResults {
		resultByIdx[executeIdx[i]] = r
	}

	for i, call := range toolCalls {
		if !allowed[i] {
			msg := "skipped: " + reasons[i]
			l.Convo.Append(convo.NewToolMessage(call, msg))
			if l.Emitter != nil {
				l.Emitter.ToolResult(ctx, call.ID, call.Name, events.ToolSkipped, msg, 0)
			}
			continue
		}
		r, ok := resultByIdx[i]
		if !ok {
			continue
		}
		l.Convo.Append(convo.NewToolMessage(call, r.Result.Content))
		status := events.ToolSuccess
		if r.Result.IsError {
			status = events.ToolError
		}
		l.Convo.RecordToolCall(!r.Result.IsError)
		if l.Emitter != nil {
			l.Emitter.ToolResult(ctx, call.ID, call.Name, status, r.Result.Content, r.Finished.Sub(r.Started))
		}
	}
	return nil
}

// executeBatch chooses ExecuteConcurrently only when every call targets a
// SideEffectFree Definition (spec Open Question 1); otherwise sequential.
func (l *Loop) executeBatch(ctx context.Context, calls []convo.ToolCall) []toolhost.CallResult {
	exec := l.Tools.Executor()
	allSideEffectFree := true
	for _, c := range calls {
		def, ok := l.Tools.Get(c.Name)
		if !ok || !def.SideEffectFree {
			allSideEffectFree = false
			break
		}
	}
	if allSideEffectFree && len(calls) > 1 {
		return exec.ExecuteConcurrently(ctx, calls, nil)
	}
	return exec.ExecuteSequentially(ctx, calls, nil)
}

// handleCancellation finalizes a partial assistant message (if any) and
// appends synthetic "cancelled" tool results for any assistant-announced
// tool calls that never got a result, preserving the tool-call/tool-result
// pairing invariant.
func (l *Loop) handleCancellation(ctx context.Context, partial *convo.Message) error {
	if partial != nil {
		partial.Incomplete = true
		l.Convo.Append(*partial)
		for _, call := range partial.ToolCalls {
			l.Convo.Append(convo.NewToolMessage(call, "cancelled"))
			if l.Emitter != nil {
				l.Emitter.ToolResult(context.Background(), call.ID, call.Name, events.ToolSkipped, "cancelled", 0)
			}
		}
	}
	return context.Canceled
}

// compact runs the Compaction Manager, tolerating a nil Compactor (no-op)
// so a Loop built without automatic compaction still behaves correctly
// when a middleware returns COMPACT.
func (l *Loop) compact(ctx context.Context) error {
	if l.Compactor == nil {
		return nil
	}
	threshold := 0
	if l.Convo != nil {
		threshold = l.Convo.Stats().EstimateTokens
	}
	return l.Compactor.Compact(ctx, l.Convo, threshold)
}
