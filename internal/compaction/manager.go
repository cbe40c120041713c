package compaction

import (
	"context"
	"fmt"

	"github.com/nexuscore/agentcore/internal/convo"
	"github.com/nexuscore/agentcore/internal/events"
	"github.com/nexuscore/agentcore/internal/llm/backend"
	"github.com/nexuscore/agentcore/internal/llm/provider"
	"github.com/nexuscore/agentcore/internal/middleware"
)

// summaryInstructions is the system prompt given to the backend when
// generating a compaction summary. It asks for a self-contained recap a
// fresh conversation can continue from.
const summaryInstructions = "Summarize the conversation so far in a concise, " +
	"self-contained form an assistant could resume from without the original " +
	"messages. Preserve concrete facts, decisions, open tasks, and any file " +
	"paths or identifiers mentioned. Omit pleasantries."

// BackendSummarizer adapts an llm/backend.Backend to the Summarizer
// interface: it drains a non-streaming, tool-free completion and returns
// the accumulated text.
type BackendSummarizer struct {
	Backend *backend.Backend
	Model   string
}

// GenerateSummary implements Summarizer.
func (s *BackendSummarizer) GenerateSummary(ctx context.Context, messages []convo.Message, config *SummarizationConfig) (string, error) {
	if len(messages) == 0 {
		return DefaultSummaryFallback, nil
	}

	maxTokens := 1024
	if config != nil && config.ReserveTokens > 0 {
		maxTokens = config.ReserveTokens
	}

	system := summaryInstructions
	if config != nil && config.CustomInstructions != "" {
		system = system + "\n\n" + config.CustomInstructions
	}
	if config != nil && config.PreviousSummary != "" && config.PreviousSummary != DefaultSummaryFallback {
		system = system + "\n\nPrior summary to build on:\n" + config.PreviousSummary
	}

	req := &provider.Request{
		Model:     s.Model,
		System:    system,
		Messages:  []convo.Message{{Role: convo.RoleUser, Content: FormatMessagesForSummary(messages)}},
		Tools:     nil, // tools cleared per the compaction call contract
		MaxTokens: maxTokens,
	}

	// backend.Complete drains the stream internally and returns one
	// accumulated result, which is how streaming is "disabled" for this
	// call: the caller never sees incremental chunks.
	res, err := s.Backend.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("compaction summarizer: %w", err)
	}
	if res.Text == "" {
		return DefaultSummaryFallback, nil
	}
	return res.Text, nil
}

// Manager implements the Compaction module: threshold-triggered, chunked
// LLM-summarization compaction over a live convo.Conversation.
type Manager struct {
	Summarizer Summarizer
	Config     *SummarizationConfig
	Emitter    *events.Emitter
	Pipeline   *middleware.Pipeline
}

// NewManager wires a Manager around a Backend-backed Summarizer.
func NewManager(be *backend.Backend, model string, emitter *events.Emitter, pipeline *middleware.Pipeline) *Manager {
	return &Manager{
		Summarizer: &BackendSummarizer{Backend: be, Model: model},
		Config:     DefaultSummarizationConfig(),
		Emitter:    emitter,
		Pipeline:   pipeline,
	}
}

// Compact runs the 5-step compaction algorithm against convo:
//  1. snapshot the conversation, emit CompactStart with the estimated
//     current size and the threshold that triggered it;
//  2. ask the Summarizer for a concise summary of every message except the
//     system message;
//  3. on success, replace the conversation's history with the summary via
//     Conversation.Reset, which mints a new SessionId and leaves the
//     original system message untouched. The pre-compaction messages are
//     not persisted: they and the old SessionId are discarded;
//  4. broadcast reset(COMPACT) to the middleware pipeline;
//  5. emit CompactEnd with before/after token estimates and summary length.
//
// If the summarizer call fails, the conversation is left untouched, a
// diagnostic event is emitted, and the error is returned so the caller
// (the Agent Loop) can continue the turn without compaction.
func (m *Manager) Compact(ctx context.Context, convoStore *convo.Conversation, thresholdTokens int) error {
	messages := convoStore.Messages()

	var nonSystem []convo.Message
	for _, msg := range messages {
		if msg.Role == convo.RoleSystem {
			continue
		}
		nonSystem = append(nonSystem, msg)
	}

	beforeTokens := convoStore.Stats().EstimateTokens
	if m.Emitter != nil {
		m.Emitter.CompactStart(ctx, thresholdTokens, beforeTokens)
	}

	config := m.Config
	if config == nil {
		config = DefaultSummarizationConfig()
	}

	summary, err := SummarizeInStages(ctx, nonSystem, m.Summarizer, config)
	if err != nil {
		if m.Emitter != nil {
			m.Emitter.AssistantStopped(ctx, "", "compaction_failed: "+err.Error())
		}
		return fmt.Errorf("compaction: summarize: %w", err)
	}

	oldSessionID, newSessionID := convoStore.Reset(summary)
	_ = oldSessionID

	if m.Emitter != nil {
		m.Emitter.SetSessionID(newSessionID)
	}
	if m.Pipeline != nil {
		m.Pipeline.Reset(middleware.ResetCompact)
	}

	afterTokens := convoStore.Stats().EstimateTokens
	if m.Emitter != nil {
		m.Emitter.CompactEnd(ctx, beforeTokens, afterTokens, len(summary))
	}
	return nil
}
