// Package convo implements the Conversation Store: the append-only message
// history an Agent Loop reads from and writes to, plus running token/cost
// accounting for a session.
package convo

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an LLM's request to execute a tool. Arguments is the raw JSON
// text the model produced; it is kept as a string (not json.RawMessage) so
// it can be persisted, hashed, and replayed without re-encoding.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one turn of the conversation. Invariant I1: every ToolCall
// emitted on an assistant message is paired with exactly one later message
// with Role=tool carrying that call's ToolCallID — never a batch of results
// on a single message.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Reasoning  string     `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	Incomplete bool       `json:"incomplete,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewToolMessage builds the single role=tool message that must follow a
// ToolCall, satisfying invariant I1.
func NewToolMessage(call ToolCall, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		CreatedAt:  time.Now(),
	}
}

// Usage tracks cumulative token and cost accounting for a session; the
// PriceLimit middleware reads CostUSD. The Agent Loop records only
// InputTokens and OutputTokens from each completion and computes no cost,
// so CostUSD stays zero unless a caller adds it through AddUsage.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
	u.CostUSD += u2.CostUSD
}

// Stats is the point-in-time snapshot surfaced to middleware and the
// Session Supervisor. Steps and the tool_calls_* counters are monotone
// non-decreasing for the lifetime of a session (they reset only on
// Conversation.Reset, alongside SessionId).
type Stats struct {
	// TurnCount is the number of user-facing turns completed: one per
	// Act() call, regardless of how many internal completion steps it
	// took to reach a tool-call-free response.
	TurnCount int `json:"turn_count"`

	// Steps is the number of LLM completion calls made across the
	// session's lifetime. A turn contains one or more steps; TurnLimit
	// middleware compares against this, not TurnCount.
	Steps int `json:"steps"`

	MessageCount   int `json:"message_count"`
	EstimateTokens int `json:"estimate_tokens"`

	ToolCallsSucceeded int           `json:"tool_calls_succeeded"`
	ToolCallsFailed    int           `json:"tool_calls_failed"`
	LastTurnDuration   time.Duration `json:"last_turn_duration"`

	Usage Usage `json:"usage"`
}

// Conversation is the mutable, in-memory message history for one session.
// It is safe for concurrent use: the Agent Loop appends from its own
// goroutine while middleware and the Session Supervisor may read Stats
// concurrently.
type Conversation struct {
	mu        sync.RWMutex
	sessionID string
	system    *Message
	messages  []Message
	usage     Usage
	turns     int
	steps     int

	toolCallsSucceeded int
	toolCallsFailed    int
	lastTurnDuration   time.Duration
}

// New creates an empty conversation with a freshly minted SessionId.
func New(systemPrompt string) *Conversation {
	c := &Conversation{sessionID: uuid.New().String()}
	if systemPrompt != "" {
		m := Message{Role: RoleSystem, Content: systemPrompt, CreatedAt: time.Now()}
		c.system = &m
	}
	return c
}

// SessionID returns the current session identifier. It changes whenever the
// conversation is reset (see Reset), e.g. by compaction or an explicit
// clear operation.
func (c *Conversation) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Append adds a message to the history in order. Messages must be appended
// in the order they are produced: an assistant message's tool calls, then
// one tool message per call, in the same order the calls were declared.
func (c *Conversation) Append(m Message) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

// AppendTurn records that a full user-facing turn (one user input through
// final, tool-call-free assistant response) has completed, and how long it
// took wall-clock. Called exactly once per Act() invocation.
func (c *Conversation) AppendTurn(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns++
	c.lastTurnDuration = duration
}

// AppendStep records that one internal LLM completion call has completed.
// A turn contains one or more steps: Act() loops step -> tool dispatch ->
// step until the model stops requesting tools, calling AppendStep once per
// iteration. TurnLimit middleware and spec invariant I4 track this field,
// not TurnCount.
func (c *Conversation) AppendStep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps++
}

// RecordToolCall tallies one executed tool call's outcome into the
// session's tool_calls_succeeded/tool_calls_failed counters. Skipped calls
// (permission denial) are not counted as either: they never executed.
func (c *Conversation) RecordToolCall(succeeded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if succeeded {
		c.toolCallsSucceeded++
	} else {
		c.toolCallsFailed++
	}
}

// AddUsage accumulates token/cost usage observed from a backend completion.
func (c *Conversation) AddUsage(u Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.Add(u)
}

// Messages returns a snapshot copy of the full history, system message
// first if present.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, 0, len(c.messages)+1)
	if c.system != nil {
		out = append(out, *c.system)
	}
	out = append(out, c.messages...)
	return out
}

// SystemPrompt returns the system message content, if any.
func (c *Conversation) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.system == nil {
		return ""
	}
	return c.system.Content
}

// SetSystemPrompt rebuilds the system message in place, leaving every other
// message and the SessionId untouched. Used by the Session Supervisor's
// reload operation.
func (c *Conversation) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prompt == "" {
		c.system = nil
		return
	}
	m := Message{Role: RoleSystem, Content: prompt, CreatedAt: time.Now()}
	c.system = &m
}

// Stats returns the current accounting snapshot.
func (c *Conversation) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		TurnCount:          c.turns,
		Steps:              c.steps,
		MessageCount:       len(c.messages),
		EstimateTokens:     EstimateTokens(c.system, c.messages),
		ToolCallsSucceeded: c.toolCallsSucceeded,
		ToolCallsFailed:    c.toolCallsFailed,
		LastTurnDuration:   c.lastTurnDuration,
		Usage:              c.usage,
	}
}

// Reset replaces the history with [system, assistant(summary)] (or just
// [assistant(summary)] if there was no system prompt) and mints a new
// SessionId. The original system message is preserved unchanged; only the
// non-system history is replaced with a single assistant-authored summary
// message. Used by compaction and by an explicit session clear (summary=""
// drops the history entirely, leaving just the system message).
func (c *Conversation) Reset(summary string) (oldSessionID, newSessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldSessionID = c.sessionID
	c.sessionID = uuid.New().String()
	c.messages = nil
	if summary != "" {
		c.messages = []Message{{
			Role:      RoleAssistant,
			Content:   fmt.Sprintf("Conversation summary:\n%s", summary),
			CreatedAt: time.Now(),
		}}
	}
	c.turns = 0
	c.steps = 0
	c.toolCallsSucceeded = 0
	c.toolCallsFailed = 0
	c.lastTurnDuration = 0
	return oldSessionID, c.sessionID
}

// estimateTokensPerMessageOverhead accounts for role/field framing that the
// char-count heuristic below does not otherwise capture.
const estimateTokensPerMessageOverhead = 4

// EstimateTokens is the monotonic token-count heuristic used throughout the
// module (compaction thresholds, ContextWarning middleware): roughly 4 bytes
// of content per token (len/4), plus a small fixed
// overhead per message for role/field framing. It never decreases as
// message count or content length grows, which is the only property the
// rest of the system relies on.
func EstimateTokens(system *Message, messages []Message) int {
	total := 0
	if system != nil {
		total += estimateMessageTokens(*system)
	}
	for _, m := range messages {
		total += estimateMessageTokens(m)
	}
	return total
}

func estimateMessageTokens(m Message) int {
	n := estimateTokensPerMessageOverhead
	n += len(m.Content) / 4
	n += len(m.Reasoning) / 4
	for _, tc := range m.ToolCalls {
		n += len(tc.Name) / 4
		n += len(tc.Arguments) / 4
	}
	return n
}
