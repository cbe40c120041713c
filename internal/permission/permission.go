// Package permission implements the Permission Engine: per-call evaluation
// of enabled-tool membership, allow/deny patterns, and per-tool permission
// level, invoking an approval callback when a decision can't be made from
// static configuration alone.
package permission

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Level is a tool's static permission level.
type Level string

const (
	Always Level = "ALWAYS"
	Ask    Level = "ASK"
	Never  Level = "NEVER"
)

// Outcome is the Engine's verdict for one tool call.
type Outcome string

const (
	Proceed Outcome = "proceed"
	Skipped Outcome = "skipped"
)

// Decision is the result of evaluating a single tool call.
type Decision struct {
	Outcome Outcome
	Reason  string
}

func proceed() Decision { return Decision{Outcome: Proceed} }
func skip(reason string) Decision {
	return Decision{Outcome: Skipped, Reason: reason}
}

// ToolConfig is the per-tool static policy: permission level plus
// allow/deny patterns matched against a tool-defined argument string (the
// shell tool's command, for instance; the tool name itself otherwise).
type ToolConfig struct {
	Permission Level
	Allowlist  []string
	Denylist   []string
}

// ApprovalResponse is what an ApprovalCallback returns for an ASK decision.
type ApprovalResponse struct {
	Approved bool
	Message  string
}

// ApprovalCallback is invoked for ASK-level tools not otherwise resolved by
// allow/deny patterns.
type ApprovalCallback func(ctx context.Context, toolName string, arguments string, toolCallID string) (ApprovalResponse, error)

// Engine evaluates tool calls against the enabled-tool set, per-tool
// ToolConfigs, and an ApprovalCallback, per the five-step chain:
// disabled → denylist → allowlist → permission level → approval callback.
type Engine struct {
	mu       sync.RWMutex
	enabled  map[string]bool // nil means "all tools enabled"
	configs  map[string]ToolConfig
	approval ApprovalCallback
}

// New builds an Engine with no enabled-set restriction and no tool configs.
func New() *Engine {
	return &Engine{configs: make(map[string]ToolConfig)}
}

// SetEnabledTools restricts the currently enabled tool set. A nil or empty
// set means every registered tool is enabled.
func (e *Engine) SetEnabledTools(names []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(names) == 0 {
		e.enabled = nil
		return
	}
	e.enabled = make(map[string]bool, len(names))
	for _, n := range names {
		e.enabled[n] = true
	}
}

// SetToolConfig installs the static policy for one tool.
func (e *Engine) SetToolConfig(toolName string, cfg ToolConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs[toolName] = cfg
}

// SetApprovalCallback installs the callback invoked for ASK-level tools.
func (e *Engine) SetApprovalCallback(cb ApprovalCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approval = cb
}

// Evaluate runs the five-step decision chain for one tool call. matchArg is
// the tool-defined string allow/deny patterns are matched against (e.g. the
// shell tool's command field); callers pass the tool name itself when a
// tool has no more specific argument to match.
func (e *Engine) Evaluate(ctx context.Context, toolName, matchArg, arguments, toolCallID string) (Decision, error) {
	e.mu.RLock()
	enabled := e.enabled
	cfg, hasCfg := e.configs[toolName]
	approval := e.approval
	e.mu.RUnlock()

	// 1. Enabled-set membership.
	if enabled != nil && !enabled[toolName] {
		return skip("tool disabled"), nil
	}

	// 2. Denylist (highest priority after enablement).
	if hasCfg && matchesAny(cfg.Denylist, matchArg) {
		return skip("denied by policy"), nil
	}

	// 3. Allowlist short-circuits to ALWAYS regardless of configured level.
	if hasCfg && matchesAny(cfg.Allowlist, matchArg) {
		return proceed(), nil
	}

	// 4. Permission level.
	level := Ask
	if hasCfg && cfg.Permission != "" {
		level = cfg.Permission
	}
	switch level {
	case Always:
		return proceed(), nil
	case Never:
		return skip("never"), nil
	case Ask:
		// fall through to step 5
	default:
		return skip(fmt.Sprintf("unknown permission level %q", level)), nil
	}

	// 5. Approval callback.
	if approval == nil {
		return skip("approval unavailable"), nil
	}
	resp, err := approval(ctx, toolName, arguments, toolCallID)
	if err != nil {
		return Decision{}, fmt.Errorf("permission: approval callback: %w", err)
	}
	if !resp.Approved {
		msg := resp.Message
		if msg == "" {
			msg = "denied by approval"
		}
		return skip(msg), nil
	}
	return proceed(), nil
}

// matchesAny reports whether value matches any pattern in patterns. Each
// pattern is one of: an exact string, a glob containing "*", or a regex
// when prefixed with "re:". Matching is case-insensitive and anchored
// (the whole value must match, not a substring).
func matchesAny(patterns []string, value string) bool {
	lowered := strings.ToLower(value)
	for _, p := range patterns {
		if matchOne(p, lowered) {
			return true
		}
	}
	return false
}

func matchOne(pattern, loweredValue string) bool {
	if pattern == "" {
		return false
	}
	if strings.HasPrefix(pattern, "re:") {
		re, err := compileAnchored(strings.TrimPrefix(pattern, "re:"))
		if err != nil {
			return false
		}
		return re.MatchString(loweredValue)
	}

	lowered := strings.ToLower(pattern)
	if !strings.Contains(lowered, "*") {
		return lowered == loweredValue
	}
	re, err := compileAnchored(globToRegex(lowered))
	if err != nil {
		return false
	}
	return re.MatchString(loweredValue)
}

func compileAnchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)^(?:" + pattern + ")$")
}

func globToRegex(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '.', '+', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
