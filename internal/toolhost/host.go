// Package toolhost implements the Tool Host: registration, JSON-Schema
// validation, and concurrency-bounded execution of tools, whether native
// Go implementations or proxied through an MCP server.
package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool name/argument size limits, matching the teacher's resource-exhaustion
// guards in internal/agent/tool_registry.go.
const (
	MaxToolNameLength  = 256
	MaxToolParamsBytes = 10 << 20
)

// Result is a tool's output, returned to the Agent Loop for persistence as
// a single role=tool Message.
type Result struct {
	Content   string
	IsError   bool
	Truncated bool
}

// Handler executes a tool's body given its decoded-and-validated argument
// JSON.
type Handler func(ctx context.Context, args json.RawMessage) (*Result, error)

// localToolNamePattern is the format a compiled-in tool's name must match.
var localToolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// compositeToolNamePattern bounds names built by proxying a remote server's
// tools ("{server}_{tool}"): both halves come from config/server data rather
// than Go identifiers, so hyphens are allowed but nothing that could carry
// injection or path-traversal content through as a tool name.
var compositeToolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Origin records whether a Definition names a compiled-in tool or a proxied
// remote one, since the two have different name-format rules (spec §4.4(1)).
type Origin int

const (
	// Local is a compiled-in tool; OriginLocal is the zero value so existing
	// callers that don't set Origin still get local-format validation.
	OriginLocal Origin = iota
	// OriginRemote is a tool proxied from a remote MCP server.
	OriginRemote
)

// Definition registers one tool with the Host.
type Definition struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     Handler

	// Origin selects which name-format rule Register applies to Name.
	Origin Origin

	// SideEffectFree opts this tool into the Agent Loop's parallel
	// execution path when multiple calls of this kind appear in the same
	// turn; default is sequential (spec Open Question 1).
	SideEffectFree bool

	// Async marks a tool as suitable for background execution. The Agent
	// Loop does not read it: every call runs inline within the turn.
	Async bool

	// Timeout/MaxAttempts/RetryBackoff override the Host's Executor
	// defaults for this tool only, grounded on the teacher's per-tool
	// ToolExecConfig overrides. Zero means "use Host defaults".
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// compiledTool pairs a Definition with its parsed JSON Schema validator, if
// it has one.
type compiledTool struct {
	def    Definition
	schema *jsonschema.Schema
}

// Host is the Tool Host: a registry of Definitions plus the Executor that
// validates arguments and runs them.
type Host struct {
	mu    sync.RWMutex
	tools map[string]*compiledTool
	exec  *Executor
	guard ResultGuard
}

// New constructs an empty Host with the given Executor configuration.
func New(execCfg ExecConfig) *Host {
	h := &Host{tools: make(map[string]*compiledTool)}
	h.exec = NewExecutor(h, execCfg)
	return h
}

// SetResultGuard installs a ResultGuard applied to every tool result
// before it is handed back to the Agent Loop for persistence.
func (h *Host) SetResultGuard(g ResultGuard) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.guard = g
}

// Register validates def.Name's format and uniqueness, compiles def.Schema
// (if present), and adds the tool to the Host. It returns an error rather
// than overwriting when def.Name is already registered, so two MCP servers
// (or a local tool and an MCP tool) that happen to produce the same
// composite name fail loudly instead of silently clobbering each other.
func (h *Host) Register(def Definition) error {
	if err := validateToolName(def.Name, def.Origin); err != nil {
		return fmt.Errorf("toolhost: %w", err)
	}

	entry := &compiledTool{def: def}
	if len(def.Schema) > 0 {
		compiler := jsonschema.NewCompiler()
		resourceURL := "agentcore://tool-schema/" + def.Name
		if err := compiler.AddResource(resourceURL, bytes.NewReader(def.Schema)); err != nil {
			return fmt.Errorf("toolhost: compile schema for %q: %w", def.Name, err)
		}
		schema, err := compiler.Compile(resourceURL)
		if err != nil {
			return fmt.Errorf("toolhost: compile schema for %q: %w", def.Name, err)
		}
		entry.schema = schema
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.tools[def.Name]; exists {
		return fmt.Errorf("toolhost: tool %q already registered", def.Name)
	}
	h.tools[def.Name] = entry
	return nil
}

// validateToolName checks name against the format spec §4.4(1) requires for
// its origin.
func validateToolName(name string, origin Origin) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name %q exceeds %d bytes", name, MaxToolNameLength)
	}
	switch origin {
	case OriginRemote:
		if !compositeToolNamePattern.MatchString(name) {
			return fmt.Errorf("remote tool name %q must match %s", name, compositeToolNamePattern)
		}
	default:
		if !localToolNamePattern.MatchString(name) {
			return fmt.Errorf("local tool name %q must match %s", name, localToolNamePattern)
		}
	}
	return nil
}

// Unregister removes a tool by name.
func (h *Host) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tools, name)
}

// Get returns the Definition registered under name.
func (h *Host) Get(name string) (Definition, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.tools[name]
	if !ok {
		return Definition{}, false
	}
	return entry.def, true
}

// List returns every registered Definition, for building the provider
// Adapter's ToolSpec list.
func (h *Host) List() []Definition {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Definition, 0, len(h.tools))
	for _, entry := range h.tools {
		out = append(out, entry.def)
	}
	return out
}

// Validate decodes and validates args against name's schema, if any.
func (h *Host) Validate(name string, args json.RawMessage) error {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("toolhost: tool not found: %s", name)
	}
	if entry.schema == nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("toolhost: invalid argument JSON for %s: %w", name, err)
	}
	if err := entry.schema.Validate(decoded); err != nil {
		return fmt.Errorf("toolhost: argument validation failed for %s: %w", name, err)
	}
	return nil
}

// Executor returns the Host's Executor for the Agent Loop to drive.
func (h *Host) Executor() *Executor { return h.exec }
