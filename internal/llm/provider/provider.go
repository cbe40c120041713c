// Package provider implements the Provider Adapter Registry: a neutral
// request/response model plus per-vendor Adapters that translate it to and
// from wire JSON, registered by name and selected per completion request.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nexuscore/agentcore/internal/convo"
)

// ToolSpec is the neutral shape an Adapter needs to offer a tool to a
// model: name, description, and JSON Schema for its arguments. The Tool
// Host supplies these; adapters never see tool implementations.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request is the neutral completion request every Adapter accepts.
type Request struct {
	Model                string
	System               string
	Messages             []convo.Message
	Tools                []ToolSpec
	MaxTokens            int
	EnableThinking       bool
	ThinkingBudgetTokens int
}

// Chunk is one piece of a streamed completion. Exactly one of Text,
// Reasoning, ToolCall, Error is meaningfully set per chunk; Done marks the
// final chunk of a stream (it may carry token usage alongside an error).
type Chunk struct {
	Text         string
	Reasoning    string
	ReasoningEnd bool
	ToolCall     *convo.ToolCall
	Done         bool
	Err          error
	InputTokens  int
	OutputTokens int
}

// Model describes one model an Adapter can serve.
type Model struct {
	ID             string
	Name           string
	ContextTokens  int
	SupportsVision bool
	SupportsTools  bool
}

// Adapter translates the neutral Request/Chunk model into a specific
// provider's wire dialect. Implementations must be safe for concurrent use;
// the Agent Loop may run several completions against the same Adapter at
// once across different sessions.
type Adapter interface {
	// Name is the registry key, e.g. "openai", "anthropic", "bedrock".
	Name() string
	// Models lists the models this adapter can serve.
	Models() []Model
	// SupportsTools reports whether this adapter can forward ToolSpecs.
	SupportsTools() bool
	// Complete streams a completion. The returned channel is closed after
	// a chunk with Done=true (or Err set) is sent, whichever comes first.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)
	// CountTokens estimates token usage for req without calling out to
	// the provider; used for pre-flight budget checks.
	CountTokens(req *Request) int
}

// Registry resolves a provider name to its Adapter. Construction-time
// wiring only: the Agent Loop never mutates a Registry after startup, but
// concurrent Lookups are still safe.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	byModel  map[string]string // model ID -> adapter name, last registration wins
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		byModel:  make(map[string]string),
	}
}

// Register adds or replaces an Adapter under its own Name().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	for _, m := range a.Models() {
		r.byModel[m.ID] = a.Name()
	}
}

// ErrUnknownProvider is returned by Lookup/Resolve for a name or model with
// no registered Adapter.
type ErrUnknownProvider struct{ Name string }

func (e *ErrUnknownProvider) Error() string {
	return fmt.Sprintf("provider: no adapter registered for %q", e.Name)
}

// Lookup returns the Adapter registered under the given provider name.
func (r *Registry) Lookup(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, &ErrUnknownProvider{Name: name}
	}
	return a, nil
}

// ResolveModel returns the Adapter that serves the given model ID, falling
// back to treating name as a provider name if no model matches.
func (r *Registry) ResolveModel(modelID string) (Adapter, error) {
	r.mu.RLock()
	providerName, ok := r.byModel[modelID]
	r.mu.RUnlock()
	if ok {
		return r.Lookup(providerName)
	}
	return r.Lookup(modelID)
}

// Names lists every registered provider name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}
