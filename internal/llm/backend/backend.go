// Package backend composes the Provider Adapter Registry and Transport
// into the single façade the Agent Loop talks to: pick an adapter for a
// request's model, stream a completion, estimate tokens ahead of sending.
package backend

import (
	"context"
	"fmt"

	"github.com/nexuscore/agentcore/internal/convo"
	"github.com/nexuscore/agentcore/internal/llm/provider"
)

// Backend is the LLM Backend module: Complete/CompleteStream/CountTokens
// over whichever Adapter the Registry resolves for a request's model.
type Backend struct {
	registry *provider.Registry
}

// New builds a Backend over an already-populated Registry.
func New(registry *provider.Registry) *Backend {
	return &Backend{registry: registry}
}

// CompleteStream resolves an Adapter for req.Model and streams the
// completion. The returned channel is exactly the Adapter's own channel;
// Backend does no buffering so text arrives to the Agent Loop as soon as
// the Adapter emits it.
func (b *Backend) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	adapter, err := b.registry.ResolveModel(req.Model)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	chunks, err := adapter.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", adapter.Name(), err)
	}
	return chunks, nil
}

// Complete drains CompleteStream into a single accumulated result. Useful
// for non-interactive callers (compaction summarization, tests) that don't
// need incremental chunks.
func (b *Backend) Complete(ctx context.Context, req *provider.Request) (*Result, error) {
	chunks, err := b.CompleteStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var res Result
	for chunk := range chunks {
		if chunk.Err != nil {
			return &res, fmt.Errorf("backend: stream error: %w", chunk.Err)
		}
		res.Text += chunk.Text
		res.Reasoning += chunk.Reasoning
		if chunk.ToolCall != nil {
			res.ToolCalls = append(res.ToolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			res.InputTokens = chunk.InputTokens
			res.OutputTokens = chunk.OutputTokens
		}
	}
	return &res, nil
}

// CountTokens estimates token usage for req without a network round-trip.
func (b *Backend) CountTokens(req *provider.Request) (int, error) {
	adapter, err := b.registry.ResolveModel(req.Model)
	if err != nil {
		return 0, fmt.Errorf("backend: %w", err)
	}
	return adapter.CountTokens(req), nil
}

// Result is the accumulated output of a fully-drained completion stream.
type Result struct {
	Text         string
	Reasoning    string
	ToolCalls    []convo.ToolCall
	InputTokens  int
	OutputTokens int
}
