package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/nexuscore/agentcore/internal/convo"
	"github.com/nexuscore/agentcore/internal/llm/transport"
)

// AnthropicAdapter is the reasoning-content-aware adapter: it marshals
// requests using anthropic-sdk-go's param types (so tool/thinking wire
// shapes stay in lockstep with the vendor SDK) but streams the SSE
// response itself, surfacing "thinking" deltas as Chunk.Reasoning on a
// side channel distinct from Chunk.Text.
type AnthropicAdapter struct {
	apiKey       string
	baseURL      string
	defaultModel string
	t            *transport.Client
}

// AnthropicConfig configures an AnthropicAdapter.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string // default: https://api.anthropic.com
	DefaultModel string // default: claude-sonnet-4-20250514
	Transport    transport.Config
}

// NewAnthropicAdapter builds an AnthropicAdapter from cfg.
func NewAnthropicAdapter(cfg AnthropicConfig) *AnthropicAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	return &AnthropicAdapter{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		t:            transport.New(cfg.Transport),
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Models() []Model {
	return []Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextTokens: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextTokens: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextTokens: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextTokens: 200000, SupportsVision: true, SupportsTools: true},
	}
}

func (a *AnthropicAdapter) SupportsTools() bool { return true }

func (a *AnthropicAdapter) model(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.defaultModel
}

func (a *AnthropicAdapter) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	if a.apiKey == "" {
		return nil, errors.New("anthropic: API key not configured")
	}

	params, err := a.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	resp, err := a.t.Do(ctx, "anthropic.complete", transport.DefaultIsRetryable, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", a.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")
		return httpReq, nil
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	chunks := make(chan *Chunk)
	go a.streamResponse(resp, chunks)
	return chunks, nil
}

func (a *AnthropicAdapter) buildParams(req *Request) (*anthropic.MessageNewParams, error) {
	messages, err := a.convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := &anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model(req)),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		Stream:    anthropic.Bool(true),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := a.convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func (a *AnthropicAdapter) convertMessages(messages []convo.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == convo.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}

		if m.Role == convo.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		for _, tc := range m.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
				return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if m.Role == convo.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (a *AnthropicAdapter) convertTools(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

// anthropicStreamEvent mirrors the subset of Anthropic's SSE event shapes
// this adapter cares about; decoded per-frame rather than via the SDK's
// own ssestream reader so retries/backoff stay in Transport's hands.
type anthropicStreamEvent struct {
	Type         string `json:"type"`
	Message      struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

func (a *AnthropicAdapter) streamResponse(resp *http.Response, chunks chan<- *Chunk) {
	defer close(chunks)
	defer resp.Body.Close()

	var currentToolCall *convo.ToolCall
	var toolInput strings.Builder
	var inThinking bool
	var inputTokens, outputTokens int

	err := transport.DecodeSSE(resp.Body, func(_ string, data string) error {
		if data == "" {
			return nil
		}
		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("anthropic: decode stream event: %w", err)
		}

		switch ev.Type {
		case "message_start":
			if ev.Message.Usage.InputTokens > 0 {
				inputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_start":
			switch ev.ContentBlock.Type {
			case "thinking":
				inThinking = true
			case "tool_use":
				currentToolCall = &convo.ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
				toolInput.Reset()
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					chunks <- &Chunk{Text: ev.Delta.Text}
				}
			case "thinking_delta":
				if ev.Delta.Thinking != "" {
					chunks <- &Chunk{Reasoning: ev.Delta.Thinking}
				}
			case "input_json_delta":
				toolInput.WriteString(ev.Delta.PartialJSON)
			}
		case "content_block_stop":
			if inThinking {
				inThinking = false
				chunks <- &Chunk{ReasoningEnd: true}
			} else if currentToolCall != nil {
				currentToolCall.Arguments = toolInput.String()
				chunks <- &Chunk{ToolCall: currentToolCall}
				currentToolCall = nil
			}
		case "message_delta":
			if ev.Usage.OutputTokens > 0 {
				outputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			return errStopDecoding
		case "error":
			return fmt.Errorf("anthropic: stream error event")
		}
		return nil
	})

	if err != nil && !errors.Is(err, errStopDecoding) {
		chunks <- &Chunk{Err: fmt.Errorf("anthropic: %w", err), Done: true}
		return
	}
	chunks <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
}

func (a *AnthropicAdapter) CountTokens(req *Request) int {
	total := len(req.System) / 4
	for _, m := range req.Messages {
		total += len(m.Content) / 4
		for _, tc := range m.ToolCalls {
			total += (len(tc.Name) + len(tc.Arguments)) / 4
		}
	}
	for _, t := range req.Tools {
		total += (len(t.Name) + len(t.Description) + len(t.Schema)) / 4
	}
	return total
}
