package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexuscore/agentcore/internal/convo"
	"github.com/nexuscore/agentcore/internal/llm/transport"
)

// OpenAIAdapter is the OpenAI-compatible baseline adapter: it builds wire
// requests using go-openai's types (so any OpenAI-compatible server that
// accepts the same JSON shape works, not just api.openai.com) but streams
// the SSE response itself through transport.DecodeSSE rather than the
// go-openai client's own HTTP stack, so retries/rate-limiting/tracing go
// through the shared Transport.
type OpenAIAdapter struct {
	apiKey       string
	baseURL      string
	defaultModel string
	t            *transport.Client
}

// OpenAIConfig configures an OpenAIAdapter.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // default: https://api.openai.com/v1
	DefaultModel string // default: gpt-4o
	Transport    transport.Config
}

// NewOpenAIAdapter builds an OpenAIAdapter from cfg.
func NewOpenAIAdapter(cfg OpenAIConfig) *OpenAIAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	return &OpenAIAdapter{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		t:            transport.New(cfg.Transport),
	}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) Models() []Model {
	return []Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextTokens: 128000, SupportsVision: true, SupportsTools: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextTokens: 128000, SupportsVision: true, SupportsTools: true},
		{ID: "gpt-4", Name: "GPT-4", ContextTokens: 8192, SupportsVision: false, SupportsTools: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextTokens: 16385, SupportsVision: false, SupportsTools: true},
	}
}

func (a *OpenAIAdapter) SupportsTools() bool { return true }

func (a *OpenAIAdapter) model(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.defaultModel
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	if a.apiKey == "" {
		return nil, errors.New("openai: API key not configured")
	}

	body, err := a.buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	resp, err := a.t.Do(ctx, "openai.complete", transport.DefaultIsRetryable, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
		return httpReq, nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	chunks := make(chan *Chunk)
	go a.streamResponse(resp, chunks)
	return chunks, nil
}

func (a *OpenAIAdapter) buildRequest(req *Request) ([]byte, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case convo.RoleTool:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		case convo.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			messages = append(messages, oaiMsg)
		default:
			messages = append(messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    a.model(req),
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = make([]openai.Tool, len(req.Tools))
		for i, tool := range req.Tools {
			var schema map[string]any
			if err := json.Unmarshal(tool.Schema, &schema); err != nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			chatReq.Tools[i] = openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  schema,
				},
			}
		}
	}

	return json.Marshal(chatReq)
}

func (a *OpenAIAdapter) streamResponse(resp *http.Response, chunks chan<- *Chunk) {
	defer close(chunks)
	defer resp.Body.Close()

	toolCalls := make(map[int]*convo.ToolCall)
	var inputTokens, outputTokens int

	err := transport.DecodeSSE(resp.Body, func(_ string, data string) error {
		if data == transport.DoneSentinel {
			return errStopDecoding
		}
		if data == "" {
			return nil
		}
		var sr openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(data), &sr); err != nil {
			return fmt.Errorf("openai: decode stream chunk: %w", err)
		}
		if sr.Usage != nil {
			inputTokens = sr.Usage.PromptTokens
			outputTokens = sr.Usage.CompletionTokens
		}
		if len(sr.Choices) == 0 {
			return nil
		}
		choice := sr.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- &Chunk{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			cur, ok := toolCalls[idx]
			if !ok {
				cur = &convo.ToolCall{}
				toolCalls[idx] = cur
			}
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				cur.Arguments += tc.Function.Arguments
			}
		}
		if choice.FinishReason == openai.FinishReasonToolCalls || choice.FinishReason == openai.FinishReasonFunctionCall {
			for _, tc := range toolCalls {
				if tc.ID != "" && tc.Name != "" {
					chunks <- &Chunk{ToolCall: tc}
				}
			}
			toolCalls = make(map[int]*convo.ToolCall)
		}
		return nil
	})

	if err != nil && !errors.Is(err, errStopDecoding) {
		chunks <- &Chunk{Err: fmt.Errorf("openai: %w", err), Done: true}
		return
	}
	chunks <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
}

var errStopDecoding = errors.New("provider: stop decoding (DONE sentinel)")

func (a *OpenAIAdapter) CountTokens(req *Request) int {
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
