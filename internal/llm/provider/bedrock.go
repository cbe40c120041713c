package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/nexuscore/agentcore/internal/convo"
)

// BedrockAdapter is the third wire dialect: AWS Bedrock's Converse API.
// Unlike OpenAIAdapter/AnthropicAdapter it does not decode raw SSE -
// bedrockruntime's ConverseStream already returns a typed Go event
// channel - and it retries ConverseStream with its own loop (MaxRetries,
// RetryDelay) rather than through transport.Client.
type BedrockAdapter struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// BedrockAdapterConfig configures a BedrockAdapter.
type BedrockAdapterConfig struct {
	Region       string // default: us-east-1
	DefaultModel string // default: anthropic.claude-3-sonnet-20240229-v1:0
	MaxRetries   int    // default: 3
	RetryDelay   time.Duration
}

// NewBedrockAdapter loads AWS credentials from the default chain and
// constructs a BedrockAdapter.
func NewBedrockAdapter(ctx context.Context, cfg BedrockAdapterConfig) (*BedrockAdapter, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &BedrockAdapter{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (a *BedrockAdapter) Name() string { return "bedrock" }

func (a *BedrockAdapter) Models() []Model {
	return []Model{
		{ID: "anthropic.claude-3-sonnet-20240229-v1:0", Name: "Claude 3 Sonnet (Bedrock)", ContextTokens: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextTokens: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "amazon.titan-text-express-v1", Name: "Titan Text Express", ContextTokens: 8192, SupportsTools: false},
		{ID: "meta.llama3-70b-instruct-v1:0", Name: "Llama 3 70B (Bedrock)", ContextTokens: 8192, SupportsTools: false},
	}
}

func (a *BedrockAdapter) SupportsTools() bool { return true }

func (a *BedrockAdapter) model(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.defaultModel
}

func (a *BedrockAdapter) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	if a.client == nil {
		return nil, errors.New("bedrock: client not initialized")
	}

	messages, err := a.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}

	in := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(a.model(req)),
		Messages: messages,
	}
	if req.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		in.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	if len(req.Tools) > 0 {
		in.ToolConfig = a.convertTools(req.Tools)
	}

	var out *bedrockruntime.ConverseStreamOutput
	retryable := func(err error) bool {
		msg := strings.ToLower(err.Error())
		for _, s := range []string{"throttling", "toomanyrequests", "serviceunavailable", "timeout", "500", "502", "503", "504"} {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}

	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		out, err = a.client.ConverseStream(ctx, in)
		if err == nil {
			break
		}
		if !retryable(err) || attempt == a.maxRetries {
			return nil, fmt.Errorf("bedrock: converse stream: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.retryDelay * time.Duration(attempt)):
		}
	}

	chunks := make(chan *Chunk)
	go a.processStream(ctx, out, chunks)
	return chunks, nil
}

func (a *BedrockAdapter) processStream(ctx context.Context, out *bedrockruntime.ConverseStreamOutput, chunks chan<- *Chunk) {
	defer close(chunks)
	stream := out.GetStream()
	defer stream.Close()

	var currentToolCall *convo.ToolCall
	var toolInput strings.Builder

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			chunks <- &Chunk{Err: ctx.Err(), Done: true}
			return
		case event, ok := <-events:
			if !ok {
				if err := stream.Err(); err != nil {
					chunks <- &Chunk{Err: fmt.Errorf("bedrock: %w", err), Done: true}
				} else {
					chunks <- &Chunk{Done: true}
				}
				return
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &convo.ToolCall{ID: aws.ToString(toolUse.Value.ToolUseId), Name: aws.ToString(toolUse.Value.Name)}
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						chunks <- &Chunk{Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentToolCall != nil {
					currentToolCall.Arguments = toolInput.String()
					chunks <- &Chunk{ToolCall: currentToolCall}
					currentToolCall = nil
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				chunks <- &Chunk{Done: true}
				return
			}
		}
	}
}

func (a *BedrockAdapter) convertMessages(messages []convo.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == convo.RoleSystem {
			continue
		}

		var content []types.ContentBlock
		if m.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: m.Content})
		}

		if m.Role == convo.RoleTool {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
				},
			})
			result = append(result, types.Message{Role: types.ConversationRoleUser, Content: content})
			continue
		}

		for _, tc := range m.ToolCalls {
			var inputDoc any
			if err := json.Unmarshal([]byte(tc.Arguments), &inputDoc); err != nil {
				inputDoc = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}

		role := types.ConversationRoleUser
		if m.Role == convo.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		if len(content) > 0 {
			result = append(result, types.Message{Role: role, Content: content})
		}
	}
	return result, nil
}

func (a *BedrockAdapter) convertTools(tools []ToolSpec) *types.ToolConfiguration {
	specs := make([]types.Tool, 0, len(tools))
	for _, tool := range tools {
		var doc any
		_ = json.Unmarshal(tool.Schema, &doc)
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(doc)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}
}

func (a *BedrockAdapter) CountTokens(req *Request) int {
	total := len(req.System) / 4
	for _, m := range req.Messages {
		total += len(m.Content) / 4
	}
	return total
}
