package llm

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEngine talks to any OpenAI-compatible chat-completions endpoint
// (OpenRouter in production) using the native tools API.
type OpenAIEngine struct {
	client *openai.Client
	model  string
}

// NewOpenAIEngine builds an engine against baseURL (e.g.
// "https://openrouter.ai/api/v1") with the given default model.
func NewOpenAIEngine(apiKey, baseURL, model string) *OpenAIEngine {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIEngine{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (e *OpenAIEngine) buildRequest(req Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = e.model
	}
	out := openai.ChatCompletionRequest{Model: model}
	if req.System != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Args,
				},
			})
		}
		out.Messages = append(out.Messages, msg)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// Stream runs one generation call, emitting tokens as they arrive. Tool-call
// argument deltas are accumulated per index and emitted as complete calls
// once the provider closes the stream, so downstream consumers only ever see
// the call state, never partial-call.
func (e *OpenAIEngine) Stream(ctx context.Context, req Request, emit func(Event) error) error {
	apiReq := e.buildRequest(req)
	apiReq.Stream = true

	stream, err := e.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return classifyError(err)
	}
	defer stream.Close()

	// partial tool calls keyed by stream index
	pending := map[int]*ToolCall{}
	finishReason := string(openai.FinishReasonStop)
	var usage Usage

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return classifyError(err)
		}
		if resp.Usage != nil {
			usage = Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
		delta := choice.Delta
		if delta.Content != "" {
			if err := emit(Event{Type: EventToken, Token: delta.Content}); err != nil {
				return err
			}
		}
		if delta.ReasoningContent != "" {
			if err := emit(Event{Type: EventReasoning, Token: delta.ReasoningContent}); err != nil {
				return err
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pending[idx]
			if !ok {
				call = &ToolCall{}
				pending[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Args += tc.Function.Arguments
		}
	}

	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		if err := emit(Event{Type: EventToolCall, ToolCall: pending[idx]}); err != nil {
			return err
		}
	}
	return emit(Event{Type: EventFinish, FinishReason: finishReason, Usage: usage})
}

// Complete makes a simple single-turn chat completion request.
func (e *OpenAIEngine) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from LLM")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyError maps the provider's strict tool-call consistency rejection to
// ErrHistoryMalformed. OpenAI-compatible backends reject a history carrying a
// tool call without a matching result with a 400 naming the tool_call_id.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 400 {
		msg := strings.ToLower(apiErr.Message)
		if strings.Contains(msg, "tool_call_id") ||
			strings.Contains(msg, "tool call") ||
			strings.Contains(msg, "tool_calls") {
			return errors.Wrap(ErrHistoryMalformed, apiErr.Message)
		}
	}
	return err
}
