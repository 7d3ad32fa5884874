package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/lithammer/shortuuid/v4"

	"github.com/chainchat/chainchat/plugin/llm"
	"github.com/chainchat/chainchat/server/quota"
)

// The completions surface mirrors the OpenAI chat-completion shape so
// existing clients can point at ChainChat unchanged. It runs the same agent
// loop as the chat surface but is stateless: nothing is persisted, the
// client owns its history.

type completionMessage struct {
	Role       string               `json:"role"`
	Content    string               `json:"content"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	ToolCalls  []completionToolCall `json:"tool_calls,omitempty"`
}

type completionToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	// Group selects the tool group; a ChainChat extension field.
	Group string `json:"group"`
}

type completionChoice struct {
	Index        int                `json:"index"`
	Message      *completionMessage `json:"message,omitempty"`
	Delta        *completionMessage `json:"delta,omitempty"`
	FinishReason *string            `json:"finish_reason"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   *completionUsage   `json:"usage,omitempty"`
}

type completionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (s *APIV1Service) registerCompletionRoutes(e *echo.Echo) {
	e.POST("/v1/chat/completions", s.handleCompletion)
}

func (s *APIV1Service) handleCompletion(c *echo.Context) error {
	user, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	if err := s.Ledger.CheckAndAdmit(c.Request().Context(), user.ID); err != nil {
		return echo.NewHTTPError(http.StatusForbidden, quota.UserMessage(err))
	}

	var req completionRequest
	if err := c.Bind(&req); err != nil || len(req.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "messages required")
	}

	group := s.Groups.Resolve(req.Group)
	history := sanitizeEngineHistory(toEngineHistory(req.Messages))

	completionID := "chatcmpl-" + shortuuid.New()
	created := time.Now().Unix()
	model := req.Model
	if model == "" {
		model = s.Profile.AIModel
	}

	run := &runner{engine: s.Engine, registry: s.Registry}

	if !req.Stream {
		outcome, err := run.run(c.Request().Context(), req.Model, group.SystemPrompt, history, group.Tools, func(streamEvent) {})
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		_ = s.Ledger.Decrement(c.Request().Context(), user.ID)
		finish := outcome.FinishReason
		return c.JSON(http.StatusOK, completionResponse{
			ID:      completionID,
			Object:  "chat.completion",
			Created: created,
			Model:   model,
			Choices: []completionChoice{{
				Message:      &completionMessage{Role: "assistant", Content: outcome.Content},
				FinishReason: &finish,
			}},
			Usage: &completionUsage{
				PromptTokens:     outcome.Usage.PromptTokens,
				CompletionTokens: outcome.Usage.CompletionTokens,
				TotalTokens:      outcome.Usage.TotalTokens,
			},
		})
	}

	// Streaming variant: incremental deltas in the chunk shape, terminated
	// by the [DONE] sentinel.
	rw := c.Response()
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)

	reqCtx := c.Request().Context()
	emitChunk := func(delta *completionMessage, finish *string) {
		if reqCtx.Err() != nil {
			return
		}
		data, _ := json.Marshal(completionResponse{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []completionChoice{{Delta: delta, FinishReason: finish}},
		})
		fmt.Fprintf(rw, "data: %s\n\n", data)
		if f, ok := rw.(http.Flusher); ok {
			f.Flush()
		}
	}

	outcome, err := run.run(reqCtx, req.Model, group.SystemPrompt, history, group.Tools, func(ev streamEvent) {
		if ev.Type == "token" {
			emitChunk(&completionMessage{Role: "assistant", Content: ev.Content}, nil)
		}
	})
	if err != nil {
		errText := err.Error()
		emitChunk(&completionMessage{Role: "assistant", Content: ""}, &errText)
	} else {
		_ = s.Ledger.Decrement(reqCtx, user.ID)
		emitChunk(&completionMessage{}, &outcome.FinishReason)
	}
	fmt.Fprint(rw, "data: [DONE]\n\n")
	if f, ok := rw.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func toEngineHistory(msgs []completionMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		msg := llm.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: tc.Function.Arguments,
			})
		}
		out = append(out, msg)
	}
	return out
}

// sanitizeEngineHistory enforces the call/result pairing invariant on a
// client-supplied history: assistant tool calls without a matching tool
// result are dropped, as are tool results that answer no declared call.
func sanitizeEngineHistory(msgs []llm.Message) []llm.Message {
	answered := map[string]bool{}
	for _, m := range msgs {
		if m.Role == "tool" && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}
	declared := map[string]bool{}
	var out []llm.Message
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			var kept []llm.ToolCall
			for _, tc := range m.ToolCalls {
				if answered[tc.ID] {
					kept = append(kept, tc)
					declared[tc.ID] = true
				}
			}
			m.ToolCalls = kept
			out = append(out, m)
		case "tool":
			if declared[m.ToolCallID] {
				out = append(out, m)
			}
		default:
			out = append(out, m)
		}
	}
	return out
}
