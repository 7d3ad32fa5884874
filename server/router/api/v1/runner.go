package v1

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/chainchat/chainchat/plugin/llm"
	"github.com/chainchat/chainchat/plugin/tools"
	"github.com/chainchat/chainchat/store"
)

// maxToolSteps caps the number of sequential tool-use rounds within one turn
// to bound latency and cost.
const maxToolSteps = 5

// streamEvent is one unit pushed to the caller while a turn runs.
type streamEvent struct {
	Type       string // "token" | "reasoning" | "tool_call" | "tool_result"
	Content    string
	ToolName   string
	CallID     string
	ToolInput  string
	ToolOutput string
}

// turnOutcome is what a completed run leaves behind for persistence.
type turnOutcome struct {
	Content      string
	Reasoning    string
	Invocations  []store.ToolInvocation // all in state result
	FinishReason string
	Usage        llm.Usage
	Retried      bool
}

// runner drives the generate / invoke tool / resume loop against the engine.
// It is deliberately free of HTTP concerns so the retry policy is testable on
// its own.
type runner struct {
	engine   llm.Engine
	registry *tools.Registry
}

// run executes one turn. history must already be sanitized; its last element
// is the current user message. sink receives events in generation order and
// may return an error to abort streaming (generation still finishes for the
// caller to persist).
//
// If the engine rejects the history because of an unresolved tool invocation,
// the turn is retried exactly once with the history reduced to the current
// user message. Any other engine error aborts the turn.
func (r *runner) run(
	ctx context.Context,
	model, system string,
	history []llm.Message,
	toolNames []string,
	sink func(streamEvent),
) (*turnOutcome, error) {
	outcome, err := r.runOnce(ctx, model, system, history, toolNames, sink)
	if err == nil || !errors.Is(err, llm.ErrHistoryMalformed) {
		return outcome, err
	}

	reduced := reduceToLastUserMessage(history)
	if len(reduced) == 0 {
		return nil, err
	}
	slog.Warn("engine rejected history, retrying with reduced context", "err", err)
	outcome, err = r.runOnce(ctx, model, system, reduced, toolNames, sink)
	if outcome != nil {
		outcome.Retried = true
	}
	return outcome, err
}

func (r *runner) runOnce(
	ctx context.Context,
	model, system string,
	history []llm.Message,
	toolNames []string,
	sink func(streamEvent),
) (*turnOutcome, error) {
	working := append([]llm.Message{}, history...)
	defs := r.registry.Definitions(toolNames)
	outcome := &turnOutcome{FinishReason: "stop"}

	for step := 0; step < maxToolSteps; step++ {
		var content, reasoning strings.Builder
		var calls []llm.ToolCall

		err := r.engine.Stream(ctx, llm.Request{
			Model:    model,
			System:   system,
			Messages: working,
			Tools:    defs,
		}, func(ev llm.Event) error {
			switch ev.Type {
			case llm.EventToken:
				content.WriteString(ev.Token)
				sink(streamEvent{Type: "token", Content: ev.Token})
			case llm.EventReasoning:
				reasoning.WriteString(ev.Token)
				sink(streamEvent{Type: "reasoning", Content: ev.Token})
			case llm.EventToolCall:
				calls = append(calls, *ev.ToolCall)
			case llm.EventFinish:
				outcome.FinishReason = ev.FinishReason
				outcome.Usage = ev.Usage
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		outcome.Content += content.String()
		outcome.Reasoning += reasoning.String()

		// No tool calls means the model produced its final answer.
		if len(calls) == 0 {
			return outcome, nil
		}

		assistant := llm.Message{Role: "assistant", Content: content.String(), ToolCalls: calls}
		working = append(working, assistant)

		// Some models repeat the same call id within one response; execute
		// each id once.
		seen := map[string]bool{}
		for _, call := range calls {
			if seen[call.ID] {
				continue
			}
			seen[call.ID] = true

			sink(streamEvent{Type: "tool_call", ToolName: call.Name, CallID: call.ID, ToolInput: call.Args})
			result := r.executeTool(ctx, call)
			sink(streamEvent{Type: "tool_result", ToolName: call.Name, CallID: call.ID, ToolOutput: result})

			working = append(working, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
			outcome.Invocations = append(outcome.Invocations, store.ToolInvocation{
				ToolName: call.Name,
				CallID:   call.ID,
				Args:     json.RawMessage(call.Args),
				State:    store.InvocationResult,
				Result:   marshalResult(result),
			})
		}
	}

	outcome.FinishReason = "length"
	return outcome, nil
}

// executeTool runs one call. Failures are isolated to the call: the error
// text becomes the tool result so the model can adapt, and the turn goes on.
func (r *runner) executeTool(ctx context.Context, call llm.ToolCall) string {
	tool, ok := r.registry.Get(call.Name)
	if !ok {
		return "Unknown tool: " + call.Name
	}
	result, err := tool.Call(ctx, call.Args)
	if err != nil {
		slog.Warn("tool execution failed", "tool", call.Name, "err", err)
		return "Error: " + err.Error()
	}
	slog.Info("[AGENT TOOL RESULT]", "tool", call.Name, "result", truncateForLog(result))
	return result
}

// reduceToLastUserMessage keeps only the trailing user message, the fallback
// context for the single malformed-history retry.
func reduceToLastUserMessage(history []llm.Message) []llm.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return []llm.Message{history[i]}
		}
	}
	return nil
}

func marshalResult(result string) json.RawMessage {
	raw, err := json.Marshal(result)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return raw
}

func truncateForLog(s string) string {
	if len(s) > 500 {
		return s[:500] + "..."
	}
	return s
}
