// Package llm wraps the text-generation engine behind a small interface the
// orchestrator can drive event by event. The engine is an opaque capability:
// given a system prompt, a message history and a tool set it produces tokens
// and tool-call requests; it never executes tools itself.
package llm

import (
	"context"

	"github.com/pkg/errors"
)

// ErrHistoryMalformed is returned when the provider rejects a request because
// the message history contains a tool call without a matching result. The
// orchestrator retries exactly once with a reduced history on this error; any
// other failure is surfaced as-is.
var ErrHistoryMalformed = errors.New("llm: history contains unresolved tool call")

// Message is one turn as presented to the engine.
type Message struct {
	Role       string // "system" | "user" | "assistant" | "tool"
	Content    string
	Reasoning  string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool messages only
}

// ToolCall is a complete model-requested invocation: the arguments have
// finished streaming.
type ToolCall struct {
	ID   string
	Name string
	Args string // raw JSON
}

// ToolDefinition is the schema advertised to the engine for one tool.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// Request is one generation call.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

type EventType string

const (
	EventToken     EventType = "token"
	EventReasoning EventType = "reasoning"
	EventToolCall  EventType = "tool-call"
	EventFinish    EventType = "finish"
)

// Usage mirrors the provider's token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Event is one discrete engine output. Token and Reasoning carry incremental
// text; ToolCall carries a fully-accumulated call; Finish closes the stream.
type Event struct {
	Type         EventType
	Token        string
	ToolCall     *ToolCall
	FinishReason string
	Usage        Usage
}

// Engine is the streaming generation capability. Stream invokes emit for each
// event in generation order; an error from emit aborts the stream.
type Engine interface {
	Stream(ctx context.Context, req Request, emit func(Event) error) error
	Complete(ctx context.Context, prompt string) (string, error)
}

// Completer is the single-turn subset used by the endpoint resolver and the
// auto-title helper.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
