package store

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Chat represents a single conversation thread.
type Chat struct {
	ID        int32
	UID       string
	CreatorID int32
	Title     string
	Archived  bool
	CreatedTs int64
	UpdatedTs int64
}

// InvocationState tracks a tool call through its lifecycle. A call is created
// as partial-call while arguments stream in, becomes call once arguments are
// complete, and result once the tool finished executing.
type InvocationState string

const (
	InvocationPartialCall InvocationState = "partial-call"
	InvocationCall        InvocationState = "call"
	InvocationResult      InvocationState = "result"
)

// ToolInvocation is one model-initiated call to a tool, embedded in the
// owning assistant message. An invocation in state call with no result must
// never be replayed to the generation engine.
type ToolInvocation struct {
	ToolName string          `json:"toolName"`
	CallID   string          `json:"callId"`
	Args     json.RawMessage `json:"args,omitempty"`
	State    InvocationState `json:"state"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// Message is a single turn within a chat.
type Message struct {
	ID        int32
	UID       string
	ChatID    int32
	Role      string // "user" | "assistant" | "tool"
	Content   string
	Reasoning string
	// ToolInvocations is nil (not empty) when the message carries no tool
	// calls; the distinction matters when the history is replayed.
	ToolInvocations []ToolInvocation
	CreatedTs       int64
}

// FindChat filters for ListChats.
type FindChat struct {
	UID       *string
	CreatorID *int32
	Archived  *bool
}

// UpdateChat carries fields accepted by UpdateChat.
type UpdateChat struct {
	UID      string
	Title    *string
	Archived *bool
}

// FindMessage filters for ListMessages.
type FindMessage struct {
	ChatID int32
}

// CreateMessage is the payload for CreateMessage.
type CreateMessage struct {
	UID             string
	ChatID          int32
	Role            string
	Content         string
	Reasoning       string
	ToolInvocations []ToolInvocation
}

// MarshalInvocations serializes invocations for the tool_calls column.
// Shared by all drivers so the column format stays identical across them.
func MarshalInvocations(invocations []ToolInvocation) (string, error) {
	if len(invocations) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(invocations)
	if err != nil {
		return "", errors.Wrap(err, "marshal tool invocations")
	}
	return string(raw), nil
}

// UnmarshalInvocations is the inverse of MarshalInvocations. An empty column
// yields a nil slice.
func UnmarshalInvocations(raw string) ([]ToolInvocation, error) {
	if raw == "" {
		return nil, nil
	}
	var invocations []ToolInvocation
	if err := json.Unmarshal([]byte(raw), &invocations); err != nil {
		return nil, errors.Wrap(err, "unmarshal tool invocations")
	}
	return invocations, nil
}
