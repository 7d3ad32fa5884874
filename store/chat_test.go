package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInvocationColumnCodec(t *testing.T) {
	invocations := []ToolInvocation{
		{
			ToolName: "web_search",
			CallID:   "c1",
			Args:     json.RawMessage(`{"query":"eth"}`),
			State:    InvocationResult,
			Result:   json.RawMessage(`"three results"`),
		},
		{
			ToolName: "token_market",
			CallID:   "c2",
			Args:     json.RawMessage(`{}`),
			State:    InvocationCall,
		},
	}

	raw, err := MarshalInvocations(invocations)
	require.NoError(t, err)

	back, err := UnmarshalInvocations(raw)
	require.NoError(t, err)
	require.Equal(t, invocations, back)
}

func TestInvocationColumnCodecEmpty(t *testing.T) {
	raw, err := MarshalInvocations(nil)
	require.NoError(t, err)
	require.Empty(t, raw)

	// An empty column yields nil, never an empty slice: replayed histories
	// must not carry an empty-but-present invocation list.
	back, err := UnmarshalInvocations("")
	require.NoError(t, err)
	require.Nil(t, back)
}

func TestUnmarshalInvocationsRejectsGarbage(t *testing.T) {
	_, err := UnmarshalInvocations("{not json")
	require.Error(t, err)
}
