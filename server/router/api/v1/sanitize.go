package v1

import "github.com/chainchat/chainchat/store"

// sanitizePolicy selects how a history carrying unresolved tool calls is
// repaired before being replayed to the generation engine.
type sanitizePolicy int

const (
	// sanitizeLenient drops orphaned call-state invocations but keeps the
	// owning message and everything else it salvaged. The default.
	sanitizeLenient sanitizePolicy = iota
	// sanitizeStrict drops the entire assistant message when it carries any
	// unresolved call-state invocation.
	sanitizeStrict
)

// sanitizeHistory repairs a message history so that no tool invocation in
// state call without a result survives. A crashed process, a dropped
// connection, or a client disconnect can leave such orphans behind, and the
// generation engine hard-rejects any history containing one.
//
// The input is never mutated; messages that need repair are shallow-copied.
// When an invocation list empties it becomes nil rather than an empty slice:
// some engines treat an empty-but-present list differently from an absent
// one. Sanitizing an already-clean history returns it element for element.
func sanitizeHistory(msgs []*store.Message, policy sanitizePolicy) []*store.Message {
	out := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		if len(m.ToolInvocations) == 0 {
			out = append(out, m)
			continue
		}

		kept := make([]store.ToolInvocation, 0, len(m.ToolInvocations))
		for _, inv := range m.ToolInvocations {
			if inv.State == store.InvocationCall {
				continue
			}
			kept = append(kept, inv)
		}

		if len(kept) == len(m.ToolInvocations) {
			out = append(out, m)
			continue
		}
		if policy == sanitizeStrict {
			// The message carried at least one orphan: drop it wholesale.
			continue
		}

		repaired := *m
		if len(kept) == 0 {
			repaired.ToolInvocations = nil
		} else {
			repaired.ToolInvocations = kept
		}
		out = append(out, &repaired)
	}
	return out
}

func (s *APIV1Service) sanitizePolicy() sanitizePolicy {
	if s.Profile.StrictSanitize {
		return sanitizeStrict
	}
	return sanitizeLenient
}
