package service

import (
	"encoding/json"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

// pendingTeammateNote is the localised placeholder used when a teammate
// tellask call's child sub-dialog hasn't answered yet (§4.5).
const pendingTeammateNote = "PENDING: teammate response not yet available."

// ProjectForProvider is the §4.5 provider-context projection: a pure
// function from a dialog's message log to the []LLMMessage shape sent to a
// provider. Providers require strict tool_use/tool_result adjacency, so a
// teammate-tellask call always gets a synthetic result emitted right after
// it — either the child's actual reply (once tellaskResults has it) or the
// pending placeholder — never a raw dangling tool_use.
func ProjectForProvider(messages []entity.Message) []LLMMessage {
	toolName := make(map[string]string, len(messages))
	tellaskReply := make(map[string]string, len(messages))
	for _, m := range messages {
		switch m.Kind {
		case entity.KindFuncCall:
			toolName[m.CallID] = m.ToolName
		case entity.KindTellaskResult:
			tellaskReply[m.CallID] = m.Content
		}
	}

	projected := make([]LLMMessage, 0, len(messages))

	for _, m := range messages {
		switch m.Kind {
		case entity.KindUIOnlyMarkdown, entity.KindTellaskResult:
			continue

		case entity.KindPrompting, entity.KindEnvironment, entity.KindTransientGuide:
			projected = append(projected, LLMMessage{Role: "user", Content: m.Content})

		case entity.KindSaying, entity.KindThinking:
			projected = append(projected, LLMMessage{Role: "assistant", Content: m.Content})

		case entity.KindFuncCall:
			var args map[string]interface{}
			_ = json.Unmarshal([]byte(m.Arguments), &args)
			projected = append(projected, LLMMessage{
				Role:      "assistant",
				ToolCalls: []entity.ToolCallInfo{{ID: m.CallID, Name: m.ToolName, Arguments: args}},
			})
			if entity.IsTeammateCallName(m.ToolName) {
				content, answered := tellaskReply[m.CallID]
				if !answered {
					content = pendingTeammateNote
				}
				projected = append(projected, LLMMessage{Role: "tool", Content: content, ToolCallID: m.CallID, Name: m.ToolName})
			}

		case entity.KindFuncResult:
			if entity.IsTeammateCallName(toolName[m.CallID]) {
				// A synthetic result was already (or will be) emitted at the
				// call site above; a stored func_result for a teammate name
				// is redundant with it.
				continue
			}
			projected = append(projected, LLMMessage{Role: "tool", Content: m.Content, ToolCallID: m.CallID})
		}
	}

	return projected
}
