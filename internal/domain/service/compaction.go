package service

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// compactMessages summarizes older messages to reduce context length.
// Preserves the system prompt (first message, if present) and the last
// keepLast messages; the middle section is replaced with a truncation
// summary message. Used by the Drive Loop when ContextGuard reports the
// hard ratio has been crossed.
func compactMessages(messages []LLMMessage, keepLast int, logger *zap.Logger) []LLMMessage {
	if keepLast <= 0 {
		keepLast = 10
	}
	if keepLast >= len(messages) {
		return messages
	}

	firstNonSystem := 0
	if len(messages) > 0 && messages[0].Role == "system" {
		firstNonSystem = 1
	}

	middleEnd := len(messages) - keepLast
	if middleEnd <= firstNonSystem {
		return messages
	}

	summary := truncationSummary(messages[firstNonSystem:middleEnd])

	compacted := make([]LLMMessage, 0, 2+keepLast)
	if firstNonSystem > 0 {
		compacted = append(compacted, messages[0])
	}
	compacted = append(compacted, LLMMessage{Role: "user", Content: summary})
	compacted = append(compacted, messages[len(messages)-keepLast:]...)

	logger.Info("context compaction applied",
		zap.Int("before", len(messages)),
		zap.Int("after", len(compacted)),
		zap.Int("compacted_messages", middleEnd-firstNonSystem),
	)

	return compacted
}

// truncationSummary builds a terse summary of a message run, counting
// roles and previewing assistant/user text so the compacted history still
// carries a trace of what happened in the dropped span.
func truncationSummary(messages []LLMMessage) string {
	var summaryParts []string
	toolCallCount := 0
	assistantMsgCount := 0
	userMsgCount := 0

	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			assistantMsgCount++
			if msg.Content != "" {
				text := msg.Content
				if len(text) > 200 {
					text = text[:200] + "..."
				}
				summaryParts = append(summaryParts, fmt.Sprintf("Assistant: %s", text))
			}
			toolCallCount += len(msg.ToolCalls)
		case "user":
			userMsgCount++
			text := msg.Content
			if len(text) > 100 {
				text = text[:100] + "..."
			}
			summaryParts = append(summaryParts, fmt.Sprintf("User: %s", text))
		case "tool":
			// Tool results are implicit from the tool calls that precede them.
		}
	}

	return fmt.Sprintf(
		"[Context compacted: %d messages summarized (%d user, %d assistant, %d tool calls)]\n\n%s",
		len(messages),
		userMsgCount,
		assistantMsgCount,
		toolCallCount,
		strings.Join(summaryParts, "\n"),
	)
}
