package service

import (
	"context"
	"strings"

	"github.com/dialogkernel/driver/internal/domain/entity"
	domaintool "github.com/dialogkernel/driver/internal/domain/tool"
)

// LLMClient is the interface the Drive Loop uses to communicate with
// language models. It decouples the loop from specific provider wiring.
type LLMClient interface {
	// Generate sends a prompt with tool definitions and history, returning a full response.
	Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error)

	// GenerateStream sends a prompt and streams back partial responses.
	// The channel is closed when the stream ends. The caller must drain it.
	// Returns the final accumulated LLMResponse after the channel is closed.
	GenerateStream(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error)
}

// StreamChunk represents a single delta from a streaming LLM response.
type StreamChunk struct {
	DeltaText     string              // Incremental text content
	DeltaToolCall *entity.ToolCallInfo // Incremental tool call (may arrive in fragments)
	FinishReason  string              // "stop", "tool_calls", "" (not yet finished)
}

// LLMRequest is the request sent to the language model.
type LLMRequest struct {
	Messages    []LLMMessage            `json:"messages"`
	Tools       []domaintool.Definition `json:"tools,omitempty"`
	Model       string                  `json:"model"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Temperature float64                 `json:"temperature"`
}

// LLMMessage represents a single message in the provider-facing conversation
// projection — the wire shape the Drive Loop hands to an LLMClient, distinct
// from the persisted entity.Message log (see ProjectForProvider).
type LLMMessage struct {
	Role       string                `json:"role"` // "system", "user", "assistant", "tool"
	Content    string                `json:"content"`
	Parts      []ContentPart         `json:"parts,omitempty"` // Multimodal content (takes precedence over Content)
	ToolCalls  []entity.ToolCallInfo `json:"tool_calls,omitempty"`
	ToolCallID string                `json:"tool_call_id,omitempty"`
	Name       string                `json:"name,omitempty"`
}

// ContentPart represents a multimodal content fragment.
type ContentPart struct {
	Type     string `json:"type"`                // "text", "image", "audio", "file"
	Text     string `json:"text,omitempty"`      // Content when Type="text"
	MediaURL string `json:"media_url,omitempty"` // URL when Type="image"/"audio"/"file"
	MimeType string `json:"mime_type,omitempty"` // e.g. "image/png"
	Data     []byte `json:"data,omitempty"`      // Inline binary data (optional)
}

// TextContent returns all text content, joining text parts or falling back to Content.
func (m *LLMMessage) TextContent() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) == 0 {
		return m.Content
	}
	return strings.Join(texts, "\n")
}

// HasMedia returns true if the message contains non-text content.
func (m *LLMMessage) HasMedia() bool {
	for _, p := range m.Parts {
		if p.Type != "text" {
			return true
		}
	}
	return false
}

// LLMResponse is the response from the language model.
type LLMResponse struct {
	Content    string                `json:"content"`
	ToolCalls  []entity.ToolCallInfo `json:"tool_calls,omitempty"`
	ModelUsed  string                `json:"model_used"`
	TokensUsed int                   `json:"tokens_used"`
}

// AgentResult is the final result surfaced to AgentHook.OnComplete observers.
type AgentResult struct {
	FinalContent string
	TotalSteps   int
	TotalTokens  int
	ModelUsed    string
	ToolsUsed    []string
}
