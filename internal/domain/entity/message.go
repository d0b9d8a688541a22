package entity

import "time"

// MessageKind discriminates the tagged union of dialog log entries.
type MessageKind string

const (
	KindPrompting      MessageKind = "prompting_msg"
	KindSaying         MessageKind = "saying_msg"
	KindThinking       MessageKind = "thinking_msg"
	KindFuncCall       MessageKind = "func_call_msg"
	KindFuncResult     MessageKind = "func_result_msg"
	KindTellaskResult  MessageKind = "tellask_result_msg"
	KindEnvironment    MessageKind = "environment_msg"
	KindTransientGuide MessageKind = "transient_guide_msg"
	KindUIOnlyMarkdown MessageKind = "ui_only_markdown_msg"
)

// Role mirrors the provider-facing role a message plays in context projection.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the tagged sum type backing the dialog log. Only the fields
// relevant to Kind are populated; Kind is the discriminant and callers must
// switch on it rather than infer variant from field presence.
type Message struct {
	Kind      MessageKind
	Genseq    int64
	Role      Role
	CreatedAt time.Time

	// Text content, used by saying_msg, thinking_msg, prompting_msg,
	// environment_msg, transient_guide_msg, ui_only_markdown_msg.
	Content string

	// func_call_msg / func_result_msg / tellask_result_msg correlation id.
	CallID string

	// func_call_msg only.
	ToolName  string
	Arguments string // raw JSON

	// func_result_msg only: whether the tool call failed.
	IsError bool

	// tellask_result_msg only: which sub-dialog produced this reply.
	SourceSubdialogID string
}

// IsFuncCall reports whether m is a func_call_msg.
func (m Message) IsFuncCall() bool { return m.Kind == KindFuncCall }

// IsFuncResult reports whether m is a func_result_msg.
func (m Message) IsFuncResult() bool { return m.Kind == KindFuncResult }

// IsTeammateCall reports whether a func_call_msg invokes one of the
// intercepted teammate-tellask tool names.
func IsTeammateCallName(name string) bool {
	switch name {
	case "tellask", "tellaskSessionless", "tellaskBack":
		return true
	default:
		return false
	}
}

// NewPrompting constructs a prompting_msg (user turn).
func NewPrompting(genseq int64, content string) Message {
	return Message{Kind: KindPrompting, Role: RoleUser, Genseq: genseq, Content: content, CreatedAt: nowFn()}
}

// NewSaying constructs a saying_msg (assistant text reply).
func NewSaying(genseq int64, content string) Message {
	return Message{Kind: KindSaying, Role: RoleAssistant, Genseq: genseq, Content: content, CreatedAt: nowFn()}
}

// NewThinking constructs a thinking_msg (assistant reasoning trace).
func NewThinking(genseq int64, content string) Message {
	return Message{Kind: KindThinking, Role: RoleAssistant, Genseq: genseq, Content: content, CreatedAt: nowFn()}
}

// NewFuncCall constructs a func_call_msg.
func NewFuncCall(genseq int64, callID, name, argumentsJSON string) Message {
	return Message{
		Kind: KindFuncCall, Role: RoleAssistant, Genseq: genseq,
		CallID: callID, ToolName: name, Arguments: argumentsJSON, CreatedAt: nowFn(),
	}
}

// NewFuncResult constructs a func_result_msg paired to callID.
func NewFuncResult(genseq int64, callID, content string, isError bool) Message {
	return Message{
		Kind: KindFuncResult, Role: RoleTool, Genseq: genseq,
		CallID: callID, Content: content, IsError: isError, CreatedAt: nowFn(),
	}
}

// NewTellaskResult constructs a tellask_result_msg — the terminal reply from
// a teammate sub-dialog, rendered as its own bubble distinct from a tool result.
func NewTellaskResult(genseq int64, callID, subdialogID, content string) Message {
	return Message{
		Kind: KindTellaskResult, Genseq: genseq, CallID: callID,
		SourceSubdialogID: subdialogID, Content: content, CreatedAt: nowFn(),
	}
}

// NewTransientGuide constructs a transient_guide_msg (e.g. a reflection
// nudge injected by loop detection or caution remediation).
func NewTransientGuide(genseq int64, content string) Message {
	return Message{Kind: KindTransientGuide, Genseq: genseq, Content: content, CreatedAt: nowFn()}
}

// NewEnvironment constructs an environment_msg.
func NewEnvironment(genseq int64, content string) Message {
	return Message{Kind: KindEnvironment, Genseq: genseq, Content: content, CreatedAt: nowFn()}
}

var nowFn = func() time.Time { return time.Now() }
