package entity

// ToolCallInfo is a provider-facing tool call, used on the wire between the
// LLM client adapters and the service layer before it is projected into a
// func_call_msg by the Tool Round Executor (C5).
type ToolCallInfo struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}
