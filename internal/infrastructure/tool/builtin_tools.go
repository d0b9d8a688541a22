// Package tool provides the intrinsic tools the Policy Guardrail (C4)
// injects into every effective tool list, plus a couple of illustrative
// domain tools used in the kernel's own tests and examples.
package tool

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	domaintool "github.com/dialogkernel/driver/internal/domain/tool"
)

// EnvGetTool reads a key from an in-memory environment map. It grounds
// the "env_get" tool referenced by the simple tool-round scenario.
type EnvGetTool struct {
	mu  sync.RWMutex
	env map[string]string
}

func NewEnvGetTool(env map[string]string) *EnvGetTool {
	if env == nil {
		env = map[string]string{}
	}
	return &EnvGetTool{env: env}
}

func (t *EnvGetTool) Name() string        { return "env_get" }
func (t *EnvGetTool) Description() string  { return "Read the value of an environment key." }
func (t *EnvGetTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *EnvGetTool) ArgsValidation() domaintool.ArgsValidation {
	return domaintool.ValidationStrict
}

func (t *EnvGetTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{"type": "string", "description": "Environment key to read"},
		},
		"required": []string{"key"},
	}
}

func (t *EnvGetTool) Execute(_ context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return &domaintool.Result{Success: false, Error: "key is required"}, nil
	}
	t.mu.RLock()
	v, found := t.env[key]
	t.mu.RUnlock()
	if !found {
		return &domaintool.Result{Success: false, Error: fmt.Sprintf("key %q not set", key)}, nil
	}
	return &domaintool.Result{Output: v, Success: true}, nil
}

// reminderTool implements the add_reminder/delete_reminder/update_reminder
// intrinsic tools (§4.4) against a dialog-scoped reminder list.
type reminderTool struct {
	name   string
	verb   string
	store  *ReminderStore
}

// ReminderStore holds a dialog's reminder list, mutated by the intrinsic
// reminder CRUD tools. Callers must supply the same store instance to all
// three constructors below so they operate on shared state.
type ReminderStore struct {
	mu        sync.Mutex
	Reminders []string
}

func NewReminderStore() *ReminderStore { return &ReminderStore{} }

func NewAddReminderTool(store *ReminderStore) domaintool.Tool {
	return &reminderTool{name: "add_reminder", verb: "add", store: store}
}
func NewDeleteReminderTool(store *ReminderStore) domaintool.Tool {
	return &reminderTool{name: "delete_reminder", verb: "delete", store: store}
}
func NewUpdateReminderTool(store *ReminderStore) domaintool.Tool {
	return &reminderTool{name: "update_reminder", verb: "update", store: store}
}

func (t *reminderTool) Name() string        { return t.name }
func (t *reminderTool) Kind() domaintool.Kind { return domaintool.KindThink }
func (t *reminderTool) ArgsValidation() domaintool.ArgsValidation {
	return domaintool.ValidationStrict
}

func (t *reminderTool) Description() string {
	switch t.verb {
	case "add":
		return "Add a standing reminder that is re-surfaced on every future generation."
	case "delete":
		return "Delete a previously added reminder by its index."
	default:
		return "Replace a previously added reminder by its index."
	}
}

func (t *reminderTool) Schema() map[string]interface{} {
	props := map[string]interface{}{
		"text": map[string]interface{}{"type": "string", "description": "Reminder text"},
	}
	required := []string{"text"}
	if t.verb != "add" {
		props["index"] = map[string]interface{}{"type": "integer", "description": "Reminder index"}
		required = []string{"index"}
		if t.verb == "update" {
			required = []string{"index", "text"}
		}
	}
	return map[string]interface{}{"type": "object", "properties": props, "required": required}
}

func (t *reminderTool) Execute(_ context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	switch t.verb {
	case "add":
		text, _ := args["text"].(string)
		if text == "" {
			return &domaintool.Result{Success: false, Error: "text is required"}, nil
		}
		t.store.Reminders = append(t.store.Reminders, text)
		return &domaintool.Result{Output: "reminder added", Success: true}, nil
	case "delete":
		idx, ok := args["index"].(float64)
		if !ok || int(idx) < 0 || int(idx) >= len(t.store.Reminders) {
			return &domaintool.Result{Success: false, Error: "invalid index"}, nil
		}
		i := int(idx)
		t.store.Reminders = append(t.store.Reminders[:i], t.store.Reminders[i+1:]...)
		return &domaintool.Result{Output: "reminder deleted", Success: true}, nil
	default: // update
		idx, ok := args["index"].(float64)
		if !ok || int(idx) < 0 || int(idx) >= len(t.store.Reminders) {
			return &domaintool.Result{Success: false, Error: "invalid index"}, nil
		}
		text, _ := args["text"].(string)
		if text == "" {
			return &domaintool.Result{Success: false, Error: "text is required"}, nil
		}
		t.store.Reminders[int(idx)] = text
		return &domaintool.Result{Output: "reminder updated", Success: true}, nil
	}
}

// ClearMindTool implements the intrinsic "clear_mind" tool.
type ClearMindTool struct {
	store *ReminderStore
}

func NewClearMindTool(store *ReminderStore) *ClearMindTool { return &ClearMindTool{store: store} }

func (t *ClearMindTool) Name() string        { return "clear_mind" }
func (t *ClearMindTool) Description() string  { return "Clear all standing reminders for this dialog." }
func (t *ClearMindTool) Kind() domaintool.Kind { return domaintool.KindThink }
func (t *ClearMindTool) ArgsValidation() domaintool.ArgsValidation {
	return domaintool.ValidationPassthrough
}
func (t *ClearMindTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *ClearMindTool) Execute(_ context.Context, _ map[string]interface{}) (*domaintool.Result, error) {
	t.store.mu.Lock()
	t.store.Reminders = nil
	t.store.mu.Unlock()
	return &domaintool.Result{Output: "mind cleared", Success: true}, nil
}

// ShellExecTool runs a command through the host shell with a bounded
// timeout, gated by the Policy Guardrail behind the team's shellSpecialists
// roster entry (§4.4) rather than any per-call confirmation.
type ShellExecTool struct {
	workDir string
	timeout time.Duration
}

func NewShellExecTool(workDir string, timeout time.Duration) *ShellExecTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShellExecTool{workDir: workDir, timeout: timeout}
}

func (t *ShellExecTool) Name() string        { return "shell_exec" }
func (t *ShellExecTool) Description() string  { return "Run a shell command and return its combined stdout/stderr." }
func (t *ShellExecTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *ShellExecTool) ArgsValidation() domaintool.ArgsValidation {
	return domaintool.ValidationStrict
}

func (t *ShellExecTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "Shell command line to run"},
		},
		"required": []string{"command"},
	}
}

func (t *ShellExecTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return &domaintool.Result{Success: false, Error: "command is required"}, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	if t.workDir != "" {
		cmd.Dir = t.workDir
	}
	output, err := cmd.CombinedOutput()
	if execCtx.Err() == context.DeadlineExceeded {
		return &domaintool.Result{Success: false, Error: fmt.Sprintf("command timed out after %s", t.timeout)}, nil
	}
	if err != nil {
		return &domaintool.Result{Output: string(output), Success: false, Error: err.Error()}, nil
	}
	return &domaintool.Result{Output: string(output), Success: true}, nil
}
