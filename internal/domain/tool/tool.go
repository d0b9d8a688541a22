package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ArgsValidation controls how the Tool Round Executor (C5) validates a
// func_call_msg's arguments before invoking the tool (§6 tool contract).
type ArgsValidation string

const (
	ValidationStrict      ArgsValidation = "strict"
	ValidationPassthrough ArgsValidation = "passthrough"
)

// Kind classifies a tool's effect, driving permission-policy decisions.
type Kind string

const (
	KindRead        Kind = "read"
	KindEdit        Kind = "edit"
	KindExecute     Kind = "execute"
	KindDelete      Kind = "delete"
	KindSearch      Kind = "search"
	KindFetch       Kind = "fetch"
	KindThink       Kind = "think"
	KindCommunicate Kind = "communicate"
)

// MutatorKinds require user confirmation under AskMode policies.
var MutatorKinds = map[Kind]bool{
	KindEdit:    true,
	KindDelete:  true,
	KindExecute: true,
}

// SafeKinds are auto-allowed even under AskMode.
var SafeKinds = map[Kind]bool{
	KindRead:   true,
	KindSearch: true,
	KindThink:  true,
}

// Tool is the §6 tool contract: `{type:"func", name, description?,
// parameters:jsonSchema, argsValidation, call(dialog, caller, args)}`.
type Tool interface {
	Name() string
	Description() string
	Kind() Kind
	Schema() map[string]interface{}
	ArgsValidation() ArgsValidation
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result is a tool's execution outcome, projected into a func_result_msg by
// the Tool Round Executor.
type Result struct {
	Output   string
	Display  string
	Success  bool
	Metadata map[string]interface{}
	Error    string
}

// DisplayOrOutput returns Display if set, else Output.
func (r *Result) DisplayOrOutput() string {
	if r.Display != "" {
		return r.Display
	}
	return r.Output
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"output":   r.Output,
		"display":  r.Display,
		"success":  r.Success,
		"metadata": r.Metadata,
		"error":    r.Error,
	})
}

// Definition is a tool's model-facing schema.
type Definition struct {
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	Parameters     map[string]interface{} `json:"parameters"`
	ArgsValidation ArgsValidation         `json:"-"`
}

// Registry holds the tools known to a given drive.
type Registry interface {
	Register(tool Tool) error
	Unregister(name string) error
	Get(name string) (Tool, bool)
	List() []Definition
	Has(name string) bool
}

// InMemoryRegistry is the default Registry implementation.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{tools: make(map[string]Tool)}
}

func (r *InMemoryRegistry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.tools, name)
	return nil
}

func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.tools[name]
	return t, exists
}

func (r *InMemoryRegistry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:           t.Name(),
			Description:    t.Description(),
			Parameters:     t.Schema(),
			ArgsValidation: t.ArgsValidation(),
		})
	}
	return defs
}

func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// ProfileFreshBootsReasoning is the policy profile that mandates at least
// one tool call per generation — a model that settles for plain text under
// this profile has committed a post-generation violation (§4.4 "fbr_toolless").
const ProfileFreshBootsReasoning = "fresh_boots_reasoning"

// Policy is the effective tool policy computed by the Policy Guardrail (C4).
type Policy struct {
	Profile     string
	AllowList   []string
	DenyList    []string
	AskMode     bool
	MaxExecTime int
	// RequireToolCall forces RequiresToolCall to true regardless of Profile;
	// Profile == ProfileFreshBootsReasoning already implies it.
	RequireToolCall bool
}

// RequiresToolCall reports whether this policy mandates at least one tool
// call per generation.
func (p *Policy) RequiresToolCall() bool {
	return p.RequireToolCall || p.Profile == ProfileFreshBootsReasoning
}

func (p *Policy) IsAllowed(toolName string) bool {
	for _, denied := range p.DenyList {
		if denied == toolName {
			return false
		}
	}
	if len(p.AllowList) == 0 {
		return true
	}
	for _, allowed := range p.AllowList {
		if allowed == toolName {
			return true
		}
	}
	return false
}

func (p *Policy) NeedsConfirmation(kind Kind) bool {
	if !p.AskMode {
		return false
	}
	if SafeKinds[kind] {
		return false
	}
	return MutatorKinds[kind]
}

// PolicyEnforcer applies a Policy to a Registry's tool list.
type PolicyEnforcer struct {
	policy   *Policy
	registry Registry
}

func NewPolicyEnforcer(policy *Policy, registry Registry) *PolicyEnforcer {
	return &PolicyEnforcer{policy: policy, registry: registry}
}

func (e *PolicyEnforcer) FilteredList() []Definition {
	all := e.registry.List()
	filtered := make([]Definition, 0, len(all))
	for _, def := range all {
		if e.policy.IsAllowed(def.Name) {
			filtered = append(filtered, def)
		}
	}
	return filtered
}

func (e *PolicyEnforcer) CanExecute(toolName string) bool { return e.policy.IsAllowed(toolName) }
func (e *PolicyEnforcer) NeedsApproval() bool              { return e.policy.AskMode }
func (e *PolicyEnforcer) RequiresToolCall() bool           { return e.policy.RequiresToolCall() }
