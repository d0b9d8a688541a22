package service

import (
	"strings"

	"github.com/dialogkernel/driver/internal/domain/entity"
	domaintool "github.com/dialogkernel/driver/internal/domain/tool"
)

// PolicyGuardrail is C4 (§4.4): assembles the effective tool list and system
// prompt handed to the LLM, always including the intrinsic tools (reminders,
// clear_mind, Task-Doc recall, change_mind, teammate tellask variants),
// filtering denied and shell tools, and running a post-generation check so a
// policy violation is raised rather than silently executed.
type PolicyGuardrail struct {
	enforcer       *domaintool.PolicyEnforcer
	intrinsicNames map[string]bool
	shellToolNames map[string]bool
}

// NewPolicyGuardrail builds a guardrail from the tool policy enforcer, the
// names of the registry-independent intrinsic tools (never filtered or
// denied), and the names of the tools gated behind the team's
// shellSpecialists roster entry (§4.4).
func NewPolicyGuardrail(enforcer *domaintool.PolicyEnforcer, intrinsicNames []string, shellToolNames []string) *PolicyGuardrail {
	names := make(map[string]bool, len(intrinsicNames))
	for _, n := range intrinsicNames {
		names[n] = true
	}
	shellNames := make(map[string]bool, len(shellToolNames))
	for _, n := range shellToolNames {
		shellNames[n] = true
	}
	return &PolicyGuardrail{enforcer: enforcer, intrinsicNames: names, shellToolNames: shellNames}
}

// EffectiveTools returns the tool list the LLM request is built with:
// everything the registry holds that the policy allows and that isn't a
// shell tool gated away from a non-specialist agent, plus the
// registry-independent intrinsics (reminder CRUD, clear_mind, Task-Doc
// recall, and change_mind for root dialogs).
func (g *PolicyGuardrail) EffectiveTools(registry domaintool.Registry, isShellSpecialist, isRootDialog bool) []domaintool.Definition {
	all := registry.List()
	out := make([]domaintool.Definition, 0, len(all)+3)
	for _, def := range all {
		if g.shellToolNames[def.Name] && !isShellSpecialist {
			continue
		}
		if g.intrinsicNames[def.Name] || g.enforcer.CanExecute(def.Name) {
			out = append(out, def)
		}
	}
	out = append(out, recallTaskDocDefinition())
	if isRootDialog {
		out = append(out, changeMindDefinition())
	}
	return out
}

// recallTaskDocDefinition describes the Task-Doc recall intrinsic; the Tool
// Round Executor handles its execution directly against the calling
// dialog, so it carries no registry entry of its own.
func recallTaskDocDefinition() domaintool.Definition {
	return domaintool.Definition{
		Name:           "recall_task_doc",
		Description:    "Recall the task document attached to this dialog, if one is set.",
		Parameters:     map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		ArgsValidation: domaintool.ValidationPassthrough,
	}
}

// changeMindDefinition describes the root-dialog-only "change_mind"
// intrinsic; like recall_task_doc it has no registry entry and is handled
// directly by the Tool Round Executor.
func changeMindDefinition() domaintool.Definition {
	return domaintool.Definition{
		Name:        "change_mind",
		Description: "Replace this dialog's entire standing-reminder set in one call.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"reminders": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "The complete replacement set of standing reminders.",
				},
			},
			"required": []string{"reminders"},
		},
		ArgsValidation: domaintool.ValidationStrict,
	}
}

// EffectiveSystemPrompt composes the base persona with the agent's
// knowledge and lessons files, the shared environment brief, the team
// roster, and the dialog's standing reminders — the §4.4 composition order.
func (g *PolicyGuardrail) EffectiveSystemPrompt(persona, knowledge, lessons, env string, roster []string, reminders []string) string {
	var b strings.Builder
	b.WriteString(persona)
	if knowledge != "" {
		b.WriteString("\n\nKnowledge:\n")
		b.WriteString(knowledge)
	}
	if lessons != "" {
		b.WriteString("\n\nLessons learned:\n")
		b.WriteString(lessons)
	}
	if env != "" {
		b.WriteString("\n\nEnvironment:\n")
		b.WriteString(env)
	}
	if len(roster) > 0 {
		b.WriteString("\n\nTeam roster: ")
		b.WriteString(strings.Join(roster, ", "))
	}
	if len(reminders) > 0 {
		b.WriteString("\n\nStanding reminders:\n")
		for _, r := range reminders {
			b.WriteString("- " + r + "\n")
		}
	}
	return b.String()
}

// RequiresToolCall reports whether the effective policy mandates at least
// one tool call per generation (e.g. a Fresh-Boots-Reasoning profile).
func (g *PolicyGuardrail) RequiresToolCall() bool {
	return g.enforcer.RequiresToolCall()
}

// CheckPostGeneration inspects the assistant's tool calls against policy
// after generation and returns a PolicyViolation DriverError if the model
// called a tool the effective policy denies — belt-and-suspenders against
// a provider ignoring the filtered tool list it was sent.
func (g *PolicyGuardrail) CheckPostGeneration(resp *LLMResponse) error {
	for _, tc := range resp.ToolCalls {
		if g.intrinsicNames[tc.Name] {
			continue
		}
		if !g.enforcer.CanExecute(tc.Name) {
			return entity.NewPolicyViolation("tool_denied", "tool "+tc.Name+" is denied by the current policy")
		}
	}
	return nil
}

// NeedsConfirmation reports whether a tool call requires operator
// confirmation under the current AskMode policy.
func (g *PolicyGuardrail) NeedsConfirmation(registry domaintool.Registry, toolName string) bool {
	t, ok := registry.Get(toolName)
	if !ok {
		return false
	}
	return g.enforcer.NeedsApproval() && policyNeedsConfirmation(g.enforcer, t.Kind())
}

func policyNeedsConfirmation(e *domaintool.PolicyEnforcer, kind domaintool.Kind) bool {
	if domaintool.SafeKinds[kind] {
		return false
	}
	return domaintool.MutatorKinds[kind]
}
