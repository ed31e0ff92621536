package plan

import "strings"

// WorkKind tags the variant held by a WorkSpec. Modeling work as a tagged
// union rather than an interface hierarchy keeps the executor's dispatch a
// single switch instead of a type assertion chain.
type WorkKind string

const (
	WorkString  WorkKind = "string"
	WorkProcess WorkKind = "process"
	WorkShell   WorkKind = "shell"
	WorkAgent   WorkKind = "agent"
)

// ShellKind enumerates the shells a WorkSpec can target.
type ShellKind string

const (
	ShellCmd        ShellKind = "cmd"
	ShellPowerShell ShellKind = "powershell"
	ShellPwsh       ShellKind = "pwsh"
	ShellBash       ShellKind = "bash"
	ShellSh         ShellKind = "sh"
)

// ResumePhase names a pipeline phase an onFailure policy can resume from.
type ResumePhase string

const (
	ResumePrechecks  ResumePhase = "prechecks"
	ResumeWork       ResumePhase = "work"
	ResumePostchecks ResumePhase = "postchecks"
)

// OnFailure governs auto-heal behavior for a WorkSpec (spec.md §3, §7).
type OnFailure struct {
	NoAutoHeal       bool        `json:"noAutoHeal,omitempty" yaml:"noAutoHeal,omitempty"`
	Message          string      `json:"message,omitempty" yaml:"message,omitempty"`
	ResumeFromPhase  ResumePhase `json:"resumeFromPhase,omitempty" yaml:"resumeFromPhase,omitempty"`
}

// WorkSpec is the sum-of-four-variants work description from spec.md §3.
type WorkSpec struct {
	Kind WorkKind `json:"kind" yaml:"kind"`

	// String holds the raw command/agent text when Kind == WorkString.
	String string `json:"string,omitempty" yaml:"string,omitempty"`

	// Process variant.
	Executable string   `json:"executable,omitempty" yaml:"executable,omitempty"`
	Args       []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Shell variant.
	Command string    `json:"command,omitempty" yaml:"command,omitempty"`
	Shell   ShellKind `json:"shell,omitempty" yaml:"shell,omitempty"`

	// Agent variant.
	Instructions  string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Model         string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTurns      int    `json:"maxTurns,omitempty" yaml:"maxTurns,omitempty"`
	ContextFiles  []string `json:"contextFiles,omitempty" yaml:"contextFiles,omitempty"`
	ResumeSession *bool  `json:"resumeSession,omitempty" yaml:"resumeSession,omitempty"`

	OnFailure *OnFailure `json:"onFailure,omitempty" yaml:"onFailure,omitempty"`
}

// NewStringWork builds the raw-string WorkSpec variant, resolving whether it
// is an agent invocation ("@agent <text>") or a default-shell command, per
// spec.md §4.2.
func NewStringWork(s string) WorkSpec {
	if rest, ok := cutAgentPrefix(s); ok {
		return WorkSpec{Kind: WorkAgent, Instructions: strings.TrimSpace(rest)}
	}
	return WorkSpec{Kind: WorkString, String: s}
}

func cutAgentPrefix(s string) (string, bool) {
	const prefix = "@agent "
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return "", false
}

// ResumesSession reports whether a retry of this agent WorkSpec should pass
// the previously captured session id. Default policy is "resume" unless the
// caller explicitly opted out (spec.md §9).
func (w WorkSpec) ResumesSession() bool {
	if w.Kind != WorkAgent {
		return false
	}
	return w.ResumeSession == nil || *w.ResumeSession
}

// AutoHealable reports whether a failure of this work step is eligible for
// the single automatic agent-assisted retry (spec.md §7).
func (w WorkSpec) AutoHealable() bool {
	return w.OnFailure == nil || !w.OnFailure.NoAutoHeal
}

// AutoHealWork builds the targeted agent WorkSpec the Plan Runner substitutes
// for one automatic retry after an auto-healable failure, embedding the
// failing attempt's error/log tail so the agent has the context to fix it
// (spec.md §4.4 step 4, §7, §9 "Auto-heal").
func AutoHealWork(failedTask, failureLog string) WorkSpec {
	return WorkSpec{
		Kind: WorkAgent,
		Instructions: "The previous attempt at this task failed. Diagnose and fix the underlying " +
			"problem, then make sure the work is complete.\n\nTask: " + failedTask +
			"\n\nFailure output:\n" + failureLog,
	}
}
