package guardrails

import (
	"time"
)

// Severity decides whether a rule's deny entries block the action.
type Severity string

const (
	// SeverityWarning downgrades deny entries to warnings.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the action.
	SeverityError Severity = "error"

	// SeverityCritical blocks the action.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether deny entries of this severity block the action.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Rule is a guardrail written in Rego. A rule module may define a `deny` set
// and a `warn` set. Entries are strings or objects with a "message" field.
type Rule struct {
	// Name is the unique name of the rule.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego module.
	Rego string `json:"rego"`

	// Severity applies to deny entries.
	Severity Severity `json:"severity"`

	// Enabled indicates if the rule is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing rules.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the rule was loaded from. Empty for built-in rules.
	Source string `json:"source,omitempty"`

	// Builtin marks rules shipped with the binary.
	Builtin bool `json:"builtin"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one entry produced by a rule.
type Violation struct {
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}
