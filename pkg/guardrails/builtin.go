package guardrails

import (
	"time"
)

// DefaultParams are exposed to rules as data.governor.params.
func DefaultParams() map[string]interface{} {
	return map[string]interface{}{
		"production_timeout_ceiling_ms": 1800000,
	}
}

// BuiltinRules returns the rules shipped with the binary.
func BuiltinRules() []Rule {
	return []Rule{
		robotsRespectRule(),
		siteWideRollbackRule(),
		productionTimeoutRule(),
	}
}

// robotsRespectRule blocks any action configured to ignore robots.txt.
func robotsRespectRule() Rule {
	return Rule{
		Name:        "robots-respect",
		Description: "Agent actions must honor robots.txt directives",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"crawling", "compliance"},
		UpdatedAt:   time.Now(),
		Rego: `package governor.guardrails.robots

import rego.v1

deny contains msg if {
	input.policy.respect_robots == false
	msg := sprintf("Action %s must respect robots.txt", [input.action.action_type])
}
`,
	}
}

// siteWideRollbackRule blocks site-wide production changes that cannot be
// rolled back.
func siteWideRollbackRule() Rule {
	return Rule{
		Name:        "site-wide-rollback",
		Description: "Site-wide production changes must ship with a rollback path",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"blast-radius"},
		UpdatedAt:   time.Now(),
		Rego: `package governor.guardrails.rollback

import rego.v1

deny contains violation if {
	input.policy.environment == "PRODUCTION"
	input.policy.blast_radius.scope == "site_wide"
	not input.policy.blast_radius.rollback_required
	violation := {
		"message": "Site-wide production changes require a rollback path",
	}
}
`,
	}
}

// productionTimeoutRule warns about very long production runs.
func productionTimeoutRule() Rule {
	return Rule{
		Name:        "production-timeout",
		Description: "Flags production actions whose timeout exceeds the configured ceiling",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"limits"},
		UpdatedAt:   time.Now(),
		Rego: `package governor.guardrails.timeout

import rego.v1

warn contains msg if {
	input.policy.environment == "PRODUCTION"
	ceiling := data.governor.params.production_timeout_ceiling_ms
	input.policy.timeout_ms > ceiling
	msg := sprintf("Production timeout %vms exceeds the %vms ceiling", [input.policy.timeout_ms, ceiling])
}
`,
	}
}
