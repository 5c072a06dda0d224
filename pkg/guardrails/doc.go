// Package guardrails evaluates operator-authored Rego rules against agent
// action decisions.
//
// Guardrails run after the built-in safety checks of package policy. Each
// rule is a Rego module that may define a `deny` set and a `warn` set. The
// input document is a policy.GuardrailInput:
//
//	{
//	  "action":    {"action_id", "user_token", "site_url", "action_type"},
//	  "policy":    {"environment", "max_pages", "max_patches", "timeout_ms",
//	                "requires_approval", "respect_robots", "blast_radius", "allowed_domains"},
//	  "site":      {"exists", "is_managed"},
//	  "high_risk": bool,
//	  "domain":    string
//	}
//
// Deny entries of rules with error or critical severity block the action.
// Deny entries of warning rules and all warn entries become warnings on the
// decision. Values from configuration are available as data.governor.params.
//
// # Example rule
//
//	package governor.guardrails.nightly
//
//	import rego.v1
//
//	deny contains msg if {
//		input.action.action_type == "cms_publishing"
//		input.policy.environment == "PRODUCTION"
//		msg := "CMS publishing to production is frozen"
//	}
//
// Rules are loaded from .rego files (named after the file, blocking) or
// .json definitions carrying a Rule. Loader.Watch reloads them on change.
package guardrails
