package policy

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/seoagent/governor/pkg/telemetry"
)

// GuardrailInput is the document handed to operator guardrails.
type GuardrailInput struct {
	Action   ActionContext `json:"action"`
	Policy   Policy        `json:"policy"`
	Site     SiteRecord    `json:"site"`
	HighRisk bool          `json:"high_risk"`
	Domain   string        `json:"domain"`
}

// GuardrailFinding is one rule hit. Blocking findings deny the action, the
// rest are surfaced as warnings.
type GuardrailFinding struct {
	Rule     string `json:"rule"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
}

// GuardrailEvaluator runs operator-authored rules after the built-in checks.
type GuardrailEvaluator interface {
	EvaluateAction(ctx context.Context, input GuardrailInput) ([]GuardrailFinding, error)
}

// SafetyValidator checks permission, quota, domain and environment
// compatibility for a resolved policy.
type SafetyValidator struct {
	subscriptions SubscriptionLookup
	guardrails    GuardrailEvaluator
	logger        zerolog.Logger
}

// NewSafetyValidator creates a validator. guardrails may be nil.
func NewSafetyValidator(subscriptions SubscriptionLookup, guardrails GuardrailEvaluator, logger zerolog.Logger) *SafetyValidator {
	return &SafetyValidator{
		subscriptions: subscriptions,
		guardrails:    guardrails,
		logger:        logger,
	}
}

// Validate returns guardrail warnings when the action may proceed, or a
// *DecisionError describing the first failed check. site is the ownership
// record the policy was resolved against.
func (v *SafetyValidator) Validate(ctx context.Context, action ActionContext, site SiteRecord, p Policy) ([]string, error) {
	highRisk := IsHighRisk(action.ActionType)

	if !site.Exists {
		return nil, NewPermissionDenied("Site not found or not owned by user")
	}
	if highRisk && !site.IsManaged {
		return nil, NewPermissionDenied("High-risk actions require a managed site")
	}

	if action.ActionType == ActionContentGeneration {
		if err := v.checkQuota(ctx, action); err != nil {
			return nil, err
		}
	}

	domain := SiteDomain(action.SiteURL)
	if !DomainAllowed(domain, p.AllowedDomains) {
		return nil, NewDomainNotAllowed(fmt.Sprintf("Domain %s is not in the allowed domains list", domain))
	}

	if p.Environment == EnvironmentProduction && highRisk && !p.RequiresApproval {
		return nil, NewApprovalRequiredForHighRisk()
	}

	if v.guardrails == nil {
		return nil, nil
	}

	findings, err := v.guardrails.EvaluateAction(ctx, GuardrailInput{
		Action:   action,
		Policy:   p,
		Site:     site,
		HighRisk: highRisk,
		Domain:   domain,
	})
	tel := telemetry.FromTelemetryContext(ctx)
	if err != nil {
		if tel != nil {
			tel.Metrics.RecordCollaboratorError("guardrails")
		}
		return nil, NewInternalError("Internal error during policy validation", fmt.Errorf("guardrails: %w", err))
	}

	var warnings []string
	for _, f := range findings {
		if tel != nil {
			tel.Metrics.RecordGuardrailViolation(f.Rule, f.Blocking)
			_ = tel.Events.PublishGuardrailViolation(action.ActionID, f.Rule, f.Message, f.Blocking)
		}
		if f.Blocking {
			v.logger.Info().
				Str("rule", f.Rule).
				Str("action_id", action.ActionID).
				Msg("Guardrail blocked action")
			return nil, NewGuardrailViolation(f.Message)
		}
		warnings = append(warnings, f.Message)
	}
	return warnings, nil
}

func (v *SafetyValidator) checkQuota(ctx context.Context, action ActionContext) error {
	sub, err := v.subscriptions.LookupSubscription(ctx, action.UserToken, action.ActionType)
	if err != nil {
		return NewInternalError("Internal error during policy validation", fmt.Errorf("subscription lookup: %w", err))
	}
	if sub == nil {
		return NewPermissionDenied("No active subscription plan")
	}
	if sub.CurrentUsage >= sub.Allowance {
		return NewPermissionDenied(fmt.Sprintf("Content generation limit reached: %d/%d", sub.CurrentUsage, sub.Allowance))
	}
	return nil
}

// SiteDomain extracts the lower-cased host of siteURL. Values without a
// scheme are treated as bare hosts.
func SiteDomain(siteURL string) string {
	raw := strings.TrimSpace(siteURL)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(strings.TrimSpace(siteURL))
	}
	return strings.ToLower(u.Hostname())
}

// DomainAllowed reports whether domain contains at least one allowlist entry.
// An empty allowlist imposes no restriction.
func DomainAllowed(domain string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" && strings.Contains(domain, entry) {
			return true
		}
	}
	return false
}
