package policy

import (
	"context"
	"time"
)

// ActionType identifies the kind of autonomous action an agent attempts.
// The set is open: unknown values resolve to the catalog fallback.
type ActionType string

const (
	ActionTechnicalSEOCrawl   ActionType = "technical_seo_crawl"
	ActionContentGeneration   ActionType = "content_generation"
	ActionTechnicalSEOFix     ActionType = "technical_seo_fix"
	ActionCMSPublishing       ActionType = "cms_publishing"
	ActionSchemaInjection     ActionType = "schema_injection"
	ActionRobotsModification  ActionType = "robots_modification"
	ActionCanonicalChanges    ActionType = "canonical_changes"
	ActionContentOptimization ActionType = "content_optimization"
	ActionMetaTagUpdates      ActionType = "meta_tag_updates"
	ActionAltTextUpdates      ActionType = "alt_text_updates"
	ActionSitemapGeneration   ActionType = "sitemap_generation"
)

// Environment is the declared blast tier of an action.
type Environment string

const (
	// EnvironmentDryRun simulates the action without side effects.
	EnvironmentDryRun Environment = "DRY_RUN"

	// EnvironmentStaging affects a non-production surface.
	EnvironmentStaging Environment = "STAGING"

	// EnvironmentProduction affects live user-facing content.
	EnvironmentProduction Environment = "PRODUCTION"
)

// rank orders environments by increasing real-world effect.
func (e Environment) rank() int {
	switch e {
	case EnvironmentDryRun:
		return 0
	case EnvironmentStaging:
		return 1
	case EnvironmentProduction:
		return 2
	default:
		return -1
	}
}

// Valid reports whether e is one of the declared environments.
func (e Environment) Valid() bool {
	return e.rank() >= 0
}

// Scope is the footprint class of a blast radius.
type Scope string

const (
	ScopeSinglePage Scope = "single_page"
	ScopeSection    Scope = "section"
	ScopeSiteWide   Scope = "site_wide"
)

func (s Scope) rank() int {
	switch s {
	case ScopeSinglePage:
		return 0
	case ScopeSection:
		return 1
	case ScopeSiteWide:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the declared scopes.
func (s Scope) Valid() bool {
	return s.rank() >= 0
}

// RiskLevel is a coarse risk classification.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return -1
	}
}

// Valid reports whether r is one of the declared risk levels.
func (r RiskLevel) Valid() bool {
	return r.rank() >= 0
}

// BlastRadius describes the worst-case footprint of an action.
type BlastRadius struct {
	// Scope is the footprint class.
	Scope Scope `json:"scope" yaml:"scope"`

	// MaxAffectedPages is the declared upper bound of pages touched. Never negative.
	MaxAffectedPages int `json:"max_affected_pages" yaml:"max_affected_pages"`

	// RiskLevel is the declared risk of the footprint.
	RiskLevel RiskLevel `json:"risk_level" yaml:"risk_level"`

	// RollbackRequired indicates the action ships with a rollback path.
	RollbackRequired bool `json:"rollback_required" yaml:"rollback_required"`
}

// Policy is the effective contract governing one action invocation.
// A zero MaxPages, MaxPatches or TimeoutMs means the limit is not enforced.
type Policy struct {
	Environment      Environment `json:"environment"`
	MaxPages         int         `json:"max_pages"`
	MaxPatches       int         `json:"max_patches"`
	TimeoutMs        int64       `json:"timeout_ms"`
	RequiresApproval bool        `json:"requires_approval"`
	RespectRobots    bool        `json:"respect_robots"`
	BlastRadius      BlastRadius `json:"blast_radius"`
	AllowedDomains   []string    `json:"allowed_domains,omitempty"`
}

// Clone returns a deep copy of p.
func (p Policy) Clone() Policy {
	out := p
	if p.AllowedDomains != nil {
		out.AllowedDomains = append([]string(nil), p.AllowedDomains...)
	}
	return out
}

// BlastRadiusPatch is a partial BlastRadius. Nil fields are left untouched.
type BlastRadiusPatch struct {
	Scope            *Scope     `json:"scope,omitempty" yaml:"scope,omitempty"`
	MaxAffectedPages *int       `json:"max_affected_pages,omitempty" yaml:"max_affected_pages,omitempty"`
	RiskLevel        *RiskLevel `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	RollbackRequired *bool      `json:"rollback_required,omitempty" yaml:"rollback_required,omitempty"`
}

// PolicyPatch is a partial Policy, used for catalog entries, site overrides
// and caller-requested policies. Nil fields are left untouched.
type PolicyPatch struct {
	Environment      *Environment      `json:"environment,omitempty" yaml:"environment,omitempty"`
	MaxPages         *int              `json:"max_pages,omitempty" yaml:"max_pages,omitempty"`
	MaxPatches       *int              `json:"max_patches,omitempty" yaml:"max_patches,omitempty"`
	TimeoutMs        *int64            `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	RequiresApproval *bool             `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
	RespectRobots    *bool             `json:"respect_robots,omitempty" yaml:"respect_robots,omitempty"`
	BlastRadius      *BlastRadiusPatch `json:"blast_radius,omitempty" yaml:"blast_radius,omitempty"`
	AllowedDomains   []string          `json:"allowed_domains,omitempty" yaml:"allowed_domains,omitempty"`
}

// IsEmpty reports whether the patch sets no field.
func (p *PolicyPatch) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.Environment == nil && p.MaxPages == nil && p.MaxPatches == nil &&
		p.TimeoutMs == nil && p.RequiresApproval == nil && p.RespectRobots == nil &&
		p.BlastRadius == nil && len(p.AllowedDomains) == 0
}

// ActionContext identifies one attempted action. ActionID is the caller's
// idempotency key.
type ActionContext struct {
	ActionID   string     `json:"action_id"`
	UserToken  string     `json:"user_token"`
	SiteURL    string     `json:"site_url"`
	ActionType ActionType `json:"action_type"`
}

// ValidationResult is the sole output of ValidatePolicy.
type ValidationResult struct {
	// Allowed reports whether the action may proceed (subject to approval).
	Allowed bool `json:"allowed"`

	// Reason explains a denial. Empty when allowed.
	Reason string `json:"reason,omitempty"`

	// Code is the DecisionError code of a denial.
	Code ErrorCode `json:"code,omitempty"`

	// AdjustedPolicy is the effective policy. Present iff Allowed.
	AdjustedPolicy *Policy `json:"adjusted_policy,omitempty"`

	// ApprovalRequired reports whether a human must sign off first.
	ApprovalRequired bool `json:"approval_required"`

	// ApprovalID references the persisted approval request, if one was stored.
	ApprovalID string `json:"approval_id,omitempty"`

	// EstimatedRisk is the scored risk level.
	EstimatedRisk RiskLevel `json:"estimated_risk"`

	// Warnings are non-blocking guardrail findings.
	Warnings []string `json:"warnings,omitempty"`

	// Clamped lists requested fields that were looser than the resolved policy.
	Clamped []string `json:"clamped,omitempty"`

	// EvaluatedAt is when the decision was made.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// RuntimeStats are sampled from the executor while an action runs.
type RuntimeStats struct {
	PagesProcessed  int   `json:"pages_processed"`
	PatchesApplied  int   `json:"patches_applied"`
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// LimitCheck is the result of EnforceRuntimeLimits.
type LimitCheck struct {
	WithinLimits bool   `json:"within_limits"`
	ShouldStop   bool   `json:"should_stop"`
	Limit        string `json:"limit,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalExpired
}

// PolicySummary is the policy excerpt stored with an approval request.
type PolicySummary struct {
	Environment Environment `json:"environment"`
	BlastRadius BlastRadius `json:"blast_radius"`
	MaxPages    int         `json:"max_pages"`
	MaxPatches  int         `json:"max_patches"`
}

// RiskSummary is the risk excerpt stored with an approval request.
type RiskSummary struct {
	Level             RiskLevel `json:"level"`
	AffectedPages     int       `json:"affected_pages"`
	RollbackAvailable bool      `json:"rollback_available"`
}

// ApprovalRequest is submitted to the approval store when a human must sign off.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	ActionID    string         `json:"action_id"`
	UserToken   string         `json:"user_token"`
	SiteURL     string         `json:"site_url"`
	ActionType  ActionType     `json:"action_type"`
	Policy      PolicySummary  `json:"policy"`
	Risk        RiskSummary    `json:"risk"`
	RequestedAt time.Time      `json:"requested_at"`
	Status      ApprovalStatus `json:"status"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	Note        string         `json:"note,omitempty"`
}

// SiteRecord is the answer of the site ownership lookup.
type SiteRecord struct {
	Exists    bool `json:"exists"`
	IsManaged bool `json:"is_managed"`
}

// Subscription is the answer of the subscription/usage lookup.
type Subscription struct {
	Tier         string `json:"tier"`
	Allowance    int    `json:"allowance"`
	CurrentUsage int    `json:"current_usage"`
}

// SiteDirectory resolves site ownership for a user.
type SiteDirectory interface {
	LookupSite(ctx context.Context, userToken, siteURL string) (SiteRecord, error)
}

// SubscriptionLookup resolves the caller's plan and current-period usage.
// A nil Subscription with a nil error means no plan exists.
type SubscriptionLookup interface {
	LookupSubscription(ctx context.Context, userToken string, actionType ActionType) (*Subscription, error)
}

// ApprovalStore persists approval requests. SubmitApproval is idempotent per
// ActionID: resubmitting returns the ID of the existing request.
type ApprovalStore interface {
	SubmitApproval(ctx context.Context, req *ApprovalRequest) (string, error)
	GetApproval(ctx context.Context, id string) (*ApprovalRequest, error)
	DecideApproval(ctx context.Context, id string, status ApprovalStatus, decidedBy, note string) error
}

// DecisionRecorder receives every decision for auditing.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, action ActionContext, result ValidationResult) error
}
