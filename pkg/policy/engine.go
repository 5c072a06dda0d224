package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/seoagent/governor/pkg/telemetry"
)

// Engine is the governance entry point. It holds no mutable state: every
// call to ValidatePolicy or EnforceRuntimeLimits is independent and safe for
// concurrent use.
type Engine struct {
	catalog   *Catalog
	sites     SiteDirectory
	resolver  *Resolver
	validator *SafetyValidator
	gate      *ApprovalGate
	recorder  DecisionRecorder
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	catalog      *Catalog
	guardrails   GuardrailEvaluator
	recorder     DecisionRecorder
	approvalTTL  time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// WithCatalog replaces the built-in catalog.
func WithCatalog(c *Catalog) Option {
	return func(o *engineOptions) { o.catalog = c }
}

// WithGuardrails adds operator guardrails to safety validation.
func WithGuardrails(g GuardrailEvaluator) Option {
	return func(o *engineOptions) { o.guardrails = g }
}

// WithDecisionRecorder audits every decision.
func WithDecisionRecorder(r DecisionRecorder) Option {
	return func(o *engineOptions) { o.recorder = r }
}

// WithApprovalTiming sets the pending TTL and the AwaitApproval poll interval.
func WithApprovalTiming(ttl, pollInterval time.Duration) Option {
	return func(o *engineOptions) {
		o.approvalTTL = ttl
		o.pollInterval = pollInterval
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// NewEngine creates an engine over the three external contracts. approvals
// may be nil, in which case approval requirements are reported without a
// persisted ticket.
func NewEngine(logger zerolog.Logger, sites SiteDirectory, subscriptions SubscriptionLookup, approvals ApprovalStore, opts ...Option) (*Engine, error) {
	if sites == nil {
		return nil, fmt.Errorf("site directory is required")
	}
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription lookup is required")
	}

	o := engineOptions{
		approvalTTL:  DefaultApprovalTTL,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.catalog == nil {
		o.catalog = DefaultCatalog()
	}

	logger = logger.With().Str("component", "policy-engine").Logger()

	var gate *ApprovalGate
	if approvals != nil {
		gate = NewApprovalGate(approvals, o.approvalTTL, o.pollInterval, logger)
		gate.now = o.now
	}

	return &Engine{
		catalog:   o.catalog,
		sites:     sites,
		resolver:  NewResolver(o.catalog, logger),
		validator: NewSafetyValidator(subscriptions, o.guardrails, logger),
		gate:      gate,
		recorder:  o.recorder,
		logger:    logger,
		now:       o.now,
	}, nil
}

// Catalog returns the injected catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Approvals returns the approval gate, or nil when no store is configured.
func (e *Engine) Approvals() *ApprovalGate {
	return e.gate
}

// ValidatePolicy resolves, validates, scores and gates one attempted action.
// It never returns an error and never panics: any failure becomes a denial
// with high risk and approval required.
func (e *Engine) ValidatePolicy(ctx context.Context, action ActionContext, requested *PolicyPatch) (result ValidationResult) {
	op := telemetry.StartOperation(ctx, "policy.validate",
		attribute.String("action.id", action.ActionID),
		attribute.String("action.type", string(action.ActionType)),
	)
	ctx = op.Ctx

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("action_id", action.ActionID).
				Interface("panic", r).
				Msg("Recovered from panic during policy validation")
			result = e.deny(NewInternalError("Internal error during policy validation", fmt.Errorf("panic: %v", r)))
		}
		e.finish(ctx, op, action, result)
	}()

	if err := checkAction(action); err != nil {
		return e.deny(err)
	}

	// One ownership record serves both the managed override and the
	// permission checks.
	site, err := e.sites.LookupSite(ctx, action.UserToken, action.SiteURL)
	if err != nil {
		if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
			tel.Metrics.RecordCollaboratorError("site_directory")
		}
		return e.deny(NewInternalError("Internal error during policy validation", fmt.Errorf("site lookup: %w", err)))
	}

	p, clamped := e.resolver.Resolve(action, site, requested)
	if len(clamped) > 0 {
		e.logger.Debug().
			Str("action_id", action.ActionID).
			Strs("fields", clamped).
			Msg("Clamped looser requested policy fields")
	}

	warnings, err := e.validator.Validate(ctx, action, site, p)
	if err != nil {
		r := e.deny(err)
		r.Clamped = clamped
		return r
	}

	risk := ScoreRisk(action.ActionType, p)
	approvalRequired := RequiresApproval(action.ActionType, p)

	result = ValidationResult{
		Allowed:          true,
		AdjustedPolicy:   &p,
		ApprovalRequired: approvalRequired,
		EstimatedRisk:    risk,
		Warnings:         warnings,
		Clamped:          clamped,
		EvaluatedAt:      e.now().UTC(),
	}

	if approvalRequired && e.gate != nil {
		id, err := e.gate.RequestApproval(ctx, action, p, risk)
		if err != nil {
			e.logger.Error().Err(err).
				Str("action_id", action.ActionID).
				Msg("Failed to create approval request")
			if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
				tel.Metrics.RecordCollaboratorError("approval_store")
			}
		} else {
			result.ApprovalID = id
			if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
				tel.Metrics.RecordApprovalRequested(string(action.ActionType))
				_ = tel.Events.PublishApprovalRequested(id, action.ActionID, string(action.ActionType))
			}
		}
	}

	return result
}

// EnforceRuntimeLimits decides whether a running action must stop.
func (e *Engine) EnforceRuntimeLimits(p Policy, stats RuntimeStats) LimitCheck {
	return EnforceRuntimeLimits(p, stats)
}

// NewSitePolicy returns the conservative policy for unverified sites.
func (e *Engine) NewSitePolicy() Policy {
	return NewSitePolicy()
}

func (e *Engine) deny(err error) ValidationResult {
	return ValidationResult{
		Allowed:          false,
		Reason:           ReasonOf(err),
		Code:             CodeOf(err),
		ApprovalRequired: true,
		EstimatedRisk:    RiskHigh,
		EvaluatedAt:      e.now().UTC(),
	}
}

// finish logs, measures and audits a decision. Panics from telemetry or the
// recorder are contained here; the decision itself is already final.
func (e *Engine) finish(ctx context.Context, op *telemetry.InstrumentedContext, action ActionContext, result ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("action_id", action.ActionID).
				Interface("panic", r).
				Msg("Recovered from panic while recording policy decision")
		}
	}()

	outcome := "allowed"
	var opErr error
	if !result.Allowed {
		outcome = "denied"
		opErr = errors.New(result.Reason)
	}

	ev := e.logger.Debug()
	if !result.Allowed {
		ev = e.logger.Info()
	}
	ev.Str("action_id", action.ActionID).
		Str("action_type", string(action.ActionType)).
		Str("site_url", action.SiteURL).
		Str("risk", string(result.EstimatedRisk)).
		Bool("approval_required", result.ApprovalRequired).
		Str("code", string(result.Code)).
		Str("outcome", outcome).
		Msg("Policy decision")

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordDecision(string(action.ActionType), outcome, string(result.EstimatedRisk), op.Timer.Duration())
		if !result.Allowed {
			tel.Metrics.RecordDenial(string(result.Code))
		}
		_ = tel.Events.PublishDecision(action.ActionID, string(action.ActionType), outcome, result.Reason)
	}

	if op.Span != nil {
		telemetry.SetAttributes(op.Span,
			attribute.String("decision.outcome", outcome),
			attribute.String("decision.risk", string(result.EstimatedRisk)),
			attribute.Bool("decision.approval_required", result.ApprovalRequired),
		)
	}
	op.End(opErr)

	if e.recorder != nil {
		if err := e.recorder.RecordDecision(ctx, action, result); err != nil {
			e.logger.Error().Err(err).
				Str("action_id", action.ActionID).
				Msg("Failed to record decision")
		}
	}
}

func checkAction(action ActionContext) error {
	switch {
	case action.ActionID == "":
		return NewInternalError("Invalid action context: action id is required", nil)
	case action.UserToken == "":
		return NewInternalError("Invalid action context: user token is required", nil)
	case action.SiteURL == "":
		return NewInternalError("Invalid action context: site url is required", nil)
	}
	return nil
}
