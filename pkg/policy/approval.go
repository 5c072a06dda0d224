package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seoagent/governor/pkg/telemetry"
)

// Default approval timing.
const (
	DefaultApprovalTTL  = 24 * time.Hour
	DefaultPollInterval = 2 * time.Second
)

// RequiresApproval reports whether a human must sign off before actionType
// runs under p. A high declared risk level always requires approval,
// whatever the explicit flag says.
func RequiresApproval(actionType ActionType, p Policy) bool {
	switch {
	case p.Environment == EnvironmentProduction && IsHighRisk(actionType):
		return true
	case p.BlastRadius.MaxAffectedPages > 20:
		return true
	case p.BlastRadius.RiskLevel == RiskHigh:
		return true
	default:
		return p.RequiresApproval
	}
}

// ApprovalGate persists approval requests and tracks their lifecycle.
// Execution past a gated step is allowed only once PollApprovalStatus
// reports ApprovalApproved.
type ApprovalGate struct {
	store        ApprovalStore
	ttl          time.Duration
	pollInterval time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

// NewApprovalGate creates a gate over store. A zero ttl disables expiry.
func NewApprovalGate(store ApprovalStore, ttl, pollInterval time.Duration, logger zerolog.Logger) *ApprovalGate {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &ApprovalGate{
		store:        store,
		ttl:          ttl,
		pollInterval: pollInterval,
		now:          time.Now,
		logger:       logger,
	}
}

// RequestApproval builds an approval request for action and submits it as
// pending. The returned ID is the ticket to poll. Resubmitting the same
// ActionID returns the existing ticket.
func (g *ApprovalGate) RequestApproval(ctx context.Context, action ActionContext, p Policy, risk RiskLevel) (string, error) {
	if g.store == nil {
		return "", fmt.Errorf("no approval store configured")
	}

	req := &ApprovalRequest{
		ID:         uuid.NewString(),
		ActionID:   action.ActionID,
		UserToken:  action.UserToken,
		SiteURL:    action.SiteURL,
		ActionType: action.ActionType,
		Policy: PolicySummary{
			Environment: p.Environment,
			BlastRadius: p.BlastRadius,
			MaxPages:    p.MaxPages,
			MaxPatches:  p.MaxPatches,
		},
		Risk: RiskSummary{
			Level:             risk,
			AffectedPages:     p.BlastRadius.MaxAffectedPages,
			RollbackAvailable: p.BlastRadius.RollbackRequired,
		},
		RequestedAt: g.now().UTC(),
		Status:      ApprovalPending,
	}

	id, err := g.store.SubmitApproval(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to submit approval request: %w", err)
	}

	g.logger.Info().
		Str("approval_id", id).
		Str("action_id", action.ActionID).
		Str("action_type", string(action.ActionType)).
		Str("risk", string(risk)).
		Msg("Approval requested")

	return id, nil
}

// PollApprovalStatus returns the current status of a request. A pending
// request older than the TTL reads as expired and is marked so in the store.
func (g *ApprovalGate) PollApprovalStatus(ctx context.Context, id string) (ApprovalStatus, error) {
	req, err := g.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return req.Status, nil
}

// Get returns the request with its effective status.
func (g *ApprovalGate) Get(ctx context.Context, id string) (*ApprovalRequest, error) {
	if g.store == nil {
		return nil, fmt.Errorf("no approval store configured")
	}

	req, err := g.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Status == ApprovalPending && g.expired(req) {
		req.Status = ApprovalExpired
		err := g.store.DecideApproval(ctx, id, ApprovalExpired, "", "approval window elapsed")
		if err != nil && !errors.Is(err, ErrApprovalDecided) {
			g.logger.Warn().Err(err).Str("approval_id", id).Msg("Failed to persist approval expiry")
		}
	}
	return req, nil
}

// AwaitApproval polls until the request reaches a terminal status or ctx is
// done.
func (g *ApprovalGate) AwaitApproval(ctx context.Context, id string) (ApprovalStatus, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		status, err := g.PollApprovalStatus(ctx, id)
		if err != nil {
			return "", err
		}
		if status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return ApprovalPending, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DecideApproval records a human decision on a pending request.
func (g *ApprovalGate) DecideApproval(ctx context.Context, id string, approve bool, decidedBy, note string) (err error) {
	ctx, end := telemetry.WithApprovalContext(ctx, id, "decide")
	defer func() { end(err) }()

	status, err := g.PollApprovalStatus(ctx, id)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return fmt.Errorf("approval %s is %s: %w", id, status, ErrApprovalDecided)
	}

	decision := ApprovalRejected
	if approve {
		decision = ApprovalApproved
	}
	if err := g.store.DecideApproval(ctx, id, decision, decidedBy, note); err != nil {
		return fmt.Errorf("failed to record approval decision: %w", err)
	}

	g.logger.Info().
		Str("approval_id", id).
		Str("status", string(decision)).
		Str("decided_by", decidedBy).
		Msg("Approval decided")

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordApprovalDecided(string(decision))
		_ = tel.Events.PublishApprovalDecided(id, string(decision), decidedBy)
	}
	return nil
}

func (g *ApprovalGate) expired(req *ApprovalRequest) bool {
	if g.ttl <= 0 {
		return false
	}
	return g.now().Sub(req.RequestedAt) > g.ttl
}
