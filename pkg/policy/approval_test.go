package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRequiresApproval(t *testing.T) {
	tests := []struct {
		name       string
		actionType ActionType
		mutate     func(p *Policy)
		want       bool
	}{
		{"defaults low risk", ActionContentGeneration, func(p *Policy) {}, false},
		{"production high risk", ActionCMSPublishing, func(p *Policy) { p.Environment = EnvironmentProduction }, true},
		{"production low risk", ActionTechnicalSEOCrawl, func(p *Policy) { p.Environment = EnvironmentProduction }, false},
		{"wide blast radius", ActionContentGeneration, func(p *Policy) { p.BlastRadius.MaxAffectedPages = 21 }, true},
		{"blast radius at threshold", ActionContentGeneration, func(p *Policy) { p.BlastRadius.MaxAffectedPages = 20 }, false},
		{"high declared risk", ActionContentGeneration, func(p *Policy) { p.BlastRadius.RiskLevel = RiskHigh }, true},
		{"explicit flag", ActionContentGeneration, func(p *Policy) { p.RequiresApproval = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Baseline()
			tt.mutate(&p)
			if got := RequiresApproval(tt.actionType, p); got != tt.want {
				t.Errorf("RequiresApproval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func newTestGate(store ApprovalStore, ttl time.Duration) *ApprovalGate {
	return NewApprovalGate(store, ttl, 5*time.Millisecond, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestApprovalGate_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemApprovals()
	gate := newTestGate(store, time.Hour)

	action := ActionContext{ActionID: "a-1", UserToken: "u", SiteURL: "https://example.com", ActionType: ActionSchemaInjection}
	p := DefaultCatalog().DefaultFor(ActionSchemaInjection)

	id, err := gate.RequestApproval(ctx, action, p, RiskHigh)
	if err != nil {
		t.Fatalf("RequestApproval() error = %v", err)
	}

	again, err := gate.RequestApproval(ctx, action, p, RiskHigh)
	if err != nil {
		t.Fatalf("RequestApproval() second call error = %v", err)
	}
	if again != id {
		t.Errorf("resubmission returned %s, want %s", again, id)
	}

	req, err := gate.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if req.Policy.MaxPages != 50 || req.Risk.Level != RiskHigh || req.Risk.AffectedPages != 100 || !req.Risk.RollbackAvailable {
		t.Errorf("unexpected summaries: %+v %+v", req.Policy, req.Risk)
	}

	status, err := gate.PollApprovalStatus(ctx, id)
	if err != nil || status != ApprovalPending {
		t.Fatalf("PollApprovalStatus() = %s, %v", status, err)
	}

	if err := gate.DecideApproval(ctx, id, true, "ops@example.com", "looks fine"); err != nil {
		t.Fatalf("DecideApproval() error = %v", err)
	}

	status, err = gate.AwaitApproval(ctx, id)
	if err != nil || status != ApprovalApproved {
		t.Fatalf("AwaitApproval() = %s, %v", status, err)
	}

	err = gate.DecideApproval(ctx, id, false, "ops@example.com", "")
	if !errors.Is(err, ErrApprovalDecided) {
		t.Errorf("second decision error = %v, want ErrApprovalDecided", err)
	}
}

func TestApprovalGate_Expiry(t *testing.T) {
	ctx := context.Background()
	store := newMemApprovals()
	gate := newTestGate(store, time.Minute)

	requested := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return requested }

	id, err := gate.RequestApproval(ctx, ActionContext{ActionID: "a-2"}, Baseline(), RiskLow)
	if err != nil {
		t.Fatalf("RequestApproval() error = %v", err)
	}

	gate.now = func() time.Time { return requested.Add(2 * time.Minute) }

	status, err := gate.PollApprovalStatus(ctx, id)
	if err != nil || status != ApprovalExpired {
		t.Fatalf("PollApprovalStatus() = %s, %v, want expired", status, err)
	}

	stored, _ := store.GetApproval(ctx, id)
	if stored.Status != ApprovalExpired {
		t.Errorf("stored status = %s, want expired", stored.Status)
	}

	if err := gate.DecideApproval(ctx, id, true, "ops", ""); !errors.Is(err, ErrApprovalDecided) {
		t.Errorf("DecideApproval() on expired = %v", err)
	}
}

func TestApprovalGate_AwaitCancelled(t *testing.T) {
	store := newMemApprovals()
	gate := newTestGate(store, 0)

	id, err := gate.RequestApproval(context.Background(), ActionContext{ActionID: "a-3"}, Baseline(), RiskLow)
	if err != nil {
		t.Fatalf("RequestApproval() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	status, err := gate.AwaitApproval(ctx, id)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AwaitApproval() error = %v, want deadline exceeded", err)
	}
	if status != ApprovalPending {
		t.Errorf("status = %s, want pending", status)
	}
}

func TestApprovalGate_UnknownID(t *testing.T) {
	gate := newTestGate(newMemApprovals(), time.Hour)
	if _, err := gate.PollApprovalStatus(context.Background(), "missing"); !errors.Is(err, ErrApprovalNotFound) {
		t.Errorf("PollApprovalStatus() error = %v, want ErrApprovalNotFound", err)
	}
}
