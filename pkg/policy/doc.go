// Package policy is the agent action governance kernel.
//
// For every attempted autonomous action the engine decides which policy
// applies, whether the action is permitted, how risky it is, and whether a
// human must approve it. While an action executes, the caller polls
// EnforceRuntimeLimits to learn when it must stop.
//
// # Components
//
//  1. Catalog - immutable default policies per action type, with a fallback entry
//  2. Resolver - catalog default, then site override, then tighten-only caller request
//  3. SafetyValidator - ownership, managed status, quota, domain allowlist, production gate, guardrails
//  4. ScoreRisk - deterministic integer risk score
//  5. ApprovalGate - approval requirement and two-phase approval tickets
//  6. EnforceRuntimeLimits - pure stop check for running actions
//
// # Usage
//
//	eng, err := policy.NewEngine(logger, store, store, store,
//	    policy.WithDecisionRecorder(store))
//	if err != nil {
//	    return err
//	}
//
//	result := eng.ValidatePolicy(ctx, policy.ActionContext{
//	    ActionID:   "a-123",
//	    UserToken:  "user-1",
//	    SiteURL:    "https://example.com",
//	    ActionType: policy.ActionContentGeneration,
//	}, nil)
//	if !result.Allowed {
//	    return fmt.Errorf("denied: %s", result.Reason)
//	}
//	if result.ApprovalRequired {
//	    status, err := eng.Approvals().AwaitApproval(ctx, result.ApprovalID)
//	    ...
//	}
//
// Caller-requested policies can only tighten the resolved policy. Looser
// values are clamped and listed in ValidationResult.Clamped.
package policy
