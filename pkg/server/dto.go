package server

import (
	"github.com/seoagent/governor/pkg/lease"
	"github.com/seoagent/governor/pkg/policy"
)

// Request payloads

type ValidateRequest struct {
	ActionID   string              `json:"action_id" doc:"Caller idempotency key"`
	UserToken  string              `json:"user_token"`
	SiteURL    string              `json:"site_url"`
	ActionType policy.ActionType   `json:"action_type" example:"technical_seo_fix"`
	Policy     *policy.PolicyPatch `json:"policy,omitempty" doc:"Requested policy; may only tighten the resolved one"`
	Claim      bool                `json:"claim,omitempty" doc:"Claim the action lease before deciding"`
	Owner      string              `json:"owner,omitempty" doc:"Lease owner when auth is disabled; the authenticated subject always takes precedence"`
	LeaseTTLMs int64               `json:"lease_ttl_ms,omitempty" minimum:"0"`
}

type LimitsRequest struct {
	ActionID string              `json:"action_id,omitempty"`
	Policy   policy.Policy       `json:"policy"`
	Stats    policy.RuntimeStats `json:"stats"`
}

type ClaimRequest struct {
	Owner string `json:"owner,omitempty" doc:"Ignored when authenticated; the token subject is the owner"`
	TTLMs int64  `json:"ttl_ms,omitempty" minimum:"0"`
}

type ReleaseRequest struct {
	Owner string `json:"owner,omitempty" doc:"Ignored when authenticated; the token subject is the owner"`
}

type DecisionRequest struct {
	Approve   bool   `json:"approve"`
	DecidedBy string `json:"decided_by,omitempty" doc:"Ignored when the request is authenticated"`
	Note      string `json:"note,omitempty"`
}

// Responses

type ValidateResponse struct {
	policy.ValidationResult
	Lease *lease.Lease `json:"lease,omitempty"`
}

type ApprovalList struct {
	Items []*policy.ApprovalRequest `json:"items"`
}

type CatalogResponse struct {
	Fallback policy.ActionType                   `json:"fallback"`
	Entries  map[policy.ActionType]policy.Policy `json:"entries"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
