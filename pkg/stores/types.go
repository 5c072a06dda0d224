package stores

import (
	"errors"
	"time"

	"github.com/seoagent/governor/pkg/policy"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout is a fixed-width UTC layout so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Site is a registered site owned by a user.
type Site struct {
	UserToken string    `json:"user_token"`
	Domain    string    `json:"domain"`
	SiteURL   string    `json:"site_url"`
	IsManaged bool      `json:"is_managed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DecisionRecord is one audited policy decision.
type DecisionRecord struct {
	ID               string            `json:"id"`
	ActionID         string            `json:"action_id"`
	UserToken        string            `json:"user_token"`
	SiteURL          string            `json:"site_url"`
	ActionType       policy.ActionType `json:"action_type"`
	Allowed          bool              `json:"allowed"`
	Code             policy.ErrorCode  `json:"code,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	Risk             policy.RiskLevel  `json:"risk"`
	ApprovalRequired bool              `json:"approval_required"`
	ApprovalID       string            `json:"approval_id,omitempty"`
	AdjustedPolicy   *policy.Policy    `json:"adjusted_policy,omitempty"`
	Warnings         []string          `json:"warnings,omitempty"`
	Clamped          []string          `json:"clamped,omitempty"`
	EvaluatedAt      time.Time         `json:"evaluated_at"`
}

// ApprovalFilter narrows ListApprovals. Zero values match everything.
type ApprovalFilter struct {
	Status    policy.ApprovalStatus
	UserToken string
	Limit     int
	Offset    int
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// usagePeriod is the accounting period a usage counter belongs to.
func usagePeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
