package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/seoagent/governor/pkg/policy"
)

// RecordDecision implements policy.DecisionRecorder.
func (s *SQLiteStore) RecordDecision(ctx context.Context, action policy.ActionContext, result policy.ValidationResult) error {
	var adjusted sql.NullString
	if result.AdjustedPolicy != nil {
		data, err := json.Marshal(result.AdjustedPolicy)
		if err != nil {
			return fmt.Errorf("failed to encode adjusted policy: %w", err)
		}
		adjusted = sql.NullString{String: string(data), Valid: true}
	}

	warnings, err := encodeStrings(result.Warnings)
	if err != nil {
		return err
	}
	clamped, err := encodeStrings(result.Clamped)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO decisions (id, action_id, user_token, site_url, action_type, allowed, code, reason,
			risk, approval_required, approval_id, adjusted_policy, warnings, clamped, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	evaluatedAt := result.EvaluatedAt
	if evaluatedAt.IsZero() {
		evaluatedAt = s.now()
	}

	_, err = s.db.ExecContext(ctx, query,
		uuid.NewString(),
		action.ActionID,
		action.UserToken,
		action.SiteURL,
		string(action.ActionType),
		boolToInt(result.Allowed),
		string(result.Code),
		result.Reason,
		string(result.EstimatedRisk),
		boolToInt(result.ApprovalRequired),
		result.ApprovalID,
		adjusted,
		warnings,
		clamped,
		formatTime(evaluatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}

	return nil
}

// ListDecisions returns audited decisions, newest first. An empty actionID
// lists every action.
func (s *SQLiteStore) ListDecisions(ctx context.Context, actionID string, limit int) ([]*DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, action_id, user_token, site_url, action_type, allowed, code, reason,
			risk, approval_required, approval_id, adjusted_policy, warnings, clamped, evaluated_at
		FROM decisions
		WHERE (? = '' OR action_id = ?)
		ORDER BY evaluated_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, actionID, actionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var out []*DecisionRecord
	for rows.Next() {
		rec := &DecisionRecord{}
		var actionType, code, risk, warnings, clamped, evaluatedAt string
		var allowed, approvalRequired int
		var adjusted sql.NullString

		err := rows.Scan(
			&rec.ID,
			&rec.ActionID,
			&rec.UserToken,
			&rec.SiteURL,
			&actionType,
			&allowed,
			&code,
			&rec.Reason,
			&risk,
			&approvalRequired,
			&rec.ApprovalID,
			&adjusted,
			&warnings,
			&clamped,
			&evaluatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}

		rec.ActionType = policy.ActionType(actionType)
		rec.Allowed = allowed != 0
		rec.Code = policy.ErrorCode(code)
		rec.Risk = policy.RiskLevel(risk)
		rec.ApprovalRequired = approvalRequired != 0

		if adjusted.Valid {
			rec.AdjustedPolicy = &policy.Policy{}
			if err := json.Unmarshal([]byte(adjusted.String), rec.AdjustedPolicy); err != nil {
				return nil, fmt.Errorf("failed to decode adjusted policy: %w", err)
			}
		}
		if err := json.Unmarshal([]byte(warnings), &rec.Warnings); err != nil {
			return nil, fmt.Errorf("failed to decode warnings: %w", err)
		}
		if err := json.Unmarshal([]byte(clamped), &rec.Clamped); err != nil {
			return nil, fmt.Errorf("failed to decode clamped fields: %w", err)
		}
		if rec.EvaluatedAt, err = parseTime(evaluatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse evaluated_at: %w", err)
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return out, nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(data), nil
}
