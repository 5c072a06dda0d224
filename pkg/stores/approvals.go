package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/seoagent/governor/pkg/policy"
)

// SubmitApproval implements policy.ApprovalStore. A request for an ActionID
// that already has one returns the existing ID.
func (s *SQLiteStore) SubmitApproval(ctx context.Context, req *policy.ApprovalRequest) (string, error) {
	policyJSON, err := json.Marshal(req.Policy)
	if err != nil {
		return "", fmt.Errorf("failed to encode policy: %w", err)
	}
	riskJSON, err := json.Marshal(req.Risk)
	if err != nil {
		return "", fmt.Errorf("failed to encode risk: %w", err)
	}

	query := `
		INSERT INTO approvals (id, action_id, user_token, site_url, action_type, policy, risk, requested_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO NOTHING
	`

	_, err = s.db.ExecContext(ctx, query,
		req.ID,
		req.ActionID,
		req.UserToken,
		req.SiteURL,
		string(req.ActionType),
		string(policyJSON),
		string(riskJSON),
		formatTime(req.RequestedAt),
		string(req.Status),
	)
	if err != nil {
		return "", fmt.Errorf("failed to submit approval: %w", err)
	}

	var id string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM approvals WHERE action_id = ?`, req.ActionID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to read approval id: %w", err)
	}

	if id != req.ID {
		s.logger.Debug().
			Str("action_id", req.ActionID).
			Str("approval_id", id).
			Msg("Approval already exists for action")
	}

	return id, nil
}

const approvalColumns = `id, action_id, user_token, site_url, action_type, policy, risk, requested_at, status, decided_at, decided_by, note`

// GetApproval implements policy.ApprovalStore.
func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (*policy.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = ?`

	req, err := scanApproval(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval %s: %w", id, policy.ErrApprovalNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}

	return req, nil
}

// DecideApproval implements policy.ApprovalStore. Only pending requests
// transition.
func (s *SQLiteStore) DecideApproval(ctx context.Context, id string, status policy.ApprovalStatus, decidedBy, note string) error {
	if !status.Terminal() {
		return fmt.Errorf("invalid decision status: %s", status)
	}

	query := `
		UPDATE approvals
		SET status = ?, decided_at = ?, decided_by = ?, note = ?
		WHERE id = ? AND status = 'pending'
	`

	result, err := s.db.ExecContext(ctx, query, string(status), formatTime(s.now()), decidedBy, note, id)
	if err != nil {
		return fmt.Errorf("failed to decide approval: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM approvals WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("approval %s: %w", id, policy.ErrApprovalNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read approval status: %w", err)
	}
	return fmt.Errorf("approval %s is %s: %w", id, current, policy.ErrApprovalDecided)
}

// ListApprovals returns approval requests oldest first.
func (s *SQLiteStore) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*policy.ApprovalRequest, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE (? = '' OR status = ?) AND (? = '' OR user_token = ?)
		ORDER BY requested_at ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		string(filter.Status), string(filter.Status),
		filter.UserToken, filter.UserToken,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var out []*policy.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		out = append(out, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return out, nil
}

// CountApprovals returns the number of requests with status.
func (s *SQLiteStore) CountApprovals(ctx context.Context, status policy.ApprovalStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM approvals WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count approvals: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApproval(row rowScanner) (*policy.ApprovalRequest, error) {
	req := &policy.ApprovalRequest{}
	var actionType, status, policyJSON, riskJSON, requestedAt string
	var decidedAt sql.NullString

	err := row.Scan(
		&req.ID,
		&req.ActionID,
		&req.UserToken,
		&req.SiteURL,
		&actionType,
		&policyJSON,
		&riskJSON,
		&requestedAt,
		&status,
		&decidedAt,
		&req.DecidedBy,
		&req.Note,
	)
	if err != nil {
		return nil, err
	}

	req.ActionType = policy.ActionType(actionType)
	req.Status = policy.ApprovalStatus(status)

	if err := json.Unmarshal([]byte(policyJSON), &req.Policy); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	if err := json.Unmarshal([]byte(riskJSON), &req.Risk); err != nil {
		return nil, fmt.Errorf("failed to decode risk: %w", err)
	}
	if req.RequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, fmt.Errorf("failed to parse requested_at: %w", err)
	}
	if decidedAt.Valid {
		t, err := parseTime(decidedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse decided_at: %w", err)
		}
		req.DecidedAt = &t
	}

	return req, nil
}
