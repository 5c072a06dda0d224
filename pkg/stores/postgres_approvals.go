package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	// PostgreSQL driver
	_ "github.com/lib/pq"

	"github.com/seoagent/governor/pkg/policy"
)

// PostgresApprovalStore implements policy.ApprovalStore on PostgreSQL.
type PostgresApprovalStore struct {
	db     *sql.DB
	now    func() time.Time
	logger zerolog.Logger
}

// OpenPostgres opens and pings a PostgreSQL connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresApprovalStore wraps an open database.
func NewPostgresApprovalStore(db *sql.DB, logger zerolog.Logger) *PostgresApprovalStore {
	return &PostgresApprovalStore{
		db:     db,
		now:    time.Now,
		logger: logger.With().Str("component", "store").Str("driver", "postgres").Logger(),
	}
}

// Migrate applies the PostgreSQL approval schema.
func (s *PostgresApprovalStore) Migrate(_ context.Context) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(s.db, &postgres.Config{MigrationsTable: "governor_schema_migrations"})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *PostgresApprovalStore) Close() error {
	return s.db.Close()
}

// SubmitApproval inserts req unless its ActionID already has a request, and
// returns the ID of whichever request is stored.
func (s *PostgresApprovalStore) SubmitApproval(ctx context.Context, req *policy.ApprovalRequest) (string, error) {
	policyJSON, err := json.Marshal(req.Policy)
	if err != nil {
		return "", fmt.Errorf("failed to encode policy: %w", err)
	}
	riskJSON, err := json.Marshal(req.Risk)
	if err != nil {
		return "", fmt.Errorf("failed to encode risk: %w", err)
	}

	query := `
		WITH ins AS (
			INSERT INTO approvals (id, action_id, user_token, site_url, action_type, policy, risk, requested_at, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (action_id) DO NOTHING
			RETURNING id
		)
		SELECT id FROM ins
		UNION ALL
		SELECT id FROM approvals WHERE action_id = $2
		LIMIT 1
	`

	var id string
	err = s.db.QueryRowContext(ctx, query,
		req.ID,
		req.ActionID,
		req.UserToken,
		req.SiteURL,
		string(req.ActionType),
		string(policyJSON),
		string(riskJSON),
		req.RequestedAt.UTC(),
		string(req.Status),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to submit approval: %w", err)
	}

	return id, nil
}

const postgresApprovalColumns = `id, action_id, user_token, site_url, action_type, policy, risk, requested_at, status, decided_at, decided_by, note`

// GetApproval returns the request with id.
func (s *PostgresApprovalStore) GetApproval(ctx context.Context, id string) (*policy.ApprovalRequest, error) {
	query := `SELECT ` + postgresApprovalColumns + ` FROM approvals WHERE id = $1`

	req, err := scanPostgresApproval(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval %s: %w", id, policy.ErrApprovalNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}

	return req, nil
}

// ListApprovals returns approval requests oldest first.
func (s *PostgresApprovalStore) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*policy.ApprovalRequest, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	query := `
		SELECT ` + postgresApprovalColumns + `
		FROM approvals
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR user_token = $2)
		ORDER BY requested_at ASC
		LIMIT $3 OFFSET $4
	`

	rows, err := s.db.QueryContext(ctx, query, string(filter.Status), filter.UserToken, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var out []*policy.ApprovalRequest
	for rows.Next() {
		req, err := scanPostgresApproval(rows)
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
func (s *PostgresApprovalStore) CountApprovals(ctx context.Context, status policy.ApprovalStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM approvals WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count approvals: %w", err)
	}
	return n, nil
}

func scanPostgresApproval(row rowScanner) (*policy.ApprovalRequest, error) {
	req := &policy.ApprovalRequest{}
	var actionType, status string
	var policyJSON, riskJSON []byte
	var decidedAt sql.NullTime

	err := row.Scan(
		&req.ID,
		&req.ActionID,
		&req.UserToken,
		&req.SiteURL,
		&actionType,
		&policyJSON,
		&riskJSON,
		&req.RequestedAt,
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
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	if err := json.Unmarshal(policyJSON, &req.Policy); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	if err := json.Unmarshal(riskJSON, &req.Risk); err != nil {
		return nil, fmt.Errorf("failed to decode risk: %w", err)
	}

	return req, nil
}

// DecideApproval moves a pending request to a terminal status.
func (s *PostgresApprovalStore) DecideApproval(ctx context.Context, id string, status policy.ApprovalStatus, decidedBy, note string) error {
	if !status.Terminal() {
		return fmt.Errorf("invalid decision status: %s", status)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = $1, decided_at = $2, decided_by = $3, note = $4 WHERE id = $5 AND status = 'pending'`,
		string(status), s.now().UTC(), decidedBy, note, id)
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
	err = s.db.QueryRowContext(ctx, `SELECT status FROM approvals WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("approval %s: %w", id, policy.ErrApprovalNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read approval status: %w", err)
	}
	return fmt.Errorf("approval %s is %s: %w", id, current, policy.ErrApprovalDecided)
}
