package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/seoagent/governor/pkg/policy"
)

// normalizeSiteURL trims whitespace and trailing slashes so that
// "https://a.com/" and "https://a.com" name the same site.
func normalizeSiteURL(siteURL string) string {
	return strings.TrimRight(strings.TrimSpace(siteURL), "/")
}

// AddSite registers the domain of siteURL for userToken. A site is
// identified by its lower-cased host, so re-adding it under another scheme
// or path updates the existing row.
func (s *SQLiteStore) AddSite(ctx context.Context, userToken, siteURL string, managed bool) error {
	domain := policy.SiteDomain(siteURL)
	if domain == "" {
		return fmt.Errorf("site url %q has no host", siteURL)
	}

	now := formatTime(s.now())
	query := `
		INSERT INTO sites (user_token, domain, site_url, is_managed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_token, domain) DO UPDATE SET
			is_managed = excluded.is_managed,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, userToken, domain, normalizeSiteURL(siteURL), boolToInt(managed), now, now)
	if err != nil {
		return fmt.Errorf("failed to add site: %w", err)
	}
	return nil
}

// SetManaged flips the managed flag of an existing site.
func (s *SQLiteStore) SetManaged(ctx context.Context, userToken, siteURL string, managed bool) error {
	query := `UPDATE sites SET is_managed = ?, updated_at = ? WHERE user_token = ? AND domain = ?`

	result, err := s.db.ExecContext(ctx, query, boolToInt(managed), formatTime(s.now()), userToken, policy.SiteDomain(siteURL))
	if err != nil {
		return fmt.Errorf("failed to update site: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("site %s: %w", siteURL, ErrNotFound)
	}
	return nil
}

// ListSites returns the sites of userToken, or of every user when
// userToken is empty.
func (s *SQLiteStore) ListSites(ctx context.Context, userToken string) ([]*Site, error) {
	query := `
		SELECT user_token, domain, site_url, is_managed, created_at, updated_at
		FROM sites
		WHERE (? = '' OR user_token = ?)
		ORDER BY user_token, domain
	`

	rows, err := s.db.QueryContext(ctx, query, userToken, userToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()

	var sites []*Site
	for rows.Next() {
		site := &Site{}
		var managed int
		var created, updated string
		if err := rows.Scan(&site.UserToken, &site.Domain, &site.SiteURL, &managed, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		site.IsManaged = managed != 0
		if site.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if site.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		sites = append(sites, site)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sites: %w", err)
	}

	return sites, nil
}

// LookupSite implements policy.SiteDirectory. siteURL matches a registered
// site of userToken when their hosts are equal, whatever the scheme, path or
// case.
func (s *SQLiteStore) LookupSite(ctx context.Context, userToken, siteURL string) (policy.SiteRecord, error) {
	query := `SELECT is_managed FROM sites WHERE user_token = ? AND domain = ?`

	var managed int
	err := s.db.QueryRowContext(ctx, query, userToken, policy.SiteDomain(siteURL)).Scan(&managed)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.SiteRecord{}, nil
	}
	if err != nil {
		return policy.SiteRecord{}, fmt.Errorf("failed to look up site: %w", err)
	}

	return policy.SiteRecord{Exists: true, IsManaged: managed != 0}, nil
}

// SetSubscription creates or replaces the plan of userToken.
func (s *SQLiteStore) SetSubscription(ctx context.Context, userToken, tier string, allowance int) error {
	if allowance < 0 {
		return fmt.Errorf("allowance must not be negative, got %d", allowance)
	}

	query := `
		INSERT INTO subscriptions (user_token, tier, allowance, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_token) DO UPDATE SET
			tier = excluded.tier,
			allowance = excluded.allowance,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, userToken, tier, allowance, formatTime(s.now())); err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return nil
}

// LookupSubscription implements policy.SubscriptionLookup. Usage is counted
// per calendar month.
func (s *SQLiteStore) LookupSubscription(ctx context.Context, userToken string, actionType policy.ActionType) (*policy.Subscription, error) {
	query := `
		SELECT s.tier, s.allowance, COALESCE(u.count, 0)
		FROM subscriptions s
		LEFT JOIN usage u
			ON u.user_token = s.user_token AND u.action_type = ? AND u.period = ?
		WHERE s.user_token = ?
	`

	sub := &policy.Subscription{}
	err := s.db.QueryRowContext(ctx, query, string(actionType), usagePeriod(s.now()), userToken).
		Scan(&sub.Tier, &sub.Allowance, &sub.CurrentUsage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up subscription: %w", err)
	}

	return sub, nil
}

// IncrementUsage bumps the current-period usage counter of userToken for
// actionType and returns the new count.
func (s *SQLiteStore) IncrementUsage(ctx context.Context, userToken string, actionType policy.ActionType) (int, error) {
	query := `
		INSERT INTO usage (user_token, action_type, period, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(user_token, action_type, period) DO UPDATE SET count = count + 1
		RETURNING count
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, userToken, string(actionType), usagePeriod(s.now())).Scan(&count)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return 0, fmt.Errorf("subscription for %s: %w", userToken, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}

	return count, nil
}
