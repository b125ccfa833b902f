// Copyright 2025 Certen Protocol
//
// Blocklist and risk-profile repositories backing the Blocklist Cache
// and Compliance Gate (spec §4.2, §4.3).

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
)

// InsertBlocklistEntry persists a new blocklist entry. Re-adding the
// same address is idempotent: the reason is updated in place.
func (c *Client) InsertBlocklistEntry(ctx context.Context, entry *models.BlocklistEntry) error {
	query := `
		INSERT INTO blocklist_entries (address, reason, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (address) DO UPDATE SET reason = EXCLUDED.reason`

	_, err := c.ExecContext(ctx, query, entry.Address, entry.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert blocklist entry: %w", err)
	}
	return nil
}

// ListBlocklistEntries returns every persisted blocklist entry, used to
// hydrate the in-memory cache at startup.
func (c *Client) ListBlocklistEntries(ctx context.Context) ([]*models.BlocklistEntry, error) {
	query := `SELECT address, reason, created_at FROM blocklist_entries ORDER BY created_at ASC`

	rows, err := c.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocklist entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.BlocklistEntry
	for rows.Next() {
		e := &models.BlocklistEntry{}
		if err := rows.Scan(&e.Address, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blocklist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteBlocklistEntry removes address from the persisted blocklist.
// Deleting an address that isn't present is a no-op, not an error.
func (c *Client) DeleteBlocklistEntry(ctx context.Context, address string) error {
	_, err := c.ExecContext(ctx, `DELETE FROM blocklist_entries WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("failed to delete blocklist entry: %w", err)
	}
	return nil
}

// ============================================================================
// RISK PROFILE CACHE (spec §6.7 — reused within RiskProfileTTL instead of
// calling the external provider again)
// ============================================================================

// RiskProfileRepository persists risk-provider lookups.
type RiskProfileRepository struct {
	client *Client
}

// NewRiskProfileRepository creates a new risk profile repository.
func NewRiskProfileRepository(client *Client) *RiskProfileRepository {
	return &RiskProfileRepository{client: client}
}

// Get returns the cached risk profile for address, if one exists and is
// still within its TTL. Staleness is judged by the caller against
// models.RiskProfileTTL — Get always returns what's stored, even if
// expired, so callers can decide whether to treat an expired profile as
// a starting point for logging.
func (r *RiskProfileRepository) Get(ctx context.Context, address string) (*models.RiskProfile, error) {
	query := `SELECT address, risk_score, risk_level, reasoning, fetched_at FROM risk_profiles WHERE address = $1`

	profile := &models.RiskProfile{}
	err := r.client.QueryRowContext(ctx, query, address).Scan(
		&profile.Address, &profile.RiskScore, &profile.RiskLevel, &profile.Reasoning, &profile.FetchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRiskProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk profile: %w", err)
	}
	return profile, nil
}

// Upsert stores the latest risk-provider lookup for address.
func (r *RiskProfileRepository) Upsert(ctx context.Context, profile *models.RiskProfile) error {
	query := `
		INSERT INTO risk_profiles (address, risk_score, risk_level, reasoning, fetched_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			reasoning = EXCLUDED.reasoning,
			fetched_at = EXCLUDED.fetched_at`

	fetchedAt := profile.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	_, err := r.client.ExecContext(ctx, query, profile.Address, profile.RiskScore, profile.RiskLevel, profile.Reasoning, fetchedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert risk profile: %w", err)
	}
	return nil
}
