// Copyright 2025 Certen Protocol
//
// Integration tests for the blocklist and risk-profile repositories.
// Skipped unless RELAYER_TEST_DB is set (see TestMain in
// repository_transfer_test.go).

package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
)

func TestBlocklist_InsertAndList(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	ctx := context.Background()

	entry := &models.BlocklistEntry{Address: "blocked-addr-1", Reason: "sanctions match", CreatedAt: time.Now()}
	require.NoError(t, testClient.InsertBlocklistEntry(ctx, entry))

	// Upsert semantics: re-inserting the same address updates the reason
	// rather than erroring.
	entry.Reason = "updated reason"
	require.NoError(t, testClient.InsertBlocklistEntry(ctx, entry))

	entries, err := testClient.ListBlocklistEntries(ctx)
	require.NoError(t, err)

	var found *models.BlocklistEntry
	for _, e := range entries {
		if e.Address == "blocked-addr-1" {
			found = e
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "updated reason", found.Reason)
}

func TestBlocklist_DeleteRemovesEntry(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	ctx := context.Background()

	entry := &models.BlocklistEntry{Address: "blocked-addr-delete", Reason: "sanctions match", CreatedAt: time.Now()}
	require.NoError(t, testClient.InsertBlocklistEntry(ctx, entry))
	require.NoError(t, testClient.DeleteBlocklistEntry(ctx, "blocked-addr-delete"))

	entries, err := testClient.ListBlocklistEntries(ctx)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "blocked-addr-delete", e.Address)
	}

	// Deleting an address that was never present is a no-op, not an error.
	require.NoError(t, testClient.DeleteBlocklistEntry(ctx, "never-existed"))
}

func TestBlocklist_PreSeededTombstoneAddressIsPresent(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	entries, err := testClient.ListBlocklistEntries(context.Background())
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if e.Address == "4oS78GPe66RqBduuAeiMFANf27FpmgXNwokZ3ocN4z1B" {
			found = true
		}
	}
	assert.True(t, found, "expected migration-seeded tombstone address to be present")
}

func TestRiskProfileRepository_UpsertAndGet(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	ctx := context.Background()
	repo := NewRiskProfileRepository(testClient)

	profile := &models.RiskProfile{Address: "risk-addr-1", RiskScore: 3, RiskLevel: "low", Reasoning: "clean", FetchedAt: time.Now()}
	require.NoError(t, repo.Upsert(ctx, profile))

	fetched, err := repo.Get(ctx, "risk-addr-1")
	require.NoError(t, err)
	assert.Equal(t, 3, fetched.RiskScore)

	profile.RiskScore = 9
	profile.RiskLevel = "high"
	require.NoError(t, repo.Upsert(ctx, profile))

	refetched, err := repo.Get(ctx, "risk-addr-1")
	require.NoError(t, err)
	assert.Equal(t, 9, refetched.RiskScore)
}

func TestRiskProfileRepository_GetNotFound(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	_, err := NewRiskProfileRepository(testClient).Get(context.Background(), "no-such-address")
	assert.ErrorIs(t, err, ErrRiskProfileNotFound)
}
