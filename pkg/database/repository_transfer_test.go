// Copyright 2025 Certen Protocol
//
// Integration tests for TransferRepository. Requires a live Postgres
// instance with migrations applied; skipped entirely when
// RELAYER_TEST_DB is unset, same convention the rest of this stack's
// database tests use.

package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/config"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
)

var testClient *Client

func TestMain(m *testing.M) {
	connStr := os.Getenv("RELAYER_TEST_DB")
	if connStr == "" {
		os.Exit(0)
	}

	cfg := &config.Config{DatabaseURL: connStr, DatabaseMaxConns: 5, DatabaseMinConns: 1,
		DatabaseMaxIdleTime: time.Minute, DatabaseMaxLifetime: time.Hour}
	client, err := NewClient(cfg)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	if err := client.MigrateUp(context.Background()); err != nil {
		panic("failed to migrate test database: " + err.Error())
	}
	testClient = client

	code := m.Run()
	client.Close()
	os.Exit(code)
}

func newTestInput(from, nonce string) *NewTransferInput {
	return &NewTransferInput{
		FromAddress:     from,
		ToAddress:       "recipientAddr111111111111111111111111111111",
		TransferDetails: models.TransferDetails{Kind: models.TransferKindPublic, Amount: 1000},
		Nonce:           nonce,
		ClientSignature: "sig-" + nonce,
	}
}

func TestTransferRepository_CreateAndGet(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	repo := NewTransferRepository(testClient)
	ctx := context.Background()

	created, err := repo.Create(ctx, newTestInput("senderA", "nonce-create-get-1234567890ab"))
	require.NoError(t, err)
	assert.Equal(t, models.ComplianceStatusPending, created.ComplianceStatus)
	assert.Equal(t, models.BlockchainStatusReceived, created.BlockchainStatus)

	fetched, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.FromAddress, fetched.FromAddress)
}

func TestTransferRepository_DuplicateNonceReturnsErrDuplicateTransfer(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	repo := NewTransferRepository(testClient)
	ctx := context.Background()

	input := newTestInput("senderB", "nonce-duplicate-1234567890abcdef")
	_, err := repo.Create(ctx, input)
	require.NoError(t, err)

	_, err = repo.Create(ctx, input)
	assert.ErrorIs(t, err, ErrDuplicateTransfer)
}

func TestTransferRepository_ClaimBatchOnlyReturnsApprovedPendingRows(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	repo := NewTransferRepository(testClient)
	ctx := context.Background()

	rec, err := repo.Create(ctx, newTestInput("senderC", "nonce-claim-batch-1234567890ab"))
	require.NoError(t, err)
	require.NoError(t, repo.SetComplianceApproved(ctx, rec.ID))

	claimed, err := repo.ClaimBatch(ctx, 10, models.MaxRetries)
	require.NoError(t, err)

	var found bool
	for _, c := range claimed {
		if c.ID == rec.ID {
			found = true
			assert.Equal(t, models.BlockchainStatusProcessing, c.BlockchainStatus)
		}
	}
	assert.True(t, found, "expected claimed batch to include the approved record")

	_, err = repo.ClaimBatch(ctx, 10, models.MaxRetries)
	if err != nil {
		assert.ErrorIs(t, err, ErrNoClaimableTransfers)
	}
}

func TestTransferRepository_ScheduleRetryReturnsRowToPendingSubmission(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	repo := NewTransferRepository(testClient)
	ctx := context.Background()

	rec, err := repo.Create(ctx, newTestInput("senderD", "nonce-retry-boundary-1234567890"))
	require.NoError(t, err)
	require.NoError(t, repo.SetComplianceApproved(ctx, rec.ID))

	_, err = repo.ClaimBatch(ctx, 10, models.MaxRetries)
	require.NoError(t, err)

	require.NoError(t, repo.ScheduleRetry(ctx, rec.ID, models.ErrorTypeNetworkError, "transient", time.Now().Add(time.Minute)))

	updated, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BlockchainStatusPendingSubmission, updated.BlockchainStatus)
	assert.Equal(t, 1, updated.RetryCount)
}

func TestTransferRepository_MarkConfirmedIsIdempotent(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	repo := NewTransferRepository(testClient)
	ctx := context.Background()

	rec, err := repo.Create(ctx, newTestInput("senderE", "nonce-confirm-idempotent-123456"))
	require.NoError(t, err)
	require.NoError(t, repo.SetComplianceApproved(ctx, rec.ID))
	_, err = repo.ClaimBatch(ctx, 10, models.MaxRetries)
	require.NoError(t, err)
	require.NoError(t, repo.MarkSubmitted(ctx, rec.ID, "sig-e", "blockhash-e"))

	require.NoError(t, repo.MarkConfirmed(ctx, rec.ID))
	// A second confirmation is a no-op, not an error: the predicate only
	// matches rows still in blockchain_status = 'submitted'.
	require.NoError(t, repo.MarkConfirmed(ctx, rec.ID))

	final, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BlockchainStatusConfirmed, final.BlockchainStatus)
}

func TestTransferRepository_GetByFromAddressAndNonce_NotFound(t *testing.T) {
	if testClient == nil {
		t.Skip("RELAYER_TEST_DB not configured")
	}
	repo := NewTransferRepository(testClient)
	_, err := repo.GetByFromAddressAndNonce(context.Background(), "nobody", "no-such-nonce")
	assert.ErrorIs(t, err, ErrTransferNotFound)
}
