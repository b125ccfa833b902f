// Copyright 2025 Certen Protocol
//
// Transfer Repository - CRUD and state-transition operations for the
// transfer record outbox (spec §3, §4.4, §4.5, §4.6).

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
)

// TransferRepository handles transfer record operations.
type TransferRepository struct {
	client *Client
}

// NewTransferRepository creates a new transfer repository.
func NewTransferRepository(client *Client) *TransferRepository {
	return &TransferRepository{client: client}
}

// ============================================================================
// CREATE / READ
// ============================================================================

// NewTransferInput carries the fields needed to insert a fresh transfer record.
type NewTransferInput struct {
	FromAddress     string
	ToAddress       string
	TransferDetails models.TransferDetails
	TokenMint       string
	Nonce           string
	ClientSignature string
}

// Create inserts a new transfer record in compliance_status=pending,
// blockchain_status=received. A collision on (from_address, nonce)
// returns ErrDuplicateTransfer so callers can treat resubmission
// idempotently per spec §4.4.4.
func (r *TransferRepository) Create(ctx context.Context, input *NewTransferInput) (*models.TransferRecord, error) {
	record := &models.TransferRecord{
		ID:               uuid.New(),
		FromAddress:      input.FromAddress,
		ToAddress:        input.ToAddress,
		TransferDetails:  input.TransferDetails,
		TokenMint:        sql.NullString{String: input.TokenMint, Valid: input.TokenMint != ""},
		Nonce:            input.Nonce,
		ClientSignature:  input.ClientSignature,
		ComplianceStatus: models.ComplianceStatusPending,
		BlockchainStatus: models.BlockchainStatusReceived,
		LastErrorType:    models.ErrorTypeNone,
	}

	query := `
		INSERT INTO transfer_records (
			id, from_address, to_address, transfer_kind, amount,
			equality_proof, ciphertext_validity_proof, range_proof, new_decryptable_available_balance,
			token_mint, nonce, client_signature,
			compliance_status, blockchain_status, last_error_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	d := input.TransferDetails
	err := r.client.QueryRowContext(ctx, query,
		record.ID, record.FromAddress, record.ToAddress, d.Kind, d.Amount,
		d.EqualityProof, d.CiphertextValidityProof, d.RangeProof, d.NewDecryptableAvailableBalance,
		record.TokenMint, record.Nonce, record.ClientSignature,
		record.ComplianceStatus, record.BlockchainStatus, record.LastErrorType,
	).Scan(&record.CreatedAt, &record.UpdatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrDuplicateTransfer
		}
		return nil, fmt.Errorf("failed to create transfer record: %w", err)
	}

	return record, nil
}

const selectTransferColumns = `
	id, from_address, to_address, transfer_kind, amount,
	equality_proof, ciphertext_validity_proof, range_proof, new_decryptable_available_balance,
	token_mint, nonce, client_signature,
	compliance_status, blockchain_status, blockchain_signature, original_tx_signature, blockhash_used,
	last_error_type, retry_count, next_retry_at, last_error_message, compliance_reason,
	created_at, updated_at`

func scanTransferRow(row interface{ Scan(...interface{}) error }) (*models.TransferRecord, error) {
	rec := &models.TransferRecord{}
	err := row.Scan(
		&rec.ID, &rec.FromAddress, &rec.ToAddress, &rec.TransferDetails.Kind, &rec.TransferDetails.Amount,
		&rec.TransferDetails.EqualityProof, &rec.TransferDetails.CiphertextValidityProof,
		&rec.TransferDetails.RangeProof, &rec.TransferDetails.NewDecryptableAvailableBalance,
		&rec.TokenMint, &rec.Nonce, &rec.ClientSignature,
		&rec.ComplianceStatus, &rec.BlockchainStatus, &rec.BlockchainSignature, &rec.OriginalTxSignature, &rec.BlockhashUsed,
		&rec.LastErrorType, &rec.RetryCount, &rec.NextRetryAt, &rec.LastErrorMessage, &rec.ComplianceReason,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	return rec, err
}

// Get retrieves a transfer record by ID.
func (r *TransferRepository) Get(ctx context.Context, id uuid.UUID) (*models.TransferRecord, error) {
	query := `SELECT ` + selectTransferColumns + ` FROM transfer_records WHERE id = $1`
	rec, err := scanTransferRow(r.client.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer record: %w", err)
	}
	return rec, nil
}

// GetByFromAddressAndNonce retrieves a transfer record by its idempotency
// key (spec §3 invariant 2).
func (r *TransferRepository) GetByFromAddressAndNonce(ctx context.Context, fromAddress, nonce string) (*models.TransferRecord, error) {
	query := `SELECT ` + selectTransferColumns + ` FROM transfer_records WHERE from_address = $1 AND nonce = $2`
	rec, err := scanTransferRow(r.client.QueryRowContext(ctx, query, fromAddress, nonce))
	if err == sql.ErrNoRows {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer record by from_address+nonce: %w", err)
	}
	return rec, nil
}

// GetByOriginalTxSignature retrieves the record carrying signature as its
// original_tx_signature, used by the double-spend-safety check before a
// retry (spec §4.5.6) — original_tx_signature is immutable once set
// (invariant 3).
func (r *TransferRepository) GetByOriginalTxSignature(ctx context.Context, signature string) (*models.TransferRecord, error) {
	query := `SELECT ` + selectTransferColumns + ` FROM transfer_records WHERE original_tx_signature = $1`
	rec, err := scanTransferRow(r.client.QueryRowContext(ctx, query, signature))
	if err == sql.ErrNoRows {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer record by original_tx_signature: %w", err)
	}
	return rec, nil
}

// GetByBlockchainSignature retrieves the record whose most recent
// submission carries signature, used by the Webhook Ingestor to map a
// provider push notification back to its record (spec §4.8 step 3).
func (r *TransferRepository) GetByBlockchainSignature(ctx context.Context, signature string) (*models.TransferRecord, error) {
	query := `SELECT ` + selectTransferColumns + ` FROM transfer_records WHERE blockchain_signature = $1`
	rec, err := scanTransferRow(r.client.QueryRowContext(ctx, query, signature))
	if err == sql.ErrNoRows {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer record by blockchain_signature: %w", err)
	}
	return rec, nil
}

// ============================================================================
// COMPLIANCE TRANSITION (Intake Service, spec §4.3/§4.4)
// ============================================================================

// SetComplianceApproved transitions a record from compliance_status=pending
// to approved and blockchain_status=received to pending_submission,
// releasing it to the Submission Worker.
func (r *TransferRepository) SetComplianceApproved(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE transfer_records
		SET compliance_status = 'approved', blockchain_status = 'pending_submission', updated_at = now()
		WHERE id = $1 AND compliance_status = 'pending' AND blockchain_status = 'received'`
	return r.execExpectingOneRow(ctx, query, id)
}

// SetComplianceRejected transitions a record to compliance_status=rejected
// and blockchain_status=rejected, a terminal state (spec §4.6).
func (r *TransferRepository) SetComplianceRejected(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE transfer_records
		SET compliance_status = 'rejected', blockchain_status = 'rejected', compliance_reason = $2, updated_at = now()
		WHERE id = $1 AND compliance_status = 'pending' AND blockchain_status = 'received'`
	return r.execExpectingOneRow(ctx, query, id, reason)
}

// ============================================================================
// SUBMISSION WORKER CLAIM (spec §4.5)
// ============================================================================

// ClaimBatch atomically claims up to limit eligible rows and marks them
// processing, using SELECT ... FOR UPDATE SKIP LOCKED so multiple worker
// instances never claim the same row (spec §4.5, horizontal scaling
// design note in spec §9).
//
// Eligibility is pending_submission only (spec §4.5): a row that has
// already reached blockchain_status=submitted belongs to the
// Reconciliation Crank (§4.7), never back to the claim query — claiming
// it here would resubmit an already-landed transaction and violate the
// exactly-one-signature invariant (§8). maxRetries excludes rows that
// have exhausted their retry budget (invariant 5); the worker marks
// those failed via retryOrFail instead of leaving them claimable.
func (r *TransferRepository) ClaimBatch(ctx context.Context, limit, maxRetries int) ([]*models.TransferRecord, error) {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	claimQuery := `
		UPDATE transfer_records
		SET blockchain_status = 'processing', updated_at = now()
		WHERE id IN (
			SELECT id FROM transfer_records
			WHERE compliance_status = 'approved'
			  AND blockchain_status = 'pending_submission'
			  AND retry_count < $2
			  AND (next_retry_at IS NULL OR next_retry_at <= now())
			ORDER BY next_retry_at ASC NULLS FIRST, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + selectTransferColumns

	rows, err := tx.QueryContext(ctx, claimQuery, limit, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to claim transfer batch: %w", err)
	}

	var records []*models.TransferRecord
	for rows.Next() {
		rec, err := scanTransferRow(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan claimed transfer: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}

	if len(records) == 0 {
		return nil, ErrNoClaimableTransfers
	}
	return records, nil
}

// MarkSubmitted records a successful on-chain submission: sets
// blockchain_status=submitted and stores the returned signature. The
// original_tx_signature/blockhash_used COALESCE here is a defensive
// fallback only — RecordSubmissionIntent is expected to have already set
// both before the submit call went out (spec §4.5.3); this just covers a
// caller that skipped that step rather than changing an already-set value
// (invariant 3: original_tx_signature never changes once set).
func (r *TransferRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, signature, blockhash string) error {
	query := `
		UPDATE transfer_records
		SET blockchain_status = 'submitted',
		    blockchain_signature = $2,
		    original_tx_signature = COALESCE(original_tx_signature, $2),
		    blockhash_used = $3,
		    last_error_type = 'none',
		    last_error_message = NULL,
		    updated_at = now()
		WHERE id = $1 AND blockchain_status = 'processing'`
	return r.execExpectingOneRow(ctx, query, id, signature, blockhash)
}

// ScheduleRetry records a submission failure, bumps retry_count, and sets
// next_retry_at according to the worker's backoff policy. If retryCount
// would exceed models.MaxRetries the caller should call MarkFailed
// instead (invariant 5).
func (r *TransferRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, errType models.ErrorType, errMsg string, nextRetryAt time.Time) error {
	query := `
		UPDATE transfer_records
		SET blockchain_status = 'pending_submission',
		    last_error_type = $2,
		    last_error_message = $3,
		    retry_count = retry_count + 1,
		    next_retry_at = $4,
		    updated_at = now()
		WHERE id = $1 AND blockchain_status = 'processing'`
	return r.execExpectingOneRow(ctx, query, id, errType, errMsg, nextRetryAt)
}

// RecordSubmissionIntent persists the deterministic original_tx_signature
// and blockhash_used for a claimed row BEFORE the chain submit call goes
// out (spec §4.5.3). This ordering is what makes the double-spend check
// (§4.5.6) and the Reconciliation Crank (§4.7) able to find a transaction
// that landed even if the worker crashes between the submit RPC returning
// and MarkSubmitted committing (§8.5) — without it, SweepStuckProcessing
// would blindly reset the row to pending_submission and a fresh submit
// would land a second signature. original_tx_signature is set only once
// (invariant 3); a retried row reusing the same claim keeps its original
// value untouched via COALESCE.
func (r *TransferRepository) RecordSubmissionIntent(ctx context.Context, id uuid.UUID, originalSignature, blockhash string) error {
	query := `
		UPDATE transfer_records
		SET original_tx_signature = COALESCE(original_tx_signature, $2),
		    blockhash_used = $3,
		    updated_at = now()
		WHERE id = $1 AND blockchain_status = 'processing'`
	return r.execExpectingOneRow(ctx, query, id, originalSignature, blockhash)
}

// MarkFailed transitions a record to the terminal failed state (retry
// budget exhausted or a fatal chain error).
func (r *TransferRepository) MarkFailed(ctx context.Context, id uuid.UUID, errType models.ErrorType, errMsg string) error {
	query := `
		UPDATE transfer_records
		SET blockchain_status = 'failed', last_error_type = $2, last_error_message = $3, updated_at = now()
		WHERE id = $1 AND blockchain_status NOT IN ('confirmed', 'failed', 'expired', 'rejected')`
	return r.execExpectingOneRow(ctx, query, id, errType, errMsg)
}

// ============================================================================
// RECONCILIATION CRANK / WEBHOOK INGESTOR (spec §4.7, §4.8)
// ============================================================================

// MarkConfirmed transitions a submitted record to the terminal confirmed
// state. Idempotent: applying it twice to an already-confirmed record is
// a no-op, not an error (spec §4.7/§4.8 "idempotent").
func (r *TransferRepository) MarkConfirmed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE transfer_records
		SET blockchain_status = 'confirmed', updated_at = now()
		WHERE id = $1 AND blockchain_status = 'submitted'`
	_, err := r.client.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark transfer confirmed: %w", err)
	}
	return nil
}

// MarkExpired transitions a submitted record whose blockhash is no longer
// valid and was never landed on-chain to the terminal expired state.
func (r *TransferRepository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE transfer_records
		SET blockchain_status = 'expired', updated_at = now()
		WHERE id = $1 AND blockchain_status = 'submitted'`
	_, err := r.client.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark transfer expired: %w", err)
	}
	return nil
}

// GetStaleSubmitted returns submitted records that have not updated in
// longer than staleAfter — candidates for the Reconciliation Crank
// (spec §4.7).
func (r *TransferRepository) GetStaleSubmitted(ctx context.Context, staleAfter time.Duration, limit int) ([]*models.TransferRecord, error) {
	query := `
		SELECT ` + selectTransferColumns + `
		FROM transfer_records
		WHERE blockchain_status = 'submitted' AND updated_at <= $1
		ORDER BY updated_at ASC
		LIMIT $2`

	rows, err := r.client.QueryContext(ctx, query, time.Now().Add(-staleAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale submitted transfers: %w", err)
	}
	defer rows.Close()

	var records []*models.TransferRecord
	for rows.Next() {
		rec, err := scanTransferRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale transfer: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SweepStuckProcessing resets rows wedged in blockchain_status=processing
// past stuckAfter back to pending_submission — a worker crashed mid-claim
// before it could record submit success or failure. Folded into the
// Submission Worker's own poll tick rather than a separate operator task.
func (r *TransferRepository) SweepStuckProcessing(ctx context.Context, stuckAfter time.Duration) (int64, error) {
	query := `
		UPDATE transfer_records
		SET blockchain_status = 'pending_submission', updated_at = now()
		WHERE blockchain_status = 'processing' AND updated_at <= $1`

	result, err := r.client.ExecContext(ctx, query, time.Now().Add(-stuckAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stuck transfers: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (r *TransferRepository) execExpectingOneRow(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.client.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute transfer update: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrIllegalTransition
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation, regardless of which constraint name is involved.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key value")
}
