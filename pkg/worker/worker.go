// Copyright 2025 Certen Protocol
//
// Submission Worker - claims approved transfer records and drives them
// through build, sign, submit, and retry (spec §4.5).
//
// The worker:
// - Runs a ticker-driven claim loop (default every 10s)
// - Atomically claims a batch via the store's SKIP LOCKED query
// - Builds, signs, and submits each claimed record
// - Applies exponential backoff with jitter on retriable failures
// - Sweeps rows stuck in Processing back to PendingSubmission

package worker

import (
	"context"
	"crypto/rand"
	"log"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/apierr"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/chainrpc"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/database"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/signer"
)

// State represents the current state of the worker.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// ChainRPC is the subset of *chainrpc.Client the worker depends on.
type ChainRPC interface {
	GetLatestBlockhash(ctx context.Context) (string, error)
	IsBlockhashValid(ctx context.Context, bh string) (bool, error)
	SubmitTransaction(ctx context.Context, serialized []byte, skipPreflight bool) (string, error)
	SubmitBundle(ctx context.Context, serialized []byte, tipLamports uint64) (string, error)
	GetSignatureStatus(ctx context.Context, signature string) (*chainrpc.StatusResult, error)
}

// Config configures the Submission Worker.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	RetryBase    time.Duration
	RetryCap     time.Duration
	RetryJitter  float64
	StuckAfter   time.Duration
	MEVProtected bool
	TipLamports  uint64
	Logger       *log.Logger
}

// DefaultConfig returns the configuration spec §4.5/§5 describes as defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 10 * time.Second,
		BatchSize:    10,
		MaxRetries:   models.MaxRetries,
		RetryBase:    5 * time.Second,
		RetryCap:     5 * time.Minute,
		RetryJitter:  0.3,
		StuckAfter:   10 * time.Minute,
		Logger:       log.New(log.Writer(), "[SubmissionWorker] ", log.LstdFlags),
	}
}

// SignatureSubscriber is the optional websocket fast path; a nil value
// disables it and leaves resolution entirely to the webhook ingestor and
// reconciliation crank.
type SignatureSubscriber interface {
	Await(ctx context.Context, signature string) (*chainrpc.StatusResult, error)
}

// Worker is the Submission Worker.
type Worker struct {
	mu sync.RWMutex

	store      *database.TransferRepository
	chain      ChainRPC
	issuer     *signer.IssuerKey
	subscriber SignatureSubscriber
	cfg        *Config

	state  State
	stopCh chan struct{}
	doneCh chan struct{}

	logger *log.Logger
}

// New constructs a Worker. cfg may be nil to take DefaultConfig().
func New(store *database.TransferRepository, chain ChainRPC, issuer *signer.IssuerKey, cfg *Config) *Worker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[SubmissionWorker] ", log.LstdFlags)
	}
	return &Worker{
		store:  store,
		chain:  chain,
		issuer: issuer,
		cfg:    cfg,
		state:  StateStopped,
		logger: cfg.Logger,
	}
}

// WithSignatureSubscriber enables the websocket fast-confirmation path.
func (w *Worker) WithSignatureSubscriber(sub SignatureSubscriber) *Worker {
	w.subscriber = sub
	return w
}

// Start begins the worker's poll loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateRunning {
		return nil
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.state = StateRunning

	go w.run(ctx)

	w.logger.Printf("started (poll_interval=%s, batch_size=%d)", w.cfg.PollInterval, w.cfg.BatchSize)
	return nil
}

// Stop signals the worker to finish its current tick and exit. It does
// not abandon an in-flight claim — the row either completes its
// transition or stays Processing until the stuck-row sweep resets it
// (spec §5, "no in-flight claim is abandoned silently").
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return nil
	}
	close(w.stopCh)
	w.state = StateStopped
	w.mu.Unlock()

	<-w.doneCh
	w.logger.Println("stopped")
	return nil
}

// State returns the current worker state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if n, err := w.store.SweepStuckProcessing(ctx, w.cfg.StuckAfter); err != nil {
		w.logger.Printf("stuck-row sweep failed: %v", err)
	} else if n > 0 {
		w.logger.Printf("reset %d stuck processing rows to pending_submission", n)
	}

	records, err := w.store.ClaimBatch(ctx, w.cfg.BatchSize, w.cfg.MaxRetries)
	if err != nil {
		if err != database.ErrNoClaimableTransfers {
			w.logger.Printf("claim failed: %v", err)
		}
		return
	}

	for _, rec := range records {
		w.processOne(ctx, rec)
	}
}

// processOne drives a single claimed record through §4.5's per-record
// processing steps.
func (w *Worker) processOne(ctx context.Context, rec *models.TransferRecord) {
	// Double-spend safety: a prior attempt may have landed without the
	// worker recording it (spec §4.5.6). Any row with a recorded
	// original_tx_signature — an ambiguous bundle result, a failed submit,
	// or a row reset by the stuck-row sweep — is checked on chain first.
	if rec.OriginalTxSignature.Valid {
		resolved, retry := w.reconcileAmbiguous(ctx, rec)
		if resolved {
			return
		}
		if !retry {
			return
		}
	}

	blockhash, err := w.chain.GetLatestBlockhash(ctx)
	if err != nil {
		w.retryOrFail(ctx, rec, models.ErrorTypeNetworkError, err.Error())
		return
	}

	serialized, originalSignature, err := w.buildTransaction(rec, blockhash)
	if err != nil {
		w.store.MarkFailed(ctx, rec.ID, models.ErrorTypeValidationError, err.Error())
		return
	}

	// Persist the deterministic signature before the submit call goes out
	// (spec §4.5.3): this is what lets the double-spend check (§4.5.6) and
	// the Reconciliation Crank (§4.7) find a transaction that landed even
	// if the worker crashes between the submit RPC returning and
	// MarkSubmitted committing (§8.5).
	if err := w.store.RecordSubmissionIntent(ctx, rec.ID, originalSignature, blockhash); err != nil {
		w.logger.Printf("failed to record submission intent for %s: %v", rec.ID, err)
		w.retryOrFail(ctx, rec, models.ErrorTypeNetworkError, err.Error())
		return
	}

	var signature string
	var submitErr error
	if w.cfg.MEVProtected {
		tipAccount, tipErr := chainrpc.RandomTipAccount()
		if tipErr != nil {
			w.retryOrFail(ctx, rec, models.ErrorTypeNetworkError, tipErr.Error())
			return
		}
		_ = tipAccount // selected but unused: buildTransaction adds no tip instruction
		signature, submitErr = w.chain.SubmitBundle(ctx, serialized, w.cfg.TipLamports)
		if submitErr != nil {
			// No-leak rule (spec §4.5): a bundle failure never falls
			// back to public submission.
			if ae, ok := apierr.As(submitErr); ok && ae.Kind == apierr.KindBlockchainTransient {
				w.retryOrFail(ctx, rec, models.ErrorTypeJitoBundleFailed, submitErr.Error())
				return
			}
			w.store.MarkFailed(ctx, rec.ID, models.ErrorTypeJitoBundleFailed, submitErr.Error())
			return
		}
	} else {
		signature, submitErr = w.chain.SubmitTransaction(ctx, serialized, false)
		if submitErr != nil {
			w.retryOrFail(ctx, rec, models.ErrorTypeTransactionFailed, submitErr.Error())
			return
		}
	}

	if err := w.store.MarkSubmitted(ctx, rec.ID, signature, blockhash); err != nil {
		w.logger.Printf("failed to record submission for %s: %v", rec.ID, err)
	}

	if w.subscriber != nil {
		go w.awaitFastConfirmation(rec.ID, signature)
	}
}

// awaitFastConfirmation is a best-effort optimization: it races the
// webhook ingestor and reconciliation crank to resolve a submitted row
// sooner. Any failure here is silently dropped — the crank's 90s stale
// sweep (spec §4.7) is the correctness backstop, not this goroutine.
func (w *Worker) awaitFastConfirmation(id uuid.UUID, signature string) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	status, err := w.subscriber.Await(ctx, signature)
	if err != nil {
		return
	}

	switch status.Status {
	case chainrpc.SignatureStatusFinalized:
		if err := w.store.MarkConfirmed(ctx, id); err != nil {
			w.logger.Printf("fast-path failed to mark %s confirmed: %v", id, err)
		}
	case chainrpc.SignatureStatusFailed:
		if err := w.store.MarkFailed(ctx, id, models.ErrorTypeTransactionFailed, status.Err); err != nil {
			w.logger.Printf("fast-path failed to mark %s failed: %v", id, err)
		}
	}
}

// reconcileAmbiguous resolves a previously-ambiguous bundle result by
// checking the chain for original_tx_signature before attempting a new
// submission (spec §4.5.6). Returns resolved=true if the record was
// handled here (confirmed, or rescheduled without resubmission),
// retry=true if the caller should proceed to build a fresh transaction.
func (w *Worker) reconcileAmbiguous(ctx context.Context, rec *models.TransferRecord) (resolved bool, retry bool) {
	sig := rec.OriginalTxSignature.String
	status, err := w.chain.GetSignatureStatus(ctx, sig)
	if err != nil {
		// Status RPC errored: reschedule, do not re-submit.
		w.retryOrFail(ctx, rec, models.ErrorTypeJitoStateUnknown, err.Error())
		return true, false
	}

	switch status.Status {
	case chainrpc.SignatureStatusFinalized:
		// The claimed row is processing; MarkConfirmed only matches
		// submitted rows, so record the landed signature first.
		if err := w.store.MarkSubmitted(ctx, rec.ID, sig, rec.BlockhashUsed.String); err != nil {
			w.logger.Printf("failed to record landed signature for %s during reconciliation: %v", rec.ID, err)
			return true, false
		}
		if err := w.store.MarkConfirmed(ctx, rec.ID); err != nil {
			w.logger.Printf("failed to mark %s confirmed during reconciliation: %v", rec.ID, err)
		}
		return true, false
	case chainrpc.SignatureStatusFailed:
		return false, true
	default: // SignatureStatusNone
		valid, validErr := w.chain.IsBlockhashValid(ctx, rec.BlockhashUsed.String)
		if validErr != nil {
			w.retryOrFail(ctx, rec, models.ErrorTypeJitoStateUnknown, validErr.Error())
			return true, false
		}
		if valid {
			// Not found, blockhash still valid: do not resubmit yet.
			w.retryOrFail(ctx, rec, models.ErrorTypeJitoStateUnknown, "awaiting chain confirmation")
			return true, false
		}
		// Not found, blockhash expired: safe to retry with a new blockhash.
		return false, true
	}
}

func (w *Worker) retryOrFail(ctx context.Context, rec *models.TransferRecord, errType models.ErrorType, errMsg string) {
	// Boundary per spec §8: retry_count == MaxRetries-1 still gets one
	// more attempt (count becomes MaxRetries); retry_count == MaxRetries
	// already exhausted its budget and goes terminal.
	if rec.RetryCount >= w.cfg.MaxRetries {
		if err := w.store.MarkFailed(ctx, rec.ID, errType, errMsg); err != nil {
			w.logger.Printf("failed to mark %s failed: %v", rec.ID, err)
		}
		return
	}

	next := w.nextRetryAt(rec.RetryCount)
	if err := w.store.ScheduleRetry(ctx, rec.ID, errType, errMsg, next); err != nil {
		w.logger.Printf("failed to schedule retry for %s: %v", rec.ID, err)
	}
}

// nextRetryAt computes the exponential-backoff-with-jitter delay from
// spec §4.5: base × 2^retry_count, capped, ±jitter fraction.
func (w *Worker) nextRetryAt(retryCount int) time.Time {
	backoff := float64(w.cfg.RetryBase) * math.Pow(2, float64(retryCount))
	if cap := float64(w.cfg.RetryCap); backoff > cap {
		backoff = cap
	}

	jitterRange := backoff * w.cfg.RetryJitter
	offset, err := rand.Int(rand.Reader, big.NewInt(int64(2*jitterRange)+1))
	var jitter float64
	if err == nil {
		jitter = float64(offset.Int64()) - jitterRange
	}

	return time.Now().Add(time.Duration(backoff + jitter))
}

// buildTransaction constructs the chain transaction bytes for rec bound
// to blockhash, along with the deterministic signature that identifies
// this transaction (spec §4.5.3). The signature is the issuer's Ed25519
// signature over the message+blockhash — computed locally, so it is
// known before any RPC call goes out and is stable across retries that
// reuse the same blockhash. Proof bytes for confidential transfers are
// carried opaque; the worker never interprets them (spec §1 Non-goals,
// §9).
func (w *Worker) buildTransaction(rec *models.TransferRecord, blockhash string) (serialized []byte, originalSignature string, err error) {
	message := signer.CanonicalMessage(rec.FromAddress, rec.ToAddress, rec.TransferDetails, rec.TokenMint.String, rec.Nonce)
	issuerSig := w.issuer.Sign(append(message, []byte(blockhash)...))

	// The wire format of the actual Solana transaction (account list,
	// instruction data, compiled message) is owned by the chain adapter
	// layer this worker calls into; here the worker assembles the byte
	// payload that SubmitTransaction/SubmitBundle forward unmodified.
	payload := make([]byte, 0, len(message)+len(issuerSig)+len(blockhash))
	payload = append(payload, []byte(blockhash)...)
	payload = append(payload, message...)
	payload = append(payload, issuerSig...)
	return payload, base58.Encode(issuerSig), nil
}
