// Copyright 2025 Certen Protocol
//
// Package webhook implements the Webhook Ingestor (spec §4.8, §6.6):
// authenticated, idempotent processing of RPC-provider push
// confirmations.
package webhook

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/apierr"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/database"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
)

// Event is a parsed provider confirmation payload.
type Event struct {
	Signature string
	ChainErr  string // non-empty if the provider reports on-chain failure
}

// Ingestor is the Webhook Ingestor.
type Ingestor struct {
	store        *database.TransferRepository
	sharedSecret string
	strict       bool // false reproduces QuickNode's lenient log-not-reject path
	logger       *log.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets a custom logger for the ingestor.
func WithLogger(logger *log.Logger) Option {
	return func(i *Ingestor) { i.logger = logger }
}

// Lenient switches off strict authentication, logging a mismatch instead
// of rejecting it. The spec (§9 open question) explicitly requires
// strict-by-default; this exists only for deployments that opt into the
// QuickNode-style lenient path deliberately.
func Lenient() Option {
	return func(i *Ingestor) { i.strict = false }
}

// New constructs an Ingestor authenticated against sharedSecret. Strict
// exact-match is the default per spec §9's resolution of the
// Helius-vs-QuickNode open question.
func New(store *database.TransferRepository, sharedSecret string, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:        store,
		sharedSecret: sharedSecret,
		strict:       true,
		logger:       log.New(log.Writer(), "[WebhookIngestor] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Authenticate verifies presentedSecret via constant-time exact byte
// comparison against the configured shared secret (spec §4.8 step 1).
func (i *Ingestor) Authenticate(presentedSecret string) error {
	match := subtle.ConstantTimeCompare([]byte(presentedSecret), []byte(i.sharedSecret)) == 1
	if match {
		return nil
	}
	if i.strict {
		return apierr.New(apierr.KindAuthentication, "webhook shared secret mismatch")
	}
	i.logger.Printf("webhook shared secret mismatch, accepting anyway (lenient mode)")
	return nil
}

// Process handles a single confirmation event. It is safe to call
// multiple times with the same event (spec §4.8 "must be idempotent").
func (i *Ingestor) Process(ctx context.Context, event Event) error {
	rec, err := i.store.GetByBlockchainSignature(ctx, event.Signature)
	if err == database.ErrTransferNotFound {
		// Not our traffic; the signature doesn't match any tracked record.
		i.logger.Printf("ignoring webhook event for unknown signature %s", event.Signature)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up transfer for webhook event: %w", err)
	}

	if rec.BlockchainStatus.Terminal() {
		// Already resolved by a prior delivery or the crank: a no-op.
		return nil
	}

	if event.ChainErr != "" {
		return i.store.MarkFailed(ctx, rec.ID, models.ErrorTypeTransactionFailed, event.ChainErr)
	}
	return i.store.MarkConfirmed(ctx, rec.ID)
}
