// Copyright 2025 Certen Protocol
//
// Reconciliation Crank - self-healing fallback for missed webhook
// confirmations (spec §4.7).
//
// The crank:
// - Periodically polls for stale Submitted rows
// - Queries the chain RPC for signature finality
// - Resolves rows to Confirmed, Failed, or Expired
// - Is idempotent: running it twice never re-confirms or double-counts

package crank

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/chainrpc"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/database"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
)

// ChainRPC is the subset of *chainrpc.Client the crank depends on.
type ChainRPC interface {
	GetSignatureStatus(ctx context.Context, signature string) (*chainrpc.StatusResult, error)
	IsBlockhashValid(ctx context.Context, bh string) (bool, error)
}

// Config configures the Reconciliation Crank.
type Config struct {
	CrankInterval time.Duration
	StaleAfter    time.Duration
	BatchSize     int
	Logger        *log.Logger
}

// DefaultConfig returns the defaults spec §4.7 describes.
func DefaultConfig() *Config {
	return &Config{
		CrankInterval: 60 * time.Second,
		StaleAfter:    90 * time.Second,
		BatchSize:     50,
		Logger:        log.New(log.Writer(), "[ReconciliationCrank] ", log.LstdFlags),
	}
}

// Crank is the Reconciliation Crank.
type Crank struct {
	mu sync.RWMutex

	store *database.TransferRepository
	chain ChainRPC
	cfg   *Config

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	logger *log.Logger
}

// New constructs a Crank. cfg may be nil to take DefaultConfig().
func New(store *database.TransferRepository, chain ChainRPC, cfg *Config) *Crank {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[ReconciliationCrank] ", log.LstdFlags)
	}
	return &Crank{store: store, chain: chain, cfg: cfg, logger: cfg.Logger}
}

// Start begins the crank's poll loop.
func (c *Crank) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true
	c.mu.Unlock()

	go c.run(ctx)

	c.logger.Printf("started (crank_interval=%s, stale_after=%s)", c.cfg.CrankInterval, c.cfg.StaleAfter)
	return nil
}

// Stop stops the crank.
func (c *Crank) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	close(c.stopCh)
	c.running = false
	c.mu.Unlock()

	<-c.doneCh
	c.logger.Println("stopped")
	return nil
}

func (c *Crank) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.cfg.CrankInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce runs a single reconciliation pass over stale Submitted
// rows (spec §4.7). Exported so tests and a manual operator trigger can
// call it directly without waiting on the ticker.
func (c *Crank) ReconcileOnce(ctx context.Context) {
	records, err := c.store.GetStaleSubmitted(ctx, c.cfg.StaleAfter, c.cfg.BatchSize)
	if err != nil {
		c.logger.Printf("failed to query stale submitted transfers: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}

	c.logger.Printf("reconciling %d stale submitted transfers", len(records))
	for _, rec := range records {
		c.reconcileOne(ctx, rec)
	}
}

func (c *Crank) reconcileOne(ctx context.Context, rec *models.TransferRecord) {
	if !rec.BlockchainSignature.Valid {
		c.logger.Printf("transfer %s is submitted with no blockchain_signature, skipping", rec.ID)
		return
	}

	status, err := c.chain.GetSignatureStatus(ctx, rec.BlockchainSignature.String)
	if err != nil {
		// Status RPC errored: leave untouched (spec §4.7 step 5).
		c.logger.Printf("signature status check failed for %s: %v", rec.ID, err)
		return
	}

	switch status.Status {
	case chainrpc.SignatureStatusFinalized:
		c.markConfirmed(ctx, rec.ID)
	case chainrpc.SignatureStatusFailed:
		c.markFailed(ctx, rec.ID, status.Err)
	default: // SignatureStatusNone
		c.resolveNotFound(ctx, rec)
	}
}

func (c *Crank) resolveNotFound(ctx context.Context, rec *models.TransferRecord) {
	if !rec.BlockhashUsed.Valid {
		return
	}
	valid, err := c.chain.IsBlockhashValid(ctx, rec.BlockhashUsed.String)
	if err != nil {
		c.logger.Printf("blockhash validity check failed for %s: %v", rec.ID, err)
		return
	}
	if valid {
		// Still within its window: leave untouched, try again next tick.
		return
	}

	if err := c.store.MarkExpired(ctx, rec.ID); err != nil {
		c.logger.Printf("failed to mark %s expired: %v", rec.ID, err)
	}
}

func (c *Crank) markConfirmed(ctx context.Context, id uuid.UUID) {
	if err := c.store.MarkConfirmed(ctx, id); err != nil {
		c.logger.Printf("failed to mark %s confirmed: %v", id, err)
	}
}

func (c *Crank) markFailed(ctx context.Context, id uuid.UUID, chainErr string) {
	msg := "on-chain execution failure"
	if chainErr != "" {
		msg = fmt.Sprintf("on-chain execution failure: %s", chainErr)
	}
	if err := c.store.MarkFailed(ctx, id, models.ErrorTypeTransactionFailed, msg); err != nil {
		c.logger.Printf("failed to mark %s failed: %v", id, err)
	}
}
