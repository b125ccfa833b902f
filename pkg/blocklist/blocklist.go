// Copyright 2025 Certen Protocol
//
// Package blocklist implements the Blocklist Cache: a fast in-memory
// check of from/to addresses against accounts flagged non-transactable,
// write-through to the Outbox Store so the set survives a restart.

package blocklist

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/database"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
)

const cacheSizeBytes = 32 * 1024 * 1024 // 32MiB, ample for an address blocklist

var blocked = []byte{1}

// Store is the subset of database.Client operations the cache needs,
// so tests can substitute an in-memory fake instead of a live Postgres.
type Store interface {
	InsertBlocklistEntry(ctx context.Context, entry *models.BlocklistEntry) error
	ListBlocklistEntries(ctx context.Context) ([]*models.BlocklistEntry, error)
	DeleteBlocklistEntry(ctx context.Context, address string) error
}

// Cache is a concurrency-safe, write-through blocklist cache.
type Cache struct {
	mu     sync.RWMutex
	fc     *fastcache.Cache
	reason map[string]string
	store  Store
	logger *log.Logger
}

// New constructs an empty Cache backed by store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		fc:     fastcache.New(cacheSizeBytes),
		reason: make(map[string]string),
		store:  store,
		logger: log.New(log.Writer(), "[Blocklist] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets a custom logger for the cache.
func WithLogger(logger *log.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// Hydrate loads every persisted blocklist entry into the in-memory cache.
// Called once at startup so the process never serves a compliance
// decision against an empty cache (spec §4.2 "hydrated from the store
// at startup").
func (c *Cache) Hydrate(ctx context.Context) error {
	entries, err := c.store.ListBlocklistEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to hydrate blocklist cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.fc.Set([]byte(e.Address), blocked)
		c.reason[e.Address] = e.Reason
	}
	c.logger.Printf("hydrated %d blocklist entries", len(entries))
	return nil
}

// IsBlocked reports whether address is currently on the blocklist.
func (c *Cache) IsBlocked(address string) (blocked bool, reason string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.fc.Has([]byte(address)) {
		return false, ""
	}
	return true, c.reason[address]
}

// Add flags address as non-transactable, persisting the entry to the
// store before it becomes visible in the in-memory cache — write-through,
// never write-behind, so a crash between the two never under-reports a
// block (spec §4.2).
func (c *Cache) Add(ctx context.Context, address, reason string) error {
	entry := &models.BlocklistEntry{
		Address:   address,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	if err := c.store.InsertBlocklistEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist blocklist entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fc.Set([]byte(address), []byte{1})
	c.reason[address] = reason
	return nil
}

// Remove un-flags address, persisting the removal to the store before it
// stops being visible in the in-memory cache (same write-through ordering
// as Add, spec §4.2).
func (c *Cache) Remove(ctx context.Context, address string) error {
	if err := c.store.DeleteBlocklistEntry(ctx, address); err != nil {
		return fmt.Errorf("failed to delete blocklist entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fc.Del([]byte(address))
	delete(c.reason, address)
	return nil
}

// List returns every currently blocked address and its reason, read from
// the in-memory cache (spec §4.2).
func (c *Cache) List() []*models.BlocklistEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make([]*models.BlocklistEntry, 0, len(c.reason))
	for address, reason := range c.reason {
		entries = append(entries, &models.BlocklistEntry{Address: address, Reason: reason})
	}
	return entries
}
