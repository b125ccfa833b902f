// Copyright 2025 Certen Protocol

package blocklist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
)

type fakeStore struct {
	entries map[string]*models.BlocklistEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[string]*models.BlocklistEntry{}}
}

func (f *fakeStore) InsertBlocklistEntry(ctx context.Context, entry *models.BlocklistEntry) error {
	f.entries[entry.Address] = entry
	return nil
}

func (f *fakeStore) ListBlocklistEntries(ctx context.Context) ([]*models.BlocklistEntry, error) {
	out := make([]*models.BlocklistEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) DeleteBlocklistEntry(ctx context.Context, address string) error {
	delete(f.entries, address)
	return nil
}

func TestCache_HydrateLoadsPersistedEntries(t *testing.T) {
	store := newFakeStore()
	store.entries["addr1"] = &models.BlocklistEntry{Address: "addr1", Reason: "sanctioned"}

	cache := New(store)
	require.NoError(t, cache.Hydrate(context.Background()))

	blocked, reason := cache.IsBlocked("addr1")
	assert.True(t, blocked)
	assert.Equal(t, "sanctioned", reason)
}

func TestCache_IsBlocked_UnknownAddress(t *testing.T) {
	cache := New(newFakeStore())
	blocked, _ := cache.IsBlocked("unknown")
	assert.False(t, blocked)
}

func TestCache_Add_PersistsThenCaches(t *testing.T) {
	store := newFakeStore()
	cache := New(store)

	require.NoError(t, cache.Add(context.Background(), "addr2", "auto-learned"))

	blocked, reason := cache.IsBlocked("addr2")
	assert.True(t, blocked)
	assert.Equal(t, "auto-learned", reason)
	assert.Contains(t, store.entries, "addr2")
}

func TestCache_Remove_PersistsThenUncaches(t *testing.T) {
	store := newFakeStore()
	cache := New(store)
	require.NoError(t, cache.Add(context.Background(), "addr3", "auto-learned"))

	require.NoError(t, cache.Remove(context.Background(), "addr3"))

	blocked, _ := cache.IsBlocked("addr3")
	assert.False(t, blocked)
	assert.NotContains(t, store.entries, "addr3")
}

func TestCache_List_ReturnsAllCachedEntries(t *testing.T) {
	cache := New(newFakeStore())
	require.NoError(t, cache.Add(context.Background(), "addr4", "sanctioned"))
	require.NoError(t, cache.Add(context.Background(), "addr5", "sanctioned"))

	entries := cache.List()
	assert.Len(t, entries, 2)
}
