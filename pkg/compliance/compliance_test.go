// Copyright 2025 Certen Protocol

package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
)

type fakeBlocklist struct {
	blocked map[string]string
	added   map[string]string
}

func newFakeBlocklist() *fakeBlocklist {
	return &fakeBlocklist{blocked: map[string]string{}, added: map[string]string{}}
}

func (f *fakeBlocklist) IsBlocked(address string) (bool, string) {
	reason, ok := f.blocked[address]
	return ok, reason
}

func (f *fakeBlocklist) Add(ctx context.Context, address, reason string) error {
	f.added[address] = reason
	f.blocked[address] = reason
	return nil
}

type fakeRiskProfiles struct {
	profiles map[string]*models.RiskProfile
}

func newFakeRiskProfiles() *fakeRiskProfiles {
	return &fakeRiskProfiles{profiles: map[string]*models.RiskProfile{}}
}

func (f *fakeRiskProfiles) Get(ctx context.Context, address string) (*models.RiskProfile, error) {
	p, ok := f.profiles[address]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

func (f *fakeRiskProfiles) Upsert(ctx context.Context, profile *models.RiskProfile) error {
	f.profiles[profile.Address] = profile
	return nil
}

type fakeRiskProvider struct {
	score     int
	level     string
	reasoning string
	err       error
}

func (f *fakeRiskProvider) Score(ctx context.Context, address string) (int, string, string, error) {
	return f.score, f.level, f.reasoning, f.err
}

func TestScreen_BlocklistedAddressRejectedWithoutProviderCall(t *testing.T) {
	bl := newFakeBlocklist()
	bl.blocked["bad1111111111111111111111111111111111111"] = "known scammer"
	gate := New(bl, newFakeRiskProfiles(), &fakeRiskProvider{err: errors.New("should never be called")}, 6)

	verdict, err := gate.Screen(context.Background(), "bad1111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Reason, "known scammer")
}

func TestScreen_ApprovesLowRiskAddress(t *testing.T) {
	gate := New(newFakeBlocklist(), newFakeRiskProfiles(), &fakeRiskProvider{score: 2, level: "low", reasoning: "clean"}, 6)

	verdict, err := gate.Screen(context.Background(), "addr1")
	require.NoError(t, err)
	assert.True(t, verdict.Approved)
}

func TestScreen_RejectsAboveThresholdAndAutoLearns(t *testing.T) {
	bl := newFakeBlocklist()
	gate := New(bl, newFakeRiskProfiles(), &fakeRiskProvider{score: 8, level: "high", reasoning: "mixer exposure"}, 6)

	verdict, err := gate.Screen(context.Background(), "addr2")
	require.NoError(t, err)
	assert.False(t, verdict.Approved)
	assert.Contains(t, bl.added, "addr2")
}

func TestScreen_TextualOverrideRejectsRegardlessOfScore(t *testing.T) {
	gate := New(newFakeBlocklist(), newFakeRiskProfiles(), &fakeRiskProvider{score: 1, level: "low", reasoning: "flagged as Extremely suspicious wallet"}, 6)

	verdict, err := gate.Screen(context.Background(), "addr3")
	require.NoError(t, err)
	assert.False(t, verdict.Approved)
}

func TestScreen_FailClosedOnProviderError(t *testing.T) {
	bl := newFakeBlocklist()
	gate := New(bl, newFakeRiskProfiles(), &fakeRiskProvider{err: errors.New("provider timeout")}, 6)

	verdict, err := gate.Screen(context.Background(), "addr4")
	require.NoError(t, err)
	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Reason, "provider timeout")
	assert.Contains(t, bl.added, "addr4")
}

func TestScreen_ReusesCachedProfileWithinTTL(t *testing.T) {
	rp := newFakeRiskProfiles()
	rp.profiles["addr5"] = &models.RiskProfile{Address: "addr5", RiskScore: 2, RiskLevel: "low", Reasoning: "cached", FetchedAt: time.Now()}
	gate := New(newFakeBlocklist(), rp, &fakeRiskProvider{err: errors.New("should not be called, cache should serve")}, 6)

	verdict, err := gate.Screen(context.Background(), "addr5")
	require.NoError(t, err)
	assert.True(t, verdict.Approved)
}

func TestMockScore_Tombstone(t *testing.T) {
	score, level, _, err := MockScore("4oS78GPe66RqBduuAeiMFANf27FpmgXNwokZ3ocN4z1B")
	require.NoError(t, err)
	assert.Equal(t, 10, score)
	assert.Equal(t, "critical", level)
}

func TestMockScore_HackPrefix(t *testing.T) {
	score, _, _, err := MockScore("HackerWallet1111111111111111111111111111111")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 9)
}

func TestMockScore_DefaultApprove(t *testing.T) {
	score, level, _, err := MockScore("SomeNormalAddress111111111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, 1, score)
	assert.Equal(t, "low", level)
}
