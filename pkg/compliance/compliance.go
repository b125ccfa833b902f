// Copyright 2025 Certen Protocol
//
// Package compliance implements the Compliance Gate (spec §4.3):
// blocklist check, external risk-provider screening with a deterministic
// mock fallback, fail-closed error handling, and auto-learning of
// rejected addresses back into the Blocklist Cache.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
)

// Verdict is the outcome of screening a single address.
type Verdict struct {
	Approved bool
	Reason   string // set only when !Approved
}

// BlocklistCache is the subset of *blocklist.Cache the gate depends on.
type BlocklistCache interface {
	IsBlocked(address string) (blocked bool, reason string)
	Add(ctx context.Context, address, reason string) error
}

// RiskProfileStore caches risk-provider lookups across the configured TTL.
type RiskProfileStore interface {
	Get(ctx context.Context, address string) (*models.RiskProfile, error)
	Upsert(ctx context.Context, profile *models.RiskProfile) error
}

// RiskProvider is the external risk-scoring dependency (spec §6.4).
// A nil RiskProvider makes Gate fall back to the deterministic mock rule
// set below, exactly as an unconfigured provider would in production.
type RiskProvider interface {
	Score(ctx context.Context, address string) (score int, level, reasoning string, err error)
}

// textualOverrides force-rejects regardless of numeric score when the
// combined risk_level + reasoning text contains one of these labels
// (spec §4.3.3).
var textualOverrides = []string{"critical", "high", "severe", "extremely"}

// Gate is the Compliance Gate.
type Gate struct {
	blocklist    BlocklistCache
	riskProfiles RiskProfileStore
	provider     RiskProvider
	threshold    int
}

// New constructs a Gate. provider may be nil, in which case MockScore
// rules apply (spec §6.4 "absent key ⇒ mock mode").
func New(blocklist BlocklistCache, riskProfiles RiskProfileStore, provider RiskProvider, threshold int) *Gate {
	return &Gate{
		blocklist:    blocklist,
		riskProfiles: riskProfiles,
		provider:     provider,
		threshold:    threshold,
	}
}

// Screen runs the full §4.3 decision procedure for a single address.
func (g *Gate) Screen(ctx context.Context, address string) (Verdict, error) {
	if blocked, reason := g.blocklist.IsBlocked(address); blocked {
		return Verdict{Approved: false, Reason: fmt.Sprintf("Blocklist: %s", reason)}, nil
	}

	score, level, reasoning, err := g.scoreWithCache(ctx, address)
	if err != nil {
		// Fail-closed policy (spec §4.3.4): any risk-provider error
		// rejects, with an error-class reason.
		reason := fmt.Sprintf("risk provider error: %v", err)
		if learnErr := g.blocklist.Add(ctx, address, reason); learnErr != nil {
			return Verdict{}, fmt.Errorf("failed to auto-learn rejection for %s: %w", address, learnErr)
		}
		return Verdict{Approved: false, Reason: reason}, nil
	}

	rejected := score >= g.threshold || hasTextualOverride(level, reasoning)
	if !rejected {
		return Verdict{Approved: true}, nil
	}

	reason := fmt.Sprintf("risk score %d (level=%s): %s", score, level, reasoning)
	if err := g.blocklist.Add(ctx, address, reason); err != nil {
		return Verdict{}, fmt.Errorf("failed to auto-learn rejection for %s: %w", address, err)
	}
	return Verdict{Approved: false, Reason: reason}, nil
}

func hasTextualOverride(level, reasoning string) bool {
	combined := strings.ToLower(level + " " + reasoning)
	for _, term := range textualOverrides {
		if strings.Contains(combined, term) {
			return true
		}
	}
	return false
}

// scoreWithCache returns a fresh or TTL-valid cached risk score for address.
func (g *Gate) scoreWithCache(ctx context.Context, address string) (score int, level, reasoning string, err error) {
	if cached, cacheErr := g.riskProfiles.Get(ctx, address); cacheErr == nil {
		if time.Since(cached.FetchedAt) < models.RiskProfileTTL {
			return cached.RiskScore, cached.RiskLevel, cached.Reasoning, nil
		}
	}

	if g.provider != nil {
		score, level, reasoning, err = g.provider.Score(ctx, address)
	} else {
		score, level, reasoning, err = MockScore(address)
	}
	if err != nil {
		return 0, "", "", err
	}

	profile := &models.RiskProfile{
		Address:   address,
		RiskScore: score,
		RiskLevel: level,
		Reasoning: reasoning,
		FetchedAt: time.Now(),
	}
	if upsertErr := g.riskProfiles.Upsert(ctx, profile); upsertErr != nil {
		// A cache-write failure must not block a screening decision.
		return score, level, reasoning, nil
	}
	return score, level, reasoning, nil
}

// mockTombstone is the fixed address the deterministic mock rule set
// always rejects outright (spec §6.4).
const mockTombstone = "4oS78GPe66RqBduuAeiMFANf27FpmgXNwokZ3ocN4z1B"

// MockScore implements the deterministic mock rule set used when no risk
// provider is configured (spec §6.4): reject the fixed tombstone address
// outright, reject any address whose lowercase form starts with "hack",
// otherwise approve.
func MockScore(address string) (score int, level, reasoning string, err error) {
	if address == mockTombstone {
		return 10, "critical", "address matches known-malicious tombstone", nil
	}
	if strings.HasPrefix(strings.ToLower(address), "hack") {
		return 9, "high", "address prefix matches known attacker pattern", nil
	}
	return 1, "low", "no adverse signal in mock rule set", nil
}
