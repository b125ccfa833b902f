// Copyright 2025 Certen Protocol
//
// Package database provides sentinel errors for repository operations.

package database

import "errors"

// Sentinel errors for database operations
var (
	// ErrTransferNotFound is returned when a transfer record lookup finds no row.
	ErrTransferNotFound = errors.New("transfer record not found")

	// ErrDuplicateTransfer is returned when an insert collides on the
	// (from_address, nonce) uniqueness constraint (spec §3 invariant 2,
	// idempotent intake).
	ErrDuplicateTransfer = errors.New("transfer record already exists for from_address+nonce")

	// ErrNoClaimableTransfers is returned by the atomic claim query when
	// nothing is eligible for submission right now.
	ErrNoClaimableTransfers = errors.New("no claimable transfer records")

	// ErrIllegalTransition is returned when a status update would violate
	// the legal transition table for transfer status.
	ErrIllegalTransition = errors.New("illegal transfer status transition")

	// ErrBlocklistEntryNotFound is returned when a blocklist lookup finds no row.
	ErrBlocklistEntryNotFound = errors.New("blocklist entry not found")

	// ErrRiskProfileNotFound is returned when no cached risk profile exists.
	ErrRiskProfileNotFound = errors.New("risk profile not found")
)
