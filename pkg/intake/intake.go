// Copyright 2025 Certen Protocol
//
// Package intake implements the Intake Service (spec §4.4): the public
// submission entry point that verifies, persists, screens, and
// transitions a transfer record to pending_submission or rejected.
package intake

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/apierr"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/compliance"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/database"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/signer"
)

// nonceRe enforces spec §3's nonce shape: 32-64 chars, alphanumeric/hyphen.
var nonceRe = regexp.MustCompile(`^[A-Za-z0-9-]{32,64}$`)

// Request is the parsed submission request (spec §6.1).
type Request struct {
	FromAddress     string
	ToAddress       string
	TransferDetails models.TransferDetails
	TokenMint       string
	Signature       string
	Nonce           string
	IdempotencyKey  string // "" if the header was absent
}

// Service is the Intake Service.
type Service struct {
	verifier *signer.Verifier
	gate     *compliance.Gate
	store    *database.TransferRepository
}

// New constructs an Intake Service.
func New(verifier *signer.Verifier, gate *compliance.Gate, store *database.TransferRepository) *Service {
	return &Service{verifier: verifier, gate: gate, store: store}
}

// Submit runs the full §4.4 procedure and returns the persisted record.
func (s *Service) Submit(ctx context.Context, req *Request) (*models.TransferRecord, error) {
	if err := s.verifier.Verify(req.FromAddress, req.ToAddress, req.TransferDetails, req.TokenMint, req.Nonce, req.Signature); err != nil {
		return nil, err
	}

	if !nonceRe.MatchString(req.Nonce) {
		return nil, apierr.New(apierr.KindValidation, "nonce must be 32-64 chars of [A-Za-z0-9-]")
	}

	if req.IdempotencyKey != "" && req.IdempotencyKey != req.Nonce {
		return nil, apierr.New(apierr.KindValidation, "Idempotency-Key header must equal nonce")
	}

	record, err := s.store.Create(ctx, &database.NewTransferInput{
		FromAddress:     req.FromAddress,
		ToAddress:       req.ToAddress,
		TransferDetails: req.TransferDetails,
		TokenMint:       req.TokenMint,
		Nonce:           req.Nonce,
		ClientSignature: req.Signature,
	})
	if err != nil {
		if err == database.ErrDuplicateTransfer {
			existing, getErr := s.store.GetByFromAddressAndNonce(ctx, req.FromAddress, req.Nonce)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load existing transfer after duplicate insert: %w", getErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("failed to persist transfer record: %w", err)
	}

	fromVerdict, err := s.gate.Screen(ctx, req.FromAddress)
	if err != nil {
		return nil, fmt.Errorf("compliance screen failed for from_address: %w", err)
	}
	toVerdict := fromVerdict
	if fromVerdict.Approved {
		toVerdict, err = s.gate.Screen(ctx, req.ToAddress)
		if err != nil {
			return nil, fmt.Errorf("compliance screen failed for to_address: %w", err)
		}
	}

	if !fromVerdict.Approved || !toVerdict.Approved {
		reason := fromVerdict.Reason
		if reason == "" {
			reason = toVerdict.Reason
		}
		if err := s.store.SetComplianceRejected(ctx, record.ID, reason); err != nil {
			return nil, fmt.Errorf("failed to record compliance rejection: %w", err)
		}
		record.ComplianceStatus = models.ComplianceStatusRejected
		record.BlockchainStatus = models.BlockchainStatusRejected
		return record, nil
	}

	if err := s.store.SetComplianceApproved(ctx, record.ID); err != nil {
		return nil, fmt.Errorf("failed to record compliance approval: %w", err)
	}
	record.ComplianceStatus = models.ComplianceStatusApproved
	record.BlockchainStatus = models.BlockchainStatusPendingSubmission
	return record, nil
}
