// Package models defines the aggregates the relayer core owns: the
// transfer record outbox, blocklist entries, and cached risk profiles.
package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ComplianceStatus is the compliance screening outcome for a TransferRecord.
type ComplianceStatus string

const (
	ComplianceStatusPending  ComplianceStatus = "pending"
	ComplianceStatusApproved ComplianceStatus = "approved"
	ComplianceStatusRejected ComplianceStatus = "rejected"
)

// BlockchainStatus is the on-chain lifecycle state of a TransferRecord.
// See spec §4.6 for the legal transition table.
type BlockchainStatus string

const (
	BlockchainStatusReceived          BlockchainStatus = "received"
	BlockchainStatusPendingSubmission BlockchainStatus = "pending_submission"
	BlockchainStatusProcessing        BlockchainStatus = "processing"
	BlockchainStatusSubmitted         BlockchainStatus = "submitted"
	BlockchainStatusConfirmed         BlockchainStatus = "confirmed"
	BlockchainStatusFailed            BlockchainStatus = "failed"
	BlockchainStatusExpired           BlockchainStatus = "expired"
	BlockchainStatusRejected          BlockchainStatus = "rejected"
)

// Terminal reports whether s is a terminal state per spec §4.6 / invariant 6.
func (s BlockchainStatus) Terminal() bool {
	switch s {
	case BlockchainStatusConfirmed, BlockchainStatusFailed, BlockchainStatusExpired, BlockchainStatusRejected:
		return true
	default:
		return false
	}
}

// ErrorType classifies the most recent submission failure for a record.
type ErrorType string

const (
	ErrorTypeNone             ErrorType = "none"
	ErrorTypeJitoStateUnknown ErrorType = "jito_state_unknown"
	ErrorTypeJitoBundleFailed ErrorType = "jito_bundle_failed"
	ErrorTypeTransactionFailed ErrorType = "transaction_failed"
	ErrorTypeNetworkError     ErrorType = "network_error"
	ErrorTypeValidationError  ErrorType = "validation_error"
)

// TransferKind tags the variant carried in TransferDetails.
type TransferKind string

const (
	TransferKindPublic       TransferKind = "public"
	TransferKindConfidential TransferKind = "confidential"
)

// TransferDetails is the tagged Public/Confidential payload of spec §3.
// Confidential fields are opaque byte blobs the core never interprets
// (spec §1 Non-goals, §9 "proof-handling details are opaque to this core").
type TransferDetails struct {
	Kind TransferKind

	// Public
	Amount uint64

	// Confidential — all opaque, base64 on the wire, raw bytes here.
	EqualityProof                    []byte
	CiphertextValidityProof          []byte
	RangeProof                       []byte
	NewDecryptableAvailableBalance []byte
}

// AmountPart renders the canonical-message amount segment (spec §4.1/§6.2).
func (d TransferDetails) AmountPart() string {
	if d.Kind == TransferKindConfidential {
		return "confidential"
	}
	return formatUint64(d.Amount)
}

func formatUint64(v uint64) string {
	// avoids importing strconv twice across the package; kept local and trivial.
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// TransferRecord is the single aggregate the core owns (spec §3).
type TransferRecord struct {
	ID                  uuid.UUID
	FromAddress         string
	ToAddress           string
	TransferDetails     TransferDetails
	TokenMint           sql.NullString
	Nonce               string
	ClientSignature     string
	ComplianceStatus    ComplianceStatus
	BlockchainStatus    BlockchainStatus
	BlockchainSignature sql.NullString
	OriginalTxSignature sql.NullString
	BlockhashUsed       sql.NullString
	LastErrorType       ErrorType
	RetryCount          int
	NextRetryAt         sql.NullTime
	LastErrorMessage    sql.NullString
	ComplianceReason    sql.NullString
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// MaxRetries bounds retry_count per spec §3 invariant 5.
const MaxRetries = 10

// BlocklistEntry is an address flagged as non-transactable (spec §3).
type BlocklistEntry struct {
	Address   string
	Reason    string
	CreatedAt time.Time
}

// RiskProfile is a cached external risk-provider lookup (spec §6.7),
// reused within its TTL instead of calling the provider again.
type RiskProfile struct {
	Address   string
	RiskScore int
	RiskLevel string
	Reasoning string
	FetchedAt time.Time
}

// RiskProfileTTL is the cache validity window for a RiskProfile.
const RiskProfileTTL = time.Hour
