// Copyright 2025 Certen Protocol
//
// HTTP handlers for the relayer's two ingress points: transfer
// submission (Intake Service) and webhook confirmation (Webhook
// Ingestor). The router, middleware (rate limiting, CORS, OpenAPI), and
// health endpoints are deliberately out of scope (spec §1).

package server

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/apierr"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/intake"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/webhook"
)

// TransferHandlers serves the Intake Service's HTTP surface.
type TransferHandlers struct {
	intake *intake.Service
	logger *log.Logger
}

// NewTransferHandlers constructs TransferHandlers.
func NewTransferHandlers(intakeSvc *intake.Service, logger *log.Logger) *TransferHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[TransferAPI] ", log.LstdFlags)
	}
	return &TransferHandlers{intake: intakeSvc, logger: logger}
}

// submitTransferDetails mirrors the wire shape of spec §6.1's
// transfer_details tagged variant.
type submitTransferDetails struct {
	Type                           string `json:"type"`
	Amount                         uint64 `json:"amount,omitempty"`
	EqualityProof                  string `json:"equality_proof,omitempty"`
	CiphertextValidityProof        string `json:"ciphertext_validity_proof,omitempty"`
	RangeProof                     string `json:"range_proof,omitempty"`
	NewDecryptableAvailableBalance string `json:"new_decryptable_available_balance,omitempty"`
}

type submitTransferRequest struct {
	FromAddress     string                `json:"from_address"`
	ToAddress       string                `json:"to_address"`
	TransferDetails submitTransferDetails `json:"transfer_details"`
	TokenMint       string                `json:"token_mint"`
	Signature       string                `json:"signature"`
	Nonce           string                `json:"nonce"`
}

// transferResponse mirrors spec §6.1's record shape on the wire. It
// exists so sql.NullString/sql.NullTime fields on models.TransferRecord
// never leak their {"String":...,"Valid":...} representation into the
// API response; unset fields are simply omitted.
type transferResponse struct {
	ID                  string `json:"id"`
	FromAddress         string `json:"from_address"`
	ToAddress           string `json:"to_address"`
	TokenMint           string `json:"token_mint,omitempty"`
	Nonce               string `json:"nonce"`
	ComplianceStatus    string `json:"compliance_status"`
	BlockchainStatus    string `json:"blockchain_status"`
	BlockchainSignature string `json:"blockchain_signature,omitempty"`
	OriginalTxSignature string `json:"original_tx_signature,omitempty"`
	RetryCount          int    `json:"retry_count"`
	LastErrorMessage    string `json:"last_error_message,omitempty"`
	ComplianceReason    string `json:"compliance_reason,omitempty"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

func newTransferResponse(rec *models.TransferRecord) transferResponse {
	return transferResponse{
		ID:                  rec.ID.String(),
		FromAddress:         rec.FromAddress,
		ToAddress:           rec.ToAddress,
		TokenMint:           rec.TokenMint.String,
		Nonce:               rec.Nonce,
		ComplianceStatus:    string(rec.ComplianceStatus),
		BlockchainStatus:    string(rec.BlockchainStatus),
		BlockchainSignature: rec.BlockchainSignature.String,
		OriginalTxSignature: rec.OriginalTxSignature.String,
		RetryCount:          rec.RetryCount,
		LastErrorMessage:    rec.LastErrorMessage.String,
		ComplianceReason:    rec.ComplianceReason.String,
		CreatedAt:           rec.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:           rec.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// HandleSubmitTransfer handles POST /v1/transfers (spec §6.1).
func (h *TransferHandlers) HandleSubmitTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, apierr.New(apierr.KindValidation, "only POST is allowed"))
		return
	}

	var body submitTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, apierr.Wrap(apierr.KindValidation, "malformed request body", err))
		return
	}

	details, err := decodeTransferDetails(body.TransferDetails)
	if err != nil {
		h.writeError(w, apierr.Wrap(apierr.KindValidation, "invalid transfer_details", err))
		return
	}

	req := &intake.Request{
		FromAddress:     body.FromAddress,
		ToAddress:       body.ToAddress,
		TransferDetails: details,
		TokenMint:       body.TokenMint,
		Signature:       body.Signature,
		Nonce:           body.Nonce,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	}

	record, err := h.intake.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newTransferResponse(record))
}

func decodeTransferDetails(d submitTransferDetails) (models.TransferDetails, error) {
	if d.Type == "confidential" {
		eq, err := base64.StdEncoding.DecodeString(d.EqualityProof)
		if err != nil {
			return models.TransferDetails{}, err
		}
		cv, err := base64.StdEncoding.DecodeString(d.CiphertextValidityProof)
		if err != nil {
			return models.TransferDetails{}, err
		}
		rp, err := base64.StdEncoding.DecodeString(d.RangeProof)
		if err != nil {
			return models.TransferDetails{}, err
		}
		bal, err := base64.StdEncoding.DecodeString(d.NewDecryptableAvailableBalance)
		if err != nil {
			return models.TransferDetails{}, err
		}
		return models.TransferDetails{
			Kind:                           models.TransferKindConfidential,
			EqualityProof:                  eq,
			CiphertextValidityProof:        cv,
			RangeProof:                     rp,
			NewDecryptableAvailableBalance: bal,
		}, nil
	}
	return models.TransferDetails{Kind: models.TransferKindPublic, Amount: d.Amount}, nil
}

// WebhookHandlers serves the Webhook Ingestor's HTTP surface.
type WebhookHandlers struct {
	ingestor  *webhook.Ingestor
	secretHdr string
	logger    *log.Logger
}

// NewWebhookHandlers constructs WebhookHandlers. secretHeader is the
// header name the provider presents its shared secret in.
func NewWebhookHandlers(ingestor *webhook.Ingestor, secretHeader string, logger *log.Logger) *WebhookHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[WebhookAPI] ", log.LstdFlags)
	}
	return &WebhookHandlers{ingestor: ingestor, secretHdr: secretHeader, logger: logger}
}

type webhookPayload struct {
	Signature string `json:"signature"`
	Err       string `json:"error,omitempty"`
}

// HandleWebhook handles POST /v1/webhooks/confirmations (spec §6.6).
func (h *WebhookHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, apierr.New(apierr.KindValidation, "only POST is allowed"))
		return
	}

	if err := h.ingestor.Authenticate(r.Header.Get(h.secretHdr)); err != nil {
		h.writeError(w, err)
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, apierr.Wrap(apierr.KindValidation, "malformed webhook payload", err))
		return
	}

	if err := h.ingestor.Process(r.Context(), webhook.Event{Signature: payload.Signature, ChainErr: payload.Err}); err != nil {
		h.writeError(w, apierr.Wrap(apierr.KindInternal, "failed to process webhook event", err))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ============================================================================
// SHARED HELPERS
// ============================================================================

func (h *TransferHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("error encoding response: %v", err)
	}
}

// writeError renders the error envelope of spec §6.3, mapping the
// error's Kind to its HTTP status per §7.
func (h *TransferHandlers) writeError(w http.ResponseWriter, err error) {
	ae, ok := apierr.As(err)
	if !ok {
		ae = apierr.Wrap(apierr.KindInternal, "unexpected error", err)
	}
	h.writeJSON(w, ae.HTTPStatus(), map[string]interface{}{
		"error": map[string]string{
			"type":    string(ae.Kind),
			"message": ae.Message,
		},
	})
}

func (h *WebhookHandlers) writeError(w http.ResponseWriter, err error) {
	ae, ok := apierr.As(err)
	if !ok {
		ae = apierr.Wrap(apierr.KindInternal, "unexpected error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"type":    string(ae.Kind),
			"message": ae.Message,
		},
	})
}
