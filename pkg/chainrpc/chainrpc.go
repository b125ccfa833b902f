// Copyright 2025 Certen Protocol
//
// Package chainrpc implements the Chain RPC contract (spec §6.5): the
// small set of capabilities the Submission Worker and Reconciliation
// Crank need from a Solana RPC endpoint, plus a tagged-variant dispatch
// over provider-specific fee/bundle behavior (Helius, QuickNode,
// Standard) instead of a deep interface hierarchy (design note, spec §9).
package chainrpc

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/apierr"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/config"
)

// SignatureStatus is the tri-state result of get_signature_status.
type SignatureStatus string

const (
	SignatureStatusNone      SignatureStatus = "none"
	SignatureStatusFinalized SignatureStatus = "finalized"
	SignatureStatusFailed    SignatureStatus = "failed"
)

// StatusResult carries the outcome of a signature status check.
type StatusResult struct {
	Status SignatureStatus
	Err    string // on-chain error text, only set when Status == Failed
}

// Provider is the capability variant a Client dispatches to. The set is
// small and closed {Helius, QuickNode, Standard} — a tagged variant plus
// thin dispatch, not a trait-object hierarchy.
type Provider string

const (
	ProviderHelius    Provider = "helius"
	ProviderQuickNode Provider = "quicknode"
	ProviderStandard  Provider = "standard"
)

// tipAccounts is the fixed set of MEV-protection tip accounts a
// submission may pay into; a random choice reduces write contention on
// any single account (spec §4.5.2).
var tipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
}

// RandomTipAccount selects a tip account via crypto/rand, not math/rand —
// this is a public-facing account choice, not a test fixture.
func RandomTipAccount() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tipAccounts))))
	if err != nil {
		return "", fmt.Errorf("failed to select tip account: %w", err)
	}
	return tipAccounts[n.Int64()], nil
}

// Client talks to a single Solana RPC/bundle endpoint on behalf of a
// single configured Provider variant.
type Client struct {
	httpClient *http.Client
	rpcURL     string
	bundleURL  string
	provider   Provider
	tipLamports uint64
}

// New constructs a Client from relayer configuration.
func New(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.ChainRPCTimeout},
		rpcURL:     cfg.ChainRPCURL,
		bundleURL:  cfg.JitoBundleURL,
		provider:   Provider(cfg.ChainProvider),
		tipLamports: cfg.TipLamports,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "failed to marshal rpc request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "failed to build rpc request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindBlockchainTransient, fmt.Sprintf("rpc call %s failed", method), err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return apierr.Wrap(apierr.KindBlockchainTransient, "failed to decode rpc response", err)
	}
	if rpcResp.Error != nil {
		return apierr.New(apierr.KindBlockchainTransient, fmt.Sprintf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message))
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return apierr.Wrap(apierr.KindBlockchainTransient, "failed to unmarshal rpc result", err)
		}
	}
	return nil
}

// GetLatestBlockhash returns the current blockhash, valid ~90s.
func (c *Client) GetLatestBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", nil, &result); err != nil {
		return "", err
	}
	return result.Value.Blockhash, nil
}

// IsBlockhashValid reports whether bh is still within its validity window.
func (c *Client) IsBlockhashValid(ctx context.Context, bh string) (bool, error) {
	var result struct {
		Value bool `json:"value"`
	}
	if err := c.call(ctx, "isBlockhashValid", []interface{}{bh, map[string]string{"commitment": "finalized"}}, &result); err != nil {
		return false, err
	}
	return result.Value, nil
}

// SubmitTransaction sends a raw transaction via ordinary sendTransaction.
func (c *Client) SubmitTransaction(ctx context.Context, serialized []byte, skipPreflight bool) (string, error) {
	encoded := base58.Encode(serialized)
	var signature string
	params := []interface{}{encoded, map[string]interface{}{
		"skipPreflight": skipPreflight,
		"encoding":      "base58",
	}}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// SubmitBundle sends serialized as a private bundle via the provider's
// bundle endpoint. tipLamports is not used: the bundle request carries
// serialized unchanged and adds no tip. No public fallback on failure —
// callers must never resubmit via SubmitTransaction after a bundle
// failure (spec §4.5, "no-leak rule").
func (c *Client) SubmitBundle(ctx context.Context, serialized []byte, tipLamports uint64) (string, error) {
	if c.bundleURL == "" {
		return "", apierr.New(apierr.KindBlockchainFatal, "bundle submission requested but no bundle URL configured")
	}

	switch c.provider {
	case ProviderHelius, ProviderQuickNode:
		// Both ship a Jito-compatible sendBundle method; the tagged
		// variant exists so future provider-specific quirks (distinct
		// tip floors, distinct ack formats) have a single place to land.
	default:
		return "", apierr.New(apierr.KindBlockchainFatal, fmt.Sprintf("provider %q does not support private bundle submission", c.provider))
	}

	encoded := base58.Encode(serialized)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendBundle",
		Params:  []interface{}{[]string{encoded}},
	})
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "failed to marshal bundle request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.bundleURL, bytes.NewReader(body))
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "failed to build bundle request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apierr.Wrap(apierr.KindBlockchainTransient, "bundle submission failed", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", apierr.Wrap(apierr.KindBlockchainTransient, "failed to decode bundle response", err)
	}
	if rpcResp.Error != nil {
		return "", apierr.New(apierr.KindBlockchainTransient, fmt.Sprintf("bundle error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message))
	}

	var bundleID string
	if err := json.Unmarshal(rpcResp.Result, &bundleID); err != nil {
		return "", apierr.Wrap(apierr.KindBlockchainTransient, "failed to unmarshal bundle id", err)
	}
	return bundleID, nil
}

// GetSignatureStatus returns None/Finalized/Failed for signature,
// interpreting only the "finalized" commitment level as confirmation
// (spec §4.7: lower commitments roll back).
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*StatusResult, error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                interface{} `json:"err"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatuses", []interface{}{[]string{signature}}, &result); err != nil {
		return nil, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return &StatusResult{Status: SignatureStatusNone}, nil
	}

	entry := result.Value[0]
	if entry.Err != nil {
		return &StatusResult{Status: SignatureStatusFailed, Err: fmt.Sprintf("%v", entry.Err)}, nil
	}
	if entry.ConfirmationStatus == "finalized" {
		return &StatusResult{Status: SignatureStatusFinalized}, nil
	}
	return &StatusResult{Status: SignatureStatusNone}, nil
}

// ValidatePublicKey reports whether s decodes to a well-formed Ed25519 /
// Solana public key, using solana-go's own address type rather than a
// hand-rolled base58 length check.
func ValidatePublicKey(s string) bool {
	_, err := solana.PublicKeyFromBase58(s)
	return err == nil
}
