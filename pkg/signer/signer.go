// Package signer implements the Signature Verifier (spec §4.1) and the
// issuer signing key lifecycle (spec §5 "Shared resources": read-only
// after startup, never logged).
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/apierr"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
)

// CanonicalMessage builds the exact UTF-8 byte string a client signs
// over, per spec §4.1 / §6.2:
//
//	{from}:{to}:{amount|"confidential"}:{mint|"SOL"}:{nonce}
func CanonicalMessage(from, to string, details models.TransferDetails, tokenMint, nonce string) []byte {
	mintPart := "SOL"
	if tokenMint != "" {
		mintPart = tokenMint
	}
	var b strings.Builder
	b.WriteString(from)
	b.WriteByte(':')
	b.WriteString(to)
	b.WriteByte(':')
	b.WriteString(details.AmountPart())
	b.WriteByte(':')
	b.WriteString(mintPart)
	b.WriteByte(':')
	b.WriteString(nonce)
	return []byte(b.String())
}

// Verifier verifies client signatures over the canonical message.
type Verifier struct{}

// NewVerifier constructs a Verifier. It carries no state today, but is
// a struct (not a package-level function) so it composes the same way
// every other component in this service does — via an explicit value
// passed at construction time, never a package-global.
func NewVerifier() *Verifier { return &Verifier{} }

// Verify checks that signatureB58 is a valid Ed25519 signature over the
// canonical message binding (from, to, details, tokenMint, nonce).
// Returns an apierr.KindAuthorization error on any failure.
func (v *Verifier) Verify(from, to string, details models.TransferDetails, tokenMint, nonce, signatureB58 string) error {
	pubKeyBytes, err := base58.Decode(from)
	if err != nil || len(pubKeyBytes) != ed25519.PublicKeySize {
		return apierr.New(apierr.KindAuthorization, "from_address is not a valid base58 Ed25519 public key")
	}
	sigBytes, err := base58.Decode(signatureB58)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return apierr.New(apierr.KindAuthorization, "signature is not a valid base58 Ed25519 signature")
	}

	message := CanonicalMessage(from, to, details, tokenMint, nonce)
	if !ed25519.Verify(ed25519.PublicKey(pubKeyBytes), message, sigBytes) {
		return apierr.New(apierr.KindAuthorization, "client signature does not match canonical message")
	}
	return nil
}

// IssuerKey holds the relayer's own signing key, used to co-sign and
// submit approved transactions (spec §4.5.2). It is loaded once at
// startup and never logged or serialized back out.
type IssuerKey struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// PublicKey returns the issuer's public key, safe to log or expose.
func (k *IssuerKey) PublicKey() ed25519.PublicKey { return k.public }

// Sign signs message with the issuer's private key.
func (k *IssuerKey) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}

// LoadOrGenerateIssuerKey loads the issuer key from keyPath, generating
// and persisting a new one (0600 permissions, hex-encoded) if absent.
// Mirrors the load-or-generate pattern this stack already uses for its
// validator signing key, applied here to the issuer's submission key.
func LoadOrGenerateIssuerKey(keyPath string, logger *log.Logger) (*IssuerKey, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("issuer key path must not be empty")
	}

	keyDir := filepath.Dir(keyPath)
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("create issuer key directory %s: %w", keyDir, err)
	}

	var private ed25519.PrivateKey

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		logger.Printf("generating new issuer key at %s", keyPath)
		_, private, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate issuer key: %w", err)
		}
		keyHex := hex.EncodeToString(private)
		if err := os.WriteFile(keyPath, []byte(keyHex), 0600); err != nil {
			return nil, fmt.Errorf("save issuer key to %s: %w", keyPath, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat issuer key %s: %w", keyPath, err)
	} else {
		logger.Printf("loading issuer key from %s", keyPath)
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read issuer key from %s: %w", keyPath, err)
		}
		keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode issuer key from %s: %w", keyPath, err)
		}
		if len(keyBytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid issuer key size: expected %d, got %d", ed25519.PrivateKeySize, len(keyBytes))
		}
		private = ed25519.PrivateKey(keyBytes)
	}

	public := private.Public().(ed25519.PublicKey)
	logger.Printf("issuer key ready: public key = %s", base58.Encode(public))
	return &IssuerKey{private: private, public: public}, nil
}
