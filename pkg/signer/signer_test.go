// Copyright 2025 Certen Protocol

package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/apierr"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/models"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestCanonicalMessage_PublicTransfer(t *testing.T) {
	details := models.TransferDetails{Kind: models.TransferKindPublic, Amount: 1500}
	msg := CanonicalMessage("alice", "bob", details, "", "nonce-123")
	assert.Equal(t, "alice:bob:1500:SOL:nonce-123", string(msg))
}

func TestCanonicalMessage_ConfidentialTransferOmitsAmount(t *testing.T) {
	details := models.TransferDetails{Kind: models.TransferKindConfidential}
	msg := CanonicalMessage("alice", "bob", details, "MintXYZ", "nonce-123")
	assert.Equal(t, "alice:bob:confidential:MintXYZ:nonce-123", string(msg))
}

func TestVerifier_AcceptsValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	from := base58.Encode(pub)
	details := models.TransferDetails{Kind: models.TransferKindPublic, Amount: 42}
	message := CanonicalMessage(from, "bob", details, "", "nonce-abc")
	sig := base58.Encode(ed25519.Sign(priv, message))

	v := NewVerifier()
	err = v.Verify(from, "bob", details, "", "nonce-abc", sig)
	assert.NoError(t, err)
}

func TestVerifier_RejectsTamperedAmount(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	from := base58.Encode(pub)
	signed := models.TransferDetails{Kind: models.TransferKindPublic, Amount: 42}
	message := CanonicalMessage(from, "bob", signed, "", "nonce-abc")
	sig := base58.Encode(ed25519.Sign(priv, message))

	tampered := models.TransferDetails{Kind: models.TransferKindPublic, Amount: 999999}
	v := NewVerifier()
	err = v.Verify(from, "bob", tampered, "", "nonce-abc", sig)
	require.Error(t, err)
	ae, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.KindAuthorization, ae.Kind)
}

func TestVerifier_RejectsMalformedFromAddress(t *testing.T) {
	v := NewVerifier()
	details := models.TransferDetails{Kind: models.TransferKindPublic, Amount: 1}
	err := v.Verify("not-base58!!!", "bob", details, "", "nonce", "whatever")
	require.Error(t, err)
}

func TestLoadOrGenerateIssuerKey_GeneratesThenReloadsSameKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "issuer.key")
	logger := discardLogger()

	first, err := LoadOrGenerateIssuerKey(keyPath, logger)
	require.NoError(t, err)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := LoadOrGenerateIssuerKey(keyPath, logger)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey(), second.PublicKey())
}

func TestIssuerKey_SignIsVerifiable(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "issuer.key")
	issuer, err := LoadOrGenerateIssuerKey(keyPath, discardLogger())
	require.NoError(t, err)

	message := []byte("some payload")
	sig := issuer.Sign(message)
	assert.True(t, ed25519.Verify(issuer.PublicKey(), message, sig))
}
