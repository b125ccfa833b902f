// Copyright 2025 Certen Protocol

package chainrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/apierr"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/config"
)

func TestRandomTipAccount_ReturnsOneOfTheFixedSet(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		account, err := RandomTipAccount()
		require.NoError(t, err)
		found := false
		for _, a := range tipAccounts {
			if a == account {
				found = true
			}
		}
		assert.True(t, found, "unexpected tip account: %s", account)
		seen[account] = true
	}
}

func TestValidatePublicKey(t *testing.T) {
	assert.True(t, ValidatePublicKey("11111111111111111111111111111111"))
	assert.False(t, ValidatePublicKey("not-a-valid-key"))
	assert.False(t, ValidatePublicKey(""))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(&config.Config{ChainRPCURL: srv.URL, ChainProvider: "standard", ChainRPCTimeout: 0})
}

func TestGetSignatureStatus_Finalized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[{"confirmationStatus":"finalized","err":null}]}}`))
	})

	status, err := c.GetSignatureStatus(context.Background(), "sig1")
	require.NoError(t, err)
	assert.Equal(t, SignatureStatusFinalized, status.Status)
}

func TestGetSignatureStatus_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[null]}}`))
	})

	status, err := c.GetSignatureStatus(context.Background(), "sig2")
	require.NoError(t, err)
	assert.Equal(t, SignatureStatusNone, status.Status)
}

func TestGetSignatureStatus_Failed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[{"confirmationStatus":"confirmed","err":"InstructionError"}]}}`))
	})

	status, err := c.GetSignatureStatus(context.Background(), "sig3")
	require.NoError(t, err)
	assert.Equal(t, SignatureStatusFailed, status.Status)
	assert.NotEmpty(t, status.Err)
}

func TestSubmitBundle_RejectsStandardProvider(t *testing.T) {
	c := New(&config.Config{ChainRPCURL: "http://unused", ChainProvider: "standard", JitoBundleURL: "http://unused-bundle"})
	_, err := c.SubmitBundle(context.Background(), []byte("tx"), 1000)
	require.Error(t, err)
	ae, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.KindBlockchainFatal, ae.Kind)
}

func TestSubmitBundle_RejectsWithoutBundleURL(t *testing.T) {
	c := New(&config.Config{ChainRPCURL: "http://unused", ChainProvider: "helius"})
	_, err := c.SubmitBundle(context.Background(), []byte("tx"), 1000)
	require.Error(t, err)
}
