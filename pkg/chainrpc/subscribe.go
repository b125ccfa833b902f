// Copyright 2025 Certen Protocol

package chainrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/apierr"
)

// SignatureSubscriber pushes signature-status updates over a Solana RPC
// websocket endpoint, giving the submission worker a fast path to
// confirmation that does not wait for the reconciliation crank's next
// poll (spec §4.7 remains the fallback for anything this misses: a
// dropped connection, a missed notification, a restart mid-flight).
type SignatureSubscriber struct {
	wsURL  string
	nextID atomic.Int64
}

// NewSignatureSubscriber constructs a subscriber against wsURL, the
// websocket counterpart of the configured RPC endpoint (wss://... in
// production, a no-op stub in tests).
func NewSignatureSubscriber(wsURL string) *SignatureSubscriber {
	return &SignatureSubscriber{wsURL: wsURL}
}

// Await blocks until signature reaches a finalized or failed status, the
// websocket connection drops, or ctx is cancelled — whichever comes
// first. Callers must treat a returned error as "no fast-path answer",
// not as a submission failure: the crank and webhook ingestor remain
// authoritative.
func (s *SignatureSubscriber) Await(ctx context.Context, signature string) (*StatusResult, error) {
	if s.wsURL == "" {
		return nil, apierr.New(apierr.KindServiceUnavailable, "no websocket endpoint configured")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.wsURL, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindBlockchainTransient, "signature subscribe dial failed", err)
	}
	defer conn.Close()

	id := s.nextID.Add(1)
	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "signatureSubscribe",
		"params":  []interface{}{signature, map[string]string{"commitment": "finalized"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return nil, apierr.Wrap(apierr.KindBlockchainTransient, "signature subscribe write failed", err)
	}

	type notification struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Value struct {
					Err interface{} `json:"err"`
				} `json:"value"`
			} `json:"result"`
		} `json:"params"`
	}

	resultCh := make(chan *StatusResult, 1)
	errCh := make(chan error, 1)

	go func() {
		for {
			var raw json.RawMessage
			if err := conn.ReadJSON(&raw); err != nil {
				errCh <- apierr.Wrap(apierr.KindBlockchainTransient, "signature subscribe read failed", err)
				return
			}
			var note notification
			if err := json.Unmarshal(raw, &note); err != nil || note.Method != "signatureNotification" {
				continue // subscription ack or unrelated frame
			}
			if note.Params.Result.Value.Err != nil {
				resultCh <- &StatusResult{Status: SignatureStatusFailed, Err: fmt.Sprintf("%v", note.Params.Result.Value.Err)}
				return
			}
			resultCh <- &StatusResult{Status: SignatureStatusFinalized}
			return
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, err
	case result := <-resultCh:
		return result, nil
	}
}
