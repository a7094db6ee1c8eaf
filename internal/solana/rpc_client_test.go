package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcServer answers every request with result produced by fn.
func rpcServer(t *testing.T, method string, fn func(req rpcRequest) interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if method != "" && req.Method != method {
			t.Errorf("expected method %s, got %s", method, req.Method)
		}
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  fn(req),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_GetTransaction(t *testing.T) {
	server := rpcServer(t, "getTransaction", func(rpcRequest) interface{} {
		return map[string]interface{}{
			"slot":      int64(123456),
			"blockTime": int64(1700000000),
			"meta": map[string]interface{}{
				"err":              nil,
				"fee":              5000,
				"preBalances":      []uint64{2_000_000_000, 0},
				"postBalances":     []uint64{1_989_995_000, 0},
				"preTokenBalances": []map[string]interface{}{},
				"postTokenBalances": []map[string]interface{}{
					{
						"accountIndex": 1,
						"mint":         "mintA",
						"owner":        "wallet1",
						"uiTokenAmount": map[string]interface{}{
							"amount":   "1000000",
							"decimals": 6,
						},
					},
				},
				"loadedAddresses": map[string]interface{}{
					"writable": []string{"lut1"},
					"readonly": []string{"lut2"},
				},
			},
			"transaction": map[string]interface{}{
				"message": map[string]interface{}{
					"accountKeys": []string{"wallet1", "ata1"},
				},
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	tx, err := client.GetTransaction(context.Background(), "testsig123")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx == nil {
		t.Fatal("expected transaction, got nil")
	}
	if tx.Slot != 123456 || tx.BlockTime != 1700000000 {
		t.Errorf("unexpected slot/blockTime: %d/%d", tx.Slot, tx.BlockTime)
	}
	if tx.Failed() {
		t.Error("expected successful transaction")
	}
	if len(tx.Meta.PreBalances) != 2 || tx.Meta.PostBalances[0] != 1_989_995_000 {
		t.Errorf("unexpected native balances: %v -> %v", tx.Meta.PreBalances, tx.Meta.PostBalances)
	}
	if len(tx.Meta.PostTokenBalances) != 1 {
		t.Fatalf("expected 1 post token balance, got %d", len(tx.Meta.PostTokenBalances))
	}
	tb := tx.Meta.PostTokenBalances[0]
	if tb.Mint != "mintA" || tb.Owner != "wallet1" || tb.Amount != "1000000" || tb.Decimals != 6 {
		t.Errorf("unexpected token balance: %+v", tb)
	}
	keys := tx.AllAccountKeys()
	if len(keys) != 4 || keys[2] != "lut1" || keys[3] != "lut2" {
		t.Errorf("unexpected account keys: %v", keys)
	}
}

func TestHTTPClient_GetTransaction_NotFound(t *testing.T) {
	server := rpcServer(t, "getTransaction", func(rpcRequest) interface{} { return nil })
	defer server.Close()

	client := NewHTTPClient(server.URL)
	tx, err := client.GetTransaction(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx != nil {
		t.Errorf("expected nil for not found, got %+v", tx)
	}
}

func TestHTTPClient_GetTransaction_Failed(t *testing.T) {
	server := rpcServer(t, "getTransaction", func(rpcRequest) interface{} {
		return map[string]interface{}{
			"slot":      int64(1),
			"blockTime": int64(1700000000),
			"meta": map[string]interface{}{
				"err": map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
			},
		}
	})
	defer server.Close()

	tx, err := NewHTTPClient(server.URL).GetTransaction(context.Background(), "sig")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !tx.Failed() {
		t.Error("expected failed transaction")
	}
}

func TestHTTPClient_GetSignaturesForAddress(t *testing.T) {
	var gotLimit float64
	server := rpcServer(t, "getSignaturesForAddress", func(req rpcRequest) interface{} {
		if len(req.Params) == 2 {
			if cfg, ok := req.Params[1].(map[string]interface{}); ok {
				gotLimit, _ = cfg["limit"].(float64)
			}
		}
		blockTime := int64(1700000000)
		return []map[string]interface{}{
			{"signature": "sig1", "slot": int64(100), "blockTime": blockTime, "err": nil},
			{"signature": "sig2", "slot": int64(101), "blockTime": blockTime, "err": nil},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	sigs, err := client.GetSignaturesForAddress(context.Background(), "testaddr", &SignaturesOpts{Limit: 10})
	if err != nil {
		t.Fatalf("GetSignaturesForAddress: %v", err)
	}
	if gotLimit != 10 {
		t.Errorf("expected limit 10 in request, got %v", gotLimit)
	}
	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(sigs))
	}
	if sigs[0].Signature != "sig1" {
		t.Errorf("expected sig1, got %s", sigs[0].Signature)
	}
	if sigs[1].Slot != 101 {
		t.Errorf("expected slot 101, got %d", sigs[1].Slot)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  []map[string]interface{}{{"signature": "sig1", "slot": 1}},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	sigs, err := client.GetSignaturesForAddress(context.Background(), "addr", nil)
	if err != nil {
		t.Fatalf("GetSignaturesForAddress: %v", err)
	}
	if len(sigs) != 1 {
		t.Errorf("expected 1 signature, got %d", len(sigs))
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32600,
				"message": "Invalid Request",
			},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.GetAccountInfo(context.Background(), "pubkey")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected rpcError, got %T", err)
	}
	if rpcErr.Code != -32600 {
		t.Errorf("expected code -32600, got %d", rpcErr.Code)
	}
	if attempts.Load() != 1 {
		t.Errorf("rpc errors must not be retried, got %d attempts", attempts.Load())
	}
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	server := rpcServer(t, "getAccountInfo", func(rpcRequest) interface{} {
		return map[string]interface{}{
			"value": map[string]interface{}{
				"lamports":   uint64(1000000),
				"owner":      TokenProgramID,
				"data":       []string{"SGVsbG8gV29ybGQ=", "base64"},
				"executable": false,
				"rentEpoch":  uint64(100),
			},
		}
	})
	defer server.Close()

	info, err := NewHTTPClient(server.URL).GetAccountInfo(context.Background(), "testpubkey")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info == nil {
		t.Fatal("expected account info, got nil")
	}
	if info.Lamports != 1000000 {
		t.Errorf("expected lamports 1000000, got %d", info.Lamports)
	}
	if info.Owner != TokenProgramID {
		t.Errorf("unexpected owner: %s", info.Owner)
	}
	if info.Data != "SGVsbG8gV29ybGQ=" {
		t.Errorf("unexpected data: %s", info.Data)
	}
}

func TestHTTPClient_GetAccountInfo_NotFound(t *testing.T) {
	server := rpcServer(t, "getAccountInfo", func(rpcRequest) interface{} {
		return map[string]interface{}{"value": nil}
	})
	defer server.Close()

	info, err := NewHTTPClient(server.URL).GetAccountInfo(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil for not found, got %+v", info)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.GetSignaturesForAddress(ctx, "addr", nil); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
