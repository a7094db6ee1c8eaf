package stub

import (
	"context"
	"errors"
	"sync"

	"alpha-mirror/internal/solana"
)

// ErrUnavailable simulates a failing RPC node.
var ErrUnavailable = errors.New("rpc unavailable")

var _ solana.RPCClient = (*RPCClient)(nil)

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu           sync.Mutex
	transactions map[string]*solana.Transaction
	signatures   map[string][]solana.SignatureInfo
	accounts     map[string]*solana.AccountInfo
	failing      bool
	txCalls      int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		transactions: make(map[string]*solana.Transaction),
		signatures:   make(map[string][]solana.SignatureInfo),
		accounts:     make(map[string]*solana.AccountInfo),
	}
}

// GetTransaction returns the stored transaction, or nil when unknown.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txCalls++
	if c.failing {
		return nil, ErrUnavailable
	}
	return c.transactions[signature], nil
}

// GetSignaturesForAddress returns stored signatures for an address.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return nil, ErrUnavailable
	}
	sigs := c.signatures[address]

	// Apply limit if specified
	if opts != nil && opts.Limit > 0 && opts.Limit < len(sigs) {
		sigs = sigs[:opts.Limit]
	}
	return append([]solana.SignatureInfo(nil), sigs...), nil
}

// GetAccountInfo returns the stored account, or nil when unknown.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return nil, ErrUnavailable
	}
	return c.accounts[pubkey], nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactions[tx.Signature] = tx
}

// AddSignatures prepends signatures (newest first) for an address.
func (c *RPCClient) AddSignatures(address string, sigs ...solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signatures[address] = append(append([]solana.SignatureInfo(nil), sigs...), c.signatures[address]...)
}

// AddAccount stores account info for a pubkey.
func (c *RPCClient) AddAccount(pubkey string, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[pubkey] = info
}

// SetFailing makes every call return ErrUnavailable.
func (c *RPCClient) SetFailing(failing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = failing
}

// TransactionCalls reports how many GetTransaction calls were made.
func (c *RPCClient) TransactionCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txCalls
}
