package solana

import "context"

// RPCClient defines the Solana RPC HTTP calls the mirror needs.
type RPCClient interface {
	// GetTransaction retrieves a transaction with balance metadata by signature.
	// Returns nil, nil if the transaction is not (yet) available.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetSignaturesForAddress retrieves recent signatures for an address, newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetAccountInfo retrieves raw account info. Returns nil, nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)
}

// Transaction represents a confirmed Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	LogMessages       []string
	LoadedWritable    []string
	LoadedReadonly    []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string
}

// TokenBalance is a pre/post SPL token balance entry of a transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string // raw integer amount
	Decimals     uint8
}

// Failed reports whether the transaction executed with an error.
func (tx *Transaction) Failed() bool {
	return tx.Meta != nil && tx.Meta.Err != nil
}

// AllAccountKeys returns static keys followed by keys loaded from lookup tables,
// which is the index space used by balance arrays.
func (tx *Transaction) AllAccountKeys() []string {
	if tx.Message == nil {
		return nil
	}
	keys := make([]string, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if tx.Meta != nil {
		keys = append(keys, tx.Meta.LoadedWritable...)
		keys = append(keys, tx.Meta.LoadedReadonly...)
	}
	return keys
}
