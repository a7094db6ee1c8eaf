package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTradeID computes a deterministic trade_id linking a buy to its sells.
// Formula: SHA256(mint|wallet|entry_signature)
// Returns hex-encoded hash (64 characters).
func ComputeTradeID(mint, wallet, entrySignature string) string {
	data := fmt.Sprintf("%s|%s|%s", mint, wallet, entrySignature)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeSignalKey identifies one (transaction, mint) observation, used to drop
// duplicate deliveries of the same signal.
func ComputeSignalKey(signature, mint string) string {
	hash := sha256.Sum256([]byte(signature + "|" + mint))
	return hex.EncodeToString(hash[:16])
}
