package solana

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ErrInvalidAddress is returned for strings that are not base58 32-byte public keys.
var ErrInvalidAddress = errors.New("invalid solana address")

// ValidateAddress checks that addr decodes to a 32-byte public key.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAddress, addr, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%w: %s decodes to %d bytes", ErrInvalidAddress, addr, len(raw))
	}
	return nil
}

// IsOnCurve reports whether addr is an ed25519 point, i.e. a key a wallet can sign
// with. Program derived addresses are off-curve.
func IsOnCurve(addr string) bool {
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
