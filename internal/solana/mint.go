package solana

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// ErrNotMint is returned when an account is missing or is not an SPL mint.
var ErrNotMint = errors.New("account is not an spl mint")

// MintInfo is the decoded base layout shared by SPL Token and Token-2022 mints.
type MintInfo struct {
	Address         string
	Program         string
	MintAuthority   string // empty when revoked
	FreezeAuthority string // empty when revoked
	Supply          uint64
	Decimals        uint8
}

// Mint layout: mintAuthorityOption(4) | mintAuthority(32) | supply(8) | decimals(1) |
// isInitialized(1) | freezeAuthorityOption(4) | freezeAuthority(32).
const mintBaseLen = 82

// GetMint fetches and decodes a mint account.
func GetMint(ctx context.Context, rpc RPCClient, mint string) (*MintInfo, error) {
	info, err := rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("get mint account %s: %w", mint, err)
	}
	if info == nil || info.Data == "" {
		return nil, fmt.Errorf("%w: %s not found", ErrNotMint, mint)
	}
	if info.Owner != TokenProgramID && info.Owner != Token2022ProgramID {
		return nil, fmt.Errorf("%w: %s owned by %s", ErrNotMint, mint, info.Owner)
	}
	m, err := DecodeMint(info.Data)
	if err != nil {
		return nil, err
	}
	m.Address = mint
	m.Program = info.Owner
	return m, nil
}

// DecodeMint parses base64 mint account data.
func DecodeMint(data string) (*MintInfo, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode mint data: %w", err)
	}
	if len(raw) < mintBaseLen {
		return nil, fmt.Errorf("%w: data too short: %d", ErrNotMint, len(raw))
	}
	if raw[45] == 0 {
		return nil, fmt.Errorf("%w: not initialized", ErrNotMint)
	}

	m := &MintInfo{
		Supply:   binary.LittleEndian.Uint64(raw[36:44]),
		Decimals: raw[44],
	}
	if binary.LittleEndian.Uint32(raw[0:4]) == 1 {
		m.MintAuthority = base58.Encode(raw[4:36])
	}
	if binary.LittleEndian.Uint32(raw[46:50]) == 1 {
		m.FreezeAuthority = base58.Encode(raw[50:82])
	}
	return m, nil
}

// AuthoritiesRevoked reports whether neither mint nor freeze authority remains.
func (m *MintInfo) AuthoritiesRevoked() bool {
	return m.MintAuthority == "" && m.FreezeAuthority == ""
}
