// Package wallet holds the owner's signing session.
//
// The session is created once from the configured owner key and passed by
// reference into the permit authorizer and the execution gateway.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/stablecoinxyz/sbc-masspay/internal/auth"
)

// KeySession signs on behalf of the owner with a local private key.
type KeySession struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeySession parses a 32-byte hex private key, with or without 0x.
func NewKeySession(hexKey string) (*KeySession, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if len(keyHex) != 64 {
		return nil, fmt.Errorf("wallet: owner key must be a 32-byte hex string (got %d chars)", len(keyHex))
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("wallet: parse owner key: %w", err)
	}
	return FromKey(key), nil
}

func FromKey(key *ecdsa.PrivateKey) *KeySession {
	return &KeySession{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the owner address.
func (s *KeySession) Address() common.Address { return s.addr }

// SignTypedData signs an EIP-712 request. V is returned as 27/28.
func (s *KeySession) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return s.sign(digest)
}

// SignMessage signs msg with the EIP-191 personal-message prefix, which is
// what the SimpleAccount owner check expects for user operation hashes.
func (s *KeySession) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.sign(auth.HashMessage(msg))
}

func (s *KeySession) sign(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	// Convert V from 0/1 to 27/28 for Solidity ecrecover
	sig[64] += 27
	return sig, nil
}
