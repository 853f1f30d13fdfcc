package permit

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Signature is an ECDSA signature split the way permit(...) takes it.
type Signature struct {
	V uint8    `json:"v"`
	R [32]byte `json:"r"`
	S [32]byte `json:"s"`
}

// Bytes returns R || S || V with V in {27, 28}.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[0:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// SplitSignature parses a 65-byte R || S || V signature. V in {0,1} is
// normalized to {27,28}.
func SplitSignature(sig []byte) (Signature, error) {
	if len(sig) != 65 {
		return Signature{}, errors.New("invalid signature length")
	}
	var s Signature
	copy(s.R[:], sig[0:32])
	copy(s.S[:], sig[32:64])
	s.V = sig[64]
	if s.V < 27 {
		s.V += 27
	}
	if s.V != 27 && s.V != 28 {
		return Signature{}, fmt.Errorf("invalid signature v: %d", sig[64])
	}
	return s, nil
}

// Authorization is a signed EIP-2612 permit letting the smart account move
// Value tokens from Owner.
type Authorization struct {
	Owner     common.Address `json:"owner"`
	Spender   common.Address `json:"spender"`
	Value     *big.Int       `json:"value"`
	Nonce     *big.Int       `json:"nonce"`
	Deadline  int64          `json:"deadline"`
	Signature Signature      `json:"signature"`
}

// Domain is the token's EIP-712 domain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DomainVersion returns the permit domain version for a token. USDC signs
// with version "2"; other tokens use "1".
func DomainVersion(tokenName string) string {
	if tokenName == "USD Coin" {
		return "2"
	}
	return "1"
}
