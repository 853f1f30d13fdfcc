// Package userop encodes payout batches into smart-account calls and
// ERC-4337 v0.7 user operations.
package userop

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stablecoinxyz/sbc-masspay/internal/batch"
	"github.com/stablecoinxyz/sbc-masspay/internal/chain"
	"github.com/stablecoinxyz/sbc-masspay/internal/permit"
)

// Call is one inner call executed by the smart account.
type Call struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
	Data []byte         `json:"data"`
}

// CallSet is the ordered list of calls bundled into one user operation.
type CallSet []Call

// Builder turns a batch into token calls on behalf of the owner.
type Builder struct {
	token    common.Address
	owner    common.Address
	account  common.Address
	decimals int32
}

// NewBuilder returns a Builder that moves tokens from owner via the smart
// account at account.
func NewBuilder(token, owner, account common.Address, decimals int32) *Builder {
	return &Builder{token: token, owner: owner, account: account, decimals: decimals}
}

// Account returns the smart account the calls execute from.
func (b *Builder) Account() common.Address { return b.account }

// Build returns one transferFrom per recipient. When auth is non-nil the
// permit call is placed first so the allowance exists before any transfer.
func (b *Builder) Build(tb batch.TransferBatch, auth *permit.Authorization) (CallSet, error) {
	if len(tb.Recipients) == 0 {
		return nil, errors.New("build calls: empty batch")
	}
	calls := make(CallSet, 0, len(tb.Recipients)+1)

	if auth != nil {
		if auth.Owner != b.owner {
			return nil, fmt.Errorf("build calls: permit owner %s is not %s", auth.Owner.Hex(), b.owner.Hex())
		}
		if auth.Spender != b.account {
			return nil, fmt.Errorf("build calls: permit spender %s is not the smart account", auth.Spender.Hex())
		}
		if auth.Value == nil || auth.Value.Sign() < 0 || auth.Value.BitLen() > 256 {
			return nil, fmt.Errorf("build calls: permit value out of uint256 range")
		}
		data, err := chain.TokenABI.Pack("permit",
			auth.Owner, auth.Spender, auth.Value, big.NewInt(auth.Deadline),
			auth.Signature.V, auth.Signature.R, auth.Signature.S)
		if err != nil {
			return nil, fmt.Errorf("encode permit: %w", err)
		}
		calls = append(calls, Call{From: b.account, To: b.token, Data: data})
	}

	for _, r := range tb.Recipients {
		value := r.BaseUnits(b.decimals)
		if value.Sign() <= 0 || value.BitLen() > 256 {
			return nil, fmt.Errorf("build calls: amount %s for %s out of uint256 range", r.Amount, r.Address.Hex())
		}
		data, err := chain.TokenABI.Pack("transferFrom", b.owner, r.Address, value)
		if err != nil {
			return nil, fmt.Errorf("encode transferFrom %s: %w", r.Address.Hex(), err)
		}
		calls = append(calls, Call{From: b.account, To: b.token, Data: data})
	}
	return calls, nil
}

// EncodeExecuteBatch packs calls into SimpleAccount.executeBatch call data.
func EncodeExecuteBatch(calls CallSet) ([]byte, error) {
	dest := make([]common.Address, len(calls))
	value := make([]*big.Int, len(calls))
	data := make([][]byte, len(calls))
	for i, c := range calls {
		dest[i] = c.To
		value[i] = new(big.Int)
		data[i] = c.Data
	}
	out, err := chain.SimpleAccountABI.Pack("executeBatch", dest, value, data)
	if err != nil {
		return nil, fmt.Errorf("encode executeBatch: %w", err)
	}
	return out, nil
}
