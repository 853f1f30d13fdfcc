package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stablecoinxyz/sbc-masspay/internal/chain"
)

// DummySignature is a well-formed ECDSA signature accepted by SimpleAccount
// during gas estimation and sponsorship.
var DummySignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// UserOperation is the unpacked v0.7 user operation as bundlers exchange it
// over JSON-RPC.
type UserOperation struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

// New returns an unsigned operation with zeroed gas fields and the dummy
// signature.
func New(sender common.Address, nonce *big.Int, callData []byte) *UserOperation {
	return &UserOperation{
		Sender:               sender,
		Nonce:                (*hexutil.Big)(new(big.Int).Set(nonce)),
		CallData:             callData,
		CallGasLimit:         new(hexutil.Big),
		VerificationGasLimit: new(hexutil.Big),
		PreVerificationGas:   new(hexutil.Big),
		MaxFeePerGas:         new(hexutil.Big),
		MaxPriorityFeePerGas: new(hexutil.Big),
		Signature:            DummySignature,
	}
}

// WithFactory sets the deployment fields for an undeployed account.
func (op *UserOperation) WithFactory(factory, owner common.Address, salt *big.Int) error {
	data, err := chain.AccountFactoryABI.Pack("createAccount", owner, salt)
	if err != nil {
		return fmt.Errorf("encode createAccount: %w", err)
	}
	op.Factory = &factory
	op.FactoryData = data
	return nil
}

// InitCode is factory ++ factoryData, or empty for a deployed account.
func (op *UserOperation) InitCode() []byte {
	if op.Factory == nil {
		return nil
	}
	return append(op.Factory.Bytes(), op.FactoryData...)
}

// AccountGasLimits packs verificationGasLimit << 128 | callGasLimit.
func (op *UserOperation) AccountGasLimits() [32]byte {
	return packUints(bigOf(op.VerificationGasLimit), bigOf(op.CallGasLimit))
}

// GasFees packs maxPriorityFeePerGas << 128 | maxFeePerGas.
func (op *UserOperation) GasFees() [32]byte {
	return packUints(bigOf(op.MaxPriorityFeePerGas), bigOf(op.MaxFeePerGas))
}

// PaymasterAndData is paymaster ++ uint128 verification gas ++ uint128
// postOp gas ++ paymasterData, or empty without a paymaster.
func (op *UserOperation) PaymasterAndData() []byte {
	if op.Paymaster == nil {
		return nil
	}
	out := make([]byte, 0, 20+32+len(op.PaymasterData))
	out = append(out, op.Paymaster.Bytes()...)
	out = append(out, uint128Bytes(bigOf(op.PaymasterVerificationGasLimit))...)
	out = append(out, uint128Bytes(bigOf(op.PaymasterPostOpGasLimit))...)
	return append(out, op.PaymasterData...)
}

// TotalGas sums every gas limit the sponsor pays for.
func (op *UserOperation) TotalGas() *big.Int {
	total := new(big.Int)
	for _, g := range []*hexutil.Big{
		op.PreVerificationGas,
		op.CallGasLimit,
		op.VerificationGasLimit,
		op.PaymasterVerificationGasLimit,
		op.PaymasterPostOpGasLimit,
	} {
		total.Add(total, bigOf(g))
	}
	return total
}

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	bytes32T, _ = abi.NewType("bytes32", "", nil)

	packedArgs = abi.Arguments{
		{Type: addressT}, {Type: uint256T}, {Type: bytes32T}, {Type: bytes32T},
		{Type: bytes32T}, {Type: uint256T}, {Type: bytes32T}, {Type: bytes32T},
	}
	hashArgs = abi.Arguments{{Type: bytes32T}, {Type: addressT}, {Type: uint256T}}
)

// Hash returns the v0.7 userOpHash the account owner signs.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := packedArgs.Pack(
		op.Sender,
		bigOf(op.Nonce),
		crypto.Keccak256Hash(op.InitCode()),
		crypto.Keccak256Hash(op.CallData),
		op.AccountGasLimits(),
		bigOf(op.PreVerificationGas),
		op.GasFees(),
		crypto.Keccak256Hash(op.PaymasterAndData()),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation: %w", err)
	}
	enc, err := hashArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation hash: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

func bigOf(h *hexutil.Big) *big.Int {
	if h == nil {
		return new(big.Int)
	}
	return h.ToInt()
}

func uint128Bytes(v *big.Int) []byte {
	out := make([]byte, 16)
	v.FillBytes(out)
	return out
}

func packUints(hi, lo *big.Int) [32]byte {
	var out [32]byte
	hi.FillBytes(out[0:16])
	lo.FillBytes(out[16:32])
	return out
}
