package permit

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	permitTypeHash = crypto.Keccak256Hash([]byte(
		"Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)",
	))
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
)

// DomainSeparator computes the EIP-712 domain separator of the token.
func DomainSeparator(d Domain) [32]byte {
	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))

	// abi.encode(bytes32, bytes32, bytes32, uint256, address)
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	d.ChainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], d.VerifyingContract.Bytes())

	return crypto.Keccak256Hash(encoded)
}

// Digest is keccak256(0x1901 || domainSeparator || structHash) for the permit
// fields of a (not necessarily signed) authorization.
func Digest(a *Authorization, d Domain) [32]byte {
	encoded := make([]byte, 6*32)
	copy(encoded[0:32], permitTypeHash[:])
	copy(encoded[44:64], a.Owner.Bytes())
	copy(encoded[76:96], a.Spender.Bytes())
	a.Value.FillBytes(encoded[96:128])
	a.Nonce.FillBytes(encoded[128:160])
	big.NewInt(a.Deadline).FillBytes(encoded[160:192])

	structHash := crypto.Keccak256Hash(encoded)
	sep := DomainSeparator(d)

	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

// TypedData is the eth_signTypedData_v4 request a wallet signs for the permit.
func TypedData(a *Authorization, d Domain) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": {
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID)),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    a.Owner.Hex(),
			"spender":  a.Spender.Hex(),
			"value":    new(big.Int).Set(a.Value),
			"nonce":    new(big.Int).Set(a.Nonce),
			"deadline": big.NewInt(a.Deadline),
		},
	}
}

// Sign signs the authorization in place with privKey.
func Sign(a *Authorization, privKey *ecdsa.PrivateKey, d Domain) error {
	digest := Digest(a, d)
	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return err
	}
	s, err := SplitSignature(sig)
	if err != nil {
		return err
	}
	a.Signature = s
	return nil
}

// Verify recovers the address that signed the authorization.
func Verify(a *Authorization, d Domain) (common.Address, error) {
	digest := Digest(a, d)
	sig := a.Signature.Bytes()
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
