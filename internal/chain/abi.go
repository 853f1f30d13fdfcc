package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// TokenABIJSON covers the ERC-20 + EIP-2612 surface used by mass payouts.
const TokenABIJSON = `[
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"DOMAIN_SEPARATOR","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"permit","stateMutability":"nonpayable","inputs":[
    {"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},
    {"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[
    {"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// SimpleAccountABIJSON is the v0.7 SimpleAccount batch entry point.
const SimpleAccountABIJSON = `[
  {"type":"function","name":"executeBatch","stateMutability":"nonpayable","inputs":[
    {"name":"dest","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

// AccountFactoryABIJSON is the v0.7 SimpleAccountFactory.
const AccountFactoryABIJSON = `[
  {"type":"function","name":"createAccount","stateMutability":"nonpayable","inputs":[
    {"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"ret","type":"address"}]},
  {"type":"function","name":"getAddress","stateMutability":"view","inputs":[
    {"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

// EntryPointABIJSON is the subset of EntryPoint v0.7 read by the gateway.
const EntryPointABIJSON = `[
  {"type":"function","name":"getNonce","stateMutability":"view","inputs":[
    {"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]}
]`

var (
	TokenABI          = mustParse(TokenABIJSON)
	SimpleAccountABI  = mustParse(SimpleAccountABIJSON)
	AccountFactoryABI = mustParse(AccountFactoryABIJSON)
	EntryPointABI     = mustParse(EntryPointABIJSON)
)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("chain: parse abi: " + err.Error())
	}
	return parsed
}
