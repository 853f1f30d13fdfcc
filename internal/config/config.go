package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Chain   ChainConfig
	Token   TokenConfig
	AA      AAConfig
	Wallet  WalletConfig
	MassPay MassPayConfig
	Redis   RedisConfig
	Server  ServerConfig
}

type ChainConfig struct {
	RPCURL      string `mapstructure:"rpc_url"`
	ChainID     int64  `mapstructure:"chain_id"`
	ExplorerURL string `mapstructure:"explorer_url"`
}

type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	Decimals int32  `mapstructure:"decimals"`
}

// AAConfig describes the ERC-4337 stack the payouts are executed through.
type AAConfig struct {
	EntryPoint          string `mapstructure:"entry_point"`
	AccountFactory      string `mapstructure:"account_factory"`
	BundlerURL          string `mapstructure:"bundler_url"`
	SponsorshipPolicyID string `mapstructure:"sponsorship_policy_id"`
	ReceiptPollMS       int64  `mapstructure:"receipt_poll_ms"`
}

type WalletConfig struct {
	OwnerPrivateKey string `mapstructure:"owner_private_key"`
}

type MassPayConfig struct {
	BatchSize      int   `mapstructure:"batch_size"`
	CallTimeoutSec int64 `mapstructure:"call_timeout_sec"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults (Base mainnet, SBC, EntryPoint v0.7 + SimpleAccount factory)
	v.SetDefault("server.port", 8080)
	v.SetDefault("chain.chain_id", 8453)
	v.SetDefault("chain.rpc_url", "https://base-rpc.publicnode.com")
	v.SetDefault("token.address", "0xfdcC3dd6671eaB0709A4C0f3F53De9a333d80798")
	v.SetDefault("token.name", "Stable Coin")
	v.SetDefault("token.decimals", 18)
	v.SetDefault("aa.entry_point", "0x0000000071727De22E5E9d8BAf0edAc6f37da032")
	v.SetDefault("aa.account_factory", "0x91E60e0613810449d098b0b5Ec8b51A0FE8c8985")
	v.SetDefault("aa.receipt_poll_ms", 2000)
	v.SetDefault("masspay.batch_size", 6)
	v.SetDefault("masspay.call_timeout_sec", 120)
	v.SetDefault("redis.addr", "redis:6379")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"chain.rpc_url":            "RPC_URL",
		"chain.chain_id":           "CHAIN_ID",
		"chain.explorer_url":       "EXPLORER_URL",
		"token.address":            "TOKEN_ADDRESS",
		"token.name":               "TOKEN_NAME",
		"token.version":            "TOKEN_VERSION",
		"token.decimals":           "TOKEN_DECIMALS",
		"aa.entry_point":           "ENTRY_POINT",
		"aa.account_factory":       "ACCOUNT_FACTORY",
		"aa.bundler_url":           "BUNDLER_URL",
		"aa.sponsorship_policy_id": "SPONSORSHIP_POLICY_ID",
		"aa.receipt_poll_ms":       "RECEIPT_POLL_MS",
		"wallet.owner_private_key": "OWNER_PRIVATE_KEY",
		"masspay.batch_size":       "BATCH_SIZE",
		"masspay.call_timeout_sec": "CALL_TIMEOUT_SEC",
		"redis.addr":               "REDIS_ADDR",
		"redis.password":           "REDIS_PASSWORD",
		"server.port":              "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.RPCURL, "RPC_URL"},
		{c.Token.Address, "TOKEN_ADDRESS"},
		{c.Token.Name, "TOKEN_NAME"},
		{c.AA.EntryPoint, "ENTRY_POINT"},
		{c.AA.AccountFactory, "ACCOUNT_FACTORY"},
		{c.AA.BundlerURL, "BUNDLER_URL"},
		{c.Wallet.OwnerPrivateKey, "OWNER_PRIVATE_KEY"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	for _, a := range []req{
		{c.Token.Address, "TOKEN_ADDRESS"},
		{c.AA.EntryPoint, "ENTRY_POINT"},
		{c.AA.AccountFactory, "ACCOUNT_FACTORY"},
	} {
		if !common.IsHexAddress(a.val) {
			return fmt.Errorf("invalid address in %s: %q", a.name, a.val)
		}
	}
	if c.Token.Decimals < 0 || c.Token.Decimals > 36 {
		return fmt.Errorf("TOKEN_DECIMALS out of range: %d", c.Token.Decimals)
	}
	return nil
}
