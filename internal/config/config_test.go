package config

import (
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BUNDLER_URL", "https://api.pimlico.io/v2/8453/rpc?apikey=test")
	t.Setenv("OWNER_PRIVATE_KEY", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chain.ChainID != 8453 {
		t.Errorf("chain id: got %d want 8453", cfg.Chain.ChainID)
	}
	if cfg.MassPay.BatchSize != 6 {
		t.Errorf("batch size: got %d want 6", cfg.MassPay.BatchSize)
	}
	if cfg.Token.Decimals != 18 {
		t.Errorf("decimals: got %d want 18", cfg.Token.Decimals)
	}
	if cfg.MassPay.CallTimeoutSec != 120 {
		t.Errorf("call timeout: got %d want 120", cfg.MassPay.CallTimeoutSec)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BATCH_SIZE", "3")
	t.Setenv("CHAIN_ID", "84532")
	t.Setenv("TOKEN_NAME", "USD Coin")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MassPay.BatchSize != 3 {
		t.Errorf("batch size: got %d want 3", cfg.MassPay.BatchSize)
	}
	if cfg.Chain.ChainID != 84532 {
		t.Errorf("chain id: got %d want 84532", cfg.Chain.ChainID)
	}
	if cfg.Token.Name != "USD Coin" {
		t.Errorf("token name: got %q", cfg.Token.Name)
	}
}

func TestLoad_MissingBundler(t *testing.T) {
	t.Setenv("OWNER_PRIVATE_KEY", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	t.Setenv("BUNDLER_URL", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "BUNDLER_URL") {
		t.Fatalf("expected missing BUNDLER_URL error, got %v", err)
	}
}

func TestLoad_BadTokenAddress(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOKEN_ADDRESS", "not-an-address")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "TOKEN_ADDRESS") {
		t.Fatalf("expected invalid TOKEN_ADDRESS error, got %v", err)
	}
}
