package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "rollover"
log_level = "debug"

[chain]
rpc_url = "https://public-node.rsk.co"
chain_id = 30
protocol_address = "0x5A0D867e0D70Fcc6Ade25C3F1B89d618b5B4Eaa7"

[[wallets]]
purpose = "rollover"
private_key = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

[[tokens]]
symbol = "WRBTC"
address = "0x542fDA317318eBF1d3DEAf76E0b632741A7e677d"
decimals = 18

[rollover]
scan_interval = "30s"
denied_tokens = ["BPRO"]

[rollover.min_collateral]
WRBTC = "0.00025"
DOC = "5"

[audit]
backend = "sqlite"

[sqlite]
path = "/tmp/keeper.db"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidateInFullMode(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.ProtocolAddress = "0x5A0D867e0D70Fcc6Ade25C3F1B89d618b5B4Eaa7"
	cfg.Wallets = []WalletConfig{{Purpose: "rollover", PrivateKey: "abc"}}
	require.NoError(t, cfg.Validate())
}

func TestDefaultsMatchRolloverConstants(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, uint64(2_500_000), cfg.Rollover.GasLimit)
	assert.Equal(t, 5, cfg.Rollover.FailureCeiling)
	assert.Equal(t, "0.001", cfg.Rollover.MinReserve)
	assert.Equal(t, 100, cfg.Rollover.BatchSize)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "rollover", cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.Rollover.ScanInterval.Duration)
	assert.Equal(t, "0.00025", cfg.Rollover.MinCollateral["WRBTC"])
	assert.Equal(t, []string{"BPRO"}, cfg.Rollover.DeniedTokens)
	// untouched sections keep their defaults
	assert.Equal(t, uint64(2_500_000), cfg.Rollover.GasLimit)
	assert.Equal(t, "positions:open", cfg.Redis.PositionsKey)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KEEPER_MODE", "monitor")
	t.Setenv("KEEPER_ROLLOVER_GAS_LIMIT", "3000000")
	t.Setenv("KEEPER_ROLLOVER_SCAN_INTERVAL", "2m")
	t.Setenv("KEEPER_ARBITRAGE_PRIVATE_KEYS", "aa, bb")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, uint64(3_000_000), cfg.Rollover.GasLimit)
	assert.Equal(t, 2*time.Minute, cfg.Rollover.ScanInterval.Duration)
	require.Len(t, cfg.Wallets, 3)
	assert.Equal(t, WalletConfig{Purpose: "arbitrage", PrivateKey: "bb"}, cfg.Wallets[2])
}

func TestLoadEnvStorageOverrides(t *testing.T) {
	t.Setenv("KEEPER_REDIS_URL", "rediss://:pw@cache:6380/2")
	t.Setenv("KEEPER_S3_PREFIX", "mainnet/")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "rediss://:pw@cache:6380/2", cfg.Redis.URL)
	assert.Equal(t, "mainnet/", cfg.S3.Prefix)
	assert.Equal(t, "***", RedactedConfig(cfg).Redis.URL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Audit.Backend = "mysql"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "bogus"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, `audit: unknown backend "mysql"`)
}

func TestValidateRequiresWalletsPerEngine(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "arbitrage"
	cfg.Chain.SwapNetworkAddress = "0x98aCE08D2b759a265ae326F010496bcD63C15afc"
	cfg.Chain.PriceFeedsAddress = "0x437AC62769f386b2d238409B7f0a7596d36506e4"
	cfg.Chain.WatcherAddress = "0x0000000000000000000000000000000000000001"
	cfg.Arbitrage.Pairs = []PairConfig{{Source: "WRBTC", Target: "DOC"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `purpose "arbitrage"`)

	cfg.Wallets = []WalletConfig{{Purpose: "arbitrage", PrivateKey: "abc"}}
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallets = []WalletConfig{{Purpose: "rollover", PrivateKey: "secret", KeyPassword: "pw"}}
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallets[0].PrivateKey)
	assert.Equal(t, "***", out.Wallets[0].KeyPassword)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password)

	// original untouched
	assert.Equal(t, "secret", cfg.Wallets[0].PrivateKey)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
