// Package config defines the top-level configuration for the keeper bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KEEPER_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Wallets   []WalletConfig  `toml:"wallets"`
	Tokens    []TokenConfig   `toml:"tokens"`
	Rollover  RolloverConfig  `toml:"rollover"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Audit     AuditConfig     `toml:"audit"`
	Postgres  PostgresConfig  `toml:"postgres"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Network   string          `toml:"network"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ChainConfig holds the RPC endpoint and contract addresses.
type ChainConfig struct {
	RPCURL             string `toml:"rpc_url"`
	ChainID            int64  `toml:"chain_id"`
	ProtocolAddress    string `toml:"protocol_address"`
	SwapNetworkAddress string `toml:"swap_network_address"`
	PriceFeedsAddress  string `toml:"price_feeds_address"`
	WatcherAddress     string `toml:"watcher_address"`
	// ReceiptPoll is how often Submit polls for inclusion.
	ReceiptPoll duration `toml:"receipt_poll"`
}

// WalletConfig describes one pre-provisioned signing identity.
type WalletConfig struct {
	Purpose          string `toml:"purpose"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// TokenConfig maps a token symbol to its address and decimals.
type TokenConfig struct {
	Symbol   string `toml:"symbol"`
	Address  string `toml:"address"`
	Decimals int    `toml:"decimals"`
}

// RolloverConfig holds the rollover engine parameters.
type RolloverConfig struct {
	Enabled      bool     `toml:"enabled"`
	ScanInterval duration `toml:"scan_interval"`
	GasLimit     uint64   `toml:"gas_limit"`
	// FailureCeiling is the number of consecutive failures after which a
	// position is skipped until its counter is cleared.
	FailureCeiling int    `toml:"failure_ceiling"`
	MinReserve     string `toml:"min_reserve"`
	ReserveAsset   string `toml:"reserve_asset"`
	BatchSize      int    `toml:"batch_size"`
	// MinCollateral maps a token symbol or address to the smallest collateral
	// amount (in token units, e.g. "0.00025") worth rolling over.
	MinCollateral map[string]string `toml:"min_collateral"`
	// DeniedTokens lists collateral tokens (symbol or address) that cannot be
	// rolled over at all.
	DeniedTokens []string `toml:"denied_tokens"`
	// FailureBackend is "memory" or "redis".
	FailureBackend string `toml:"failure_backend"`
}

// ArbitrageConfig holds the arbitrage runner parameters.
type ArbitrageConfig struct {
	Enabled        bool         `toml:"enabled"`
	Interval       duration     `toml:"interval"`
	GasLimit       uint64       `toml:"gas_limit"`
	ProbeAmount    string       `toml:"probe_amount"`
	Tolerance      string       `toml:"tolerance"`
	MaxSlippageBps int64        `toml:"max_slippage_bps"`
	MinReserve     string       `toml:"min_reserve"`
	ReserveAsset   string       `toml:"reserve_asset"`
	Execute        bool         `toml:"execute"`
	Pairs          []PairConfig `toml:"pairs"`
}

// PairConfig is one source/target token pair to watch.
type PairConfig struct {
	Source string `toml:"source"`
	Target string `toml:"target"`
	// MinProfit is the profitability floor, in units of the token the
	// arbitrage path ends in.
	MinProfit string `toml:"min_profit"`
}

// AuditConfig selects the audit sink backend: "postgres" or "sqlite".
type AuditConfig struct {
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the local database path used when audit.backend is sqlite.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	URL          string   `toml:"url"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	PositionsKey string   `toml:"positions_key"`
	FailuresKey  string   `toml:"failures_key"`
	LeaseTTL     duration `toml:"lease_ttl"`
	SharedLeases bool     `toml:"shared_leases"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls periodic export of audit records to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RatePerSecond limits API requests per client IP; 0 disables it.
	RatePerSecond float64 `toml:"rate_per_second"`
	RateBurst     int     `toml:"rate_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
	RatePerSecond     float64  `toml:"rate_per_second"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:      "http://localhost:4444",
			ChainID:     30,
			ReceiptPoll: duration{2 * time.Second},
		},
		Rollover: RolloverConfig{
			Enabled:        true,
			ScanInterval:   duration{60 * time.Second},
			GasLimit:       2_500_000,
			FailureCeiling: 5,
			MinReserve:     "0.001",
			ReserveAsset:   "native",
			BatchSize:      100,
			MinCollateral:  map[string]string{},
			FailureBackend: "memory",
		},
		Arbitrage: ArbitrageConfig{
			Enabled:        false,
			Interval:       duration{60 * time.Second},
			GasLimit:       2_500_000,
			ProbeAmount:    "1",
			Tolerance:      "0",
			MaxSlippageBps: 100,
			MinReserve:     "0.001",
			ReserveAsset:   "native",
			Execute:        true,
		},
		Audit: AuditConfig{
			Backend: "postgres",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "keeper",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "keeper.db",
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			PositionsKey: "positions:open",
			FailuresKey:  "rollover:failures",
			LeaseTTL:     duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "keeper-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          3000,
			CORSOrigins:   []string{"http://localhost:3000"},
			RatePerSecond: 10,
			RateBurst:     20,
		},
		Notify: NotifyConfig{
			QueueSize:     64,
			RatePerSecond: 1,
		},
		Network:  "main",
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"rollover":  true,
	"arbitrage": true,
	"monitor":   true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsRollover reports whether the configured mode starts the rollover engine.
func (c *Config) RunsRollover() bool {
	m := strings.ToLower(c.Mode)
	return m == "rollover" || (m == "full" && c.Rollover.Enabled)
}

// RunsArbitrage reports whether the configured mode starts the arbitrage runner.
func (c *Config) RunsArbitrage() bool {
	m := strings.ToLower(c.Mode)
	return m == "arbitrage" || (m == "full" && c.Arbitrage.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: rollover, arbitrage, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	checkAddr := func(field, v string, required bool) {
		if v == "" {
			if required {
				errs = append(errs, fmt.Sprintf("chain: %s must be set for mode %s", field, c.Mode))
			}
			return
		}
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("chain: %s %q is not a hex address", field, v))
		}
	}
	checkAddr("protocol_address", c.Chain.ProtocolAddress, c.RunsRollover())
	checkAddr("swap_network_address", c.Chain.SwapNetworkAddress, c.RunsArbitrage())
	checkAddr("price_feeds_address", c.Chain.PriceFeedsAddress, c.RunsArbitrage())
	checkAddr("watcher_address", c.Chain.WatcherAddress, c.RunsArbitrage())

	// Wallets
	purposes := map[string]int{}
	for i, w := range c.Wallets {
		if w.Purpose == "" {
			errs = append(errs, fmt.Sprintf("wallets[%d]: purpose must be set", i))
		}
		if w.PrivateKey == "" && w.EncryptedKeyPath == "" {
			errs = append(errs, fmt.Sprintf("wallets[%d]: either private_key or encrypted_key_path must be set", i))
		}
		if w.EncryptedKeyPath != "" && w.KeyPassword == "" {
			errs = append(errs, fmt.Sprintf("wallets[%d]: key_password is required when encrypted_key_path is set", i))
		}
		purposes[w.Purpose]++
	}
	if c.RunsRollover() && purposes["rollover"] == 0 {
		errs = append(errs, "wallets: at least one wallet with purpose \"rollover\" is required")
	}
	if c.RunsArbitrage() && c.Arbitrage.Execute && purposes["arbitrage"] == 0 {
		errs = append(errs, "wallets: at least one wallet with purpose \"arbitrage\" is required")
	}

	// Tokens
	for i, t := range c.Tokens {
		if t.Symbol == "" {
			errs = append(errs, fmt.Sprintf("tokens[%d]: symbol must be set", i))
		}
		if !common.IsHexAddress(t.Address) {
			errs = append(errs, fmt.Sprintf("tokens[%d]: address %q is not a hex address", i, t.Address))
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			errs = append(errs, fmt.Sprintf("tokens[%d]: decimals must be 0-36", i))
		}
	}

	// Rollover
	if c.RunsRollover() {
		if c.Rollover.ScanInterval.Duration <= 0 {
			errs = append(errs, "rollover: scan_interval must be > 0")
		}
		if c.Rollover.GasLimit == 0 {
			errs = append(errs, "rollover: gas_limit must be > 0")
		}
		if c.Rollover.FailureCeiling < 1 {
			errs = append(errs, "rollover: failure_ceiling must be >= 1")
		}
		switch c.Rollover.FailureBackend {
		case "memory":
		case "redis":
			if !c.Redis.Enabled {
				errs = append(errs, "rollover: failure_backend redis requires redis.enabled")
			}
		default:
			errs = append(errs, fmt.Sprintf("rollover: unknown failure_backend %q (valid: memory, redis)", c.Rollover.FailureBackend))
		}
		if !c.Redis.Enabled {
			errs = append(errs, "rollover: position snapshots are read from redis; redis.enabled must be true")
		}
	}

	// Arbitrage
	if c.RunsArbitrage() {
		if c.Arbitrage.Interval.Duration <= 0 {
			errs = append(errs, "arbitrage: interval must be > 0")
		}
		if len(c.Arbitrage.Pairs) == 0 {
			errs = append(errs, "arbitrage: at least one pair is required")
		}
		if c.Arbitrage.MaxSlippageBps < 0 || c.Arbitrage.MaxSlippageBps >= 10_000 {
			errs = append(errs, "arbitrage: max_slippage_bps must be in [0, 10000)")
		}
		for i, p := range c.Arbitrage.Pairs {
			if p.Source == "" || p.Target == "" {
				errs = append(errs, fmt.Sprintf("arbitrage.pairs[%d]: source and target must be set", i))
			}
		}
	}

	// Audit
	switch c.Audit.Backend {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("audit: unknown backend %q (valid: postgres, sqlite)", c.Audit.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" && c.Redis.URL == "" {
			errs = append(errs, "redis: addr or url must be set")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Redis.SharedLeases && !c.Redis.Enabled {
		errs = append(errs, "redis: shared_leases requires redis.enabled")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RatePerSecond < 0 {
			errs = append(errs, "server: rate_per_second must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
