package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies KEEPER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known KEEPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Private keys in particular are expected to arrive this way.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "KEEPER_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "KEEPER_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.ProtocolAddress, "KEEPER_CHAIN_PROTOCOL_ADDRESS")
	setStr(&cfg.Chain.SwapNetworkAddress, "KEEPER_CHAIN_SWAP_NETWORK_ADDRESS")
	setStr(&cfg.Chain.PriceFeedsAddress, "KEEPER_CHAIN_PRICE_FEEDS_ADDRESS")
	setStr(&cfg.Chain.WatcherAddress, "KEEPER_CHAIN_WATCHER_ADDRESS")

	// ── Wallets ──
	// Comma-separated raw keys are appended as additional identities.
	appendWallets(cfg, "rollover", "KEEPER_ROLLOVER_PRIVATE_KEYS")
	appendWallets(cfg, "arbitrage", "KEEPER_ARBITRAGE_PRIVATE_KEYS")
	var password string
	setStr(&password, "KEEPER_WALLET_KEY_PASSWORD")
	if password != "" {
		for i := range cfg.Wallets {
			if cfg.Wallets[i].EncryptedKeyPath != "" && cfg.Wallets[i].KeyPassword == "" {
				cfg.Wallets[i].KeyPassword = password
			}
		}
	}

	// ── Rollover ──
	setBool(&cfg.Rollover.Enabled, "KEEPER_ROLLOVER_ENABLED")
	setDuration(&cfg.Rollover.ScanInterval, "KEEPER_ROLLOVER_SCAN_INTERVAL")
	setUint64(&cfg.Rollover.GasLimit, "KEEPER_ROLLOVER_GAS_LIMIT")
	setInt(&cfg.Rollover.FailureCeiling, "KEEPER_ROLLOVER_FAILURE_CEILING")
	setStr(&cfg.Rollover.MinReserve, "KEEPER_ROLLOVER_MIN_RESERVE")
	setInt(&cfg.Rollover.BatchSize, "KEEPER_ROLLOVER_BATCH_SIZE")
	setStr(&cfg.Rollover.FailureBackend, "KEEPER_ROLLOVER_FAILURE_BACKEND")
	setStringSlice(&cfg.Rollover.DeniedTokens, "KEEPER_ROLLOVER_DENIED_TOKENS")

	// ── Arbitrage ──
	setBool(&cfg.Arbitrage.Enabled, "KEEPER_ARBITRAGE_ENABLED")
	setDuration(&cfg.Arbitrage.Interval, "KEEPER_ARBITRAGE_INTERVAL")
	setUint64(&cfg.Arbitrage.GasLimit, "KEEPER_ARBITRAGE_GAS_LIMIT")
	setStr(&cfg.Arbitrage.ProbeAmount, "KEEPER_ARBITRAGE_PROBE_AMOUNT")
	setStr(&cfg.Arbitrage.Tolerance, "KEEPER_ARBITRAGE_TOLERANCE")
	setInt64(&cfg.Arbitrage.MaxSlippageBps, "KEEPER_ARBITRAGE_MAX_SLIPPAGE_BPS")
	setStr(&cfg.Arbitrage.MinReserve, "KEEPER_ARBITRAGE_MIN_RESERVE")
	setBool(&cfg.Arbitrage.Execute, "KEEPER_ARBITRAGE_EXECUTE")

	// ── Audit ──
	setStr(&cfg.Audit.Backend, "KEEPER_AUDIT_BACKEND")
	setStr(&cfg.SQLite.Path, "KEEPER_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "KEEPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KEEPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KEEPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KEEPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KEEPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KEEPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KEEPER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KEEPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KEEPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "KEEPER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "KEEPER_REDIS_ENABLED")
	setStr(&cfg.Redis.URL, "KEEPER_REDIS_URL")
	setStr(&cfg.Redis.Addr, "KEEPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KEEPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KEEPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KEEPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KEEPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KEEPER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.PositionsKey, "KEEPER_REDIS_POSITIONS_KEY")
	setBool(&cfg.Redis.SharedLeases, "KEEPER_REDIS_SHARED_LEASES")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "KEEPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KEEPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "KEEPER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "KEEPER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "KEEPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KEEPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "KEEPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KEEPER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "KEEPER_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "KEEPER_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "KEEPER_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "KEEPER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "KEEPER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "KEEPER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "KEEPER_SERVER_CORS_ORIGINS")
	setFloat(&cfg.Server.RatePerSecond, "KEEPER_SERVER_RATE_PER_SECOND")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KEEPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KEEPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KEEPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KEEPER_NOTIFY_EVENTS")
	setFloat(&cfg.Notify.RatePerSecond, "KEEPER_NOTIFY_RATE_PER_SECOND")

	// ── Top-level ──
	setStr(&cfg.Network, "KEEPER_NETWORK")
	setStr(&cfg.Mode, "KEEPER_MODE")
	setStr(&cfg.LogLevel, "KEEPER_LOG_LEVEL")
}

// appendWallets adds one WalletConfig per comma-separated key in the env var.
func appendWallets(cfg *Config, purpose, key string) {
	var keys []string
	setStringSlice(&keys, key)
	for _, k := range keys {
		cfg.Wallets = append(cfg.Wallets, WalletConfig{Purpose: purpose, PrivateKey: k})
	}
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
