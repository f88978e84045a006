package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/keeperbot/internal/blob/s3"
	"github.com/alanyoungcy/keeperbot/internal/cache/redis"
	"github.com/alanyoungcy/keeperbot/internal/chain"
	"github.com/alanyoungcy/keeperbot/internal/config"
	"github.com/alanyoungcy/keeperbot/internal/crypto"
	"github.com/alanyoungcy/keeperbot/internal/domain"
	"github.com/alanyoungcy/keeperbot/internal/metrics"
	"github.com/alanyoungcy/keeperbot/internal/notify"
	"github.com/alanyoungcy/keeperbot/internal/pipeline"
	"github.com/alanyoungcy/keeperbot/internal/rollover"
	"github.com/alanyoungcy/keeperbot/internal/server/handler"
	"github.com/alanyoungcy/keeperbot/internal/store/postgres"
	"github.com/alanyoungcy/keeperbot/internal/store/sqlite"
	"github.com/alanyoungcy/keeperbot/internal/wallet"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Tokens  *chain.TokenRegistry
	Gateway *chain.Gateway
	Pool    *wallet.Pool

	// Redis-backed; nil when redis is disabled.
	Positions domain.PositionSource
	SignalBus domain.SignalBus

	Failures domain.FailureCounter
	Audit    domain.AuditSink

	// Object storage; nil unless archiving is enabled.
	BlobReader domain.BlobReader
	Archiver   *pipeline.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks feed GET /api/health.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  map[string]handler.Check{},
	}

	// --- Keys ---
	keyring := crypto.NewKeyring()
	for i, w := range cfg.Wallets {
		addr, err := keyring.AddSource(w.Purpose, crypto.KeySource{
			RawPrivateKey:    w.PrivateKey,
			EncryptedKeyPath: w.EncryptedKeyPath,
			KeyPassword:      w.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Sprintf("wallets[%d]", i), err)
		}
		logger.InfoContext(ctx, "wallet loaded",
			slog.String("address", addr.Hex()),
			slog.String("purpose", w.Purpose),
		)
	}

	// --- Tokens ---
	tokens := make([]chain.Token, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens = append(tokens, chain.Token{
			Symbol:   t.Symbol,
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
		})
	}
	deps.Tokens = chain.NewTokenRegistry(tokens)

	// --- Ledger gateway ---
	client, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fail("rpc", err)
	}
	closers = append(closers, client.Close)
	deps.Gateway = chain.NewGateway(client, keyring, deps.Tokens, chain.Config{
		Contracts:   contractsFrom(cfg.Chain),
		ReceiptPoll: cfg.Chain.ReceiptPoll.Duration,
	}, logger)
	deps.Checks["rpc"] = func(ctx context.Context) error {
		_, err := client.BlockNumber(ctx)
		return err
	}

	poolOpts := []wallet.Option{
		wallet.WithMetrics(deps.Metrics),
		wallet.WithLogger(logger),
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		deps.Positions = redis.NewPositionSource(redisClient, cfg.Redis.PositionsKey, logger)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Network)
		if cfg.Rollover.FailureBackend == "redis" {
			deps.Failures = redis.NewFailureCounter(redisClient, cfg.Redis.FailuresKey)
		}
		if cfg.Redis.SharedLeases {
			poolOpts = append(poolOpts, wallet.WithLockManager(
				redis.NewLockManager(redisClient), cfg.Redis.LeaseTTL.Duration,
			))
		}
	}
	if deps.Failures == nil {
		deps.Failures = rollover.NewMemoryFailures()
	}

	deps.Pool = wallet.NewPool(keyring.Wallets(), deps.Gateway, poolOpts...)

	// --- Audit sink ---
	switch cfg.Audit.Backend {
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return fail("sqlite", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.Audit = store
		deps.Checks["audit"] = store.Health
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Audit = pgClient.Store()
		deps.Checks["audit"] = pgClient.Health
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Checks["s3"] = s3Client.Health

		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		interval := cfg.Archive.Interval.Duration
		deps.Archiver = pipeline.NewArchiver(
			s3blob.NewArchiver(s3blob.NewWriter(s3Client), reader, deps.Audit, interval),
			cfg.Archive.RetentionDays, interval, logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger,
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithRate(cfg.Notify.RatePerSecond),
		notify.WithMetrics(deps.Metrics),
	)

	return deps, cleanup, nil
}

func contractsFrom(c config.ChainConfig) chain.Contracts {
	addr := func(s string) common.Address {
		if s == "" {
			return common.Address{}
		}
		return common.HexToAddress(s)
	}
	return chain.Contracts{
		Protocol:    addr(c.ProtocolAddress),
		SwapNetwork: addr(c.SwapNetworkAddress),
		PriceFeeds:  addr(c.PriceFeedsAddress),
		Watcher:     addr(c.WatcherAddress),
	}
}

// reserveFloor parses a minimum reserve amount in the decimals of asset.
func reserveFloor(tokens *chain.TokenRegistry, amount, asset string) (*big.Int, string, error) {
	if asset == "" || strings.EqualFold(asset, domain.AssetNative) {
		v, err := chain.ParseUnits(amount, chain.DefaultDecimals)
		return v, domain.AssetNative, err
	}
	tok, err := tokens.Resolve(asset)
	if err != nil {
		return nil, "", err
	}
	v, err := chain.ParseUnits(amount, tok.Decimals)
	return v, tok.Address.Hex(), err
}
