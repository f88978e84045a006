package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/keeperbot/internal/arbitrage"
	"github.com/alanyoungcy/keeperbot/internal/notify"
	"github.com/alanyoungcy/keeperbot/internal/rollover"
	"github.com/alanyoungcy/keeperbot/internal/server"
	"github.com/alanyoungcy/keeperbot/internal/server/handler"
	"github.com/alanyoungcy/keeperbot/internal/server/ws"
)

// RolloverMode runs the rollover engine plus the shared background services.
func (a *App) RolloverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting rollover mode")

	engine, err := a.buildRollover(deps)
	if err != nil {
		return fmt.Errorf("rollover mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(ctx) })
	a.startBackground(ctx, g, deps)
	return a.wait(g, deps)
}

// ArbitrageMode runs the arbitrage runner plus the shared background services.
func (a *App) ArbitrageMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting arbitrage mode",
		slog.Int("pairs", len(a.cfg.Arbitrage.Pairs)),
		slog.Bool("execute", a.cfg.Arbitrage.Execute),
	)

	runner, err := a.buildArbitrage(deps, a.cfg.Arbitrage.Execute)
	if err != nil {
		return fmt.Errorf("arbitrage mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(ctx) })
	a.startBackground(ctx, g, deps)
	return a.wait(g, deps)
}

// MonitorMode submits nothing. It serves the API and observer hub, runs the
// archiver, and when arbitrage pairs and contracts are configured it checks
// them without executing so the metrics stay populated.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	if len(a.cfg.Arbitrage.Pairs) > 0 && a.cfg.Chain.PriceFeedsAddress != "" && a.cfg.Chain.SwapNetworkAddress != "" {
		runner, err := a.buildArbitrage(deps, false)
		if err != nil {
			a.logger.WarnContext(ctx, "monitor mode: arbitrage checks disabled",
				slog.String("error", err.Error()),
			)
		} else {
			g.Go(func() error { return runner.Run(ctx) })
		}
	}

	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false; monitor mode starts the HTTP server anyway")
	}
	a.startServices(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return a.wait(g, deps)
}

// FullMode runs every engine enabled in the configuration together with the
// shared background services.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("rollover", a.cfg.RunsRollover()),
		slog.Bool("arbitrage", a.cfg.RunsArbitrage()),
	)

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.RunsRollover() {
		engine, err := a.buildRollover(deps)
		if err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
		g.Go(func() error { return engine.Run(ctx) })
	}
	if a.cfg.RunsArbitrage() {
		runner, err := a.buildArbitrage(deps, a.cfg.Arbitrage.Execute)
		if err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
		g.Go(func() error { return runner.Run(ctx) })
	}

	a.startBackground(ctx, g, deps)
	return a.wait(g, deps)
}

// wait announces startup, blocks until every goroutine returns, then sends
// the shutdown notice synchronously since the notifier loop has stopped.
func (a *App) wait(g *errgroup.Group, deps *Dependencies) error {
	deps.Notifier.Post(notify.EventLifecycle, notify.Message{
		Title: "Keeper started",
		Body:  fmt.Sprintf("mode %s on %s", a.cfg.Mode, a.cfg.Network),
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	body := "clean shutdown"
	if err != nil {
		body = err.Error()
	}
	if nerr := deps.Notifier.Notify(notifyCtx, notify.EventLifecycle, notify.Message{
		Title: "Keeper stopped",
		Body:  body,
	}); nerr != nil {
		a.logger.Warn("shutdown notification failed", slog.String("error", nerr.Error()))
	}
	return err
}

// startBackground starts the notifier, the archiver and, when enabled, the
// HTTP server.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	a.startServices(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
}

func (a *App) startServices(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error { return deps.Notifier.Run(ctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.RunLoop(ctx) })
	}
}

func (a *App) buildRollover(deps *Dependencies) (*rollover.Engine, error) {
	rc := a.cfg.Rollover
	policy, err := rollover.NewPolicy(rc.MinCollateral, rc.DeniedTokens, rc.FailureCeiling, deps.Tokens)
	if err != nil {
		return nil, fmt.Errorf("rollover policy: %w", err)
	}
	floor, asset, err := reserveFloor(deps.Tokens, rc.MinReserve, rc.ReserveAsset)
	if err != nil {
		return nil, fmt.Errorf("rollover min_reserve: %w", err)
	}
	if deps.Positions == nil {
		return nil, errors.New("rollover: no position source (redis disabled)")
	}

	return rollover.New(rollover.Config{
		Interval:     rc.ScanInterval.Duration,
		GasLimit:     rc.GasLimit,
		MinReserve:   floor,
		ReserveAsset: asset,
		BatchSize:    rc.BatchSize,
		Policy:       policy,
	}, rollover.Deps{
		Source:   deps.Positions,
		Gateway:  deps.Gateway,
		Pool:     deps.Pool,
		Failures: deps.Failures,
		Audit:    deps.Audit,
		Notifier: deps.Notifier,
		Bus:      deps.SignalBus,
		Metrics:  deps.Metrics,
		Tokens:   deps.Tokens,
		Logger:   a.logger,
	}), nil
}

func (a *App) buildArbitrage(deps *Dependencies, execute bool) (*arbitrage.Runner, error) {
	ac := a.cfg.Arbitrage

	specs := make([]arbitrage.PairSpec, 0, len(ac.Pairs))
	for _, p := range ac.Pairs {
		specs = append(specs, arbitrage.PairSpec{Source: p.Source, Target: p.Target, MinProfit: p.MinProfit})
	}
	pairs, err := arbitrage.ResolvePairs(deps.Tokens, specs)
	if err != nil {
		return nil, err
	}

	detector, err := arbitrage.NewDetector(deps.Gateway, deps.Tokens, arbitrage.DetectorConfig{
		ProbeAmount: ac.ProbeAmount,
		Tolerance:   ac.Tolerance,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	floor, asset, err := reserveFloor(deps.Tokens, ac.MinReserve, ac.ReserveAsset)
	if err != nil {
		return nil, fmt.Errorf("arbitrage min_reserve: %w", err)
	}
	executor := arbitrage.NewExecutor(arbitrage.ExecutorConfig{
		GasLimit:       ac.GasLimit,
		MaxSlippageBps: ac.MaxSlippageBps,
		MinReserve:     floor,
		ReserveAsset:   asset,
	}, arbitrage.ExecutorDeps{
		Gateway:  deps.Gateway,
		Pool:     deps.Pool,
		Audit:    deps.Audit,
		Notifier: deps.Notifier,
		Bus:      deps.SignalBus,
		Metrics:  deps.Metrics,
		Tokens:   deps.Tokens,
		Logger:   a.logger,
	})

	return arbitrage.NewRunner(arbitrage.RunnerConfig{
		Interval: ac.Interval.Duration,
		Execute:  execute,
		Pairs:    pairs,
	}, detector, executor, deps.Tokens, deps.Metrics, a.logger), nil
}

// startHTTPServer adds the observer hub and the HTTP server to g. The server
// is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, deps.Pool, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error { return hub.Run(ctx) })

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Wallets:  handler.NewWalletHandler(deps.Pool),
		Failures: handler.NewFailureHandler(deps.Failures, a.cfg.Rollover.FailureCeiling, a.logger),
		History:  handler.NewHistoryHandler(deps.Audit, a.logger),
		Metrics:  deps.Metrics.Handler(),
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		RatePerSecond: a.cfg.Server.RatePerSecond,
		RateBurst:     a.cfg.Server.RateBurst,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
