// Package app assembles the keeper from configuration and runs the engines
// the selected mode calls for.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/alanyoungcy/keeperbot/internal/config"
	"github.com/alanyoungcy/keeperbot/internal/domain"
)

type modeFunc func(*App, context.Context, *Dependencies) error

var modes = map[string]modeFunc{
	"rollover":  (*App).RolloverMode,
	"arbitrage": (*App).ArbitrageMode,
	"monitor":   (*App).MonitorMode,
	"full":      (*App).FullMode,
}

// Modes lists the accepted mode names, sorted.
func Modes() []string {
	names := make([]string, 0, len(modes))
	for name := range modes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// App owns the configuration and the cleanup of everything Wire opened.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closeOnce sync.Once
	cleanup   func()
}

// New creates an App. Nothing is opened until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies and blocks in the configured mode until ctx is
// cancelled or an engine fails.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(strings.TrimSpace(a.cfg.Mode))
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q (want one of %s)", a.cfg.Mode, strings.Join(Modes(), ", "))
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup

	a.logger.InfoContext(ctx, "keeper wired",
		slog.String("mode", mode),
		slog.String("network", a.cfg.Network),
		slog.Int("rollover_wallets", deps.Pool.Available(domain.PurposeRollover)),
		slog.Int("arbitrage_wallets", deps.Pool.Available(domain.PurposeArbitrage)),
	)
	return run(a, ctx, deps)
}

// Close releases every wired resource. Later calls do nothing.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.cleanup != nil {
			a.logger.Info("releasing keeper resources")
			a.cleanup()
		}
	})
}
