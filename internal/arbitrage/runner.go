package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/keeperbot/internal/chain"
	"github.com/alanyoungcy/keeperbot/internal/domain"
	"github.com/alanyoungcy/keeperbot/internal/metrics"
)

// Pair is one watched market with its profitability floor in the units of
// whichever token the arbitrage path ends in.
type Pair struct {
	domain.TokenPair
	MinProfit string
}

func (p Pair) name(tokens *chain.TokenRegistry) string {
	return tokens.Symbol(p.Source) + "/" + tokens.Symbol(p.Target)
}

// PairSpec is a pair as configured, by symbol or address.
type PairSpec struct {
	Source    string
	Target    string
	MinProfit string
}

// ResolvePairs turns configured symbols or addresses into Pairs.
func ResolvePairs(tokens *chain.TokenRegistry, specs []PairSpec) ([]Pair, error) {
	pairs := make([]Pair, 0, len(specs))
	for _, s := range specs {
		src, err := tokens.Resolve(s.Source)
		if err != nil {
			return nil, fmt.Errorf("arbitrage: pair source %q: %w", s.Source, err)
		}
		dst, err := tokens.Resolve(s.Target)
		if err != nil {
			return nil, fmt.Errorf("arbitrage: pair target %q: %w", s.Target, err)
		}
		if src.Address == dst.Address {
			return nil, fmt.Errorf("arbitrage: pair %s/%s has identical tokens", s.Source, s.Target)
		}
		minProfit := s.MinProfit
		if minProfit == "" {
			minProfit = "0"
		}
		if _, err := chain.ParseUnits(minProfit, chain.DefaultDecimals); err != nil {
			return nil, fmt.Errorf("arbitrage: pair %s/%s min_profit: %w", s.Source, s.Target, err)
		}
		pairs = append(pairs, Pair{
			TokenPair: domain.TokenPair{Source: src.Address, Target: dst.Address},
			MinProfit: minProfit,
		})
	}
	return pairs, nil
}

// RunnerConfig configures a Runner. When Execute is false opportunities are
// only logged.
type RunnerConfig struct {
	Interval time.Duration
	Execute  bool
	Pairs    []Pair
}

// Runner checks every pair once per interval.
type Runner struct {
	cfg      RunnerConfig
	detector *Detector
	executor *Executor
	tokens   *chain.TokenRegistry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig, d *Detector, x *Executor, tokens *chain.TokenRegistry, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if tokens == nil {
		tokens = chain.NewTokenRegistry(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		detector: d,
		executor: x,
		tokens:   tokens,
		metrics:  m,
		logger:   logger.With(slog.String("component", "arbitrage")),
	}
}

// Run cycles until ctx is cancelled. Cancellation is observed between
// cycles only.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "arbitrage runner started",
		slog.Duration("interval", r.cfg.Interval),
		slog.Int("pairs", len(r.cfg.Pairs)),
		slog.Bool("execute", r.cfg.Execute),
	)
	cycleCtx := context.WithoutCancel(ctx)
	for {
		r.Cycle(cycleCtx)

		timer := time.NewTimer(r.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("arbitrage runner stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Cycle checks each pair in order and executes the profitable ones. It
// returns the number of successful executions.
func (r *Runner) Cycle(ctx context.Context) int {
	executed := 0
	for _, p := range r.cfg.Pairs {
		if r.checkPair(ctx, p) {
			executed++
		}
	}
	return executed
}

func (r *Runner) checkPair(ctx context.Context, p Pair) (ok bool) {
	name := p.name(r.tokens)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "arbitrage check panicked", slog.String("pair", name), slog.Any("panic", rec))
			ok = false
		}
	}()

	opp, err := r.detector.Check(ctx, p.TokenPair)
	if err != nil {
		r.metrics.ArbitrageChecked(name, "error")
		r.logger.WarnContext(ctx, "arbitrage check failed", slog.String("pair", name), slog.String("error", err.Error()))
		return false
	}
	if !opp.Exists() {
		r.metrics.ArbitrageChecked(name, "none")
		r.logger.DebugContext(ctx, "no arbitrage", slog.String("pair", name))
		return false
	}
	r.metrics.ArbitrageChecked(name, "opportunity")

	profitTok := r.tokens.Lookup(opp.Path[len(opp.Path)-1])
	r.logger.InfoContext(ctx, "arbitrage opportunity",
		slog.String("pair", name),
		slog.String("expected", chain.FormatUnits(opp.ExpectedReturn, profitTok.Decimals)),
		slog.String("profit_token", profitTok.Symbol),
	)
	if !r.cfg.Execute || r.executor == nil {
		return false
	}

	floor, err := chain.ParseUnits(p.MinProfit, profitTok.Decimals)
	if err != nil {
		floor = new(big.Int)
	}
	if _, err := r.executor.Execute(ctx, opp, floor); err != nil {
		if errors.Is(err, domain.ErrBelowProfitFloor) {
			r.logger.InfoContext(ctx, "arbitrage below profit floor", slog.String("pair", name))
		}
		return false
	}
	return true
}
