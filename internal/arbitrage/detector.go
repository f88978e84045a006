// Package arbitrage compares the price-feed oracle against the AMM for each
// configured token pair and, when the AMM pays more, trades through the
// watcher contract.
package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/keeperbot/internal/chain"
	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// Quoter returns independent oracle and AMM quotes.
type Quoter interface {
	OracleReturn(ctx context.Context, source, target common.Address, amount *big.Int) (*big.Int, error)
	SwapReturn(ctx context.Context, source, target common.Address, amount *big.Int) (*big.Int, []common.Address, error)
}

// DetectorConfig configures a Detector. ProbeAmount and Tolerance are
// decimal strings in units of the probed and returned token respectively.
type DetectorConfig struct {
	ProbeAmount string
	Tolerance   string
}

// Detector decides whether a pair currently offers an arbitrage.
type Detector struct {
	quoter    Quoter
	tokens    *chain.TokenRegistry
	probe     string
	tolerance string
	logger    *slog.Logger
}

// NewDetector creates a Detector. The probe and tolerance strings are
// validated against 18 decimals so a typo fails at startup.
func NewDetector(q Quoter, tokens *chain.TokenRegistry, cfg DetectorConfig, logger *slog.Logger) (*Detector, error) {
	if cfg.ProbeAmount == "" {
		cfg.ProbeAmount = "1"
	}
	if cfg.Tolerance == "" {
		cfg.Tolerance = "0"
	}
	probe, err := chain.ParseUnits(cfg.ProbeAmount, chain.DefaultDecimals)
	if err != nil {
		return nil, fmt.Errorf("arbitrage: probe amount: %w", err)
	}
	if probe.Sign() <= 0 {
		return nil, fmt.Errorf("arbitrage: probe amount must be positive")
	}
	if _, err := chain.ParseUnits(cfg.Tolerance, chain.DefaultDecimals); err != nil {
		return nil, fmt.Errorf("arbitrage: tolerance: %w", err)
	}
	if tokens == nil {
		tokens = chain.NewTokenRegistry(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		quoter:    q,
		tokens:    tokens,
		probe:     cfg.ProbeAmount,
		tolerance: cfg.Tolerance,
		logger:    logger.With(slog.String("component", "arb_detector")),
	}, nil
}

// Check probes source->target first and target->source second. The first
// direction where the AMM returns more than the oracle wins. A pair with no
// opportunity yields a zero Amount, zero ExpectedReturn and an empty Path.
func (d *Detector) Check(ctx context.Context, pair domain.TokenPair) (domain.ArbitrageOpportunity, error) {
	q, err := d.quote(ctx, pair.Source, pair.Target)
	if err != nil {
		return domain.ArbitrageOpportunity{}, err
	}
	if d.profitable(q, pair.Target) {
		return d.opportunity(pair, q), nil
	}

	q, err = d.quote(ctx, pair.Target, pair.Source)
	if err != nil {
		return domain.ArbitrageOpportunity{}, err
	}
	if d.profitable(q, pair.Source) {
		return d.opportunity(pair, q), nil
	}

	return domain.ArbitrageOpportunity{
		Pair:           pair,
		Amount:         new(big.Int),
		ExpectedReturn: new(big.Int),
		Path:           []common.Address{},
	}, nil
}

func (d *Detector) quote(ctx context.Context, source, target common.Address) (domain.QuotePair, error) {
	amount, err := chain.ParseUnits(d.probe, d.tokens.Lookup(source).Decimals)
	if err != nil {
		return domain.QuotePair{}, fmt.Errorf("arbitrage: probe amount: %w", err)
	}
	oracle, err := d.quoter.OracleReturn(ctx, source, target, amount)
	if err != nil {
		return domain.QuotePair{}, fmt.Errorf("arbitrage: oracle %s -> %s: %w", d.tokens.Symbol(source), d.tokens.Symbol(target), err)
	}
	swap, path, err := d.quoter.SwapReturn(ctx, source, target, amount)
	if err != nil {
		return domain.QuotePair{}, fmt.Errorf("arbitrage: swap %s -> %s: %w", d.tokens.Symbol(source), d.tokens.Symbol(target), err)
	}

	d.logger.DebugContext(ctx, "quoted",
		slog.String("source", d.tokens.Symbol(source)),
		slog.String("target", d.tokens.Symbol(target)),
		slog.String("oracle", oracle.String()),
		slog.String("swap", swap.String()),
	)
	return domain.QuotePair{AmountIn: amount, Oracle: oracle, Swap: swap, Path: path}, nil
}

// profitable reports whether the AMM beats the oracle by more than the
// tolerance, measured in the returned token.
func (d *Detector) profitable(q domain.QuotePair, returned common.Address) bool {
	tol, err := chain.ParseUnits(d.tolerance, d.tokens.Lookup(returned).Decimals)
	if err != nil {
		tol = new(big.Int)
	}
	return q.Spread().Cmp(tol) > 0
}

func (d *Detector) opportunity(pair domain.TokenPair, q domain.QuotePair) domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		Pair:           pair,
		Amount:         q.AmountIn,
		ExpectedReturn: q.Spread(),
		Path:           q.Path,
	}
}
