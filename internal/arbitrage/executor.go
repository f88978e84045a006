package arbitrage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/keeperbot/internal/chain"
	"github.com/alanyoungcy/keeperbot/internal/domain"
	"github.com/alanyoungcy/keeperbot/internal/metrics"
	"github.com/alanyoungcy/keeperbot/internal/notify"
)

// Gateway is the part of the ledger gateway the executor needs.
type Gateway interface {
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	ArbitrageCall(path []common.Address, amountIn, minProfit *big.Int) (chain.Call, error)
	Submit(ctx context.Context, call chain.Call, from common.Address, gasLimit uint64, gasPrice *big.Int, nonce uint64) (common.Hash, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	DecodeArbitrageEvents(receipt *types.Receipt) ([]domain.ArbitrageResult, error)
}

// Allocator leases signing identities.
type Allocator interface {
	Lease(ctx context.Context, purpose string, minimum *big.Int, asset string) (domain.Wallet, *big.Int, error)
	Release(w domain.Wallet)
}

// Poster is the fire-and-forget notification sink.
type Poster interface {
	Post(event string, msg notify.Message)
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	GasLimit       uint64
	MaxSlippageBps int64
	MinReserve     *big.Int
	ReserveAsset   string
}

// ExecutorDeps are the executor's collaborators. Audit, Notifier, Bus and
// Metrics may be nil.
type ExecutorDeps struct {
	Gateway  Gateway
	Pool     Allocator
	Audit    domain.ArbitrageStore
	Notifier Poster
	Bus      domain.SignalBus
	Metrics  *metrics.Metrics
	Tokens   *chain.TokenRegistry
	Logger   *slog.Logger
}

// Execution outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeProfitNotMet = "profit_not_met"
	OutcomeNoWallet     = "no_wallet"
	OutcomeBelowFloor   = "below_floor"
)

// Executor submits watcher.arbitrage for detected opportunities.
type Executor struct {
	cfg      ExecutorConfig
	gw       Gateway
	pool     Allocator
	audit    domain.ArbitrageStore
	notifier Poster
	bus      domain.SignalBus
	metrics  *metrics.Metrics
	tokens   *chain.TokenRegistry
	logger   *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig, deps ExecutorDeps) *Executor {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 2_500_000
	}
	if cfg.ReserveAsset == "" {
		cfg.ReserveAsset = domain.AssetNative
	}
	if cfg.MinReserve == nil {
		cfg.MinReserve = new(big.Int)
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = chain.NewTokenRegistry(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:      cfg,
		gw:       deps.Gateway,
		pool:     deps.Pool,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		tokens:   tokens,
		logger:   logger.With(slog.String("component", "arb_executor")),
	}
}

// MinProfit is the on-chain profit guard passed to the watcher: the
// expected return less the slippage allowance, never below floor.
func MinProfit(expected *big.Int, slippageBps int64, floor *big.Int) *big.Int {
	out := new(big.Int).Mul(expected, big.NewInt(10_000-slippageBps))
	out.Quo(out, big.NewInt(10_000))
	if floor != nil && out.Cmp(floor) < 0 {
		out.Set(floor)
	}
	return out
}

// Execute trades opp if its expected return reaches floor. A rejected or
// reverted transaction, including "minimum profit not met", is returned as
// a *chain.SubmissionError after being logged and notified.
func (x *Executor) Execute(ctx context.Context, opp domain.ArbitrageOpportunity, floor *big.Int) (domain.ArbitrageResult, error) {
	if !opp.Exists() {
		return domain.ArbitrageResult{}, fmt.Errorf("arbitrage: execute: %w", domain.ErrBelowProfitFloor)
	}
	if floor == nil {
		floor = new(big.Int)
	}
	if opp.ExpectedReturn.Cmp(floor) < 0 {
		x.metrics.ArbitrageExecuted(OutcomeBelowFloor)
		return domain.ArbitrageResult{}, fmt.Errorf("arbitrage: expected %s below floor %s: %w",
			opp.ExpectedReturn, floor, domain.ErrBelowProfitFloor)
	}

	minProfit := MinProfit(opp.ExpectedReturn, x.cfg.MaxSlippageBps, floor)
	source, target := opp.Path[0], opp.Path[len(opp.Path)-1]
	srcTok, dstTok := x.tokens.Lookup(source), x.tokens.Lookup(target)

	wallet, _, err := x.pool.Lease(ctx, domain.PurposeArbitrage, x.cfg.MinReserve, x.cfg.ReserveAsset)
	if err != nil {
		x.metrics.ArbitrageExecuted(OutcomeNoWallet)
		x.logger.WarnContext(ctx, "no wallet available for arbitrage", slog.String("error", err.Error()))
		x.post(notify.EventNoWallet, notify.Message{
			Title:  "Arbitrage",
			Body:   "No wallet available for arbitrage",
			Format: notify.FormatHTML,
		})
		return domain.ArbitrageResult{}, err
	}
	defer x.pool.Release(wallet)

	x.logger.InfoContext(ctx, "executing arbitrage",
		slog.String("wallet", wallet.Address.Hex()),
		slog.String("source", srcTok.Symbol),
		slog.String("target", dstTok.Symbol),
		slog.String("amount", chain.FormatUnits(opp.Amount, srcTok.Decimals)),
		slog.String("expected", chain.FormatUnits(opp.ExpectedReturn, dstTok.Decimals)),
		slog.String("min_profit", chain.FormatUnits(minProfit, dstTok.Decimals)),
	)

	hash, err := x.submit(ctx, wallet, opp, minProfit)
	if err != nil {
		x.onFailure(ctx, wallet, opp, hash, err)
		return domain.ArbitrageResult{}, err
	}

	res := x.collect(ctx, hash, wallet, opp)
	x.metrics.ArbitrageExecuted(OutcomeSuccess)
	x.logger.InfoContext(ctx, "arbitrage transaction successful",
		slog.String("tx", hash.Hex()),
		slog.String("profit", chain.FormatUnits(res.Profit, dstTok.Decimals)),
	)
	x.post(notify.EventArbitrageSuccess, notify.Message{
		Title: "Arbitrage",
		Body: fmt.Sprintf("Arbitrage Transaction successful: %s\nSold %s %s for %s %s, profit %s %s",
			hash.Hex(),
			chain.FormatUnits(res.SourceTokenAmount, srcTok.Decimals), srcTok.Symbol,
			chain.FormatUnits(res.TargetTokenAmount, dstTok.Decimals), dstTok.Symbol,
			chain.FormatUnits(res.Profit, dstTok.Decimals), dstTok.Symbol),
		Format: notify.FormatHTML,
	})
	x.publish(ctx, Event{Status: OutcomeSuccess, TxHash: hash, Wallet: wallet.Address, Path: opp.Path, Profit: res.Profit.String()})
	return res, nil
}

func (x *Executor) submit(ctx context.Context, wallet domain.Wallet, opp domain.ArbitrageOpportunity, minProfit *big.Int) (common.Hash, error) {
	nonce, err := x.gw.PendingNonce(ctx, wallet.Address)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := x.gw.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	call, err := x.gw.ArbitrageCall(opp.Path, opp.Amount, minProfit)
	if err != nil {
		return common.Hash{}, err
	}
	return x.gw.Submit(ctx, call, wallet.Address, x.cfg.GasLimit, gasPrice, nonce)
}

// collect decodes the profit event from the receipt and records it. When no
// event can be decoded the result is built from the opportunity itself.
func (x *Executor) collect(ctx context.Context, hash common.Hash, wallet domain.Wallet, opp domain.ArbitrageOpportunity) domain.ArbitrageResult {
	res := domain.ArbitrageResult{
		TxHash:            hash,
		Beneficiary:       wallet.Address,
		SourceToken:       opp.Path[0],
		TargetToken:       opp.Path[len(opp.Path)-1],
		SourceTokenAmount: opp.Amount,
		TargetTokenAmount: new(big.Int),
		PriceFeedAmount:   new(big.Int),
		Profit:            opp.ExpectedReturn,
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	receipt, err := x.gw.Receipt(auditCtx, hash)
	switch {
	case errors.Is(err, domain.ErrReceiptPending):
		x.logger.InfoContext(ctx, "receipt not available for audit", slog.String("tx", hash.Hex()))
	case err != nil:
		x.logger.WarnContext(ctx, "receipt fetch for audit failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
	default:
		events, err := x.gw.DecodeArbitrageEvents(receipt)
		if err != nil {
			x.logger.WarnContext(ctx, "decode arbitrage events failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
		}
		if len(events) > 0 {
			res = events[0]
			res.TxHash = hash
		} else {
			x.logger.InfoContext(ctx, "no arbitrage event in receipt", slog.String("tx", hash.Hex()))
		}
	}

	if x.audit != nil {
		if err := x.audit.RecordArbitrage(auditCtx, res); err != nil {
			x.logger.ErrorContext(ctx, "record arbitrage failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
		}
	}
	return res
}

func (x *Executor) onFailure(ctx context.Context, wallet domain.Wallet, opp domain.ArbitrageOpportunity, hash common.Hash, cause error) {
	outcome, reason := OutcomeFailure, cause.Error()
	if se, ok := chain.AsSubmissionError(cause); ok {
		if se.TxHash != (common.Hash{}) {
			hash = se.TxHash
		}
		if se.Reason != "" {
			reason = se.Reason
		}
		if se.IsProfitNotMet() {
			outcome = OutcomeProfitNotMet
		}
	}
	x.metrics.ArbitrageExecuted(outcome)
	x.logger.ErrorContext(ctx, "arbitrage transaction failed",
		slog.String("wallet", wallet.Address.Hex()),
		slog.String("tx", hash.Hex()),
		slog.String("reason", reason),
	)
	x.post(notify.EventArbitrageFailure, notify.Message{
		Title:  "Arbitrage error",
		Body:   fmt.Sprintf("⚠️ <b>ERROR</b> ⚠️\nError on arbitrage tx: %s", reason),
		Format: notify.FormatHTML,
	})
	x.publish(ctx, Event{Status: OutcomeFailure, TxHash: hash, Wallet: wallet.Address, Path: opp.Path, Error: reason})
}

func (x *Executor) post(event string, msg notify.Message) {
	if x.notifier != nil {
		x.notifier.Post(event, msg)
	}
}

// Event is the payload published on the arbitrage bus channel.
type Event struct {
	Status string           `json:"status"`
	TxHash common.Hash      `json:"txHash"`
	Wallet common.Address   `json:"wallet"`
	Path   []common.Address `json:"path"`
	Profit string           `json:"profit,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (x *Executor) publish(ctx context.Context, ev Event) {
	if x.bus == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		Event
	}{Type: "arbitrage", Event: ev})
	if err != nil {
		return
	}
	if err := x.bus.Publish(ctx, domain.ChannelArbitrage, payload); err != nil {
		x.logger.WarnContext(ctx, "publish arbitrage event failed", slog.String("error", err.Error()))
	}
}
