// Package rollover scans open positions and rolls over the expired ones.
// Positions are attempted one at a time; each attempt leases a wallet,
// submits protocol.rollover and records the outcome.
package rollover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/keeperbot/internal/chain"
	"github.com/alanyoungcy/keeperbot/internal/domain"
	"github.com/alanyoungcy/keeperbot/internal/metrics"
	"github.com/alanyoungcy/keeperbot/internal/notify"
)

// Gateway is the part of the ledger gateway the engine needs.
type Gateway interface {
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	RolloverCall(loanID common.Hash, loanData []byte) (chain.Call, error)
	Submit(ctx context.Context, call chain.Call, from common.Address, gasLimit uint64, gasPrice *big.Int, nonce uint64) (common.Hash, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	DecodeRolloverEvents(receipt *types.Receipt) ([]chain.RolloverEvent, error)
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

// Config holds the engine parameters.
type Config struct {
	Interval     time.Duration
	GasLimit     uint64
	MinReserve   *big.Int
	ReserveAsset string
	BatchSize    int
	Policy       Policy
}

// Deps are the engine's collaborators. Audit, Bus, Metrics and Tokens may
// be nil.
type Deps struct {
	Source   domain.PositionSource
	Gateway  Gateway
	Pool     Allocator
	Failures domain.FailureCounter
	Audit    domain.RolloverStore
	Notifier Poster
	Bus      domain.SignalBus
	Metrics  *metrics.Metrics
	Tokens   *chain.TokenRegistry
	Logger   *slog.Logger
}

// Outcome is the result of one position attempt.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeNoWallet Outcome = "no_wallet"
	OutcomePanic    Outcome = "panic"
)

// SweepStats summarizes one sweep.
type SweepStats struct {
	Scanned  int
	Skipped  map[SkipReason]int
	Outcomes map[Outcome]int
	Pruned   int
}

// Engine is the rollover scanner.
type Engine struct {
	cfg      Config
	source   domain.PositionSource
	gw       Gateway
	pool     Allocator
	failures domain.FailureCounter
	audit    domain.RolloverStore
	notifier Poster
	bus      domain.SignalBus
	metrics  *metrics.Metrics
	tokens   *chain.TokenRegistry
	logger   *slog.Logger
	now      func() time.Time

	auditWG sync.WaitGroup
}

// New creates an Engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 2_500_000
	}
	if cfg.ReserveAsset == "" {
		cfg.ReserveAsset = domain.AssetNative
	}
	if cfg.MinReserve == nil {
		cfg.MinReserve = chain.MustParseUnits("0.001", 18)
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = chain.NewTokenRegistry(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		source:   deps.Source,
		gw:       deps.Gateway,
		pool:     deps.Pool,
		failures: deps.Failures,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		tokens:   tokens,
		logger:   logger.With(slog.String("component", "rollover")),
		now:      time.Now,
	}
}

// Run sweeps, sleeps for the configured interval and repeats until ctx is
// cancelled. A sweep in progress is never interrupted: it runs on a context
// detached from ctx, and cancellation is only observed while sleeping.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "rollover engine started",
		slog.Duration("interval", e.cfg.Interval),
		slog.Uint64("gas_limit", e.cfg.GasLimit),
	)
	sweepCtx := context.WithoutCancel(ctx)
	for {
		e.Sweep(sweepCtx)

		timer := time.NewTimer(e.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.auditWG.Wait()
			e.logger.Info("rollover engine stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Sweep performs one pass over the current position snapshot.
func (e *Engine) Sweep(ctx context.Context) SweepStats {
	start := e.now()
	stats := SweepStats{
		Skipped:  make(map[SkipReason]int),
		Outcomes: make(map[Outcome]int),
	}

	positions, err := e.source.OpenPositions(ctx, e.cfg.BatchSize)
	if err != nil {
		e.logger.ErrorContext(ctx, "load positions failed", slog.String("error", err.Error()))
		positions = nil
	}
	stats.Scanned = len(positions)

	for _, pos := range positions {
		count, err := e.failures.Count(ctx, pos.LoanID)
		if err != nil {
			// An unknown count may hide a tripped ceiling.
			e.logger.WarnContext(ctx, "failure count read failed, skipping position",
				slog.String("loan_id", pos.LoanID.Hex()),
				slog.String("error", err.Error()),
			)
			stats.Skipped[ReasonCounterUnavailable]++
			e.metrics.RolloverSkipped(string(ReasonCounterUnavailable))
			continue
		}
		if reason := e.cfg.Policy.Evaluate(pos, count, e.now()); reason != Eligible {
			stats.Skipped[reason]++
			e.metrics.RolloverSkipped(string(reason))
			continue
		}
		out := e.attempt(ctx, pos)
		stats.Outcomes[out]++
		e.metrics.RolloverAttempt(string(out))
	}

	// Entries for positions that left a non-empty snapshot are closed
	// elsewhere and can go.
	if len(positions) > 0 {
		keep := make(map[common.Hash]struct{}, len(positions))
		for _, p := range positions {
			keep[p.LoanID] = struct{}{}
		}
		n, err := e.failures.Prune(ctx, keep)
		if err != nil {
			e.logger.WarnContext(ctx, "prune failure counter failed", slog.String("error", err.Error()))
		}
		stats.Pruned = n
	}

	tracked := 0
	if snap, err := e.failures.Snapshot(ctx); err == nil {
		tracked = len(snap)
	}
	e.metrics.SweepFinished(e.now().Sub(start), tracked)

	e.logger.InfoContext(ctx, "completed rollover sweep",
		slog.Int("scanned", stats.Scanned),
		slog.Int("succeeded", stats.Outcomes[OutcomeSuccess]),
		slog.Int("failed", stats.Outcomes[OutcomeFailure]),
		slog.Int("no_wallet", stats.Outcomes[OutcomeNoWallet]),
		slog.Int("pruned", stats.Pruned),
	)
	return stats
}

// attempt rolls over one eligible position. The wallet is released on every
// path, and a panic is contained to this position and counted as a failure.
func (e *Engine) attempt(ctx context.Context, pos domain.Position) (out Outcome) {
	var wallet domain.Wallet
	defer func() {
		if r := recover(); r != nil {
			e.onFailure(ctx, pos, wallet, common.Hash{}, fmt.Errorf("rollover: attempt panicked: %v", r))
			out = OutcomePanic
		}
	}()

	tok := e.tokens.Lookup(pos.CollateralToken)
	e.logger.InfoContext(ctx, "rollover",
		slog.String("loan_id", pos.LoanID.Hex()),
		slog.String("collateral", chain.FormatUnits(pos.Collateral, tok.Decimals)),
		slog.String("collateral_token", tok.Symbol),
	)

	leased, _, err := e.pool.Lease(ctx, domain.PurposeRollover, e.cfg.MinReserve, e.cfg.ReserveAsset)
	if err != nil {
		e.logger.WarnContext(ctx, "no wallet available for rollover", slog.String("error", err.Error()))
		e.notify(notify.EventNoWallet, notify.Message{
			Title:  "Rollover",
			Body:   "No wallet available for rollover",
			Format: notify.FormatHTML,
		})
		return OutcomeNoWallet
	}
	wallet = leased
	defer e.pool.Release(leased)

	hash, err := e.submit(ctx, pos, wallet)
	if err != nil {
		e.onFailure(ctx, pos, wallet, hash, err)
		return OutcomeFailure
	}
	e.onSuccess(ctx, pos, wallet, hash, tok)
	return OutcomeSuccess
}

func (e *Engine) submit(ctx context.Context, pos domain.Position, wallet domain.Wallet) (common.Hash, error) {
	nonce, err := e.gw.PendingNonce(ctx, wallet.Address)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := e.gw.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	call, err := e.gw.RolloverCall(pos.LoanID, nil)
	if err != nil {
		return common.Hash{}, err
	}
	return e.gw.Submit(ctx, call, wallet.Address, e.cfg.GasLimit, gasPrice, nonce)
}

func (e *Engine) onSuccess(ctx context.Context, pos domain.Position, wallet domain.Wallet, hash common.Hash, tok chain.Token) {
	if err := e.failures.Reset(ctx, pos.LoanID); err != nil {
		e.logger.WarnContext(ctx, "reset failure counter failed",
			slog.String("loan_id", pos.LoanID.Hex()),
			slog.String("error", err.Error()),
		)
	}
	e.logger.InfoContext(ctx, "rollover transaction successful",
		slog.String("loan_id", pos.LoanID.Hex()),
		slog.String("tx", hash.Hex()),
		slog.String("wallet", wallet.Address.Hex()),
	)
	e.notify(notify.EventRolloverSuccess, notify.Message{
		Title: "Rollover",
		Body: fmt.Sprintf("Rollover Transaction successful: %s\nRolled over position %s with %s as collateral token",
			hash.Hex(), pos.LoanID.Hex(), tok.Symbol),
		Format: notify.FormatHTML,
	})
	e.publish(ctx, Event{Status: string(OutcomeSuccess), LoanID: pos.LoanID, TxHash: hash, Wallet: wallet.Address})

	e.auditWG.Go(func() { e.recordAudit(context.WithoutCancel(ctx), pos, wallet, hash) })
}

func (e *Engine) onFailure(ctx context.Context, pos domain.Position, wallet domain.Wallet, hash common.Hash, cause error) {
	n, err := e.failures.Increment(ctx, pos.LoanID)
	if err != nil {
		e.logger.WarnContext(ctx, "increment failure counter failed",
			slog.String("loan_id", pos.LoanID.Hex()),
			slog.String("error", err.Error()),
		)
	}
	e.logger.ErrorContext(ctx, "rollover transaction failed",
		slog.String("loan_id", pos.LoanID.Hex()),
		slog.String("wallet", wallet.Address.Hex()),
		slog.Int("failures", n),
		slog.String("error", cause.Error()),
	)
	e.notify(notify.EventRolloverFailure, notify.Message{
		Title:  "Rollover error",
		Body:   fmt.Sprintf("⚠️ <b>ERROR</b> ⚠️\nError on rollover tx (loanId %s)", pos.LoanID.Hex()),
		Format: notify.FormatHTML,
	})
	e.publish(ctx, Event{Status: string(OutcomeFailure), LoanID: pos.LoanID, TxHash: hash, Wallet: wallet.Address, Error: cause.Error()})
}

// recordAudit fetches the receipt once and writes the transaction record.
// It never affects the outcome of the rollover; problems are only logged.
func (e *Engine) recordAudit(ctx context.Context, pos domain.Position, wallet domain.Wallet, hash common.Hash) {
	if e.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rec := domain.RolloverRecord{LoanID: pos.LoanID, TxHash: hash, Address: wallet.Address}

	receipt, err := e.gw.Receipt(ctx, hash)
	switch {
	case errors.Is(err, domain.ErrReceiptPending):
		e.logger.InfoContext(ctx, "receipt not available for audit", slog.String("tx", hash.Hex()))
	case err != nil:
		e.logger.WarnContext(ctx, "receipt fetch for audit failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
	default:
		events, err := e.gw.DecodeRolloverEvents(receipt)
		if err != nil {
			e.logger.WarnContext(ctx, "decode rollover events failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
		}
		found := false
		for _, ev := range events {
			if ev.LoanID == pos.LoanID {
				found = true
				if ev.Caller != (common.Address{}) {
					rec.Address = ev.Caller
				}
				break
			}
		}
		if !found {
			e.logger.InfoContext(ctx, "no rollover event in receipt", slog.String("tx", hash.Hex()))
		}
	}

	if err := e.audit.RecordRollover(ctx, rec); err != nil {
		e.logger.ErrorContext(ctx, "record rollover failed",
			slog.String("tx", hash.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) notify(event string, msg notify.Message) {
	if e.notifier != nil {
		e.notifier.Post(event, msg)
	}
}

// Event is the payload published on the rollover bus channel.
type Event struct {
	Status string         `json:"status"`
	LoanID common.Hash    `json:"loanId"`
	TxHash common.Hash    `json:"txHash"`
	Wallet common.Address `json:"wallet"`
	Error  string         `json:"error,omitempty"`
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		Event
	}{Type: "rollover", Event: ev})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, domain.ChannelRollover, payload); err != nil {
		e.logger.WarnContext(ctx, "publish rollover event failed", slog.String("error", err.Error()))
	}
}
