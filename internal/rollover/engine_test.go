package rollover

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/keeperbot/internal/chain"
	"github.com/alanyoungcy/keeperbot/internal/domain"
	"github.com/alanyoungcy/keeperbot/internal/notify"
	"github.com/alanyoungcy/keeperbot/internal/wallet"
)

type staticSource struct {
	mu        sync.Mutex
	positions []domain.Position
	err       error
}

func (s *staticSource) OpenPositions(context.Context, int) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Position(nil), s.positions...), s.err
}

func (s *staticSource) set(ps ...domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = ps
}

type fakeGateway struct {
	mu         sync.Mutex
	submitted  []common.Hash // loan ids in submission order
	fail       map[common.Hash]error
	panicOn    map[common.Hash]bool
	events     []chain.RolloverEvent
	decodeErr  error
	receiptErr error
	wallets    []common.Address
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{fail: map[common.Hash]error{}, panicOn: map[common.Hash]bool{}}
}

func (g *fakeGateway) PendingNonce(context.Context, common.Address) (uint64, error) { return 3, nil }
func (g *fakeGateway) GasPrice(context.Context) (*big.Int, error)                   { return big.NewInt(60_000_000), nil }

func (g *fakeGateway) RolloverCall(loanID common.Hash, loanData []byte) (chain.Call, error) {
	return chain.Call{Method: "rollover", Data: loanID.Bytes()}, nil
}

func (g *fakeGateway) Submit(_ context.Context, call chain.Call, from common.Address, gasLimit uint64, _ *big.Int, nonce uint64) (common.Hash, error) {
	loanID := common.BytesToHash(call.Data)
	g.mu.Lock()
	g.submitted = append(g.submitted, loanID)
	g.wallets = append(g.wallets, from)
	fail := g.fail[loanID]
	boom := g.panicOn[loanID]
	g.mu.Unlock()
	if boom {
		panic("node exploded")
	}
	if fail != nil {
		return common.Hash{}, fail
	}
	return common.BytesToHash(append([]byte{0xee}, loanID.Bytes()[1:]...)), nil
}

func (g *fakeGateway) Receipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if g.receiptErr != nil {
		return nil, g.receiptErr
	}
	return &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful}, nil
}

func (g *fakeGateway) DecodeRolloverEvents(*types.Receipt) ([]chain.RolloverEvent, error) {
	return g.events, g.decodeErr
}

func (g *fakeGateway) attempts() []common.Hash {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.Hash(nil), g.submitted...)
}

type recordingPoster struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingPoster) Post(event string, _ notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingPoster) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type recordingAudit struct {
	mu   sync.Mutex
	recs []domain.RolloverRecord
	err  error
}

func (a *recordingAudit) RecordRollover(_ context.Context, rec domain.RolloverRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return a.err
}

func (a *recordingAudit) ListRollovers(context.Context, domain.ListOpts) ([]domain.StoredRollover, error) {
	return nil, nil
}

func (a *recordingAudit) records() []domain.RolloverRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.RolloverRecord(nil), a.recs...)
}

type recordingBus struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (b *recordingBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

type fundedBalances struct{}

func (fundedBalances) Balance(context.Context, common.Address, string) (*big.Int, error) {
	return chain.MustParseUnits("1", 18), nil
}

type harness struct {
	engine   *Engine
	source   *staticSource
	gw       *fakeGateway
	pool     *wallet.Pool
	failures *MemoryFailures
	poster   *recordingPoster
	audit    *recordingAudit
	bus      *recordingBus
	now      time.Time
}

var keeperWallet = common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")

func newHarness(t *testing.T, wallets ...domain.Wallet) *harness {
	t.Helper()
	if len(wallets) == 0 {
		wallets = []domain.Wallet{{Address: keeperWallet, Purpose: domain.PurposeRollover}}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		source:   &staticSource{},
		gw:       newFakeGateway(),
		pool:     wallet.NewPool(wallets, fundedBalances{}, wallet.WithLogger(logger)),
		failures: NewMemoryFailures(),
		poster:   &recordingPoster{},
		audit:    &recordingAudit{},
		bus:      &recordingBus{},
		now:      time.Unix(1_700_000_000, 0),
	}
	h.engine = New(Config{
		Interval: 10 * time.Millisecond,
		Policy:   testPolicy(t),
	}, Deps{
		Source:   h.source,
		Gateway:  h.gw,
		Pool:     h.pool,
		Failures: h.failures,
		Audit:    h.audit,
		Notifier: h.poster,
		Bus:      h.bus,
		Tokens:   testTokens(),
		Logger:   logger,
	})
	h.engine.now = func() time.Time { return h.now }
	return h
}

func (h *harness) sweep() SweepStats {
	stats := h.engine.Sweep(context.Background())
	h.engine.auditWG.Wait()
	return stats
}

func position(id string, endOffset int64, now time.Time) domain.Position {
	return domain.Position{
		LoanID:          common.HexToHash(id),
		CollateralToken: wrbtc,
		Collateral:      chain.MustParseUnits("0.5", 18),
		EndTimestamp:    now.Unix() + endOffset,
	}
}

func TestFuturePositionsAreNotAttempted(t *testing.T) {
	h := newHarness(t)
	h.source.set(position("0x01", 3600, h.now), position("0x02", 1, h.now))

	stats := h.sweep()
	assert.Empty(t, h.gw.attempts())
	assert.Equal(t, 2, stats.Skipped[ReasonNotExpired])
}

func TestExpiredPositionRolledOverAndRecorded(t *testing.T) {
	h := newHarness(t)
	pos := position("0x01", -10, h.now)
	h.source.set(pos)
	h.gw.events = []chain.RolloverEvent{{LoanID: pos.LoanID, Caller: keeperWallet}}

	stats := h.sweep()
	require.Equal(t, []common.Hash{pos.LoanID}, h.gw.attempts())
	assert.Equal(t, 1, stats.Outcomes[OutcomeSuccess])
	assert.Equal(t, []string{notify.EventRolloverSuccess}, h.poster.list())

	recs := h.audit.records()
	require.Len(t, recs, 1)
	assert.Equal(t, pos.LoanID, recs[0].LoanID)
	assert.Equal(t, keeperWallet, recs[0].Address)
	assert.NotEqual(t, common.Hash{}, recs[0].TxHash)

	require.Len(t, h.bus.payloads, 1)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(h.bus.payloads[0], &ev))
	assert.Equal(t, "rollover", ev["type"])
	assert.Equal(t, "success", ev["status"])
}

func TestFailureCeilingStopsAttempts(t *testing.T) {
	h := newHarness(t)
	pos := position("0x01", -10, h.now)
	h.source.set(pos)
	h.gw.fail[pos.LoanID] = errors.New("execution reverted")

	for i := 0; i < 8; i++ {
		h.sweep()
	}
	assert.Len(t, h.gw.attempts(), DefaultFailureCeiling)

	n, err := h.failures.Count(context.Background(), pos.LoanID)
	require.NoError(t, err)
	assert.Equal(t, DefaultFailureCeiling, n)
	assert.Empty(t, h.audit.records(), "no audit record on failure")

	// external reset makes it eligible again
	require.NoError(t, h.failures.Reset(context.Background(), pos.LoanID))
	h.sweep()
	assert.Len(t, h.gw.attempts(), DefaultFailureCeiling+1)
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pos := position("0x01", -10, h.now)
	h.source.set(pos)
	for i := 0; i < 4; i++ {
		_, err := h.failures.Increment(ctx, pos.LoanID)
		require.NoError(t, err)
	}

	h.sweep()
	snap, err := h.failures.Snapshot(ctx)
	require.NoError(t, err)
	_, present := snap[pos.LoanID]
	assert.False(t, present)
}

func TestWalletReleasedExactlyOnce(t *testing.T) {
	h := newHarness(t,
		domain.Wallet{Address: keeperWallet, Purpose: domain.PurposeRollover},
		domain.Wallet{Address: common.HexToAddress("0xb2"), Purpose: domain.PurposeRollover},
	)
	ok := position("0x01", -10, h.now)
	bad := position("0x02", -10, h.now)
	boom := position("0x03", -10, h.now)
	h.gw.fail[bad.LoanID] = errors.New("reverted")
	h.gw.panicOn[boom.LoanID] = true
	h.source.set(ok, bad, boom)

	before := h.pool.Available(domain.PurposeRollover)
	stats := h.sweep()
	assert.Equal(t, before, h.pool.Available(domain.PurposeRollover))
	assert.Equal(t, 1, stats.Outcomes[OutcomeSuccess])
	assert.Equal(t, 1, stats.Outcomes[OutcomeFailure])
	assert.Equal(t, 1, stats.Outcomes[OutcomePanic])

	// positions are attempted sequentially, so the first wallet serves all
	for _, w := range h.gw.wallets {
		assert.Equal(t, keeperWallet, w)
	}
}

func TestPanickingPositionCountsTowardCeiling(t *testing.T) {
	h := newHarness(t)
	pos := position("0x03", -10, h.now)
	h.gw.panicOn[pos.LoanID] = true
	h.source.set(pos)

	for i := 0; i < 8; i++ {
		h.sweep()
	}
	assert.Len(t, h.gw.attempts(), DefaultFailureCeiling)
	assert.Equal(t, 1, h.pool.Available(domain.PurposeRollover))

	n, err := h.failures.Count(context.Background(), pos.LoanID)
	require.NoError(t, err)
	assert.Equal(t, DefaultFailureCeiling, n)

	events := h.poster.list()
	require.Len(t, events, DefaultFailureCeiling)
	for _, ev := range events {
		assert.Equal(t, notify.EventRolloverFailure, ev)
	}
	require.Len(t, h.bus.payloads, DefaultFailureCeiling)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(h.bus.payloads[0], &ev))
	assert.Equal(t, "failure", ev["status"])
	assert.Contains(t, ev["error"], "panicked")
}

// unreadableFailures holds real counts but cannot serve reads.
type unreadableFailures struct {
	*MemoryFailures
}

func (unreadableFailures) Count(context.Context, common.Hash) (int, error) {
	return 0, errors.New("redis: i/o timeout")
}

func TestUnreadableCounterSkipsPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pos := position("0x01", -10, h.now)
	h.source.set(pos)
	for i := 0; i < DefaultFailureCeiling; i++ {
		_, err := h.failures.Increment(ctx, pos.LoanID)
		require.NoError(t, err)
	}
	h.engine.failures = unreadableFailures{h.failures}

	for i := 0; i < 3; i++ {
		stats := h.sweep()
		assert.Equal(t, 1, stats.Skipped[ReasonCounterUnavailable])
	}
	assert.Empty(t, h.gw.attempts())

	// reads recover and the ceiling still holds
	h.engine.failures = h.failures
	stats := h.sweep()
	assert.Equal(t, 1, stats.Skipped[ReasonFailureCeiling])
	assert.Empty(t, h.gw.attempts())
}

func TestNoWalletDoesNotCountAsFailure(t *testing.T) {
	h := newHarness(t, domain.Wallet{Address: keeperWallet, Purpose: domain.PurposeArbitrage})
	pos := position("0x01", -10, h.now)
	h.source.set(pos)

	stats := h.sweep()
	assert.Equal(t, 1, stats.Outcomes[OutcomeNoWallet])
	assert.Empty(t, h.gw.attempts())
	n, err := h.failures.Count(context.Background(), pos.LoanID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{notify.EventNoWallet}, h.poster.list())
}

func TestAuditProblemsDoNotChangeOutcome(t *testing.T) {
	h := newHarness(t)
	pos := position("0x01", -10, h.now)
	h.source.set(pos)
	h.gw.decodeErr = errors.New("malformed log")
	h.audit.err = errors.New("db down")

	stats := h.sweep()
	assert.Equal(t, 1, stats.Outcomes[OutcomeSuccess])
	n, err := h.failures.Count(context.Background(), pos.LoanID)
	require.NoError(t, err)
	assert.Zero(t, n)

	recs := h.audit.records()
	require.Len(t, recs, 1)
	assert.Equal(t, keeperWallet, recs[0].Address)
}

func TestPendingReceiptStillRecords(t *testing.T) {
	h := newHarness(t)
	h.source.set(position("0x01", -10, h.now))
	h.gw.receiptErr = domain.ErrReceiptPending

	h.sweep()
	assert.Len(t, h.audit.records(), 1)
}

func TestPruneDropsClosedPositions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	open := position("0x01", 3600, h.now)
	closed := common.HexToHash("0x99")
	_, _ = h.failures.Increment(ctx, open.LoanID)
	_, _ = h.failures.Increment(ctx, closed)

	// an empty snapshot proves nothing and prunes nothing
	h.sweep()
	snap, _ := h.failures.Snapshot(ctx)
	assert.Len(t, snap, 2)

	h.source.set(open)
	stats := h.sweep()
	assert.Equal(t, 1, stats.Pruned)
	snap, _ = h.failures.Snapshot(ctx)
	assert.Equal(t, map[common.Hash]int{open.LoanID: 1}, snap)
}

func TestSourceErrorSkipsSweep(t *testing.T) {
	h := newHarness(t)
	h.source.err = errors.New("redis down")
	stats := h.sweep()
	assert.Zero(t, stats.Scanned)
}

func TestRunStopsBetweenSweeps(t *testing.T) {
	h := newHarness(t)
	h.source.set(position("0x01", -10, h.now))
	h.gw.fail[common.HexToHash("0x01")] = errors.New("reverted")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	require.Eventually(t, func() bool { return len(h.gw.attempts()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
}
