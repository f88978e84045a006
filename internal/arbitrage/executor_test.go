package arbitrage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/keeperbot/internal/chain"
	"github.com/alanyoungcy/keeperbot/internal/domain"
	"github.com/alanyoungcy/keeperbot/internal/metrics"
	"github.com/alanyoungcy/keeperbot/internal/notify"
	"github.com/alanyoungcy/keeperbot/internal/wallet"
)

func TestMinProfit(t *testing.T) {
	assert.Zero(t, ether("990").Cmp(MinProfit(ether("1000"), 100, nil)))
	assert.Zero(t, ether("995").Cmp(MinProfit(ether("1000"), 100, ether("995"))))
	assert.Zero(t, ether("1000").Cmp(MinProfit(ether("1000"), 0, ether("1"))))
}

type execHarness struct {
	exec   *Executor
	gw     *fakeGateway
	pool   *wallet.Pool
	poster *recordingPoster
	audit  *recordingAudit
}

func newExecHarness(wallets ...domain.Wallet) *execHarness {
	return newExecHarnessWithMetrics(nil, wallets...)
}

func newExecHarnessWithMetrics(m *metrics.Metrics, wallets ...domain.Wallet) *execHarness {
	if len(wallets) == 0 {
		wallets = []domain.Wallet{{Address: signer, Purpose: domain.PurposeArbitrage}}
	}
	h := &execHarness{
		gw:     &fakeGateway{},
		pool:   wallet.NewPool(wallets, fundedBalances{}, wallet.WithLogger(discard())),
		poster: &recordingPoster{},
		audit:  &recordingAudit{},
	}
	h.exec = NewExecutor(ExecutorConfig{MaxSlippageBps: 100}, ExecutorDeps{
		Gateway:  h.gw,
		Pool:     h.pool,
		Audit:    h.audit,
		Notifier: h.poster,
		Metrics:  m,
		Tokens:   testTokens(),
		Logger:   discard(),
	})
	return h
}

func forwardOpportunity() domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		Pair:           domain.TokenPair{Source: wrbtc, Target: doc},
		Amount:         ether("1"),
		ExpectedReturn: ether("1000"),
		Path:           []common.Address{wrbtc, bridge, doc},
	}
}

func TestExecuteRecordsProfitEvent(t *testing.T) {
	h := newExecHarness()
	h.gw.events = []domain.ArbitrageResult{{
		Beneficiary:       signer,
		SourceToken:       wrbtc,
		TargetToken:       doc,
		SourceTokenAmount: ether("1"),
		TargetTokenAmount: ether("3000"),
		PriceFeedAmount:   ether("2000"),
		Profit:            ether("1000"),
	}}

	res, err := h.exec.Execute(context.Background(), forwardOpportunity(), ether("10"))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xabc1"), res.TxHash)
	assert.Zero(t, ether("1000").Cmp(res.Profit))

	calls := h.gw.submitted()
	require.Len(t, calls, 1)
	assert.Zero(t, ether("990").Cmp(calls[0].MinProfit))
	assert.Zero(t, ether("1").Cmp(calls[0].Amount))

	require.Len(t, h.audit.results, 1)
	assert.Equal(t, res, h.audit.results[0])
	assert.Equal(t, []string{notify.EventArbitrageSuccess}, h.poster.events)
	assert.Equal(t, 1, h.pool.Available(domain.PurposeArbitrage))
}

func TestExecuteWithoutEventFallsBackToOpportunity(t *testing.T) {
	h := newExecHarness()
	h.gw.decodeErr = errors.New("bad log")

	res, err := h.exec.Execute(context.Background(), forwardOpportunity(), nil)
	require.NoError(t, err)
	assert.Equal(t, signer, res.Beneficiary)
	assert.Equal(t, wrbtc, res.SourceToken)
	assert.Equal(t, doc, res.TargetToken)
	assert.Len(t, h.audit.results, 1)
}

func TestExecuteProfitNotMetIsOrdinaryFailure(t *testing.T) {
	h := newExecHarness()
	h.gw.submitErr = &chain.SubmissionError{
		Method: "arbitrage",
		TxHash: common.HexToHash("0xdead"),
		Reason: "minimum profit not met",
		Mined:  true,
	}

	_, err := h.exec.Execute(context.Background(), forwardOpportunity(), nil)
	require.Error(t, err)
	se, ok := chain.AsSubmissionError(err)
	require.True(t, ok)
	assert.True(t, se.IsProfitNotMet())

	assert.Empty(t, h.audit.results)
	assert.Equal(t, []string{notify.EventArbitrageFailure}, h.poster.events)
	assert.Contains(t, h.poster.bodies[0], "minimum profit not met")
	assert.Equal(t, 1, h.pool.Available(domain.PurposeArbitrage))
}

func TestExecuteCountsOutcomes(t *testing.T) {
	m := metrics.New()
	h := newExecHarnessWithMetrics(m)
	h.gw.submitErr = &chain.SubmissionError{Method: "arbitrage", Reason: "minimum profit not met", Mined: true}
	_, err := h.exec.Execute(context.Background(), forwardOpportunity(), nil)
	require.Error(t, err)

	h.gw.submitErr = &chain.SubmissionError{Method: "arbitrage", Reason: "insufficient funds"}
	_, err = h.exec.Execute(context.Background(), forwardOpportunity(), nil)
	require.Error(t, err)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `keeper_arbitrage_executions_total{outcome="profit_not_met"} 1`)
	assert.Contains(t, body, `keeper_arbitrage_executions_total{outcome="failure"} 1`)
}

func TestExecuteBelowFloorSubmitsNothing(t *testing.T) {
	h := newExecHarness()
	_, err := h.exec.Execute(context.Background(), forwardOpportunity(), ether("1000.5"))
	require.ErrorIs(t, err, domain.ErrBelowProfitFloor)
	assert.Empty(t, h.gw.submitted())
	assert.Empty(t, h.poster.events)
}

func TestExecuteNoWallet(t *testing.T) {
	h := newExecHarness(domain.Wallet{Address: signer, Purpose: domain.PurposeRollover})
	_, err := h.exec.Execute(context.Background(), forwardOpportunity(), nil)
	require.ErrorIs(t, err, domain.ErrNoWalletAvailable)
	assert.Empty(t, h.gw.submitted())
	assert.Equal(t, []string{notify.EventNoWallet}, h.poster.events)
}

func TestExecuteRejectsEmptyOpportunity(t *testing.T) {
	h := newExecHarness()
	_, err := h.exec.Execute(context.Background(), domain.ArbitrageOpportunity{}, nil)
	require.ErrorIs(t, err, domain.ErrBelowProfitFloor)
}
