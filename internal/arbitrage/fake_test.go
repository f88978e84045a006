package arbitrage

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/keeperbot/internal/chain"
	"github.com/alanyoungcy/keeperbot/internal/domain"
	"github.com/alanyoungcy/keeperbot/internal/notify"
)

var (
	wrbtc  = common.HexToAddress("0x542fDA317318eBF1d3DEAf76E0b632741A7e677d")
	doc    = common.HexToAddress("0xE700691dA7b9851F2F35f8b8182c69c53CcaD9Db")
	usdt   = common.HexToAddress("0xEf213441a85DF4d7acBdAe0Cf78004E1e486BB96")
	bridge = common.HexToAddress("0x000000000000000000000000000000000000b00b")
	signer = common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
)

func ether(s string) *big.Int { return chain.MustParseUnits(s, 18) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testTokens() *chain.TokenRegistry {
	return chain.NewTokenRegistry([]chain.Token{
		{Symbol: "WRBTC", Address: wrbtc, Decimals: 18},
		{Symbol: "DOC", Address: doc, Decimals: 18},
		{Symbol: "USDT", Address: usdt, Decimals: 18},
	})
}

// rateQuoter prices every non-WRBTC token against WRBTC. A rate of 2000
// means one WRBTC buys 2000 units of the other token.
type rateQuoter struct {
	oracle map[common.Address]int64
	swap   map[common.Address]int64
	err    error
}

func newRateQuoter() *rateQuoter {
	return &rateQuoter{oracle: map[common.Address]int64{}, swap: map[common.Address]int64{}}
}

func convert(rates map[common.Address]int64, source, target common.Address, amount *big.Int) *big.Int {
	if source == wrbtc {
		return new(big.Int).Mul(amount, big.NewInt(rates[target]))
	}
	return new(big.Int).Quo(amount, big.NewInt(rates[source]))
}

func (q *rateQuoter) OracleReturn(_ context.Context, source, target common.Address, amount *big.Int) (*big.Int, error) {
	if q.err != nil {
		return nil, q.err
	}
	return convert(q.oracle, source, target, amount), nil
}

func (q *rateQuoter) SwapReturn(_ context.Context, source, target common.Address, amount *big.Int) (*big.Int, []common.Address, error) {
	if q.err != nil {
		return nil, nil, q.err
	}
	return convert(q.swap, source, target, amount), []common.Address{source, bridge, target}, nil
}

type arbCall struct {
	Path      []common.Address
	Amount    *big.Int
	MinProfit *big.Int
}

type fakeGateway struct {
	mu        sync.Mutex
	calls     []arbCall
	submitErr error
	events    []domain.ArbitrageResult
	decodeErr error
}

func (g *fakeGateway) PendingNonce(context.Context, common.Address) (uint64, error) { return 7, nil }
func (g *fakeGateway) GasPrice(context.Context) (*big.Int, error)                   { return big.NewInt(60_000_000), nil }

func (g *fakeGateway) ArbitrageCall(path []common.Address, amountIn, minProfit *big.Int) (chain.Call, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, arbCall{Path: path, Amount: amountIn, MinProfit: minProfit})
	return chain.Call{Method: "arbitrage"}, nil
}

func (g *fakeGateway) Submit(context.Context, chain.Call, common.Address, uint64, *big.Int, uint64) (common.Hash, error) {
	if g.submitErr != nil {
		return common.Hash{}, g.submitErr
	}
	return common.HexToHash("0xabc1"), nil
}

func (g *fakeGateway) Receipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful}, nil
}

func (g *fakeGateway) DecodeArbitrageEvents(*types.Receipt) ([]domain.ArbitrageResult, error) {
	return g.events, g.decodeErr
}

func (g *fakeGateway) submitted() []arbCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]arbCall(nil), g.calls...)
}

type fundedBalances struct{}

func (fundedBalances) Balance(context.Context, common.Address, string) (*big.Int, error) {
	return ether("1"), nil
}

type recordingPoster struct {
	mu     sync.Mutex
	events []string
	bodies []string
}

func (r *recordingPoster) Post(event string, msg notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.bodies = append(r.bodies, msg.Body)
}

type recordingAudit struct {
	mu      sync.Mutex
	results []domain.ArbitrageResult
}

func (a *recordingAudit) RecordArbitrage(_ context.Context, res domain.ArbitrageResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, res)
	return nil
}

func (a *recordingAudit) ListArbitrages(context.Context, domain.ListOpts) ([]domain.StoredArbitrage, error) {
	return nil, nil
}
