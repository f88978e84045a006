package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TokenPair is a configured arbitrage market.
type TokenPair struct {
	Source common.Address
	Target common.Address
}

// QuotePair holds two independently sourced returns for the same probe.
type QuotePair struct {
	AmountIn *big.Int
	Oracle   *big.Int
	Swap     *big.Int
	Path     []common.Address
	QuotedAt time.Time
}

// Spread returns Swap - Oracle.
func (q QuotePair) Spread() *big.Int {
	return new(big.Int).Sub(q.Swap, q.Oracle)
}

// ArbitrageOpportunity is the detector's verdict for one pair. A zero Amount
// with an empty Path means no opportunity.
type ArbitrageOpportunity struct {
	Pair           TokenPair
	Amount         *big.Int
	ExpectedReturn *big.Int
	Path           []common.Address
}

// Exists reports whether the opportunity is actionable.
func (o ArbitrageOpportunity) Exists() bool {
	return o.Amount != nil && o.Amount.Sign() > 0 && len(o.Path) >= 2
}

// ArbitrageResult is the decoded profit event of a successful arbitrage.
type ArbitrageResult struct {
	TxHash            common.Hash    `json:"txHash"`
	Beneficiary       common.Address `json:"beneficiary"`
	SourceToken       common.Address `json:"sourceToken"`
	TargetToken       common.Address `json:"targetToken"`
	SourceTokenAmount *big.Int       `json:"sourceTokenAmount"`
	TargetTokenAmount *big.Int       `json:"targetTokenAmount"`
	PriceFeedAmount   *big.Int       `json:"priceFeedAmount"`
	Profit            *big.Int       `json:"profit"`
}
