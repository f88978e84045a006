package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call is an encoded contract write ready for Submit.
type Call struct {
	Method string
	To     common.Address
	Data   []byte
	Value  *big.Int
}

// RolloverCall encodes protocol.rollover(loanId, loanData). The protocol
// currently ignores loanData and the keeper always passes it empty.
func (g *Gateway) RolloverCall(loanID common.Hash, loanData []byte) (Call, error) {
	if loanData == nil {
		loanData = []byte{}
	}
	data, err := protocolABI.Pack("rollover", loanID, loanData)
	if err != nil {
		return Call{}, fmt.Errorf("chain: pack rollover: %w", err)
	}
	return Call{Method: "rollover", To: g.contracts.Protocol, Data: data}, nil
}

// ArbitrageCall encodes watcher.arbitrage(path, amountIn, minProfit).
func (g *Gateway) ArbitrageCall(path []common.Address, amountIn, minProfit *big.Int) (Call, error) {
	if len(path) < 2 {
		return Call{}, fmt.Errorf("chain: arbitrage path needs at least 2 tokens, got %d", len(path))
	}
	data, err := watcherABI.Pack("arbitrage", path, amountIn, minProfit)
	if err != nil {
		return Call{}, fmt.Errorf("chain: pack arbitrage: %w", err)
	}
	return Call{Method: "arbitrage", To: g.contracts.Watcher, Data: data}, nil
}
