package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// RolloverEvent is the decoded protocol Rollover log.
type RolloverEvent struct {
	User            common.Address
	Caller          common.Address
	LoanID          common.Hash
	CollateralToken common.Address
	Collateral      *big.Int
	EndTimestamp    *big.Int
}

// DecodeRolloverEvents returns every Rollover log in receipt emitted by the
// protocol contract. Logs from other contracts or with other topics are
// ignored.
func (g *Gateway) DecodeRolloverEvents(receipt *types.Receipt) ([]RolloverEvent, error) {
	if receipt == nil {
		return nil, fmt.Errorf("chain: decode rollover: nil receipt")
	}
	ev := protocolABI.Events["Rollover"]
	var out []RolloverEvent
	for _, lg := range receipt.Logs {
		if lg.Address != g.contracts.Protocol || len(lg.Topics) != 4 || lg.Topics[0] != ev.ID {
			continue
		}
		fields, err := unpackLog(ev, lg)
		if err != nil {
			return out, fmt.Errorf("chain: decode rollover log %d: %w", lg.Index, err)
		}
		out = append(out, RolloverEvent{
			User:            common.BytesToAddress(lg.Topics[1].Bytes()),
			Caller:          common.BytesToAddress(lg.Topics[2].Bytes()),
			LoanID:          lg.Topics[3],
			CollateralToken: asAddress(fields["collateralToken"]),
			Collateral:      asBig(fields["collateral"]),
			EndTimestamp:    asBig(fields["endTimestamp"]),
		})
	}
	return out, nil
}

// DecodeArbitrageEvents returns every Arbitrage log in receipt emitted by the
// watcher contract, stamped with the receipt's transaction hash.
func (g *Gateway) DecodeArbitrageEvents(receipt *types.Receipt) ([]domain.ArbitrageResult, error) {
	if receipt == nil {
		return nil, fmt.Errorf("chain: decode arbitrage: nil receipt")
	}
	ev := watcherABI.Events["Arbitrage"]
	var out []domain.ArbitrageResult
	for _, lg := range receipt.Logs {
		if lg.Address != g.contracts.Watcher || len(lg.Topics) != 4 || lg.Topics[0] != ev.ID {
			continue
		}
		fields, err := unpackLog(ev, lg)
		if err != nil {
			return out, fmt.Errorf("chain: decode arbitrage log %d: %w", lg.Index, err)
		}
		out = append(out, domain.ArbitrageResult{
			TxHash:            receipt.TxHash,
			Beneficiary:       common.BytesToAddress(lg.Topics[1].Bytes()),
			SourceToken:       common.BytesToAddress(lg.Topics[2].Bytes()),
			TargetToken:       common.BytesToAddress(lg.Topics[3].Bytes()),
			SourceTokenAmount: asBig(fields["_sourceTokenAmount"]),
			TargetTokenAmount: asBig(fields["_targetTokenAmount"]),
			PriceFeedAmount:   asBig(fields["_priceFeedAmount"]),
			Profit:            asBig(fields["_profit"]),
		})
	}
	return out, nil
}

func unpackLog(ev abi.Event, lg *types.Log) (map[string]any, error) {
	fields := make(map[string]any)
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(fields, lg.Data); err != nil {
		return nil, err
	}
	return fields, nil
}

func asBig(v any) *big.Int {
	if b, ok := v.(*big.Int); ok {
		return b
	}
	return new(big.Int)
}

func asAddress(v any) common.Address {
	if a, ok := v.(common.Address); ok {
		return a
	}
	return common.Address{}
}
