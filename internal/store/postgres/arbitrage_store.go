package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// RecordArbitrage inserts an executed arbitrage. Amounts are stored as
// NUMERIC(78,0) and travel as decimal text.
func (s *Store) RecordArbitrage(ctx context.Context, res domain.ArbitrageResult) error {
	const query = `
		INSERT INTO arbitrage_transactions (
			tx_hash, beneficiary, source_token, target_token,
			source_token_amount, target_token_amount, price_feed_amount, profit
		)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7::text::numeric, $8::text::numeric)
		ON CONFLICT (tx_hash) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		res.TxHash.Hex(), res.Beneficiary.Hex(), res.SourceToken.Hex(), res.TargetToken.Hex(),
		amountText(res.SourceTokenAmount), amountText(res.TargetTokenAmount),
		amountText(res.PriceFeedAmount), amountText(res.Profit),
	)
	if err != nil {
		return fmt.Errorf("postgres: record arbitrage %s: %w", res.TxHash.Hex(), err)
	}
	return nil
}

// ListArbitrages returns executed arbitrages, newest first.
func (s *Store) ListArbitrages(ctx context.Context, opts domain.ListOpts) ([]domain.StoredArbitrage, error) {
	query, args := listClause(`
		SELECT tx_hash, beneficiary, source_token, target_token,
		       source_token_amount::text, target_token_amount::text, price_feed_amount::text, profit::text,
		       created_at
		FROM arbitrage_transactions WHERE 1=1`, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arbitrages: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredArbitrage
	for rows.Next() {
		var (
			a                                   domain.StoredArbitrage
			txHash, beneficiary, source, target string
			srcAmt, dstAmt, feedAmt, profit     string
		)
		if err := rows.Scan(&txHash, &beneficiary, &source, &target,
			&srcAmt, &dstAmt, &feedAmt, &profit, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan arbitrage: %w", err)
		}
		a.TxHash = common.HexToHash(txHash)
		a.Beneficiary = common.HexToAddress(beneficiary)
		a.SourceToken = common.HexToAddress(source)
		a.TargetToken = common.HexToAddress(target)
		a.SourceTokenAmount = parseAmount(srcAmt)
		a.TargetTokenAmount = parseAmount(dstAmt)
		a.PriceFeedAmount = parseAmount(feedAmt)
		a.Profit = parseAmount(profit)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list arbitrages rows: %w", err)
	}
	return out, nil
}

func amountText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
