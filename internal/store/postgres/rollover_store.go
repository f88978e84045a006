package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// RecordRollover inserts a rollover transaction. A second record with the
// same transaction hash is ignored.
func (s *Store) RecordRollover(ctx context.Context, rec domain.RolloverRecord) error {
	const query = `
		INSERT INTO rollover_transactions (tx_hash, loan_id, address)
		VALUES ($1, $2, $3)
		ON CONFLICT (tx_hash) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, rec.TxHash.Hex(), rec.LoanID.Hex(), rec.Address.Hex())
	if err != nil {
		return fmt.Errorf("postgres: record rollover %s: %w", rec.TxHash.Hex(), err)
	}
	return nil
}

// ListRollovers returns rollover records, newest first.
func (s *Store) ListRollovers(ctx context.Context, opts domain.ListOpts) ([]domain.StoredRollover, error) {
	query, args := listClause(`SELECT tx_hash, loan_id, address, created_at FROM rollover_transactions WHERE 1=1`, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rollovers: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredRollover
	for rows.Next() {
		var (
			r                       domain.StoredRollover
			txHash, loanID, address string
		)
		if err := rows.Scan(&txHash, &loanID, &address, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan rollover: %w", err)
		}
		r.TxHash = common.HexToHash(txHash)
		r.LoanID = common.HexToHash(loanID)
		r.Address = common.HexToAddress(address)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rollovers rows: %w", err)
	}
	return out, nil
}
