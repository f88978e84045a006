package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// RolloverRecord is the audit row for one successful rollover transaction.
type RolloverRecord struct {
	LoanID  common.Hash    `json:"loanId"`
	TxHash  common.Hash    `json:"txHash"`
	Address common.Address `json:"address"`
}

// FailureCounter tracks consecutive failed rollover attempts per loan.
// Implementations must be safe for concurrent use.
type FailureCounter interface {
	Count(ctx context.Context, loanID common.Hash) (int, error)
	Increment(ctx context.Context, loanID common.Hash) (int, error)
	Reset(ctx context.Context, loanID common.Hash) error
	// Prune drops entries for loans not in keep.
	Prune(ctx context.Context, keep map[common.Hash]struct{}) (int, error)
	Snapshot(ctx context.Context) (map[common.Hash]int, error)
}
