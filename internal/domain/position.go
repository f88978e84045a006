package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a snapshot of one open loan or margin trade as last observed by
// the external indexer. The keeper never mutates positions.
type Position struct {
	LoanID          common.Hash    `json:"loanId"`
	Borrower        common.Address `json:"borrower"`
	LoanToken       common.Address `json:"loanToken"`
	CollateralToken common.Address `json:"collateralToken"`
	Principal       *big.Int       `json:"principal"`
	Collateral      *big.Int       `json:"collateral"`
	EndTimestamp    int64          `json:"endTimestamp"` // unix seconds
}

// Expired reports whether the position's term has ended at now.
func (p Position) Expired(now time.Time) bool {
	return p.EndTimestamp < now.Unix()
}

// PositionSource yields the current set of open positions. Snapshots are
// refreshed by an external log follower. batchSize bounds how many positions
// are fetched per round trip; the full snapshot is returned.
type PositionSource interface {
	OpenPositions(ctx context.Context, batchSize int) ([]Position, error)
}
