package rollover

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/keeperbot/internal/chain"
	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// SkipReason says why a position was not attempted. The empty reason means
// the position is eligible.
type SkipReason string

const (
	Eligible                 SkipReason = ""
	ReasonBelowThreshold     SkipReason = "below_threshold"
	ReasonDeniedToken        SkipReason = "denied_token"
	ReasonFailureCeiling     SkipReason = "failure_ceiling"
	ReasonNotExpired         SkipReason = "not_expired"
	ReasonCounterUnavailable SkipReason = "counter_unavailable"
)

// DefaultFailureCeiling is the number of consecutive failures after which a
// position is left alone until its counter is cleared.
const DefaultFailureCeiling = 5

// Policy is the eligibility filter. Checks run in a fixed order and the
// first one that rejects wins.
type Policy struct {
	MinCollateral  map[common.Address]*big.Int
	Denied         map[common.Address]struct{}
	FailureCeiling int
}

// NewPolicy builds a Policy from token symbols or addresses. Minimums are
// given in token units and converted with each token's decimals.
func NewPolicy(minCollateral map[string]string, denied []string, ceiling int, tokens *chain.TokenRegistry) (Policy, error) {
	if tokens == nil {
		tokens = chain.NewTokenRegistry(nil)
	}
	if ceiling <= 0 {
		ceiling = DefaultFailureCeiling
	}
	p := Policy{
		MinCollateral:  make(map[common.Address]*big.Int, len(minCollateral)),
		Denied:         make(map[common.Address]struct{}, len(denied)),
		FailureCeiling: ceiling,
	}
	for key, amount := range minCollateral {
		tok, err := tokens.Resolve(key)
		if err != nil {
			return Policy{}, fmt.Errorf("rollover: min_collateral: %w", err)
		}
		v, err := chain.ParseUnits(amount, tok.Decimals)
		if err != nil {
			return Policy{}, fmt.Errorf("rollover: min_collateral %s: %w", key, err)
		}
		p.MinCollateral[tok.Address] = v
	}
	for _, key := range denied {
		tok, err := tokens.Resolve(key)
		if err != nil {
			return Policy{}, fmt.Errorf("rollover: denied_tokens: %w", err)
		}
		p.Denied[tok.Address] = struct{}{}
	}
	return p, nil
}

// Evaluate applies the filter to pos given its current failure count.
func (p Policy) Evaluate(pos domain.Position, failures int, now time.Time) SkipReason {
	if floor, ok := p.MinCollateral[pos.CollateralToken]; ok {
		if pos.Collateral == nil || pos.Collateral.Cmp(floor) < 0 {
			return ReasonBelowThreshold
		}
	}
	if _, ok := p.Denied[pos.CollateralToken]; ok {
		return ReasonDeniedToken
	}
	ceiling := p.FailureCeiling
	if ceiling <= 0 {
		ceiling = DefaultFailureCeiling
	}
	if failures >= ceiling {
		return ReasonFailureCeiling
	}
	if !pos.Expired(now) {
		return ReasonNotExpired
	}
	return Eligible
}
