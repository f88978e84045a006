package arbitrage

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

func newTestDetector(t *testing.T, q Quoter, tolerance string) *Detector {
	t.Helper()
	d, err := NewDetector(q, testTokens(), DetectorConfig{ProbeAmount: "1", Tolerance: tolerance}, discard())
	require.NoError(t, err)
	return d
}

func TestCheck(t *testing.T) {
	pair := domain.TokenPair{Source: wrbtc, Target: doc}
	cases := []struct {
		name       string
		oracle     int64
		swap       int64
		wantAmount string
		wantReturn string
		wantFirst  common.Address
	}{
		{"equal rates", 2000, 2000, "0", "0", common.Address{}},
		{"swap above oracle", 2000, 3000, "1", "1000", wrbtc},
		{"swap below oracle", 2000, 1000, "1", "0.0005", doc},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := newRateQuoter()
			q.oracle[doc] = tc.oracle
			q.swap[doc] = tc.swap

			opp, err := newTestDetector(t, q, "0").Check(context.Background(), pair)
			require.NoError(t, err)
			assert.Zero(t, ether(tc.wantAmount).Cmp(opp.Amount), "amount %s", opp.Amount)
			assert.Zero(t, ether(tc.wantReturn).Cmp(opp.ExpectedReturn), "expected %s", opp.ExpectedReturn)
			if tc.wantFirst == (common.Address{}) {
				assert.Empty(t, opp.Path)
				assert.False(t, opp.Exists())
				return
			}
			require.True(t, opp.Exists())
			assert.Equal(t, tc.wantFirst, opp.Path[0])
			if tc.wantFirst == wrbtc {
				assert.Equal(t, doc, opp.Path[len(opp.Path)-1])
			} else {
				assert.Equal(t, wrbtc, opp.Path[len(opp.Path)-1])
			}
		})
	}
}

func TestCheckTolerance(t *testing.T) {
	q := newRateQuoter()
	q.oracle[doc] = 2000
	q.swap[doc] = 3000

	opp, err := newTestDetector(t, q, "1000").Check(context.Background(), domain.TokenPair{Source: wrbtc, Target: doc})
	require.NoError(t, err)
	assert.False(t, opp.Exists())

	opp, err = newTestDetector(t, q, "999.99").Check(context.Background(), domain.TokenPair{Source: wrbtc, Target: doc})
	require.NoError(t, err)
	assert.True(t, opp.Exists())
}

func TestCheckQuoteError(t *testing.T) {
	q := newRateQuoter()
	q.err = errors.New("node timeout")
	_, err := newTestDetector(t, q, "0").Check(context.Background(), domain.TokenPair{Source: wrbtc, Target: doc})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WRBTC -> DOC")
}

func TestNewDetectorRejectsBadProbe(t *testing.T) {
	_, err := NewDetector(newRateQuoter(), testTokens(), DetectorConfig{ProbeAmount: "0"}, discard())
	assert.Error(t, err)
	_, err = NewDetector(newRateQuoter(), testTokens(), DetectorConfig{ProbeAmount: "abc"}, discard())
	assert.Error(t, err)
	_, err = NewDetector(newRateQuoter(), testTokens(), DetectorConfig{Tolerance: "-1"}, discard())
	assert.Error(t, err)
}
