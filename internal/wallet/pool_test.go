package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

type stubBalances struct {
	mu   sync.Mutex
	bals map[common.Address]*big.Int
	errs map[common.Address]error
}

func (s *stubBalances) Balance(_ context.Context, addr common.Address, _ string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[addr]; err != nil {
		return nil, err
	}
	if b, ok := s.bals[addr]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

type stubLocks struct {
	held     map[string]bool
	released []string
}

func (s *stubLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if s.held[key] {
		return nil, domain.ErrLockHeld
	}
	return func() { s.released = append(s.released, key) }, nil
}

var (
	addrA = common.HexToAddress("0xa1")
	addrB = common.HexToAddress("0xb2")
	addrC = common.HexToAddress("0xc3")
	milli = big.NewInt(1_000_000_000_000_000) // 0.001 native
)

func rolloverWallets() []domain.Wallet {
	return []domain.Wallet{
		{Address: addrA, Purpose: domain.PurposeRollover},
		{Address: addrB, Purpose: domain.PurposeRollover},
		{Address: addrC, Purpose: domain.PurposeArbitrage},
	}
}

func funded(addrs ...common.Address) *stubBalances {
	s := &stubBalances{bals: map[common.Address]*big.Int{}, errs: map[common.Address]error{}}
	for _, a := range addrs {
		s.bals[a] = new(big.Int).Mul(milli, big.NewInt(10))
	}
	return s
}

func TestLeaseFirstFundedInOrder(t *testing.T) {
	p := NewPool(rolloverWallets(), funded(addrA, addrB, addrC))
	ctx := context.Background()

	w, bal, err := p.Lease(ctx, domain.PurposeRollover, milli, domain.AssetNative)
	require.NoError(t, err)
	assert.Equal(t, addrA, w.Address)
	assert.Equal(t, 0, bal.Cmp(new(big.Int).Mul(milli, big.NewInt(10))))

	w2, _, err := p.Lease(ctx, domain.PurposeRollover, milli, domain.AssetNative)
	require.NoError(t, err)
	assert.Equal(t, addrB, w2.Address)

	_, _, err = p.Lease(ctx, domain.PurposeRollover, milli, domain.AssetNative)
	assert.ErrorIs(t, err, domain.ErrNoWalletAvailable)
	assert.Equal(t, 0, p.Available(domain.PurposeRollover))
	assert.Equal(t, 1, p.Available(domain.PurposeArbitrage))
}

func TestLeaseSkipsUnderfundedAndUnreadable(t *testing.T) {
	bals := funded(addrB)
	bals.bals[addrA] = big.NewInt(1)
	p := NewPool(rolloverWallets(), bals)

	w, _, err := p.Lease(context.Background(), domain.PurposeRollover, milli, domain.AssetNative)
	require.NoError(t, err)
	assert.Equal(t, addrB, w.Address)
	p.Release(w)

	bals.errs[addrB] = errors.New("rpc down")
	_, _, err = p.Lease(context.Background(), domain.PurposeRollover, milli, domain.AssetNative)
	assert.ErrorIs(t, err, domain.ErrNoWalletAvailable)
}

func TestLeaseRespectsPurpose(t *testing.T) {
	p := NewPool(rolloverWallets(), funded(addrA, addrB, addrC))
	w, _, err := p.Lease(context.Background(), domain.PurposeArbitrage, milli, domain.AssetNative)
	require.NoError(t, err)
	assert.Equal(t, addrC, w.Address)
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := NewPool(rolloverWallets(), funded(addrA))
	ctx := context.Background()

	w, _, err := p.Lease(ctx, domain.PurposeRollover, milli, domain.AssetNative)
	require.NoError(t, err)

	p.Release(w)
	p.Release(w)
	p.Release(domain.Wallet{Address: common.HexToAddress("0xff")})

	w2, _, err := p.Lease(ctx, domain.PurposeRollover, milli, domain.AssetNative)
	require.NoError(t, err)
	assert.Equal(t, w, w2)
	assert.Equal(t, 1, p.Available(domain.PurposeRollover))
}

func TestLeaseSkipsSharedLockHeldElsewhere(t *testing.T) {
	locks := &stubLocks{held: map[string]bool{"wallet:" + addrA.Hex(): true}}
	p := NewPool(rolloverWallets(), funded(addrA, addrB), WithLockManager(locks, time.Minute))

	w, _, err := p.Lease(context.Background(), domain.PurposeRollover, milli, domain.AssetNative)
	require.NoError(t, err)
	assert.Equal(t, addrB, w.Address)

	p.Release(w)
	assert.Equal(t, []string{"wallet:" + addrB.Hex()}, locks.released)
}

func TestSummariesAndAddresses(t *testing.T) {
	p := NewPool(rolloverWallets(), funded(addrA, addrB, addrC))
	_, _, err := p.Lease(context.Background(), domain.PurposeRollover, milli, domain.AssetNative)
	require.NoError(t, err)

	sums := p.Summaries()
	require.Len(t, sums, 3)
	assert.True(t, sums[0].Leased)
	assert.False(t, sums[1].Leased)
	assert.Equal(t, domain.PurposeArbitrage, sums[2].Purpose)

	assert.Equal(t, []string{addrA.Hex(), addrB.Hex()}, p.Addresses(domain.PurposeRollover))
}

// Under contention no identity is ever held by two callers at once, and every
// lease is matched by a release.
func TestConcurrentLeasesAreExclusive(t *testing.T) {
	wallets := rolloverWallets()[:2]
	p := NewPool(wallets, funded(addrA, addrB))
	ctx := context.Background()

	var inFlight sync.Map
	var granted, released, violations atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				w, _, err := p.Lease(ctx, domain.PurposeRollover, milli, domain.AssetNative)
				if err != nil {
					continue
				}
				granted.Add(1)
				ctr, _ := inFlight.LoadOrStore(w.Address, new(atomic.Int32))
				if ctr.(*atomic.Int32).Add(1) > 1 {
					violations.Add(1)
				}
				ctr.(*atomic.Int32).Add(-1)
				p.Release(w)
				released.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, violations.Load())
	assert.Positive(t, granted.Load())
	assert.Equal(t, granted.Load(), released.Load())
	assert.Equal(t, 2, p.Available(domain.PurposeRollover))
}
