// Package wallet implements the signing-identity pool. At most one lease is
// outstanding per identity, so the holder can fetch a pending nonce and
// submit without racing another engine.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/keeperbot/internal/domain"
	"github.com/alanyoungcy/keeperbot/internal/metrics"
)

// BalanceReader reads an identity's balance of an asset.
type BalanceReader interface {
	Balance(ctx context.Context, addr common.Address, asset string) (*big.Int, error)
}

type member struct {
	wallet domain.Wallet
	leased bool
	unlock func()
}

// Pool hands out exclusive leases on the configured identities. One mutex
// guards every member and is held for the whole scan, balance reads
// included, so two callers can never be granted the same identity.
type Pool struct {
	mu       sync.Mutex
	members  []*member
	index    map[common.Address]*member
	balances BalanceReader
	locks    domain.LockManager
	lockTTL  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLockManager makes the pool also take a shared lock per identity so
// several keeper processes can draw from the same wallets.
func WithLockManager(lm domain.LockManager, ttl time.Duration) Option {
	return func(p *Pool) {
		p.locks = lm
		p.lockTTL = ttl
	}
}

// WithMetrics records lease outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a pool over wallets in configuration order. Duplicate
// addresses are ignored after the first occurrence.
func NewPool(wallets []domain.Wallet, balances BalanceReader, opts ...Option) *Pool {
	p := &Pool{
		index:    make(map[common.Address]*member, len(wallets)),
		balances: balances,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With(slog.String("component", "wallet_pool"))
	for _, w := range wallets {
		if _, dup := p.index[w.Address]; dup {
			continue
		}
		m := &member{wallet: w}
		p.members = append(p.members, m)
		p.index[w.Address] = m
	}
	return p
}

// Lease returns the first idle identity tagged purpose whose balance of
// asset is at least minimum, together with that balance. Identities whose
// balance cannot be read are skipped. When none qualifies it returns
// domain.ErrNoWalletAvailable.
func (p *Pool) Lease(ctx context.Context, purpose string, minimum *big.Int, asset string) (domain.Wallet, *big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range p.members {
		if m.wallet.Purpose != purpose || m.leased {
			continue
		}

		bal, err := p.balances.Balance(ctx, m.wallet.Address, asset)
		if err != nil {
			p.logger.WarnContext(ctx, "balance read failed, skipping wallet",
				slog.String("address", m.wallet.Address.Hex()),
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			continue
		}
		if minimum != nil && bal.Cmp(minimum) < 0 {
			continue
		}

		var unlock func()
		if p.locks != nil {
			unlock, err = p.locks.Acquire(ctx, "wallet:"+m.wallet.Address.Hex(), p.lockTTL)
			if errors.Is(err, domain.ErrLockHeld) {
				continue
			}
			if err != nil {
				p.logger.WarnContext(ctx, "wallet lock failed, skipping wallet",
					slog.String("address", m.wallet.Address.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
		}

		m.leased = true
		m.unlock = unlock
		p.metrics.LeaseGranted(purpose)
		return m.wallet, bal, nil
	}

	p.metrics.LeaseShortage(purpose)
	return domain.Wallet{}, nil, fmt.Errorf("wallet: lease %s: %w", purpose, domain.ErrNoWalletAvailable)
}

// Release returns w to the pool. Releasing an identity that is not leased,
// or that the pool does not know, is a no-op.
func (p *Pool) Release(w domain.Wallet) {
	p.mu.Lock()
	m, ok := p.index[w.Address]
	if !ok || !m.leased {
		p.mu.Unlock()
		return
	}
	m.leased = false
	unlock := m.unlock
	m.unlock = nil
	p.mu.Unlock()

	p.metrics.LeaseReleased(m.wallet.Purpose)
	if unlock != nil {
		unlock()
	}
}

// Available counts idle identities tagged purpose.
func (p *Pool) Available(purpose string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.members {
		if m.wallet.Purpose == purpose && !m.leased {
			n++
		}
	}
	return n
}

// Summaries returns a snapshot of every identity and its lease state.
func (p *Pool) Summaries() []domain.WalletSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.WalletSummary, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, domain.WalletSummary{
			Address: m.wallet.Address.Hex(),
			Purpose: m.wallet.Purpose,
			Leased:  m.leased,
		})
	}
	return out
}

// Addresses returns the addresses tagged purpose in configuration order.
func (p *Pool) Addresses(purpose string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.members {
		if m.wallet.Purpose == purpose {
			out = append(out, m.wallet.Address.Hex())
		}
	}
	return out
}
