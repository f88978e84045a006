package rollover

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// MemoryFailures is a process-local domain.FailureCounter. Counts are lost
// on restart; use the Redis counter to keep them.
type MemoryFailures struct {
	mu     sync.Mutex
	counts map[common.Hash]int
}

// NewMemoryFailures returns an empty counter.
func NewMemoryFailures() *MemoryFailures {
	return &MemoryFailures{counts: make(map[common.Hash]int)}
}

func (m *MemoryFailures) Count(_ context.Context, loanID common.Hash) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[loanID], nil
}

func (m *MemoryFailures) Increment(_ context.Context, loanID common.Hash) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[loanID]++
	return m.counts[loanID], nil
}

func (m *MemoryFailures) Reset(_ context.Context, loanID common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, loanID)
	return nil
}

func (m *MemoryFailures) Prune(_ context.Context, keep map[common.Hash]struct{}) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id := range m.counts {
		if _, ok := keep[id]; !ok {
			delete(m.counts, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryFailures) Snapshot(_ context.Context) (map[common.Hash]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[common.Hash]int, len(m.counts))
	for id, n := range m.counts {
		out[id] = n
	}
	return out, nil
}

var _ domain.FailureCounter = (*MemoryFailures)(nil)
