package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// FailureCounter keeps per-loan rollover failure counts in a Redis hash so
// they survive restarts and can be cleared by an operator.
type FailureCounter struct {
	rdb *redis.Client
	key string
}

// NewFailureCounter creates a FailureCounter over the hash at key.
func NewFailureCounter(c *Client, key string) *FailureCounter {
	if key == "" {
		key = "rollover:failures"
	}
	return &FailureCounter{rdb: c.Underlying(), key: key}
}

// Count returns the consecutive failures recorded for loanID.
func (f *FailureCounter) Count(ctx context.Context, loanID common.Hash) (int, error) {
	n, err := f.rdb.HGet(ctx, f.key, loanID.Hex()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: failure count %s: %w", loanID.Hex(), err)
	}
	return n, nil
}

// Increment adds one failure and returns the new count.
func (f *FailureCounter) Increment(ctx context.Context, loanID common.Hash) (int, error) {
	n, err := f.rdb.HIncrBy(ctx, f.key, loanID.Hex(), 1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: increment failures %s: %w", loanID.Hex(), err)
	}
	return int(n), nil
}

// Reset forgets loanID.
func (f *FailureCounter) Reset(ctx context.Context, loanID common.Hash) error {
	if err := f.rdb.HDel(ctx, f.key, loanID.Hex()).Err(); err != nil {
		return fmt.Errorf("redis: reset failures %s: %w", loanID.Hex(), err)
	}
	return nil
}

// Prune drops every entry whose loan id is not in keep.
func (f *FailureCounter) Prune(ctx context.Context, keep map[common.Hash]struct{}) (int, error) {
	fields, err := f.rdb.HKeys(ctx, f.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: list failures: %w", err)
	}
	var stale []string
	for _, field := range fields {
		if _, ok := keep[common.HexToHash(field)]; !ok {
			stale = append(stale, field)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	n, err := f.rdb.HDel(ctx, f.key, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: prune failures: %w", err)
	}
	return int(n), nil
}

// Snapshot returns all counts.
func (f *FailureCounter) Snapshot(ctx context.Context) (map[common.Hash]int, error) {
	raw, err := f.rdb.HGetAll(ctx, f.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read failures: %w", err)
	}
	out := make(map[common.Hash]int, len(raw))
	for field, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		out[common.HexToHash(field)] = n
	}
	return out, nil
}

var _ domain.FailureCounter = (*FailureCounter)(nil)
