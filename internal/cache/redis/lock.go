package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// unlockLua deletes the lock only while it still holds the caller's token,
// so an expired lease never releases its successor's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends the lock only while it still holds the caller's token.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX PX and a
// token-checked delete. Several keeper processes sharing one wallet set use
// it to keep their leases exclusive. A held lock is renewed every third of
// its TTL until unlocked, so a lease outlives a slow transaction.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	renewSc  *redis.Script
	prefix   string
	newToken func() string
	logger   *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		renewSc:  redis.NewScript(renewLua),
		prefix:   "keeper:lock:",
		newToken: func() string { return uuid.New().String() },
		logger:   slog.Default().With(slog.String("component", "redis_lock")),
	}
}

// Acquire takes the lock for key. It returns domain.ErrLockHeld if another
// holder has it. The returned unlock is idempotent and runs on a fresh
// context so it works after the caller's context is gone.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := lm.newToken()
	lk := lm.prefix + key

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		lm.keepAlive(lk, token, ttl, stop)
	}()

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// keepAlive renews lk every ttl/3 until stop is closed or the lock is found
// under another token. A failed renewal is retried on the next tick.
func (lm *LockManager) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(max(ttl/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		held, err := lm.renew(lk, token, ttl)
		switch {
		case err != nil:
			lm.logger.Warn("lock renewal failed", slog.String("key", lk), slog.String("error", err.Error()))
		case !held:
			lm.logger.Error("lock lost before release", slog.String("key", lk))
			return
		}
	}
}

func (lm *LockManager) renew(lk, token string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), max(ttl/3, time.Second))
	defer cancel()
	n, err := lm.renewSc.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var _ domain.LockManager = (*LockManager)(nil)
