package redis

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

const subscriberBuffer = 128

// SignalBus carries engine events to observers over Redis Pub/Sub.
// Channels are scoped by network, so keepers for different networks can
// share one Redis without seeing each other's events. Delivery is best
// effort: nothing is stored for absent subscribers, and a subscriber that
// falls subscriberBuffer messages behind loses the overflow.
type SignalBus struct {
	rdb     *redis.Client
	network string
	dropped atomic.Int64
}

// NewSignalBus creates a SignalBus. An empty network leaves channel names
// unscoped.
func NewSignalBus(c *Client, network string) *SignalBus {
	return &SignalBus{rdb: c.Underlying(), network: network}
}

func (sb *SignalBus) scoped(channel string) string {
	if sb.network == "" {
		return channel
	}
	return channel + ":" + sb.network
}

// Publish sends payload on the network-scoped channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, sb.scoped(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe streams payloads published on channel (PSUBSCRIBE when it holds
// glob characters). The stream closes when ctx is done.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := sb.scoped(channel)
	subscribe := sb.rdb.Subscribe
	if hasPattern(channel) {
		subscribe = sb.rdb.PSubscribe
	}
	pubsub := subscribe(ctx, name)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", name, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				sb.offer(out, []byte(msg.Payload))
			}
		}
	}()
	return out, nil
}

// offer delivers without blocking the Redis reader.
func (sb *SignalBus) offer(out chan<- []byte, payload []byte) {
	select {
	case out <- payload:
	default:
		sb.dropped.Add(1)
	}
}

// Dropped counts payloads discarded because a subscriber lagged.
func (sb *SignalBus) Dropped() int64 {
	return sb.dropped.Load()
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

var _ domain.SignalBus = (*SignalBus)(nil)
