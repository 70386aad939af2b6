package redis

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// subscribeBuffer bounds payloads queued for one subscriber.
const subscribeBuffer = 128

// SignalBus implements domain.SignalBus on Redis Pub/Sub so that every
// replica's WebSocket clients see the plans and decisions of all replicas.
// Like the in-process bus, a subscriber that falls behind misses payloads
// rather than stalling the shared connection.
type SignalBus struct {
	rdb     redis.UniversalClient
	dropped atomic.Uint64
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb}
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, which may be a glob pattern. The returned
// channel closes when ctx is done or the subscription ends.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var ps *redis.PubSub
	if isPattern(channel) {
		ps = sb.rdb.PSubscribe(ctx, channel)
	} else {
		ps = sb.rdb.Subscribe(ctx, channel)
	}
	// Receive blocks until Redis confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	msgs := ps.Channel(redis.WithChannelSize(subscribeBuffer))
	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					sb.dropped.Add(1)
				}
			}
		}
	}()
	return out, nil
}

// Dropped returns how many payloads were skipped for slow subscribers.
func (sb *SignalBus) Dropped() uint64 { return sb.dropped.Load() }

func isPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

var _ domain.SignalBus = (*SignalBus)(nil)
