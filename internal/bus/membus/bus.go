// Package membus is an in-process domain.SignalBus used when no Redis is
// configured.
package membus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

const subscriberBuffer = 128

type subscriber struct {
	pattern string
	ch      chan []byte
}

// Bus fans payloads out to subscribers. A subscriber whose buffer is full
// misses the payload instead of blocking the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers payload to every subscriber whose pattern matches channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !match(s.pattern, channel) {
			continue
		}
		select {
		case s.ch <- payload:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel. A trailing
// "*" matches any suffix. The returned channel closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func match(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

var _ domain.SignalBus = (*Bus)(nil)
