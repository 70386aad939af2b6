package executor

import (
	"hash/fnv"
	"sync"
	"time"
)

const dedupShards = 32

type dedupShard struct {
	mu   sync.Mutex
	seen map[string]time.Time // planID -> evictable after; zero never
}

// Dedup records claimed plan ids. Claim is an atomic test-and-set; ids hash
// to independent shards so unrelated plans do not serialise on one lock. Each
// id carries its own eviction deadline, fixed by the first claim. It is safe
// for concurrent use.
type Dedup struct {
	shards [dedupShards]dedupShard
	now    func() time.Time
}

// NewDedup creates an empty Dedup.
func NewDedup(now func() time.Time) *Dedup {
	if now == nil {
		now = time.Now
	}
	d := &Dedup{now: now}
	for i := range d.shards {
		d.shards[i].seen = make(map[string]time.Time)
	}
	return d
}

func (d *Dedup) shard(id string) *dedupShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &d.shards[h.Sum32()%dedupShards]
}

// Claim records id and returns true if it was not already held. Exactly one
// of any number of concurrent callers with the same id gets true. until is
// the earliest time Cleanup may forget the id; the zero time keeps it for
// the life of the process. A retained id stays claimed until it is swept,
// whatever its deadline.
func (d *Dedup) Claim(id string, until time.Time) bool {
	s := d.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = until
	return true
}

// Cleanup removes ids whose deadline has passed. It returns how many were
// removed.
func (d *Dedup) Cleanup() int {
	now := d.now()
	removed := 0
	for i := range d.shards {
		s := &d.shards[i]
		s.mu.Lock()
		for id, until := range s.seen {
			if !until.IsZero() && now.After(until) {
				delete(s.seen, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of retained ids.
func (d *Dedup) Len() int {
	n := 0
	for i := range d.shards {
		s := &d.shards[i]
		s.mu.Lock()
		n += len(s.seen)
		s.mu.Unlock()
	}
	return n
}
