package cycle

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// Registry holds the cycles the scanner evaluates, indexed by market.
type Registry struct {
	mu       sync.RWMutex
	cycles   map[string]Cycle
	byMarket map[domain.MarketID][]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		cycles:   make(map[string]Cycle),
		byMarket: make(map[domain.MarketID][]string),
	}
}

// Add stores c and reports whether it was new.
func (r *Registry) Add(c Cycle) bool {
	key := c.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cycles[key]; ok {
		return false
	}
	r.cycles[key] = c
	for _, m := range c.Markets() {
		r.byMarket[m] = append(r.byMarket[m], key)
	}
	return true
}

// All returns every cycle ordered by key.
func (r *Registry) All() []Cycle {
	r.mu.RLock()
	keys := make([]string, 0, len(r.cycles))
	for k := range r.cycles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Cycle, len(keys))
	for i, k := range keys {
		out[i] = r.cycles[k]
	}
	r.mu.RUnlock()
	return out
}

// Touching returns the cycles that trade any of markets.
func (r *Registry) Touching(markets ...domain.MarketID) []Cycle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []Cycle
	for _, m := range markets {
		for _, k := range r.byMarket[m] {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, r.cycles[k])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len returns the number of cycles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cycles)
}
