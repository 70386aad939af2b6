package book

import (
	"sort"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// ladder is one side of a book: a price->qty map plus the prices kept sorted
// best-first, so the best level is always prices[0].
type ladder struct {
	desc   bool
	prices []float64
	qty    map[float64]float64
}

func newLadder(desc bool) *ladder {
	return &ladder{desc: desc, qty: make(map[float64]float64)}
}

// better reports whether price a ranks ahead of b on this side.
func (l *ladder) better(a, b float64) bool {
	if l.desc {
		return a > b
	}
	return a < b
}

// search returns the index at which price is, or would be, stored.
func (l *ladder) search(price float64) int {
	return sort.Search(len(l.prices), func(i int) bool {
		return !l.better(l.prices[i], price)
	})
}

// set upserts a level; qty <= 0 removes it.
func (l *ladder) set(price, qty float64) {
	_, exists := l.qty[price]
	if qty <= 0 {
		if !exists {
			return
		}
		delete(l.qty, price)
		i := l.search(price)
		if i < len(l.prices) && l.prices[i] == price {
			l.prices = append(l.prices[:i], l.prices[i+1:]...)
		}
		return
	}
	l.qty[price] = qty
	if exists {
		return
	}
	i := l.search(price)
	l.prices = append(l.prices, 0)
	copy(l.prices[i+1:], l.prices[i:])
	l.prices[i] = price
}

// reset replaces every level with levels. Zero-quantity entries are skipped.
func (l *ladder) reset(levels []domain.PriceLevel) {
	l.prices = l.prices[:0]
	clear(l.qty)
	for _, lv := range levels {
		if lv.Qty <= 0 {
			continue
		}
		if _, dup := l.qty[lv.Price]; !dup {
			l.prices = append(l.prices, lv.Price)
		}
		l.qty[lv.Price] = lv.Qty
	}
	sort.Slice(l.prices, func(i, j int) bool { return l.better(l.prices[i], l.prices[j]) })
}

func (l *ladder) best() (domain.PriceLevel, bool) {
	if len(l.prices) == 0 {
		return domain.PriceLevel{}, false
	}
	p := l.prices[0]
	return domain.PriceLevel{Price: p, Qty: l.qty[p]}, true
}

// trim drops every level beyond depth. depth <= 0 keeps everything.
func (l *ladder) trim(depth int) {
	if depth <= 0 || len(l.prices) <= depth {
		return
	}
	for _, p := range l.prices[depth:] {
		delete(l.qty, p)
	}
	l.prices = l.prices[:depth]
}

// levels copies up to n levels best-first. n <= 0 copies all.
func (l *ladder) levels(n int) []domain.PriceLevel {
	if n <= 0 || n > len(l.prices) {
		n = len(l.prices)
	}
	out := make([]domain.PriceLevel, n)
	for i := 0; i < n; i++ {
		p := l.prices[i]
		out[i] = domain.PriceLevel{Price: p, Qty: l.qty[p]}
	}
	return out
}

func (l *ladder) len() int { return len(l.prices) }
