// Package crawl implements the walkers: federation, channels, videos,
// enrichment, and host health.
package crawl

import "sync/atomic"

// budget is a shared decrement counter for global caps like max_channels.
// A nil inner counter means unlimited.
type budget struct {
	remaining *atomic.Int64
}

func newBudget(limit int) *budget {
	if limit <= 0 {
		return &budget{}
	}
	b := &budget{remaining: &atomic.Int64{}}
	b.remaining.Store(int64(limit))
	return b
}

// take grants up to want units and returns the amount actually granted.
func (b *budget) take(want int) int {
	if b.remaining == nil {
		return want
	}
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return 0
		}
		grant := int64(want)
		if grant > cur {
			grant = cur
		}
		if b.remaining.CompareAndSwap(cur, cur-grant) {
			return int(grant)
		}
	}
}

// empty reports whether the budget is exhausted. Unlimited budgets are
// never empty.
func (b *budget) empty() bool {
	return b.remaining != nil && b.remaining.Load() <= 0
}
