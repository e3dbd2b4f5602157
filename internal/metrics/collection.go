package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/wesleyorama2/cadence/internal/aggregate"
)

// Collection serves a fixed set of Stats to the pairwise aggregator.
//
// Sources are never modified: MutableMetrics hands out pooled copies and
// Recycle returns them to the pool.
type Collection struct {
	sources []*Stats
	pool    sync.Pool

	live    atomic.Int64
	maxLive atomic.Int64
}

// NewCollection wraps sources.
func NewCollection(sources []*Stats) *Collection {
	c := &Collection{sources: sources}
	c.pool.New = func() any { return NewStats() }
	return c
}

// Len returns the number of sources.
func (c *Collection) Len() int {
	return len(c.sources)
}

// MutableMetrics returns a copy of source index.
func (c *Collection) MutableMetrics(index int) *Stats {
	s := c.pool.Get().(*Stats)
	s.CopyFrom(c.sources[index])

	live := c.live.Add(1)
	for {
		peak := c.maxLive.Load()
		if live <= peak || c.maxLive.CompareAndSwap(peak, live) {
			break
		}
	}
	return s
}

// AddSource merges source index into acc.
func (c *Collection) AddSource(acc *Stats, index int) {
	acc.Add(c.sources[index])
}

// Recycle resets acc and returns it to the pool.
func (c *Collection) Recycle(acc *Stats) {
	acc.Reset()
	c.pool.Put(acc)
	c.live.Add(-1)
}

// MaxLive returns the most copies that were out of the pool at once.
func (c *Collection) MaxLive() int {
	return int(c.maxLive.Load())
}

// Aggregate merges sources with the pairwise aggregator. The result is a
// fresh Stats; sources are left untouched.
func Aggregate(sources []*Stats, opts ...aggregate.Option) (*Stats, error) {
	if len(sources) == 0 {
		return NewStats(), nil
	}
	agg, err := aggregate.New[*Stats](len(sources), NewCollection(sources), opts...)
	if err != nil {
		return nil, err
	}
	return agg.CollectStats(), nil
}
