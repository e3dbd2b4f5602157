// Package aggregate combines many per-worker metric accumulators into one
// using pairwise (tree) summation.
//
// Summing n accumulators one after another grows floating-point error with
// n; merging them as a balanced binary tree grows it with log n. The
// aggregator walks the sources once, keeping at most one partially merged
// accumulator per tree level, so only O(log n) accumulators are alive at any
// time instead of all n.
package aggregate

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Aggregable is a mutable accumulator that can absorb another of its kind.
type Aggregable[T any] interface {
	Add(other T)
}

// Provider supplies accumulators for the n sources being aggregated.
//
// The aggregator never constructs accumulators itself. Pooling and
// copy-on-write are the provider's business; a pool shared across
// concurrent aggregations must do its own locking.
type Provider[T any] interface {
	// MutableMetrics returns an accumulator initialised from source index
	// that the aggregator may modify.
	MutableMetrics(index int) T

	// AddSource merges source index into acc.
	AddSource(acc T, index int)

	// Recycle takes back an accumulator the aggregator no longer needs.
	Recycle(acc T)
}

// Observer is told the combine count of each CollectStats call next to the
// n-1 it should equal.
type Observer func(combines, expected int)

// Option configures a PairwiseAggregator.
type Option func(*settings)

type settings struct {
	log      zerolog.Logger
	observer Observer
}

// WithLogger sets the logger that receives combine-count mismatches.
func WithLogger(log zerolog.Logger) Option {
	return func(s *settings) {
		s.log = log
	}
}

// WithObserver registers a callback run after every CollectStats.
func WithObserver(fn Observer) Option {
	return func(s *settings) {
		s.observer = fn
	}
}

// node is one level of the merge tree.
type node[T any] struct {
	// items is how many accumulators arrive at this level per collection.
	items int

	acc      T
	occupied bool

	// pairs counts completed merges that were carried to the next level.
	pairs int

	// extraPair is the ordinal of the pair that absorbs this level's odd
	// item when items is odd. It rotates between collections.
	extraPair int
	absorbed  bool
}

func (n *node[T]) odd() bool {
	return n.items > 1 && n.items%2 == 1
}

// PairwiseAggregator merges n sources into one accumulator.
//
// A PairwiseAggregator is not safe for concurrent use. CollectStats may be
// called repeatedly, e.g. once per reporting interval.
type PairwiseAggregator[T Aggregable[T]] struct {
	n        int
	provider Provider[T]
	nodes    []node[T]
	calls    int
	combines int
	settings settings
}

// New plans the merge tree for n sources.
//
// Level 0 receives one accumulator per source pair (the triple 0,1,2 counts
// as one pair when n is odd). Each level above receives half as many, and a
// level with an odd count absorbs the spare item into one of its pairs
// instead of carrying it up.
func New[T Aggregable[T]](n int, provider Provider[T], opts ...Option) (*PairwiseAggregator[T], error) {
	if n < 1 {
		return nil, fmt.Errorf("aggregate: need at least one source, got %d", n)
	}
	if provider == nil {
		return nil, fmt.Errorf("aggregate: provider is required")
	}

	a := &PairwiseAggregator[T]{
		n:        n,
		provider: provider,
		settings: settings{log: zerolog.Nop()},
	}
	for _, opt := range opts {
		opt(&a.settings)
	}

	if n > 1 {
		for items := n / 2; ; items /= 2 {
			a.nodes = append(a.nodes, node[T]{items: items})
			if items == 1 {
				break
			}
		}
	}
	return a, nil
}

// Levels returns the height of the merge tree.
func (a *PairwiseAggregator[T]) Levels() int {
	return len(a.nodes)
}

// CollectStats merges every source and returns the single surviving
// accumulator.
//
// Exactly n-1 merges are performed. A different count means the tree plan
// is wrong; it is logged and reported to the observer, and the result is
// still returned.
func (a *PairwiseAggregator[T]) CollectStats() T {
	a.reset()

	if a.n == 1 {
		a.finish()
		return a.provider.MutableMetrics(0)
	}

	start := 0
	if a.n%2 == 1 {
		acc := a.provider.MutableMetrics(0)
		a.addSource(acc, 1)
		a.addSource(acc, 2)
		a.push(acc)
		start = 3
	}
	for i := start; i+1 < a.n; i += 2 {
		acc := a.provider.MutableMetrics(i)
		a.addSource(acc, i+1)
		a.push(acc)
	}

	top := &a.nodes[len(a.nodes)-1]
	if !top.occupied {
		a.settings.log.Error().
			Int("sources", a.n).
			Int("levels", len(a.nodes)).
			Msg("pairwise aggregation left the top level empty")
	}
	result := top.acc
	var zero T
	top.acc, top.occupied = zero, false

	a.finish()
	return result
}

func (a *PairwiseAggregator[T]) reset() {
	var zero T
	for i := range a.nodes {
		nd := &a.nodes[i]
		nd.acc = zero
		nd.occupied = false
		nd.pairs = 0
		nd.absorbed = false
		nd.extraPair = 0
		if nd.odd() {
			nd.extraPair = (a.calls + i) % (nd.items / 2)
		}
	}
	a.combines = 0
}

func (a *PairwiseAggregator[T]) finish() {
	a.calls++

	expected := a.n - 1
	if a.combines != expected {
		a.settings.log.Warn().
			Int("sources", a.n).
			Int("combines", a.combines).
			Int("expected", expected).
			Msg("pairwise aggregation combine count mismatch")
	}
	if a.settings.observer != nil {
		a.settings.observer(a.combines, expected)
	}
}

func (a *PairwiseAggregator[T]) addSource(acc T, index int) {
	a.provider.AddSource(acc, index)
	a.combines++
}

// push carries acc up the tree until it lands in an empty level or is
// absorbed as a level's odd item.
func (a *PairwiseAggregator[T]) push(acc T) {
	top := len(a.nodes) - 1
	for lvl := 0; ; lvl++ {
		nd := &a.nodes[lvl]
		if !nd.occupied {
			nd.acc = acc
			nd.occupied = true
			return
		}

		nd.acc.Add(acc)
		a.combines++
		a.provider.Recycle(acc)

		if nd.odd() && !nd.absorbed && nd.pairs == nd.extraPair {
			nd.absorbed = true
			return
		}

		nd.pairs++
		if lvl == top {
			a.settings.log.Warn().Int("level", lvl).Msg("merge carried past the top level")
			return
		}

		var zero T
		acc = nd.acc
		nd.acc, nd.occupied = zero, false
	}
}
