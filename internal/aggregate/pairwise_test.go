package aggregate

import (
	"math"
	"math/bits"
	"testing"
)

type counter struct {
	v      float64
	merges *int
}

func (c *counter) Add(other *counter) {
	c.v += other.v
	*c.merges++
}

// countingProvider hands out pooled counters and tracks how many are alive.
type countingProvider struct {
	values   []float64
	free     []*counter
	merges   int
	adds     int
	live     int
	maxLive  int
	recycled int
}

func newCountingProvider(values []float64) *countingProvider {
	return &countingProvider{values: values}
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func (p *countingProvider) MutableMetrics(index int) *counter {
	var c *counter
	if n := len(p.free); n > 0 {
		c, p.free = p.free[n-1], p.free[:n-1]
	} else {
		c = &counter{merges: &p.merges}
	}
	c.v = p.values[index]

	p.live++
	if p.live > p.maxLive {
		p.maxLive = p.live
	}
	return c
}

func (p *countingProvider) AddSource(acc *counter, index int) {
	acc.v += p.values[index]
	p.adds++
}

func (p *countingProvider) Recycle(acc *counter) {
	p.live--
	p.recycled++
	p.free = append(p.free, acc)
}

func (p *countingProvider) combines() int {
	return p.adds + p.merges
}

func ceilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

func checkCollect(t *testing.T, n int) {
	t.Helper()

	p := newCountingProvider(ones(n))
	var observed, expected int
	agg, err := New[*counter](n, p, WithObserver(func(c, e int) {
		observed, expected = c, e
	}))
	if err != nil {
		t.Fatalf("New(%d) error = %v", n, err)
	}

	got := agg.CollectStats()

	if got == nil {
		t.Fatalf("n=%d: CollectStats() returned nil", n)
	}
	if got.v != float64(n) {
		t.Fatalf("n=%d: value = %v, want %d", n, got.v, n)
	}
	if p.combines() != n-1 {
		t.Fatalf("n=%d: %d combines, want %d", n, p.combines(), n-1)
	}
	if observed != n-1 || expected != n-1 {
		t.Fatalf("n=%d: observer saw %d/%d", n, observed, expected)
	}
	if bound := ceilLog2(n) + 2; p.maxLive > bound {
		t.Fatalf("n=%d: %d live accumulators, bound %d", n, p.maxLive, bound)
	}
	if p.live != 1 {
		t.Fatalf("n=%d: %d accumulators still live, want only the result", n, p.live)
	}
}

func TestCollectStats_Small(t *testing.T) {
	for n := 1; n <= 4096; n++ {
		checkCollect(t, n)
	}
}

func TestCollectStats_UpTo50000(t *testing.T) {
	if testing.Short() {
		t.Skip("large sweep")
	}
	for n := 4097; n < 50_000; n += 997 {
		checkCollect(t, n)
	}
	for _, n := range []int{32_767, 32_768, 32_769, 49_999, 50_000, 65_537} {
		checkCollect(t, n)
	}
}

func TestCollectStats_SingleSourceReturnsProviderCopy(t *testing.T) {
	p := newCountingProvider([]float64{42})
	agg, err := New[*counter](1, p)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := agg.CollectStats()
	if got.v != 42 {
		t.Errorf("value = %v, want 42", got.v)
	}
	if p.combines() != 0 {
		t.Errorf("combines = %d, want 0", p.combines())
	}
	if agg.Levels() != 0 {
		t.Errorf("Levels() = %d, want 0", agg.Levels())
	}
}

func TestCollectStats_Repeated(t *testing.T) {
	const n = 1001
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i)
	}
	want := float64(n*(n-1)) / 2

	p := newCountingProvider(values)
	agg, err := New[*counter](n, p)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for call := 0; call < 10; call++ {
		before := p.combines()
		got := agg.CollectStats()
		if got.v != want {
			t.Fatalf("call %d: value = %v, want %v", call, got.v, want)
		}
		if c := p.combines() - before; c != n-1 {
			t.Fatalf("call %d: %d combines, want %d", call, c, n-1)
		}
		p.Recycle(got)
	}
}

func TestCollectStats_RotatesOddPair(t *testing.T) {
	// 14 sources give 7 level-0 items, so level 0 absorbs one spare and
	// has three candidate pairs.
	p := newCountingProvider(ones(14))
	agg, err := New[*counter](14, p)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	seen := map[int]bool{}
	for call := 0; call < 3; call++ {
		got := agg.CollectStats()
		if got.v != 14 {
			t.Fatalf("call %d: value = %v", call, got.v)
		}
		seen[agg.nodes[0].extraPair] = true
		p.Recycle(got)
	}
	if len(seen) != 3 {
		t.Errorf("odd pair used ordinals %v, want all three", seen)
	}
}

func TestCollectStats_LessErrorThanLinearSum(t *testing.T) {
	const n = 100_000
	values := make([]float64, n)
	for i := range values {
		values[i] = 0.1
	}

	p := newCountingProvider(values)
	agg, err := New[*counter](n, p)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	pairwise := agg.CollectStats().v

	linear := 0.0
	for _, v := range values {
		linear += v
	}

	exact := 10_000.0
	if math.Abs(pairwise-exact) > math.Abs(linear-exact) {
		t.Errorf("pairwise error %g exceeds linear error %g", pairwise-exact, linear-exact)
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New[*counter](0, newCountingProvider(nil)); err == nil {
		t.Error("New(0) succeeded, want error")
	}
	if _, err := New[*counter](3, nil); err == nil {
		t.Error("New with nil provider succeeded, want error")
	}
}
