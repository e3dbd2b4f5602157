package metrics

import (
	"testing"
	"time"

	"github.com/wesleyorama2/cadence/internal/aggregate"
)

func workerStats(n int) []*Stats {
	sources := make([]*Stats, n)
	for i := range sources {
		s := NewStats()
		for k := 0; k <= i%4; k++ {
			s.Record(Sample{Response: time.Duration(i+1) * time.Millisecond, OK: true})
		}
		s.SetWindow(10 * time.Second)
		sources[i] = s
	}
	return sources
}

func TestAggregate(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 16, 33} {
		sources := workerStats(n)

		var want int64
		for _, s := range sources {
			want += s.Operations()
		}

		var combines, expected int
		got, err := Aggregate(sources, aggregate.WithObserver(func(c, e int) {
			combines, expected = c, e
		}))
		if err != nil {
			t.Fatalf("n=%d: Aggregate() error = %v", n, err)
		}

		if got.Operations() != want {
			t.Errorf("n=%d: Operations = %d, want %d", n, got.Operations(), want)
		}
		if combines != n-1 || expected != n-1 {
			t.Errorf("n=%d: combines %d/%d, want %d", n, combines, expected, n-1)
		}
		if got.Summarize().Window != 10*time.Second {
			t.Errorf("n=%d: Window = %v", n, got.Summarize().Window)
		}
	}
}

func TestAggregate_LeavesSourcesUntouched(t *testing.T) {
	sources := workerStats(9)
	before := make([]Summary, len(sources))
	for i, s := range sources {
		before[i] = s.Summarize()
	}

	if _, err := Aggregate(sources); err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	for i, s := range sources {
		if s.Summarize() != before[i] {
			t.Errorf("source %d modified", i)
		}
	}
}

func TestAggregate_Empty(t *testing.T) {
	got, err := Aggregate(nil)
	if err != nil {
		t.Fatalf("Aggregate(nil) error = %v", err)
	}
	if got.Operations() != 0 {
		t.Errorf("Operations = %d, want 0", got.Operations())
	}
}

func TestCollection_LiveBound(t *testing.T) {
	const n = 100
	c := NewCollection(workerStats(n))
	agg, err := aggregate.New[*Stats](n, c)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	agg.CollectStats()

	// ceil(log2 100) + 2
	if c.MaxLive() > 9 {
		t.Errorf("MaxLive = %d, want <= 9", c.MaxLive())
	}
	if c.Len() != n {
		t.Errorf("Len = %d", c.Len())
	}
}
