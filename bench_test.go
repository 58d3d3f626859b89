package qf

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func BenchmarkInsert(b *testing.B) {
	b.Run("run=sorted", benchSizes(benchmarkInsert))
	b.Run("run=unordered", benchSizes(benchmarkInsert, WithRunOrder(RunsUnordered)))
	b.Run("run=swap", benchSizes(benchmarkInsert,
		WithRunOrder(RunsUnordered), WithInsertStrategy(InsertSwap)))
}

func BenchmarkQueryHit(b *testing.B) {
	b.Run("run=sorted", benchSizes(benchmarkQueryHit))
	b.Run("run=unordered", benchSizes(benchmarkQueryHit, WithRunOrder(RunsUnordered)))
}

func BenchmarkQueryMiss(b *testing.B) {
	b.Run("run=sorted", benchSizes(benchmarkQueryMiss))
	b.Run("run=unordered", benchSizes(benchmarkQueryMiss, WithRunOrder(RunsUnordered)))
}

func BenchmarkChurn(b *testing.B) {
	for _, rs := range []RemoveStrategy{RemoveLazy, RemovePush} {
		b.Run("remove="+rs.String(), func(b *testing.B) {
			b.Run("rebuild=none", benchSizes(benchmarkChurn, WithRemoveStrategy(rs)))
			b.Run("rebuild=clear", benchSizes(benchmarkChurn,
				WithRemoveStrategy(rs), WithRebuildPolicy(RebuildClear)))
			b.Run("rebuild=amortized", benchSizes(benchmarkChurn,
				WithRemoveStrategy(rs), WithRebuildPolicy(RebuildAmortized)))
			b.Run("rebuild=deamortized", benchSizes(benchmarkChurn,
				WithRemoveStrategy(rs), WithRebuildPolicy(RebuildDeamortized)))
			b.Run("rebuild=at-insert", benchSizes(benchmarkChurn,
				WithRemoveStrategy(rs), WithRebuildPolicy(RebuildDeamortized),
				WithRebuildTrigger(TriggerAtInsert)))
		})
	}
}

// benchLoadFactor is the fraction of home buckets filled before timing.
const benchLoadFactor = 0.85

func benchSizes(
	f func(b *testing.B, n int, options []Option), options ...Option,
) func(*testing.B) {
	var cases = []int{
		1 << 10,
		1 << 12,
		1 << 14,
		1 << 16,
		1 << 20,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("slots="+strconv.Itoa(n), func(b *testing.B) { f(b, n, options) })
		}
	}
}

// newBenchFilter returns a filter with n home buckets holding the first
// benchLoadFactor*n keys of keys.
func newBenchFilter(b *testing.B, n int, keys []uint64, options []Option) *Filter {
	options = append([]Option{WithHashMode(HashInvertible)}, options...)
	f, err := New(uint64(n/2), 40, 8, 0.5, options...)
	if err != nil {
		b.Fatal(err)
	}
	if len(keys) > 0 {
		for _, k := range keys[:int(benchLoadFactor*float64(n))] {
			if _, err := f.Insert(k, k, 0); err != nil {
				b.Fatal(err)
			}
		}
	}
	return f
}

func genKeys(start, end int) []uint64 {
	keys := make([]uint64, end-start)
	for i := range keys {
		keys[i] = uint64(start + i)
	}
	rand.New(rand.NewSource(int64(start))).Shuffle(len(keys), func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})
	return keys
}

func benchmarkInsert(b *testing.B, n int, options []Option) {
	keys := genKeys(0, n)
	limit := int(benchLoadFactor * float64(n))
	var f *Filter
	cs := perfbench.Open(b)
	cs.Reset()
	for i := 0; i < b.N; i++ {
		j := i % limit
		if j == 0 {
			b.StopTimer()
			f = newBenchFilter(b, n, nil, options)
			b.StartTimer()
		}
		if _, err := f.Insert(keys[j], 0, 0); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkQueryHit(b *testing.B, n int, options []Option) {
	keys := genKeys(0, n)
	f := newBenchFilter(b, n, keys, options)
	limit := int(benchLoadFactor * float64(n))
	cs := perfbench.Open(b)
	cs.Reset()
	for i := 0; i < b.N; i++ {
		if _, err := f.Query(keys[i%limit], 0); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkQueryMiss(b *testing.B, n int, options []Option) {
	keys := genKeys(0, n)
	miss := genKeys(n, 2*n)
	f := newBenchFilter(b, n, keys, options)
	cs := perfbench.Open(b)
	cs.Reset()
	for i := 0; i < b.N; i++ {
		_, _ = f.Query(miss[i%len(miss)], 0)
	}
}

// benchmarkChurn removes the oldest key and inserts a new one, keeping the
// filter at benchLoadFactor.
func benchmarkChurn(b *testing.B, n int, options []Option) {
	limit := int(benchLoadFactor * float64(n))
	keys := genKeys(0, n+b.N)
	f := newBenchFilter(b, n, keys, options)
	cs := perfbench.Open(b)
	cs.Reset()
	for i := 0; i < b.N; i++ {
		if _, err := f.Remove(keys[i], 0); err != nil {
			b.Fatal(err)
		}
		if _, err := f.Insert(keys[i+limit], 0, 0); err != nil {
			b.Fatal(err)
		}
	}
	b.ReportMetric(float64(f.Stats().Tombstones)/float64(n), "tombstones/slot")
}
