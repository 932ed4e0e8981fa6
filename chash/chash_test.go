package chash

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maglev-hash/hasher"
)

// fixedHashers pins offset and skip per backend so tables can be worked out by hand:
//
//	B0: offset 0, skip 1 -> 0 1 2 3 4 5 6
//	B1: offset 3, skip 2 -> 3 5 0 2 4 6 1
//	B2: offset 5, skip 3 -> 5 1 4 0 3 6 2
func fixedHashers() []Option {
	offsets := map[string]uint64{"B0": 0, "B1": 3, "B2": 5}
	skips := map[string]uint64{"B0": 0, "B1": 1, "B2": 2}
	return []Option{
		WithOffsetHasher(hasher.Func(func(b []byte) uint64 { return offsets[string(b)] })),
		WithSkipHasher(hasher.Func(func(b []byte) uint64 { return skips[string(b)] })),
		WithFlowHasher(hasher.Func(func(b []byte) uint64 { return uint64(len(b)) })),
	}
}

func newTestHash(t *testing.T, opts ...Option) ConsistentHash {
	t.Helper()
	ch, err := NewConsistentHash(opts...)
	require.NoError(t, err)
	return ch
}

func count(table []string, backend string) int {
	n := 0
	for _, b := range table {
		if b == backend {
			n++
		}
	}
	return n
}

func TestConsistentHash(t *testing.T) {
	tests := []struct {
		name               string
		backendsToAdd      []string
		additionalBackends []string
		backendsToRemove   []string
		expectedStep1      []string
		expectedStep2      []string
		expectedStep3      []string
	}{
		{
			name:          "Single backend",
			backendsToAdd: []string{"B0"},
			expectedStep1: []string{"B0", "B0", "B0", "B0", "B0", "B0", "B0"},
		},
		{
			name:          "Multiple backends",
			backendsToAdd: []string{"B0", "B1", "B2"},
			expectedStep1: []string{"B0", "B0", "B1", "B1", "B2", "B2", "B0"},
		},
		{
			name:             "Remove last backend",
			backendsToAdd:    []string{"B0", "B1", "B2"},
			backendsToRemove: []string{"B2"},
			expectedStep1:    []string{"B0", "B0", "B1", "B1", "B2", "B2", "B0"},
			expectedStep3:    []string{"B0", "B0", "B0", "B1", "B1", "B1", "B0"},
		},
		{
			name:             "Remove backend at index 0",
			backendsToAdd:    []string{"B0", "B1", "B2"},
			backendsToRemove: []string{"B0"},
			expectedStep1:    []string{"B0", "B0", "B1", "B1", "B2", "B2", "B0"},
			expectedStep3:    []string{"B1", "B2", "B1", "B1", "B2", "B2", "B1"},
		},
		{
			name:               "Rehash after adding more backends",
			backendsToAdd:      []string{"B0", "B1"},
			additionalBackends: []string{"B2"},
			expectedStep1:      []string{"B0", "B0", "B0", "B1", "B1", "B1", "B0"},
			expectedStep2:      []string{"B0", "B0", "B1", "B1", "B2", "B2", "B0"},
		},
		{
			name:               "Add and Remove backends",
			backendsToAdd:      []string{"B0", "B1"},
			additionalBackends: []string{"B2"},
			backendsToRemove:   []string{"B0", "unknown"},
			expectedStep1:      []string{"B0", "B0", "B0", "B1", "B1", "B1", "B0"},
			expectedStep2:      []string{"B0", "B0", "B1", "B1", "B2", "B2", "B0"},
			expectedStep3:      []string{"B1", "B2", "B1", "B1", "B2", "B2", "B1"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ch := newTestHash(t, append(fixedHashers(), WithSize(7))...)

			require.NoError(t, ch.Add(test.backendsToAdd...))
			assert.Equal(t, test.expectedStep1, ch.LookupTable(), "step 1")
			for key := uint64(0); key < 14; key++ {
				backend, err := ch.Hash(key)
				require.NoError(t, err)
				assert.Equal(t, test.expectedStep1[key%7], backend, "Hash mismatch for key %d in step 1", key)
			}

			if test.additionalBackends != nil {
				require.NoError(t, ch.Add(test.additionalBackends...))
				assert.Equal(t, test.expectedStep2, ch.LookupTable(), "step 2")
			}

			if test.backendsToRemove != nil {
				require.NoError(t, ch.Remove(test.backendsToRemove...))
				assert.Equal(t, test.expectedStep3, ch.LookupTable(), "step 3")
			}
		})
	}
}

// TestAddRemoveScenario is the M=7, {B0,B1,B2} scenario with the default hashers.
func TestAddRemoveScenario(t *testing.T) {
	ch := newTestHash(t, WithSize(7))

	require.NoError(t, ch.Add("B0", "B1", "B2"))
	assert.Equal(t, 3, ch.BackendCount())
	table := ch.LookupTable()
	assert.Len(t, table, 7)
	for _, backend := range []string{"B0", "B1", "B2"} {
		assert.GreaterOrEqual(t, count(table, backend), 2, backend)
	}

	require.NoError(t, ch.Remove("B2"))
	assert.Equal(t, 2, ch.BackendCount())
	table = ch.LookupTable()
	assert.Len(t, table, 7)
	assert.Equal(t, 0, count(table, "B2"))
	assert.GreaterOrEqual(t, count(table, "B0"), 3)
	assert.GreaterOrEqual(t, count(table, "B1"), 3)
	assert.Equal(t, 7, count(table, "B0")+count(table, "B1"))
}

func TestNewConsistentHashInvalidSize(t *testing.T) {
	for _, size := range []uint32{1, 4, 9, 25, 65535} {
		_, err := NewConsistentHash(WithSize(size))
		assert.ErrorIs(t, err, ErrConfiguration, "size %d", size)
	}
}

func TestNewConsistentHashDefaults(t *testing.T) {
	ch := newTestHash(t)
	assert.Equal(t, SmallSize, ch.Size())
	assert.Equal(t, 0, ch.BackendCount())
	assert.Nil(t, ch.LookupTable())
}

func TestNewConsistentHashUnknownHasher(t *testing.T) {
	_, err := NewConsistentHash(WithConfig(&Config{Size: 7, SkipHash: "md5"}))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewConsistentHashWithBackends(t *testing.T) {
	ch := newTestHash(t, WithSize(13), WithBackends("a", "b", "c"))
	assert.Equal(t, []string{"a", "b", "c"}, ch.Backends())
	assert.Len(t, ch.LookupTable(), 13)
}

func TestAddIgnoresDuplicates(t *testing.T) {
	ch := newTestHash(t, WithSize(13))

	require.NoError(t, ch.Add("a", "b", "a"))
	require.NoError(t, ch.Add("b", "c"))
	assert.Equal(t, []string{"a", "b", "c"}, ch.Backends())

	before := ch.LookupTable()
	require.NoError(t, ch.Add("a", "c"))
	assert.Equal(t, before, ch.LookupTable())
}

func TestAddInvalidBackend(t *testing.T) {
	ch := newTestHash(t, WithSize(13))
	require.NoError(t, ch.Add("a"))

	err := ch.Add("b", "")
	assert.ErrorIs(t, err, ErrInvalidBackend)
	assert.Equal(t, []string{"a"}, ch.Backends())
}

func TestAddMemoryLimit(t *testing.T) {
	// 4 bytes per slot, 13 slots: two backends fit in 104 bytes, three do not.
	ch := newTestHash(t, WithSize(13), WithMaxPermutationMemory(104))
	require.NoError(t, ch.Add("a", "b"))
	before := ch.LookupTable()

	err := ch.Add("c")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, []string{"a", "b"}, ch.Backends())
	assert.Equal(t, before, ch.LookupTable())
}

func TestRemoveIdempotent(t *testing.T) {
	ch := newTestHash(t, WithSize(13), WithBackends("a", "b", "c"))
	before := ch.LookupTable()

	require.NoError(t, ch.Remove("d"))
	require.NoError(t, ch.Remove())
	assert.Equal(t, before, ch.LookupTable())

	require.NoError(t, ch.Remove("b", "b"))
	after := ch.LookupTable()
	require.NoError(t, ch.Remove("b"))
	assert.Equal(t, after, ch.LookupTable())
	assert.Equal(t, []string{"a", "c"}, ch.Backends())
}

func TestRemoveAll(t *testing.T) {
	ch := newTestHash(t, WithSize(13), WithBackends("a", "b"))
	require.NoError(t, ch.Remove("a", "b"))

	assert.Equal(t, 0, ch.BackendCount())
	assert.Nil(t, ch.LookupTable())
	_, err := ch.ResolveString("flow")
	assert.ErrorIs(t, err, ErrNoBackends)

	// The table is usable again afterwards.
	require.NoError(t, ch.Add("c"))
	backend, err := ch.ResolveString("flow")
	require.NoError(t, err)
	assert.Equal(t, "c", backend)
}

func TestIndexOf(t *testing.T) {
	ch := newTestHash(t, WithSize(13), WithBackends("a", "b", "c"))

	idx, err := ch.IndexOf("a")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	require.NoError(t, ch.Remove("a"))
	_, err = ch.IndexOf("a")
	assert.ErrorIs(t, err, ErrNotFound)

	idx, err = ch.IndexOf("c")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestResolve(t *testing.T) {
	ch := newTestHash(t, append(fixedHashers(), WithSize(7), WithBackends("B0", "B1", "B2"))...)

	// The flow hasher returns the key length.
	for key, expected := range map[string]string{"": "B0", "ab": "B1", "abc": "B1", "abcde": "B2", "abcdefg": "B0"} {
		backend, err := ch.ResolveString(key)
		require.NoError(t, err)
		assert.Equal(t, expected, backend, "flow key %q", key)
	}
}

func TestResolveEmpty(t *testing.T) {
	ch := newTestHash(t, WithSize(7))
	_, err := ch.Resolve([]byte("flow"))
	assert.ErrorIs(t, err, ErrNoBackends)
}

func TestResolveInconsistentTable(t *testing.T) {
	ch := newTestHash(t, WithSize(7), WithBackends("a")).(*consistentHashImpl)
	ch.table.Store(&snapshot{entries: make([]int32, 5), backends: []string{"a"}})

	_, err := ch.Resolve([]byte("flow"))
	assert.ErrorIs(t, err, ErrConsistency)

	ch.table.Store(&snapshot{entries: []int32{0, 0, 0, -1, 0, 0, 0}, backends: []string{"a"}})
	_, err = ch.Hash(3)
	assert.ErrorIs(t, err, ErrConsistency)
}

func TestRemovalExactness(t *testing.T) {
	ch := newTestHash(t, WithSize(1009))
	backends := make([]string, 20)
	for i := range backends {
		backends[i] = fmt.Sprintf("10.0.0.%d:80", i)
	}
	require.NoError(t, ch.Add(backends...))

	require.NoError(t, ch.Remove(backends[0], backends[7], backends[19]))
	for _, removed := range []string{backends[0], backends[7], backends[19]} {
		assert.Equal(t, 0, count(ch.LookupTable(), removed))
	}
	for i := 0; i < 5000; i++ {
		backend, err := ch.ResolveString(fmt.Sprintf("flow-%d", i))
		require.NoError(t, err)
		assert.NotContains(t, []string{backends[0], backends[7], backends[19]}, backend)
	}
}

func TestDeterminism(t *testing.T) {
	build := func() ConsistentHash {
		ch := newTestHash(t, WithSize(1009))
		require.NoError(t, ch.Add("a", "b", "c", "d"))
		require.NoError(t, ch.Remove("b"))
		require.NoError(t, ch.Add("e"))
		return ch
	}
	first, second := build(), build()

	assert.Equal(t, first.LookupTable(), second.LookupTable())
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("flow-%d", i)
		b1, err := first.ResolveString(key)
		require.NoError(t, err)
		b2, err := second.ResolveString(key)
		require.NoError(t, err)
		assert.Equal(t, b1, b2)
	}
}

func TestMinimalDisruption(t *testing.T) {
	ch := newTestHash(t, WithSize(SmallSize))
	backends := make([]string, 10)
	for i := range backends {
		backends[i] = fmt.Sprintf("backend%d", i)
	}
	require.NoError(t, ch.Add(backends...))
	before := ch.LookupTable()

	require.NoError(t, ch.Add("backend10"))
	after := ch.LookupTable()

	moved := 0
	for i := range before {
		if before[i] != after[i] {
			moved++
		}
	}
	// The new backend takes about 1/11 of the slots; Maglev moves only slightly more than that.
	assert.Less(t, moved, len(before)/5)
}

func TestStats(t *testing.T) {
	ch := newTestHash(t, append(fixedHashers(), WithSize(7), WithBackends("B0", "B1", "B2"))...)

	stats := ch.Stats()
	assert.Equal(t, uint32(7), stats.Size)
	assert.Equal(t, 3, stats.Backends)
	assert.Equal(t, map[string]int{"B0": 3, "B1": 2, "B2": 2}, stats.Slots)
	assert.Equal(t, float64(3*7*4), float64(stats.PermutationMemory))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ch := newTestHash(t, WithSize(13), WithName("web"), WithRegisterer(reg))
	impl := ch.(*consistentHashImpl)

	require.NoError(t, ch.Add("a", "b"))
	require.NoError(t, ch.Add("c"))
	require.NoError(t, ch.Remove("a"))
	require.NoError(t, ch.Remove("unknown"))
	_, _ = ch.Hash(1)

	assert.Equal(t, float64(2), testutil.ToFloat64(impl.metrics.rebuilds.WithLabelValues(opAdd)))
	assert.Equal(t, float64(1), testutil.ToFloat64(impl.metrics.rebuilds.WithLabelValues(opRemove)))
	assert.Equal(t, float64(2), testutil.ToFloat64(impl.metrics.backends))
	assert.Equal(t, float64(0), testutil.ToFloat64(impl.metrics.resolveErrors))

	require.NoError(t, ch.Remove("b", "c"))
	_, err := ch.Hash(1)
	assert.ErrorIs(t, err, ErrNoBackends)
	assert.Equal(t, float64(1), testutil.ToFloat64(impl.metrics.resolveErrors))

	count, err := testutil.GatherAndCount(reg, "maglev_table_rebuilds_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// TestConcurrentResolve runs lookups while membership changes; run with -race.
func TestConcurrentResolve(t *testing.T) {
	ch := newTestHash(t, WithSize(1009), WithBackends("a", "b"))
	valid := map[string]bool{"a": true, "b": true, "c": true, "d": true}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				backend, err := ch.ResolveString(fmt.Sprintf("flow-%d", i))
				if assert.NoError(t, err) {
					assert.True(t, valid[backend], backend)
				}
				table := ch.LookupTable()
				assert.Len(t, table, 1009)
			}
		}()
	}

	for i := 0; i < 50; i++ {
		require.NoError(t, ch.Add("c", "d"))
		require.NoError(t, ch.Remove("c"))
		require.NoError(t, ch.Remove("d"))
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, []string{"a", "b"}, ch.Backends())
}
