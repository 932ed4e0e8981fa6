package chash

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"maglev-hash/hasher"
)

func TestIsPrime(t *testing.T) {
	tests := []struct {
		n     uint32
		prime bool
	}{
		{0, false},
		{1, false},
		{2, true},
		{3, true},
		{4, false},
		{7, true},
		{9, false},   // 3*3: isqrt itself must be checked
		{25, false},  // 5*5
		{49, false},  // 7*7
		{121, false}, // 11*11
		{169, false}, // 13*13
		{1009, true},
		{65537, true},
		{65535, false},
		{655373, true},
		{4294967291, true}, // largest uint32 prime
		{4294967295, false},
	}

	for _, test := range tests {
		t.Run(fmt.Sprint(test.n), func(t *testing.T) {
			assert.Equal(t, test.prime, IsPrime(test.n))
		})
	}
}

func TestPermutation(t *testing.T) {
	offset := hasher.Func(func([]byte) uint64 { return 3 })
	skip := hasher.Func(func([]byte) uint64 { return 1 }) // 1 mod 6 + 1 = 2

	assert.Equal(t, []uint32{3, 5, 0, 2, 4, 6, 1}, Permutation("B1", 7, offset, skip))
}

func TestPermutationLargeHashes(t *testing.T) {
	offset := hasher.Func(func([]byte) uint64 { return ^uint64(0) })
	skip := hasher.Func(func([]byte) uint64 { return ^uint64(0) - 1 })

	perm := Permutation("any", 13, offset, skip)
	assertFullCycle(t, perm, 13)
}

// TestPermutationFullCycle checks every built-in hasher pair yields a permutation of all slots.
func TestPermutationFullCycle(t *testing.T) {
	sizes := []uint32{2, 3, 7, 251, 1009, 65537}

	for _, offsetName := range hasher.Names() {
		for _, skipName := range hasher.Names() {
			offset, _ := hasher.ByName(offsetName)
			skip, _ := hasher.ByName(skipName)

			for _, size := range sizes {
				for _, backend := range []string{"backend1", "10.0.0.1:8080", ""} {
					perm := Permutation(backend, size, offset, skip)
					assertFullCycle(t, perm, size, "offset=%s skip=%s size=%d backend=%q", offsetName, skipName, size, backend)
				}
			}
		}
	}
}

func TestBuildPermutations(t *testing.T) {
	offset, skip := hasher.NewBKDR(), hasher.NewMurmur3(0)
	backends := make([]string, 64)
	for i := range backends {
		backends[i] = fmt.Sprintf("backend%d", i)
	}

	perms := buildPermutations(backends, 1009, offset, skip)
	assert.Len(t, perms, len(backends))
	for i, backend := range backends {
		assert.Equal(t, Permutation(backend, 1009, offset, skip), perms[i])
	}
}

func assertFullCycle(t *testing.T, perm []uint32, size uint32, msgAndArgs ...interface{}) {
	t.Helper()
	if !assert.Len(t, perm, int(size), msgAndArgs...) {
		return
	}
	seen := make([]bool, size)
	for _, slot := range perm {
		if !assert.Less(t, slot, size, msgAndArgs...) || !assert.False(t, seen[slot], msgAndArgs...) {
			return
		}
		seen[slot] = true
	}
}
