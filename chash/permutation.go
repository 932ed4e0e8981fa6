package chash

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"maglev-hash/hasher"
)

// Permutation returns the preference list of backend over the size slots of a table.
//
//	offset  = offsetHash(backend) mod size
//	skip    = skipHash(backend) mod (size-1) + 1
//	slot(j) = (offset + j*skip) mod size
//
// size must be prime: then every skip in [1, size-1] is coprime to it and the
// sequence visits each slot exactly once.
func Permutation(backend string, size uint32, offsetHash, skipHash hasher.Hasher) []uint32 {
	m := uint64(size)
	offset := offsetHash.Sum64([]byte(backend)) % m
	skip := skipHash.Sum64([]byte(backend))%(m-1) + 1

	perm := make([]uint32, size)
	slot := offset
	for j := range perm {
		perm[j] = uint32(slot)
		slot += skip
		if slot >= m {
			slot -= m
		}
	}
	return perm
}

// buildPermutations computes the permutations of backends concurrently.
// The result is indexed like backends.
func buildPermutations(backends []string, size uint32, offsetHash, skipHash hasher.Hasher) [][]uint32 {
	perms := make([][]uint32, len(backends))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, backend := range backends {
		i, backend := i, backend
		g.Go(func() error {
			perms[i] = Permutation(backend, size, offsetHash, skipHash)
			return nil
		})
	}
	_ = g.Wait()

	return perms
}

// IsPrime reports whether n is prime, by trial division up to and including isqrt(n).
func IsPrime(n uint32) bool {
	if n < 2 {
		return false
	}
	m := uint64(n)
	for i := uint64(2); i*i <= m; i++ {
		if m%i == 0 {
			return false
		}
	}
	return true
}
