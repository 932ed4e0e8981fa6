package chash

import "github.com/pkg/errors"

const unassigned = -1

// populate fills a new lookup table of the given size from perms, one slot per
// backend per round, in index order. Each backend claims the first slot of its
// permutation that is still free. It stops as soon as every slot is taken.
//
// Runs in O(M log M) expected time for N <= M.
func populate(perms [][]uint32, size uint32) ([]int32, error) {
	entry := make([]int32, size)
	for j := range entry {
		entry[j] = unassigned
	}
	if len(perms) == 0 {
		return entry, nil
	}

	next := make([]uint32, len(perms))
	var n uint32
	for {
		for i, perm := range perms {
			if len(perm) != int(size) {
				return nil, errors.Wrapf(ErrConsistency, "permutation %d has %d slots, want %d", i, len(perm), size)
			}

			// Skip candidates that are already taken
			for next[i] < size && entry[perm[next[i]]] != unassigned {
				next[i]++
			}
			if next[i] == size {
				return nil, errors.Wrapf(ErrConsistency, "permutation %d exhausted with %d of %d slots filled", i, n, size)
			}

			entry[perm[next[i]]] = int32(i)
			next[i]++

			n++
			if n == size {
				return entry, nil
			}
		}
	}
}
