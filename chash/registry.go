package chash

import (
	"slices"

	"github.com/pkg/errors"
)

// registry is the ordered, densely indexed set of backends and their permutations.
// It is never mutated in place: mutations return a new registry, so a failed
// rebuild leaves the current one untouched.
type registry struct {
	backends     []string
	index        map[string]int
	permutations [][]uint32
}

func newRegistry() *registry {
	return &registry{index: make(map[string]int)}
}

func (r *registry) len() int {
	return len(r.backends)
}

// withAdded returns a registry with the unknown backends appended in order.
// Permutations of the appended backends are left for the caller to fill in;
// the returned slice holds their names.
func (r *registry) withAdded(backends []string) (*registry, []string, error) {
	if len(r.index) != len(r.backends) || len(r.permutations) != len(r.backends) {
		return nil, nil, errors.Wrapf(ErrConsistency,
			"registry holds %d backends, %d indices and %d permutations",
			len(r.backends), len(r.index), len(r.permutations))
	}

	var added []string
	seen := make(map[string]struct{}, len(backends))
	for _, backend := range backends {
		if backend == "" {
			return nil, nil, errors.Wrap(ErrInvalidBackend, "backend identifier is empty")
		}
		if _, ok := r.index[backend]; ok {
			continue
		}
		if _, ok := seen[backend]; ok {
			continue
		}
		seen[backend] = struct{}{}
		added = append(added, backend)
	}
	if len(added) == 0 {
		return r, nil, nil
	}

	next := &registry{
		backends:     append(slices.Clone(r.backends), added...),
		index:        make(map[string]int, len(r.backends)+len(added)),
		permutations: slices.Grow(slices.Clone(r.permutations), len(added)),
	}
	for i, backend := range next.backends {
		next.index[backend] = i
	}
	return next, added, nil
}

// withRemoved returns a registry without the given backends. Survivors keep their
// relative order and permutations, and are renumbered densely from 0.
// Unknown backends are returned in missing.
func (r *registry) withRemoved(backends []string) (next *registry, removed, missing []string) {
	drop := make(map[int]struct{}, len(backends))
	for _, backend := range backends {
		idx, ok := r.index[backend]
		if !ok {
			missing = append(missing, backend)
			continue
		}
		if _, ok := drop[idx]; ok {
			continue
		}
		drop[idx] = struct{}{}
		removed = append(removed, backend)
	}
	if len(drop) == 0 {
		return r, nil, missing
	}

	survivors := r.len() - len(drop)
	next = &registry{
		backends:     make([]string, 0, survivors),
		index:        make(map[string]int, survivors),
		permutations: make([][]uint32, 0, survivors),
	}
	for i, backend := range r.backends {
		if _, ok := drop[i]; ok {
			continue
		}
		next.index[backend] = len(next.backends)
		next.backends = append(next.backends, backend)
		next.permutations = append(next.permutations, r.permutations[i])
	}
	return next, removed, missing
}
