package hasher

import "github.com/dchest/siphash"

const (
	defaultSipKey0 = 0xdeadbeefcafebabe
	defaultSipKey1 = 0
)

type sipHasher struct {
	k0, k1 uint64
}

// NewSipHash returns SipHash-2-4 keyed with k0 and k1.
// The keys are fixed for the life of a table; changing them reshuffles every permutation.
func NewSipHash(k0, k1 uint64) Hasher {
	return sipHasher{k0: k0, k1: k1}
}

func (s sipHasher) Sum64(data []byte) uint64 {
	return siphash.Hash(s.k0, s.k1, data)
}
