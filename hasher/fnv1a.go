package hasher

import "github.com/segmentio/fasthash/fnv1a"

type fnv1aHasher struct{}

// NewFNV1a returns the 64-bit FNV-1a hash.
func NewFNV1a() Hasher {
	return fnv1aHasher{}
}

func (fnv1aHasher) Sum64(data []byte) uint64 {
	return fnv1a.HashBytes64(data)
}
