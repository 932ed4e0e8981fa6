package hasher

import "github.com/cespare/xxhash/v2"

type xxHasher struct{}

// NewXXHash returns XXH64 with a zero seed.
func NewXXHash() Hasher {
	return xxHasher{}
}

func (xxHasher) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}
