package hasher

import "github.com/spaolacci/murmur3"

type murmur3Hasher struct {
	seed uint32
}

// NewMurmur3 returns the 64-bit MurmurHash3 (x64, first half of the 128-bit digest).
func NewMurmur3(seed uint32) Hasher {
	return murmur3Hasher{seed: seed}
}

func (m murmur3Hasher) Sum64(data []byte) uint64 {
	return murmur3.Sum64WithSeed(data, m.seed)
}
