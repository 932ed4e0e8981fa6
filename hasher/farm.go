package hasher

import farm "github.com/dgryski/go-farm"

type farmHasher struct{}

// NewFarm returns FarmHash Hash64.
func NewFarm() Hasher {
	return farmHasher{}
}

func (farmHasher) Sum64(data []byte) uint64 {
	return farm.Hash64(data)
}
