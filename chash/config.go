package chash

import (
	"github.com/inhies/go-bytesize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"maglev-hash/hasher"
)

var (
	SmallSize uint32 = 65537
	LargeSize uint32 = 655373
)

type Config struct {
	// Name identifies the table in logs and metrics.
	Name string `mapstructure:"name" default:"default"`
	// Size is the number of lookup table slots, M. Must be prime.
	// It should be much larger than the number of backends; SmallSize suits up to a few hundred.
	Size uint32 `mapstructure:"size" default:"65537"`
	// Backends is the list of backends added when the table is created.
	Backends []string `mapstructure:"backends"`
	// OffsetHash names the hasher deriving each backend's permutation offset.
	OffsetHash string `mapstructure:"offset_hash" default:"bkdr"`
	// SkipHash names the hasher deriving each backend's permutation skip.
	// It should differ from OffsetHash, otherwise offset and skip are correlated.
	SkipHash string `mapstructure:"skip_hash" default:"murmur3"`
	// FlowHash names the hasher mapping flow keys onto slots.
	FlowHash string `mapstructure:"flow_hash" default:"xxhash"`
	// MaxPermutationMemory bounds the memory held by permutations, 4 bytes per backend per slot.
	// Adding backends beyond it fails.
	MaxPermutationMemory bytesize.ByteSize `mapstructure:"max_permutation_memory" default:"1073741824"`

	offsetHasher hasher.Hasher
	skipHasher   hasher.Hasher
	flowHasher   hasher.Hasher
	registerer   prometheus.Registerer
	logger       zerolog.Logger
}

// permutationMemory is the memory taken by the permutations of n backends.
func (c *Config) permutationMemory(n int) bytesize.ByteSize {
	return bytesize.ByteSize(float64(n) * float64(c.Size) * 4)
}
