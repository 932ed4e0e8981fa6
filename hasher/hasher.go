// Package hasher provides the integer hash functions used to derive Maglev
// permutations and to map flow keys onto lookup table slots.
//
// All hashers are pure functions of their input and safe for concurrent use.
// None of them is meant to resist an adversary choosing keys.
package hasher

import (
	"fmt"
	"sort"
)

// Hasher maps arbitrary bytes to a well-distributed unsigned integer.
type Hasher interface {
	// Sum64 returns the hash of data. Implementations with a narrower range
	// document it; callers only rely on the value being well distributed.
	Sum64(data []byte) uint64
}

// Func adapts an ordinary function to a Hasher.
type Func func(data []byte) uint64

func (f Func) Sum64(data []byte) uint64 {
	return f(data)
}

const (
	BKDR    = "bkdr"
	Murmur3 = "murmur3"
	XXHash  = "xxhash"
	SipHash = "siphash"
	Farm    = "farm"
	FNV1a   = "fnv1a"
	CRC32   = "crc32"
)

var ErrUnknownHasher = fmt.Errorf("unknown hasher")

var registry = map[string]func() Hasher{
	BKDR:    func() Hasher { return NewBKDR() },
	Murmur3: func() Hasher { return NewMurmur3(0) },
	XXHash:  func() Hasher { return NewXXHash() },
	SipHash: func() Hasher { return NewSipHash(defaultSipKey0, defaultSipKey1) },
	Farm:    func() Hasher { return NewFarm() },
	FNV1a:   func() Hasher { return NewFNV1a() },
	CRC32:   func() Hasher { return NewCRC32() },
}

// ByName returns the built-in hasher registered under name.
func ByName(name string) (Hasher, error) {
	newHasher, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownHasher, name, Names())
	}
	return newHasher(), nil
}

// Names returns the names of all built-in hashers, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
