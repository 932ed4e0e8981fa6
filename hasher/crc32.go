package hasher

import "hash/crc32"

type crc32Hasher struct{}

// NewCRC32 returns the IEEE CRC32 checksum widened to 64 bits; its range is [0, 2^32).
func NewCRC32() Hasher {
	return crc32Hasher{}
}

func (crc32Hasher) Sum64(data []byte) uint64 {
	return uint64(crc32.ChecksumIEEE(data))
}
