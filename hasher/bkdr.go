package hasher

const bkdrSeed = 131

type bkdr struct{}

// NewBKDR returns the BKDR polynomial rolling hash (seed 131).
// The result is masked to 31 bits, so its range is [0, 2^31).
func NewBKDR() Hasher {
	return bkdr{}
}

func (bkdr) Sum64(data []byte) uint64 {
	var h uint64
	for _, c := range data {
		h = h*bkdrSeed + uint64(c)
	}
	return h & 0x7FFFFFFF
}
