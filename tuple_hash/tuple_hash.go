// Package tuple_hash
// The 5-tuple of a packet refers to the source IP, source port,
// destination IP, destination port and IP protocol number.
// It is the flow key that pins a connection to a single backend.
package tuple_hash

import (
	"encoding/binary"
	"net"

	"maglev-hash/hasher"
)

// KeySize is the length of an encoded Tuple.
const KeySize = net.IPv6len*2 + 2 + 2 + 1

type Tuple struct {
	SrcIP   net.IP
	SrcPort uint16
	DstIP   net.IP
	DstPort uint16
	Proto   uint8
}

// Key encodes the tuple as: source IP, destination IP (16 bytes each, IPv4 in its
// IPv4-mapped form), source port, destination port (big endian) and protocol.
// A missing or malformed IP encodes as zeros.
func (t Tuple) Key() []byte {
	key := make([]byte, KeySize)
	copy(key[0:net.IPv6len], t.SrcIP.To16())
	copy(key[net.IPv6len:2*net.IPv6len], t.DstIP.To16())
	binary.BigEndian.PutUint16(key[2*net.IPv6len:], t.SrcPort)
	binary.BigEndian.PutUint16(key[2*net.IPv6len+2:], t.DstPort)
	key[KeySize-1] = t.Proto
	return key
}

// Hash returns the hash of the tuple's key under h.
func Hash(h hasher.Hasher, t Tuple) uint64 {
	return h.Sum64(t.Key())
}
