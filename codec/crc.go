package codec

import (
	"encoding/binary"
	"hash/crc32"
)

// wrapLength packs a 32-bit length together with an 8-bit checksum of
// its little-endian byte representation into a single u64, which the
// caller then cross-encodes. unwrapLength is the matching validator:
// a checksum mismatch is always a MaxLimit-class integrity failure —
// a sentinel bit pattern derived from the length that the reader
// validates on decode. The checksum uses hash/crc32, the same package
// this module's consistent-hash balancer already imports for ring
// hashing.
func wrapLength(n uint32) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	sum := byte(crc32.ChecksumIEEE(b[:]))
	return uint64(n) | uint64(sum)<<32
}

func unwrapLength(packed uint64) (uint32, bool) {
	n := uint32(packed)
	sum := byte(packed >> 32)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	return n, byte(crc32.ChecksumIEEE(b[:])) == sum
}

// Stream chunk length wire format: a 16-bit field where bit 15 carries
// the parity of the low 15 bits. 0x0000 marks end-of-stream (length
// zero, even parity, no data). 0xFFFF marks abort. Because a real
// chunk length of 0x7FFF paired with its own odd parity bit would also
// encode to 0xFFFF, 0x7FFF is never used as a real length — the
// largest real chunk is 0x7FFE — which keeps 0xFFFF unambiguous as the
// abort sentinel.
const maxStreamChunkLen = 0x7FFE

func wrapStreamLen(n uint16) uint16 {
	if n == 0 {
		return 0
	}
	p := parityBit15(n)
	return n | p
}

func unwrapStreamLen(w uint16) (n uint16, ok bool) {
	if w == 0 {
		return 0, true
	}
	if w == 0xFFFF {
		return 0, false
	}
	low := w &^ 0x8000
	if parityBit15(low) != w&0x8000 {
		return 0, false
	}
	return low, true
}

func parityBit15(low15 uint16) uint16 {
	v := low15 &^ 0x8000
	var p uint16
	for v != 0 {
		p ^= v & 1
		v >>= 1
	}
	return p << 15
}

// streamAbort is the 0xFFFF sentinel written when a stream read fails
// mid-transfer; the reader must treat it as StreamRead failure.
const streamAbort uint16 = 0xFFFF
