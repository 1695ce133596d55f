package codec

import (
	"encoding/binary"
	"io"
)

// rawTask copies a precomputed byte slice into the destination buffer
// across as many Run calls as needed, resuming from pos each time. It
// is the only task shape Serializer needs: every Push method already
// holds its value fully in memory, so encoding happens eagerly at
// Push-time; only the copy into the caller's destination buffer is
// genuinely resumable, which is exactly the property the writer's
// packet-filling loop depends on (never stall mid-primitive when more
// buffer is available; pause cleanly and resume next call otherwise).
type rawTask struct {
	data []byte
	pos  int
}

func (t *rawTask) run(dst []byte) (int, bool) {
	n := copy(dst, t.data[t.pos:])
	t.pos += n
	return n, t.pos == len(t.data)
}

// Serializer is a resumable byte producer: application code calls the
// Push* methods to queue values (in the order they must appear on the
// wire), then Run repeatedly with whatever destination buffer space is
// available until it returns (0, nil) with Done() true.
type Serializer struct {
	limits Limits
	queue  []*rawTask
	err    error
}

func NewSerializer(limits Limits) *Serializer {
	return &Serializer{limits: limits}
}

func (s *Serializer) push(b []byte) {
	s.queue = append(s.queue, &rawTask{data: b})
}

// Run copies queued bytes into dst, resuming across calls. It returns
// the number of bytes written and stops early (without error) when dst
// is full and more data remains queued.
func (s *Serializer) Run(dst []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	written := 0
	for len(s.queue) > 0 && written < len(dst) {
		top := s.queue[0]
		n, done := top.run(dst[written:])
		written += n
		if !done {
			break
		}
		s.queue = s.queue[1:]
	}
	return written, nil
}

// Done reports whether every queued value has been fully copied out
// via Run.
func (s *Serializer) Done() bool { return len(s.queue) == 0 }

// Pending returns the number of bytes still queued for output.
func (s *Serializer) Pending() int {
	n := 0
	for _, t := range s.queue {
		n += len(t.data) - t.pos
	}
	return n
}

func (s *Serializer) PushUint8(v uint8) error {
	s.push([]byte{v})
	return nil
}

func (s *Serializer) PushBool(v bool) error {
	if v {
		return s.PushUint8(1)
	}
	return s.PushUint8(0)
}

func (s *Serializer) PushUint16(v uint16) error {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	s.push(b)
	return nil
}

func (s *Serializer) PushUint32(v uint32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	s.push(b)
	return nil
}

func (s *Serializer) PushUint64(v uint64) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	s.push(b)
	return nil
}

// PushUint64Cross pushes v cross-encoded: one leading size byte
// followed by exactly that many little-endian payload bytes.
func (s *Serializer) PushUint64Cross(v uint64) error {
	s.push(encodeCross(v))
	return nil
}

func (s *Serializer) PushUint32Cross(v uint32) error {
	return s.PushUint64Cross(uint64(v))
}

// PushBytes pushes a length-and-checksum-wrapped byte blob: a
// cross-encoded CRC length envelope followed by the raw bytes. Used
// both directly and as the building block for PushString.
func (s *Serializer) PushBytes(v []byte) error {
	if err := s.limits.checkString(uint32(len(v))); err != nil {
		return err
	}
	s.push(encodeCross(wrapLength(uint32(len(v)))))
	s.push(append([]byte(nil), v...))
	return nil
}

func (s *Serializer) PushString(v string) error {
	return s.PushBytes([]byte(v))
}

// PushContainerHeader pushes a length-and-checksum-wrapped element
// count. Callers then Push each element themselves, in order; the
// engine does not need to know the element type to frame a container,
// matching the source's separation of container iteration from
// per-element serialization.
func (s *Serializer) PushContainerHeader(n int) error {
	if err := s.limits.checkContainer(uint32(n)); err != nil {
		return err
	}
	s.push(encodeCross(wrapLength(uint32(n))))
	return nil
}

// PushBitset pushes a length-and-checksum-wrapped bitset, packed 8
// bits per byte, least-significant bit first.
func (s *Serializer) PushBitset(bits []bool) error {
	if err := s.limits.checkContainer(uint32(len(bits))); err != nil {
		return err
	}
	s.push(encodeCross(wrapLength(uint32(len(bits)))))
	packed := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	s.push(packed)
	return nil
}

// PushStream frames r's contents as a sequence of parity-protected
// chunks, each with a 16-bit length carrying a parity bit, terminated
// by the 0x0000 end marker, or by the 0xFFFF abort marker if reading r
// fails partway through.
//
// The engine reads r eagerly at Push time (the same eager-encode,
// resumable-copy split every other Push method uses) rather than
// pulling one chunk per Run call; a fully lazy variant would defer
// each chunk's Read to the moment Run needs more bytes, which matters
// only for very large streams paired with a very small per-call
// destination buffer.
func (s *Serializer) PushStream(r io.Reader, chunkSize int) error {
	if chunkSize <= 0 || chunkSize > maxStreamChunkLen {
		chunkSize = maxStreamChunkLen
	}
	buf := make([]byte, chunkSize)
	var total uint64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += uint64(n)
			if cerr := s.limits.checkStreamTotal(total); cerr != nil {
				return cerr
			}
			if cerr := s.limits.checkStreamChunk(uint32(n)); cerr != nil {
				return cerr
			}
			hdr := make([]byte, 2)
			binary.LittleEndian.PutUint16(hdr, wrapStreamLen(uint16(n)))
			s.push(hdr)
			s.push(append([]byte(nil), buf[:n]...))
		}
		if err == io.EOF {
			hdr := make([]byte, 2)
			binary.LittleEndian.PutUint16(hdr, 0)
			s.push(hdr)
			return nil
		}
		if err != nil {
			hdr := make([]byte, 2)
			binary.LittleEndian.PutUint16(hdr, streamAbort)
			s.push(hdr)
			return newErr(StreamRead, err.Error())
		}
	}
}
