package codec

import "encoding/binary"

// Deserializer reads values back out of a fully-assembled message
// buffer. Unlike Serializer, it is not fed incrementally: the reading
// side of this module (transport.Reassembler) defragments a message's
// packet fragments into
// one contiguous buffer before decoding starts, so the Pull side never
// needs to suspend mid-primitive. This mirrors message.go's note that
// Pull exists for the out-of-scope reader path and for in-process
// round-trip tests, not for the writer's own hot path.
type Deserializer struct {
	limits Limits
	buf    []byte
	pos    int
	err    error
}

func NewDeserializer(buf []byte, limits Limits) *Deserializer {
	return &Deserializer{buf: buf, limits: limits}
}

func (d *Deserializer) fail(err error) error {
	if d.err == nil {
		d.err = err
	}
	return err
}

func (d *Deserializer) take(n int) ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.pos+n > len(d.buf) {
		return nil, d.fail(newErr(CrossValueTooSmall, "buffer exhausted"))
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Deserializer) PullUint8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Deserializer) PullBool() (bool, error) {
	v, err := d.PullUint8()
	return v != 0, err
}

func (d *Deserializer) PullUint16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Deserializer) PullUint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Deserializer) PullUint64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// PullUint64Cross reads a cross-encoded integer, the mirror of
// Serializer.PushUint64Cross.
func (d *Deserializer) PullUint64Cross() (uint64, error) {
	if d.err != nil {
		return 0, d.err
	}
	if d.pos >= len(d.buf) {
		return 0, d.fail(newErr(CrossValueTooSmall, "buffer exhausted"))
	}
	v, n, err := decodeCross(d.buf[d.pos:])
	if err != nil {
		return 0, d.fail(err)
	}
	d.pos += n
	return v, nil
}

func (d *Deserializer) PullUint32Cross() (uint32, error) {
	v, err := d.PullUint64Cross()
	return uint32(v), err
}

func (d *Deserializer) pullEnvelopeLength(kind Kind) (uint32, error) {
	packed, err := d.PullUint64Cross()
	if err != nil {
		return 0, err
	}
	n, ok := unwrapLength(packed)
	if !ok {
		return 0, d.fail(newErr(kind, "length envelope checksum mismatch"))
	}
	return n, nil
}

// PullBytes reads n raw bytes without any length envelope, for callers
// that already know the length out of band.
func (d *Deserializer) PullBytes(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// PullLengthPrefixedBytes reads a CRC-length-enveloped byte blob, as
// written by Serializer.PushBytes.
func (d *Deserializer) PullLengthPrefixedBytes() ([]byte, error) {
	n, err := d.pullEnvelopeLength(StringMaxLimit)
	if err != nil {
		return nil, err
	}
	if cerr := d.limits.checkString(n); cerr != nil {
		return nil, d.fail(cerr)
	}
	return d.PullBytes(int(n))
}

func (d *Deserializer) PullString() (string, error) {
	b, err := d.PullLengthPrefixedBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PullContainerHeader reads a CRC-length-enveloped element count, as
// written by Serializer.PushContainerHeader.
func (d *Deserializer) PullContainerHeader() (int, error) {
	n, err := d.pullEnvelopeLength(ContainerMaxLimit)
	if err != nil {
		return 0, err
	}
	if cerr := d.limits.checkContainer(n); cerr != nil {
		return 0, d.fail(cerr)
	}
	return int(n), nil
}

func (d *Deserializer) PullBitset() ([]bool, error) {
	n, err := d.PullContainerHeader()
	if err != nil {
		return nil, err
	}
	packed, err := d.PullBytes((n + 7) / 8)
	if err != nil {
		return nil, err
	}
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = packed[i/8]&(1<<uint(i%8)) != 0
	}
	return bits, nil
}

// PullStreamChunk reads one parity-protected stream chunk. done is
// true on the end-of-stream marker (chunk will be nil); an error is
// returned for a corrupt parity bit or an abort marker.
func (d *Deserializer) PullStreamChunk() (chunk []byte, done bool, err error) {
	raw, err := d.PullUint16()
	if err != nil {
		return nil, false, err
	}
	n, ok := unwrapStreamLen(raw)
	if !ok {
		if raw == streamAbort {
			return nil, false, d.fail(newErr(StreamRead, "peer aborted stream"))
		}
		return nil, false, d.fail(newErr(StreamChunkMaxLimit, "stream chunk parity mismatch"))
	}
	if n == 0 {
		return nil, true, nil
	}
	if cerr := d.limits.checkStreamChunk(uint32(n)); cerr != nil {
		return nil, false, d.fail(cerr)
	}
	b, err := d.PullBytes(int(n))
	if err != nil {
		return nil, false, err
	}
	return b, false, nil
}

// Remaining reports how many undecoded bytes are left in the buffer.
func (d *Deserializer) Remaining() int { return len(d.buf) - d.pos }
