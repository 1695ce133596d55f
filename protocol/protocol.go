// Package protocol implements the wire packet framer for the
// multiplexed RPC runtime.
//
// Every packet on the wire carries a fixed 4-byte header followed by a
// variable-length body holding one or more tagged elements. A body can
// pack several message fragments (interleaved from different
// in-flight messages) alongside control elements — cancel requests,
// ack counts, keep-alives — in a single packet, which is what lets the
// writer round-robin fairly between messages instead of dedicating one
// packet per message.
//
// Frame format:
//
//	0   1   2      4
//	┌───┬───┬──────┐
//	│typ│flg│bodyLn│  body...
//	│ 1 │ 1 │ u16   │
//	└───┴───┴──────┘
//
// Each element inside the body starts with its own type tag byte (the
// same PacketType enum as the header's Type field); the header's Type
// mirrors the first/only element's tag so single-element packets can
// be dispatched without parsing the body.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketType tags both the packet header and each element inside its
// body. Numeric values are assigned by this implementation; they do
// not need to match any external protocol's wire values.
type PacketType byte

const (
	NewMessage PacketType = iota
	OldMessage
	ContinuedMessage
	CancelMessage
	CancelRequest
	AckdCount
	KeepAlive
)

func (t PacketType) String() string {
	switch t &^ EndMessageFlag {
	case NewMessage:
		return "NewMessage"
	case OldMessage:
		return "OldMessage"
	case ContinuedMessage:
		return "ContinuedMessage"
	case CancelMessage:
		return "CancelMessage"
	case CancelRequest:
		return "CancelRequest"
	case AckdCount:
		return "AckdCount"
	case KeepAlive:
		return "KeepAlive"
	default:
		return fmt.Sprintf("PacketType(%d)", byte(t))
	}
}

// EndMessageFlag is bit-or'd into a body element's type tag to mark
// the fragment that completes its message — the element that carries
// the last bytes the serializer produced for that message's slot.
const EndMessageFlag PacketType = 0x80

// HeaderFlags bits, distinct from the per-element PacketType tags.
type HeaderFlags byte

const (
	Compressed HeaderFlags = 1 << iota
	AckRequest
)

func (f HeaderFlags) Has(flag HeaderFlags) bool { return f&flag != 0 }

// HeaderSize is the fixed header length: type byte, flags byte, u16
// body size.
const HeaderSize = 4

// MaxPacketDataSize bounds a single packet's body. At 64 KiB it is one
// more than the u16 body-size field can hold; the transport keeps
// bodies below it (packetBodyBudget).
const MaxPacketDataSize = 64 * 1024

// Header is the fixed-size packet header.
type Header struct {
	Type     PacketType
	Flags    HeaderFlags
	BodySize uint16
}

// WritePacket writes header and body as one frame. The caller (the
// transport's Pump write loop, after Writer.FillPacket) is
// responsible for ensuring len(body) ==
// int(header.BodySize) and len(body) <= MaxPacketDataSize.
func WritePacket(w io.Writer, h Header, body []byte) error {
	if len(body) > MaxPacketDataSize {
		return fmt.Errorf("protocol: body size %d exceeds MaxPacketDataSize", len(body))
	}
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Type)
	buf[1] = byte(h.Flags)
	binary.BigEndian.PutUint16(buf[2:4], h.BodySize)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// ReadPacket reads one frame from r.
func ReadPacket(r io.Reader) (Header, []byte, error) {
	hbuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hbuf); err != nil {
		return Header{}, nil, err
	}
	h := Header{
		Type:     PacketType(hbuf[0]),
		Flags:    HeaderFlags(hbuf[1]),
		BodySize: binary.BigEndian.Uint16(hbuf[2:4]),
	}
	body := make([]byte, h.BodySize)
	if h.BodySize > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Header{}, nil, err
		}
	}
	return h, body, nil
}

// Compressor is a body compression hook (WriterConfiguration.
// inplace_compress_fnc in the original design). Nothing in this module
// calls it: Writer.FillPacket, the Pump and the connection readers
// neither compress nor decompress bodies, and no code sets the
// Compressed header flag.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}
