package protocol

import (
	"encoding/binary"
	"fmt"

	"mprpc/codec"
)

// MessageFragment is one body element carrying a contiguous run of
// serialized bytes for a single message slot. Multiple fragments for
// the same message may be spread across several packets; the last one
// has its Tag's EndMessageFlag bit set.
type MessageFragment struct {
	Tag        PacketType // NewMessage/OldMessage/ContinuedMessage, possibly | EndMessageFlag
	SlotIndex  uint32
	SlotUnique uint32
	Data       []byte
}

// EncodeFragment appends the wire form of f to dst and returns the
// extended slice: tag byte, cross(slotIndex), cross(slotUnique),
// u16(len(Data)), Data.
func EncodeFragment(dst []byte, f MessageFragment) []byte {
	dst = append(dst, byte(f.Tag))
	s := codec.NewSerializer(codec.DefaultLimits())
	_ = s.PushUint32Cross(f.SlotIndex)
	_ = s.PushUint32Cross(f.SlotUnique)
	buf := make([]byte, s.Pending())
	n, _ := s.Run(buf)
	dst = append(dst, buf[:n]...)

	var sz [2]byte
	binary.BigEndian.PutUint16(sz[:], uint16(len(f.Data)))
	dst = append(dst, sz[:]...)
	dst = append(dst, f.Data...)
	return dst
}

// DecodeFragment reads one fragment element from the front of src,
// returning the fragment and the number of bytes consumed.
func DecodeFragment(src []byte) (MessageFragment, int, error) {
	if len(src) < 1 {
		return MessageFragment{}, 0, fmt.Errorf("protocol: empty fragment element")
	}
	tag := PacketType(src[0])
	d := codec.NewDeserializer(src[1:], codec.DefaultLimits())
	slotIndex, err := d.PullUint32Cross()
	if err != nil {
		return MessageFragment{}, 0, err
	}
	slotUnique, err := d.PullUint32Cross()
	if err != nil {
		return MessageFragment{}, 0, err
	}
	consumed := 1 + (len(src[1:]) - d.Remaining())
	if len(src)-consumed < 2 {
		return MessageFragment{}, 0, fmt.Errorf("protocol: truncated fragment length")
	}
	size := binary.BigEndian.Uint16(src[consumed : consumed+2])
	consumed += 2
	if len(src)-consumed < int(size) {
		return MessageFragment{}, 0, fmt.Errorf("protocol: truncated fragment data")
	}
	data := src[consumed : consumed+int(size)]
	consumed += int(size)
	return MessageFragment{Tag: tag, SlotIndex: slotIndex, SlotUnique: slotUnique, Data: data}, consumed, nil
}

// CancelElement requests cancellation of a message the peer sent,
// identified by the slot id the peer used when it sent it.
type CancelElement struct {
	RemoteSlotIndex  uint32
	RemoteSlotUnique uint32
}

func EncodeCancel(dst []byte, c CancelElement) []byte {
	dst = append(dst, byte(CancelRequest))
	s := codec.NewSerializer(codec.DefaultLimits())
	_ = s.PushUint32Cross(c.RemoteSlotIndex)
	_ = s.PushUint32Cross(c.RemoteSlotUnique)
	buf := make([]byte, s.Pending())
	n, _ := s.Run(buf)
	return append(dst, buf[:n]...)
}

func DecodeCancel(src []byte) (CancelElement, int, error) {
	if len(src) < 1 || PacketType(src[0]) != CancelRequest {
		return CancelElement{}, 0, fmt.Errorf("protocol: not a cancel element")
	}
	d := codec.NewDeserializer(src[1:], codec.DefaultLimits())
	idx, err := d.PullUint32Cross()
	if err != nil {
		return CancelElement{}, 0, err
	}
	uniq, err := d.PullUint32Cross()
	if err != nil {
		return CancelElement{}, 0, err
	}
	consumed := 1 + (len(src[1:]) - d.Remaining())
	return CancelElement{RemoteSlotIndex: idx, RemoteSlotUnique: uniq}, consumed, nil
}

// EncodeAckdCount appends an ackd-count element: tag byte + one count byte.
func EncodeAckdCount(dst []byte, count byte) []byte {
	return append(dst, byte(AckdCount), count)
}

// EncodeKeepAlive appends an empty keep-alive element: tag byte only.
func EncodeKeepAlive(dst []byte) []byte {
	return append(dst, byte(KeepAlive))
}
