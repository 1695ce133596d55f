package codec

import (
	"errors"

	"mprpc/message"
)

// BinaryCodec encodes an *RPCMessage as three CRC-enveloped byte blobs
// (ServiceMethod, Payload, Error) through the resumable Serializer/
// Deserializer pair, rather than ad-hoc fixed-width length prefixes.
// This gives the application envelope the same integrity checking
// (length checksum) as every other string on the wire, instead of a
// separate one-off format.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *RPCMessage")
	}

	s := NewSerializer(DefaultLimits())
	if err := s.PushString(msg.ServiceMethod); err != nil {
		return nil, err
	}
	if err := s.PushBytes(msg.Payload); err != nil {
		return nil, err
	}
	if err := s.PushString(msg.Error); err != nil {
		return nil, err
	}

	out := make([]byte, 0, s.Pending())
	buf := make([]byte, 4096)
	for !s.Done() {
		n, err := s.Run(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, buf[:n]...)
		if n == 0 {
			break
		}
	}
	return out, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errors.New("BinaryCodec: v must be *RPCMessage")
	}

	d := NewDeserializer(data, DefaultLimits())
	sm, err := d.PullString()
	if err != nil {
		return err
	}
	payload, err := d.PullLengthPrefixedBytes()
	if err != nil {
		return err
	}
	errStr, err := d.PullString()
	if err != nil {
		return err
	}

	msg.ServiceMethod = sm
	msg.Payload = payload
	msg.Error = errStr
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
