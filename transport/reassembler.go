package transport

import (
	"mprpc/codec"
	"mprpc/message"
	"mprpc/protocol"
)

// Reassembler defragments the tagged elements of a connection's
// incoming packet bodies into complete RPCMessage values, one
// assembling buffer per remote slot index. It is not safe for
// concurrent use — a connection has exactly one reader goroutine.
type Reassembler struct {
	registry   *message.TypeRegistry
	assembling map[uint32][]byte
}

// NewReassembler builds a reassembler that decodes payloads registered
// in registry.
func NewReassembler(registry *message.TypeRegistry) *Reassembler {
	return &Reassembler{registry: registry, assembling: make(map[uint32][]byte)}
}

// Feed processes one packet body, invoking onMessage for every
// RPCMessage the body completes (possibly several, since the peer's
// writer can pack more than one message into a single packet).
// Malformed elements stop processing of the remaining body silently;
// the connection-level caller is expected to tear down the connection
// on any error from the packet reader itself.
func (r *Reassembler) Feed(body []byte, onMessage func(msg message.RPCMessage)) {
	offset := 0
	for offset < len(body) {
		tag := protocol.PacketType(body[offset]) &^ protocol.EndMessageFlag
		switch tag {
		case protocol.NewMessage, protocol.OldMessage, protocol.ContinuedMessage:
			frag, n, err := protocol.DecodeFragment(body[offset:])
			if err != nil {
				return
			}
			offset += n
			r.assembling[frag.SlotIndex] = append(r.assembling[frag.SlotIndex], frag.Data...)
			if frag.Tag&protocol.EndMessageFlag != 0 {
				full := r.assembling[frag.SlotIndex]
				delete(r.assembling, frag.SlotIndex)
				if msg, ok := r.decode(full); ok {
					onMessage(msg)
				}
			}
		case protocol.CancelMessage:
			frag, n, err := protocol.DecodeFragment(body[offset:])
			if err != nil {
				return
			}
			offset += n
			delete(r.assembling, frag.SlotIndex)
		case protocol.CancelRequest:
			_, n, err := protocol.DecodeCancel(body[offset:])
			if err != nil {
				return
			}
			offset += n
		case protocol.AckdCount:
			offset += 2
		case protocol.KeepAlive:
			offset++
		default:
			return
		}
	}
}

func (r *Reassembler) decode(buf []byte) (message.RPCMessage, bool) {
	d := codec.NewDeserializer(buf, codec.DefaultLimits())
	typeIdx, err := d.PullUint32Cross()
	if err != nil {
		return message.RPCMessage{}, false
	}
	if _, err := d.PullUint16(); err != nil { // flags, not interpreted above the writer
		return message.RPCMessage{}, false
	}
	stub, ok := r.registry.Stub(typeIdx)
	if !ok || stub.Pull == nil {
		return message.RPCMessage{}, false
	}
	payload, err := stub.Pull(d)
	if err != nil {
		return message.RPCMessage{}, false
	}
	msg, ok := payload.(message.RPCMessage)
	return msg, ok
}

// NewRPCRegistry builds a TypeRegistry with RPCMessage registered
// under its conventional index 0 — the only payload type this module's
// writer ever carries.
func NewRPCRegistry() *message.TypeRegistry {
	reg := message.NewTypeRegistry(64)
	reg.Register(message.RPCMessage{}, message.PushRPCMessage, message.PullRPCMessage, nil)
	return reg
}
