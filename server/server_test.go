package server

import (
	"encoding/json"
	"mprpc/codec"
	"mprpc/message"
	"mprpc/protocol"
	"net"
	"testing"
	"time"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

// writeRequest hand-assembles one complete request message onto conn, at
// the packet/fragment level, bypassing writer.Writer entirely — this
// test plays the role of a minimal client to exercise the server's
// reassembly and dispatch path directly.
func writeRequest(conn net.Conn, msg message.RPCMessage, slotIndex, slotUnique uint32) error {
	ser := codec.NewSerializer(codec.DefaultLimits())
	if err := ser.PushUint32Cross(0); err != nil { // RPCMessage is the only, index-0, registered type
		return err
	}
	if err := ser.PushUint16(0); err != nil { // flags, unused on this path
		return err
	}
	if err := message.PushRPCMessage(ser, msg); err != nil {
		return err
	}

	buf := make([]byte, 4096)
	n, err := ser.Run(buf)
	if err != nil {
		return err
	}

	body := protocol.EncodeFragment(nil, protocol.MessageFragment{
		Tag:        protocol.NewMessage | protocol.EndMessageFlag,
		SlotIndex:  slotIndex,
		SlotUnique: slotUnique,
		Data:       buf[:n],
	})
	h := protocol.Header{Type: protocol.NewMessage, BodySize: uint16(len(body))}
	return protocol.WritePacket(conn, h, body)
}

// readResponse reads one packet and decodes its single message fragment
// back into an RPCMessage.
func readResponse(conn net.Conn) (message.RPCMessage, error) {
	_, body, err := protocol.ReadPacket(conn)
	if err != nil {
		return message.RPCMessage{}, err
	}
	frag, _, err := protocol.DecodeFragment(body)
	if err != nil {
		return message.RPCMessage{}, err
	}
	d := codec.NewDeserializer(frag.Data, codec.DefaultLimits())
	if _, err := d.PullUint32Cross(); err != nil { // type index
		return message.RPCMessage{}, err
	}
	if _, err := d.PullUint16(); err != nil { // flags
		return message.RPCMessage{}, err
	}
	payload, err := message.PullRPCMessage(d)
	if err != nil {
		return message.RPCMessage{}, err
	}
	return payload.(message.RPCMessage), nil
}

func TestServer(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatalf("failed to register method: %v", err)
	}
	go svr.Serve("tcp", ":8888", "", nil)
	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", ":8888")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	payload, err := json.Marshal(&Args{A: 1, B: 2})
	if err != nil {
		t.Fatal(err)
	}

	req := message.RPCMessage{ServiceMethod: "Arith.Add", Payload: payload, ReplyKey: 42}
	if err := writeRequest(conn, req, 1, 1); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}

	resp, err := readResponse(conn)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("server returned error: %s", resp.Error)
	}
	if resp.ReplyKey != req.ReplyKey {
		t.Fatalf("expected ReplyKey %d echoed back, got %d", req.ReplyKey, resp.ReplyKey)
	}

	var reply Reply
	if err := json.Unmarshal(resp.Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 3 {
		t.Fatalf("expected result 3, got %d", reply.Result)
	}
}

func TestServerUnknownMethod(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", ":8889", "", nil)
	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", ":8889")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	req := message.RPCMessage{ServiceMethod: "Arith.Multiply", Payload: []byte("{}"), ReplyKey: 7}
	if err := writeRequest(conn, req, 1, 1); err != nil {
		t.Fatal(err)
	}

	resp, err := readResponse(conn)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == "" {
		t.Fatal("expected an error for an unregistered method")
	}
	if resp.ReplyKey != req.ReplyKey {
		t.Fatalf("expected ReplyKey %d echoed back even on error, got %d", req.ReplyKey, resp.ReplyKey)
	}
}
