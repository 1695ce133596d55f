// Package transport implements the client-side transport layer with multiplexing and heartbeat.
//
// ClientTransport drives one Pump (one writer.Writer) per TCP
// connection: Send enqueues a request message and registers a reply
// channel keyed by the request's ReplyKey, the pump's write loop is
// the only goroutine allowed to touch the writer, and recvLoop feeds
// every incoming packet body to a Reassembler and routes completed
// messages back to their waiting caller.
//
//	goroutine-1 ──Send(replyKey=1)──┐
//	goroutine-2 ──Send(replyKey=2)──┼──→ Pump ──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(replyKey=3)──┘
//
//	recvLoop:  ←── response(replyKey=2) → pending[2] chan ← response → goroutine-2 wakes up
package transport

import (
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"mprpc/codec"
	"mprpc/message"
	"mprpc/protocol"
	"mprpc/writer"
)

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn      net.Conn
	codecType codec.CodecType // retained for API compatibility; Send always marshals args as JSON regardless
	pump      *Pump
	reasm     *Reassembler

	pending  sync.Map // map[uint64]chan *message.RPCMessage, keyed by ReplyKey
	waiting  sync.Map // map[uint64]message.ID, the writer slot each ReplyKey is parked on awaiting a response
	replyKey uint64

	log *zap.Logger
}

// NewClientTransport creates a transport for the given connection and starts two background goroutines:
//   - recvLoop: continuously reads responses from the connection and dispatches to pending callers
//   - the pump's write loop: drains the writer and emits framed packets, including periodic keep-alives
func NewClientTransport(conn net.Conn, codecType codec.CodecType) *ClientTransport {
	registry := NewRPCRegistry()
	cfg := writer.DefaultConfig()
	log := zap.NewNop()

	t := &ClientTransport{
		conn:      conn,
		codecType: codecType,
		pump:      NewPump(conn, registry, cfg, log),
		reasm:     NewReassembler(registry),
		log:       log,
	}
	t.pump.Start(cfg.KeepAliveInterval)
	go t.recvLoop()
	return t
}

// Send serializes and sends an RPC request over the connection.
// Returns the request's writer slot index and a channel that will
// receive the response.
func (t *ClientTransport) Send(serviceMethod string, args any) (uint32, <-chan *message.RPCMessage, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return 0, nil, err
	}

	replyKey := atomic.AddUint64(&t.replyKey, 1)
	rpcMessage := message.RPCMessage{
		ServiceMethod: serviceMethod,
		Payload:       payload,
		ReplyKey:      replyKey,
	}

	respChan := make(chan *message.RPCMessage, 1)
	t.pending.Store(replyKey, respChan)

	id, err := t.pump.Enqueue(message.Bundle{Payload: rpcMessage, Flags: message.FlagWaitsResponse})
	if err != nil {
		t.pending.Delete(replyKey)
		return 0, nil, err
	}
	t.waiting.Store(replyKey, id)
	return id.Index, respChan, nil
}

// recvLoop runs in a dedicated goroutine, continuously reading packets
// from the connection, reassembling message fragments, and routing
// completed messages to the correct caller via ReplyKey.
func (t *ClientTransport) recvLoop() {
	defer t.closeAllPending()
	for {
		h, body, err := protocol.ReadPacket(t.conn)
		if err != nil {
			return
		}
		if h.Type == protocol.KeepAlive {
			continue
		}
		t.reasm.Feed(body, t.dispatch)
	}
}

func (t *ClientTransport) dispatch(msg message.RPCMessage) {
	if id, ok := t.waiting.LoadAndDelete(msg.ReplyKey); ok {
		t.pump.ResolveResponse(id.(message.ID))
	}
	if ch, ok := t.pending.LoadAndDelete(msg.ReplyKey); ok {
		ch.(chan *message.RPCMessage) <- &msg
	}
}

// closeAllPending is called when the connection breaks. It sends an
// error response to every pending caller so Send callers don't block
// forever waiting for a response that will never arrive.
func (t *ClientTransport) closeAllPending() {
	t.pump.Close()
	t.pending.Range(func(key, value any) bool {
		value.(chan *message.RPCMessage) <- &message.RPCMessage{Error: "transport: connection closed"}
		t.pending.Delete(key)
		return true
	})
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}
