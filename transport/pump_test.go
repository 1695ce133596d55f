package transport

import (
	"net"
	"testing"
	"time"

	"mprpc/message"
	"mprpc/protocol"
	"mprpc/writer"
)

// TestPumpEmitsKeepAliveWhenIdle checks that with nothing enqueued,
// the write loop emits a bare KeepAlive packet once per
// KeepAliveInterval and nothing else.
func TestPumpEmitsKeepAliveWhenIdle(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	registry := NewRPCRegistry()
	cfg := writer.DefaultConfig()
	p := NewPump(serverConn, registry, cfg, nil)
	p.Start(30 * time.Millisecond)
	defer p.Close()

	h, body, err := protocol.ReadPacket(clientConn)
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if h.Type != protocol.KeepAlive {
		t.Fatalf("expected a KeepAlive packet, got %v", h.Type)
	}
	if len(body) != 0 {
		t.Fatalf("expected an empty KeepAlive body, got %d bytes", len(body))
	}
}

// TestPumpEnqueueProducesFragmentBeforeKeepAlive confirms a pending
// message is drained ahead of an idle keep-alive tick.
func TestPumpEnqueueProducesFragmentBeforeKeepAlive(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	registry := NewRPCRegistry()
	cfg := writer.DefaultConfig()
	p := NewPump(serverConn, registry, cfg, nil)
	p.Start(time.Hour) // keep-alive disabled in practice for this test

	if _, err := p.Enqueue(message.Bundle{Payload: message.RPCMessage{ServiceMethod: "Svc.Method"}}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	defer p.Close()

	h, _, err := protocol.ReadPacket(clientConn)
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if h.Type&^protocol.EndMessageFlag != protocol.NewMessage {
		t.Fatalf("expected a NewMessage fragment, got %v", h.Type)
	}
}
