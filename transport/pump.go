package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"mprpc/message"
	"mprpc/protocol"
	"mprpc/relay"
	"mprpc/writer"
)

// relayPollTimeout bounds a single PollUpdates call on the keep-alive
// tick so a stuck relay engine can't wedge the write loop.
const relayPollTimeout = 2 * time.Second

// packetBodyBudget leaves room for the fragment element's own tag and
// cross-encoded slot id fields inside one MaxPacketDataSize packet.
const packetBodyBudget = protocol.MaxPacketDataSize - 32

type enqueueRequest struct {
	bundle message.Bundle
	poolID uint32
	result chan enqueueResult
}

type enqueueResult struct {
	id  message.ID
	err error
}

type resolveRequest struct {
	id   message.ID
	done chan struct{}
}

// Pump owns the single goroutine allowed to drive a writer.Writer for
// one connection's outgoing side. Both ClientTransport and the
// server's per-connection handler embed one: Enqueue is safe to call
// from any goroutine, but all of Prepare/Enqueue/Write on the
// underlying writer happen on Pump's own writeLoop goroutine, per the
// writer's single-threaded-per-connection contract.
type Pump struct {
	conn      net.Conn
	w         *writer.Writer
	enqueueCh chan enqueueRequest
	resolveCh chan resolveRequest
	closeCh   chan struct{}
	closeOnce sync.Once
	log       *zap.Logger

	onComplete  func(bundle message.Bundle, poolID uint32) error
	relayEngine relay.Engine
	connID      string
}

// NewPump builds a pump bound to conn and registry, with cfg tuning
// the underlying writer. Call Start to launch its write loop. The pump
// itself implements writer.Sender, so the writer's CompleteMessage and
// ReleaseRelayBuffer callbacks land back on the pump that owns it.
func NewPump(conn net.Conn, registry *message.TypeRegistry, cfg writer.Config, log *zap.Logger) *Pump {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pump{
		conn:      conn,
		enqueueCh: make(chan enqueueRequest),
		resolveCh: make(chan resolveRequest),
		closeCh:   make(chan struct{}),
		log:       log,
	}
	p.w = writer.New(cfg, registry, p)
	return p
}

// SetCompleteHandler installs fn as the hook invoked whenever the
// writer finishes sending a non-waits-response message; fn receives
// the bundle and the pool id it was enqueued with. A nil handler (the
// default) makes CompleteMessage a no-op.
func (p *Pump) SetCompleteHandler(fn func(bundle message.Bundle, poolID uint32) error) {
	p.onComplete = fn
}

// SetRelay registers this pump's connection with engine under connID,
// so the write loop polls it for relayed messages to forward. Call
// before Start.
func (p *Pump) SetRelay(engine relay.Engine, connID string) {
	p.relayEngine = engine
	p.connID = connID
}

// CompleteMessage implements writer.Sender.
func (p *Pump) CompleteMessage(bundle message.Bundle, poolID uint32) error {
	if p.onComplete == nil {
		return nil
	}
	return p.onComplete(bundle, poolID)
}

// ReleaseRelayBuffer implements writer.Sender. This transport has no
// literal borrowed buffer object to hand back — a relayed bundle is
// pre-enqueued whole from a PollUpdates delivery rather than lent for
// exactly one FillPacket call — so there is nothing to do beyond
// acknowledging the writer is done with relay data for this packet.
func (p *Pump) ReleaseRelayBuffer() {}

// Start launches the write loop in its own goroutine. Call exactly once.
func (p *Pump) Start(keepAlive time.Duration) {
	go p.writeLoop(keepAlive)
}

// Enqueue prepares and commits bundle on the writer, blocking until the
// write loop has accepted or rejected it (not until bytes hit the wire).
// The pool id defaults to zero; use EnqueueWithPool to set one.
func (p *Pump) Enqueue(bundle message.Bundle) (message.ID, error) {
	return p.EnqueueWithPool(bundle, 0)
}

// EnqueueWithPool is Enqueue with an explicit pool-level identifier,
// threaded opaquely through to the eventual Sender.CompleteMessage
// callback (or returned by a later Cancel).
func (p *Pump) EnqueueWithPool(bundle message.Bundle, poolID uint32) (message.ID, error) {
	req := enqueueRequest{bundle: bundle, poolID: poolID, result: make(chan enqueueResult, 1)}
	select {
	case p.enqueueCh <- req:
	case <-p.closeCh:
		return message.Invalid, fmt.Errorf("transport: connection closed")
	}
	res := <-req.result
	return res.id, res.err
}

// ResolveResponse tells the write loop that id's FlagWaitsResponse
// slot can be released — the connection layer has matched an incoming
// response packet to it. Blocks until the write loop has processed the
// request or the pump closes; safe to call from any goroutine.
func (p *Pump) ResolveResponse(id message.ID) {
	req := resolveRequest{id: id, done: make(chan struct{})}
	select {
	case p.resolveCh <- req:
	case <-p.closeCh:
		return
	}
	select {
	case <-req.done:
	case <-p.closeCh:
	}
}

// Closed returns a channel that closes once the pump has shut down,
// either because the writer failed or the connection broke.
func (p *Pump) Closed() <-chan struct{} { return p.closeCh }

// Close signals the write loop to stop. Safe to call more than once
// and from any goroutine.
func (p *Pump) Close() {
	p.closeOnce.Do(func() { close(p.closeCh) })
}

func (p *Pump) writeLoop(keepAlive time.Duration) {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		body, headerType, flags, ok, err := p.w.FillPacket(packetBodyBudget)
		if err != nil {
			p.log.Warn("writer failed, closing connection", zap.Error(err))
			p.Close()
			return
		}
		if !ok {
			select {
			case req := <-p.enqueueCh:
				p.handleEnqueue(req)
			case req := <-p.resolveCh:
				p.w.ResolveResponse(req.id)
				close(req.done)
			case <-ticker.C:
				p.pollRelay()
				if err := p.writeKeepAlive(); err != nil {
					p.Close()
					return
				}
			case <-p.closeCh:
				return
			}
			continue
		}

		h := protocol.Header{Type: headerType, Flags: flags, BodySize: uint16(len(body))}
		if err := protocol.WritePacket(p.conn, h, body); err != nil {
			p.Close()
			return
		}

		// Give a caller blocked on Enqueue/ResolveResponse a chance to get
		// in between packets instead of only when the writer goes idle.
		select {
		case req := <-p.enqueueCh:
			p.handleEnqueue(req)
		case req := <-p.resolveCh:
			p.w.ResolveResponse(req.id)
			close(req.done)
		default:
		}
	}
}

func (p *Pump) handleEnqueue(req enqueueRequest) {
	id, err := p.w.Prepare()
	if err == nil {
		err = p.w.Enqueue(id, req.bundle, req.poolID)
	}
	req.result <- enqueueResult{id: id, err: err}
}

// pollRelay asks the registered relay engine (if any) for messages it
// wants this connection to forward, enqueuing each as a whole
// FlagRelayed bundle and bumping the ack counter FillPacket later
// drains into an AckdCount element — one relay delivery polled is one
// relay packet being acknowledged.
func (p *Pump) pollRelay() {
	if p.relayEngine == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayPollTimeout)
	defer cancel()
	err := p.relayEngine.PollUpdates(ctx, p.connID, func(header relay.Header, data []byte, last bool) error {
		id, err := p.w.Prepare()
		if err != nil {
			return err
		}
		if err := p.w.Enqueue(id, message.Bundle{
			Flags:     message.FlagRelayed,
			URL:       header.TargetURL,
			RelayData: data,
		}, 0); err != nil {
			return err
		}
		p.w.AddAckdCount(1)
		return nil
	})
	if err != nil {
		p.log.Warn("relay poll failed", zap.Error(err))
	}
}

// RelayInbound hands data off to the registered relay engine for
// forwarding toward header's target, returning the relay id to pass
// back on the next fragment of the same logical message (zero on the
// first call). The connection readers in this module (the server's
// per-connection loop and ClientTransport's receive loop) do not call
// it; it is available to a reader that routes fragments to the relay
// engine.
func (p *Pump) RelayInbound(ctx context.Context, header relay.Header, data []byte, id relay.ID, last bool) (relay.ID, error) {
	if p.relayEngine == nil {
		return 0, fmt.Errorf("transport: no relay engine registered")
	}
	return p.relayEngine.Relay(ctx, header, data, id, last)
}

func (p *Pump) writeKeepAlive() error {
	return protocol.WritePacket(p.conn, protocol.Header{Type: protocol.KeepAlive}, nil)
}
