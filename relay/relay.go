// Package relay implements the Relay Engine Hook: the narrow
// interface a connection uses to forward a message it cannot complete
// locally to another connection managed by the same engine, without
// the writer or transport packages needing to know anything about
// routing, pooling, or how peers are addressed.
//
// Grounded on mpipcrelayengine.hpp's RelayEngine: onConnectionRegister
// (a weak, lookup-only registration between engine and connection),
// relay(ctx, msghdr, relaydata, relayid, is_last, error), and
// pollUpdates(ctx, connection).
package relay

import "context"

// Header carries the routing metadata the engine needs to decide
// where to forward a message — who sent it and where it should go —
// without inspecting the message's own serialized payload.
type Header struct {
	SourceConnectionID string
	TargetURL           string
}

// ID identifies one relayed message within the engine, returned by
// Relay on the first call for a message and passed back on subsequent
// calls for its later fragments.
type ID uint64

// Engine is the contract a connection depends on; it never depends on
// a concrete engine implementation, only this interface, so relay
// routing policy (a single process, a mesh, a broker-backed engine)
// can vary without touching transport or writer code.
type Engine interface {
	// Relay forwards one fragment of data for the message described by
	// header. last is true for the fragment that completes the
	// message. On the first call id is the zero value; the engine
	// returns the ID to use for subsequent fragments of the same
	// message.
	Relay(ctx context.Context, header Header, data []byte, id ID, last bool) (ID, error)
	// PollUpdates lets connectionID claim any relayed messages the
	// engine has queued for it since the last poll, via deliver.
	PollUpdates(ctx context.Context, connectionID string, deliver func(header Header, data []byte, last bool) error) error
}
