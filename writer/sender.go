package writer

import "mprpc/message"

// Sender is the per-connection collaborator the writer notifies about
// events it has no business handling itself: a message finishing its
// trip onto the wire, and a lent relay buffer becoming free again. A
// connection (transport.Pump in this module) implements it and hands
// itself to New.
type Sender interface {
	// CompleteMessage is invoked once a slot's bytes are fully off the
	// wire and its bundle does not carry FlagWaitsResponse, in the
	// order slots complete. poolID is whatever the caller passed to
	// Enqueue for that slot; the writer never interprets it.
	CompleteMessage(bundle message.Bundle, poolID uint32) error
	// ReleaseRelayBuffer returns ownership of the relay buffer lent for
	// one FillPacket call. Called at the end of each FillPacket call
	// that has something to send while the writer's relay gate is
	// open, whether or not a relayed fragment actually made it into
	// that packet; a call that returns early with nothing pending (or
	// no budget) does not call it.
	ReleaseRelayBuffer()
}
