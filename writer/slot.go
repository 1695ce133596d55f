package writer

import (
	"mprpc/codec"
	"mprpc/message"
)

// state is a slot's position in its lifecycle: Empty -> WriteStart ->
// WriteHead -> (freed, or kept waiting for a response), with a
// parallel RelayedStart -> RelayedBody track for messages arriving
// through the relay hook, plus Canceled which can be entered from any
// in-flight state. A message stays in WriteHead until its serializer
// drains; WriteBody and RelayedHead are declared but no code path
// enters them.
type state int

const (
	Empty state = iota
	WriteStart
	WriteHead
	WriteBody
	RelayedStart
	RelayedHead
	RelayedBody
	Canceled
)

func (s state) isRelayed() bool {
	return s == RelayedStart || s == RelayedHead || s == RelayedBody
}

func (s state) isActive() bool {
	return s != Empty && s != Canceled
}

// slot is one entry of the writer's fixed-capacity table. The same
// array backs three intrusive lists, threaded through the slot's own
// next/prev fields rather than through separate node allocations:
// orderList (newest-to-oldest, for VisitAll and CancelOldest),
// writeList (the fairness rotation over messages not yet fully sent),
// and the free list (nextFree), which reuses writeNext/writePrev's
// absence since a free slot is never linked into writeList.
type slot struct {
	state  state
	bundle message.Bundle
	unique uint32

	// poolID is the pool-level identifier the caller supplied to
	// Enqueue, opaque to the writer, handed back on Cancel and on the
	// Sender.CompleteMessage callback.
	poolID uint32

	typeIdx uint32
	ser     *codec.Serializer

	// relayPos tracks how much of bundle.RelayData has already been
	// copied onto the wire for a slot in one of the Relayed* states,
	// where the payload is pre-serialized bytes handed down by the
	// relay engine rather than something this slot's own serializer
	// produces.
	relayPos int

	headerSent  bool
	firstBody   bool
	continuous  int

	// inWriteList mirrors whether the slot is currently linked into
	// writeList — tracked explicitly (rather than inferred from
	// writeNext/writePrev, which are also nilIndex for a lone
	// single-element list) so Cancel can tell "still has bytes to
	// emit" apart from "done sending, parked awaiting a response".
	inWriteList bool
	// awaitingResponse marks a slot kept in orderList past DoneSend
	// because its bundle carries FlagWaitsResponse; counted against
	// Config.MaxMessageCountResponseWait until ResolveResponse or
	// Cancel releases it.
	awaitingResponse bool

	orderNext, orderPrev int
	writeNext, writePrev int
	nextFree             int
}

const nilIndex = -1
