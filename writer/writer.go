// Package writer implements the multiplexed message writer: the
// component that decides, call after call, which in-flight message's
// bytes go into the next packet. It holds no internal locks and must
// never be called re-entrantly — exactly one goroutine per connection
// is expected to drive it, matching the single-threaded-per-connection
// concurrency model the rest of this module assumes.
package writer

import (
	"mprpc/codec"
	"mprpc/message"
	"mprpc/protocol"
)

// Writer multiplexes many in-flight messages onto one connection's
// outgoing byte stream, fragment by fragment, fairly rotating between
// them so no single large message starves the others.
type Writer struct {
	cfg      Config
	registry *message.TypeRegistry
	limits   codec.Limits

	slots []slot

	orderHead, orderTail int
	writeHead, writeTail int
	writeCursor          int
	freeHead             int
	freeCount            int

	stamp       message.Counter
	currentSync int

	// responseWaiting counts slots currently parked with
	// awaitingResponse set — the order_list-minus-write_list quantity
	// bounded by MaxMessageCountResponseWait.
	responseWaiting int

	sender Sender

	// ackdCount is the connection-level non-persistent ack counter:
	// how many relay packets have been acknowledged since the last
	// AckdCount element went out. FillPacket drains and resets it.
	ackdCount byte
	// cancelEchoes is the connection-level queue of peer request ids
	// whose cancellation must be echoed back as CancelRequest elements.
	cancelEchoes []protocol.CancelElement
}

// New builds a writer with cfg.MaxMessageCount slots, all initially
// free. sender receives CompleteMessage/ReleaseRelayBuffer callbacks;
// nil is fine for tests that don't care about either.
func New(cfg Config, registry *message.TypeRegistry, sender Sender) *Writer {
	n := cfg.MaxMessageCount
	if n <= 0 {
		n = 1
	}
	w := &Writer{
		cfg:         cfg,
		registry:    registry,
		sender:      sender,
		limits:      codec.DefaultLimits(),
		slots:       make([]slot, n),
		orderHead:   nilIndex,
		orderTail:   nilIndex,
		writeHead:   nilIndex,
		writeTail:   nilIndex,
		writeCursor: nilIndex,
		freeCount:   n,
		currentSync: nilIndex,
	}
	for i := range w.slots {
		if i == n-1 {
			w.slots[i].nextFree = nilIndex
		} else {
			w.slots[i].nextFree = i + 1
		}
	}
	w.freeHead = 0
	return w
}

// Prepare reserves a slot and returns its id, without making the
// message visible to Write yet — Enqueue does that. Mirrors the
// original's two-phase prepare/enqueue split, which lets a caller
// build a message's payload (which may itself need the id, e.g. to
// stamp a request with its own slot index) before committing it.
func (w *Writer) Prepare() (message.ID, error) {
	if w.freeHead == nilIndex {
		return message.Invalid, ErrFull
	}
	idx := w.freeHead
	w.freeHead = w.slots[idx].nextFree
	w.freeCount--

	uniq := w.stamp.Next()
	w.slots[idx] = slot{
		state:     Empty,
		unique:    uniq,
		orderNext: nilIndex, orderPrev: nilIndex,
		writeNext: nilIndex, writePrev: nilIndex,
	}
	return message.ID{Index: uint32(idx), Unique: uniq}, nil
}

func (w *Writer) checkID(id message.ID) (*slot, error) {
	if int(id.Index) >= len(w.slots) {
		return nil, ErrStaleID
	}
	s := &w.slots[id.Index]
	if s.unique != id.Unique {
		return nil, ErrStaleID
	}
	return s, nil
}

// Enqueue commits a previously-prepared slot's message bundle, making
// it visible to Write. poolID is an opaque pool-level identifier the
// writer never interprets; it is handed back on Cancel and on the
// Sender.CompleteMessage callback. It enforces the single current-
// synchronous-message constraint (ErrSynchronousBusy), the multiplex
// window (ErrMultiplexFull, once the write list already holds
// MaxMessageCountMultiplex messages), and, for FlagWaitsResponse
// bundles, the response-wait window (ErrResponseWaitFull). A rejected
// bundle leaves its prepared slot intact — the caller may retry the
// same id once the window has room, or Cancel it to give the slot
// back. A FlagRelayed bundle skips the type-registry lookup: its
// payload travels as pre-serialized bytes in b.RelayData, not through
// a registered push function.
func (w *Writer) Enqueue(id message.ID, b message.Bundle, poolID uint32) error {
	s, err := w.checkID(id)
	if err != nil {
		return err
	}
	if s.state != Empty {
		return ErrNotEmpty
	}
	var typeIdx uint32
	if !b.Flags.Has(message.FlagRelayed) {
		var ok bool
		typeIdx, ok = w.registry.TypeIndex(b.Payload)
		if !ok {
			return ErrUnknownType
		}
	}
	if b.Flags.Has(message.FlagSynchronous) && w.currentSync != nilIndex {
		return ErrSynchronousBusy
	}
	if w.writeLen() >= w.cfg.MaxMessageCountMultiplex {
		return ErrMultiplexFull
	}
	if b.Flags.Has(message.FlagWaitsResponse) && w.responseWaiting >= w.cfg.MaxMessageCountResponseWait {
		return ErrResponseWaitFull
	}

	s.bundle = b
	s.poolID = poolID
	s.typeIdx = typeIdx
	s.firstBody = true
	s.relayPos = 0
	if b.Flags.Has(message.FlagRelayed) {
		s.state = RelayedStart
	} else {
		s.state = WriteStart
	}

	idx := int(id.Index)
	w.linkOrderFront(idx)
	w.linkWriteBack(idx)
	if w.writeCursor == nilIndex {
		w.writeCursor = idx
	}
	if b.Flags.Has(message.FlagSynchronous) {
		w.currentSync = idx
	}
	return nil
}

// Cancel marks id's message canceled and returns the bundle and pool id
// it was enqueued with, so the caller can repost or discard it. A slot
// that was prepared but never enqueued is simply freed (and a zero
// bundle returned). Otherwise three cases: a message still queued (not
// yet started) is recycled
// immediately; one already parked awaiting a response (DoneSend, off
// writeList) is released immediately since no more of its bytes will
// ever reach the wire; one still mid-serialization has its serializer
// dropped and is marked Canceled so Write emits a CancelMessage marker
// — and only then reaps it — the next time rotation reaches it, since
// bytes already on the wire mean the peer needs to be told to drop its
// partial reassembly. Unlike normal completion, a canceled bundle is
// returned here directly rather than through Sender.CompleteMessage.
func (w *Writer) Cancel(id message.ID) (message.Bundle, uint32, error) {
	s, err := w.checkID(id)
	if err != nil {
		return message.Bundle{}, 0, err
	}
	if s.state == Empty {
		// Prepared but never enqueued (e.g. Enqueue rejected it): give the slot back.
		w.free(int(id.Index))
		return message.Bundle{}, 0, nil
	}
	if !s.state.isActive() {
		return message.Bundle{}, 0, nil
	}
	idx := int(id.Index)
	bundle, poolID := s.bundle, s.poolID
	switch {
	case s.state == WriteStart || s.state == RelayedStart:
		w.finalize(idx)
	case !s.inWriteList:
		w.finalize(idx)
	default:
		s.state = Canceled
		s.ser = nil
	}
	return bundle, poolID, nil
}

// CancelOldest cancels the oldest still-active message (the tail of
// the order list) and reports its id, bundle, and pool id.
func (w *Writer) CancelOldest() (message.ID, message.Bundle, uint32, bool) {
	idx := w.orderTail
	for idx != nilIndex && !w.slots[idx].state.isActive() {
		idx = w.slots[idx].orderPrev
	}
	if idx == nilIndex {
		return message.Invalid, message.Bundle{}, 0, false
	}
	id := message.ID{Index: uint32(idx), Unique: w.slots[idx].unique}
	bundle, poolID, _ := w.Cancel(id)
	return id, bundle, poolID, true
}

// WriteResult describes one fragment Write produced.
type WriteResult struct {
	ID      message.ID
	Tag     protocol.PacketType
	N       int
	Relayed bool
}

// Write produces up to len(dst) bytes for whichever message is next in
// rotation, honoring the fairness budget
// (MaxMessageContinuousPacketCount), the relay gate
// (CanSendRelayedMessages), and the single-synchronous-message
// priority (a mid-flight synchronous message is always served to
// completion before rotation resumes). ok is false if there is
// currently nothing eligible to send. This is the single-fragment
// primitive FillPacket drives in a loop to assemble one packet's body
// out of several fragments; call it directly only when you want
// fragment-at-a-time control (as the tests do).
func (w *Writer) Write(dst []byte) (res WriteResult, ok bool, err error) {
	idx := w.locateNextWriteMessage()
	if idx == nilIndex {
		return WriteResult{}, false, nil
	}
	return w.writeSlot(idx, dst)
}

func (w *Writer) writeSlot(idx int, dst []byte) (res WriteResult, ok bool, err error) {
	s := &w.slots[idx]

	if s.state == Canceled {
		id := message.ID{Index: uint32(idx), Unique: s.unique}
		w.finalize(idx)
		return WriteResult{ID: id, Tag: protocol.CancelMessage}, true, nil
	}

	if !s.headerSent {
		if err := w.startSerialize(idx); err != nil {
			return WriteResult{}, false, err
		}
	}

	relayed := s.state.isRelayed()
	var n int
	var done bool
	if relayed {
		n = copy(dst, s.bundle.RelayData[s.relayPos:])
		s.relayPos += n
		done = s.relayPos >= len(s.bundle.RelayData)
	} else {
		var rerr error
		n, rerr = s.ser.Run(dst)
		if rerr != nil {
			return WriteResult{}, false, rerr
		}
		done = s.ser.Done()
	}

	tag := protocol.ContinuedMessage
	if s.firstBody {
		tag = protocol.NewMessage
		s.firstBody = false
	}
	s.headerSent = true
	s.continuous++

	id := message.ID{Index: uint32(idx), Unique: s.unique}

	var completeErr error
	if done {
		tag |= protocol.EndMessageFlag
		completeErr = w.tryComplete(idx)
	} else if s.continuous >= w.cfg.MaxMessageContinuousPacketCount {
		w.rotate(idx)
	}

	return WriteResult{ID: id, Tag: tag, N: n, Relayed: relayed}, true, completeErr
}

// fragmentOverhead upper-bounds a MessageFragment element's non-data
// bytes: the tag byte, two worst-case 9-byte cross-encoded ids, and the
// 2-byte length prefix EncodeFragment writes ahead of the payload.
const fragmentOverhead = 1 + 9 + 9 + 2

// FillPacket implements the inner packet-fill procedure for one
// packet: it writes at most one AckdCount element if the connection's
// ack counter is nonzero, drains the cancel_remote_ids queue into
// CancelRequest elements while there is room, then schedules message
// fragments into the body — via repeated Write calls — until the
// budget runs out, nothing is ready, a relayed fragment has been sent
// (at most one per packet, flagged AckRequest), or the
// 4*len(write list) scheduling loop-guard is hit. headerType mirrors
// the first body element's tag, matching how the packet header's own
// Type field is derived. ok is false if the resulting body is empty —
// there was nothing to send.
func (w *Writer) FillPacket(budget int) (body []byte, headerType protocol.PacketType, flags protocol.HeaderFlags, ok bool, err error) {
	if budget <= 0 {
		return nil, 0, 0, false, nil
	}
	if w.ackdCount == 0 && len(w.cancelEchoes) == 0 && w.writeLen() == 0 {
		return nil, 0, 0, false, nil
	}

	if w.ackdCount != 0 {
		headerType = protocol.AckdCount
		body = protocol.EncodeAckdCount(body, w.ackdCount)
		w.ackdCount = 0
	}

	for len(w.cancelEchoes) > 0 && budget-len(body) >= 1+9+9 {
		c := w.cancelEchoes[0]
		w.cancelEchoes = w.cancelEchoes[1:]
		if len(body) == 0 {
			headerType = protocol.CancelRequest
		}
		body = protocol.EncodeCancel(body, c)
	}

	guard := 4 * w.writeLen()
	if guard == 0 {
		guard = 4
	}
	ackRequestSent := false
	for i := 0; i < guard; i++ {
		if budget-len(body) <= fragmentOverhead {
			break
		}
		idx := w.locateNextWriteMessage()
		if idx == nilIndex {
			break
		}

		maxData := budget - len(body) - fragmentOverhead
		dataBuf := make([]byte, maxData)
		res, wok, werr := w.writeSlot(idx, dataBuf)
		if !wok {
			break
		}

		if len(body) == 0 {
			headerType = res.Tag &^ protocol.EndMessageFlag
		}
		body = protocol.EncodeFragment(body, protocol.MessageFragment{
			Tag:        res.Tag,
			SlotIndex:  res.ID.Index,
			SlotUnique: res.ID.Unique,
			Data:       dataBuf[:res.N],
		})

		if werr != nil {
			err = werr
			break
		}
		if res.Relayed {
			ackRequestSent = true
			break
		}
	}

	if ackRequestSent {
		flags |= protocol.AckRequest
	}
	if w.cfg.CanSendRelayedMessages && w.sender != nil {
		w.sender.ReleaseRelayBuffer()
	}

	return body, headerType, flags, len(body) > 0, err
}

func (w *Writer) startSerialize(idx int) error {
	s := &w.slots[idx]
	s.bundle.Flags = s.bundle.Flags.Set(message.FlagStartedSend)
	if s.state == RelayedStart {
		s.state = RelayedBody
		return nil
	}
	stub, ok := w.registry.Stub(s.typeIdx)
	if !ok {
		return ErrUnknownType
	}
	ser := codec.NewSerializer(w.limits)
	if err := ser.PushUint32Cross(s.typeIdx); err != nil {
		return err
	}
	if err := ser.PushUint16(uint16(s.bundle.Flags)); err != nil {
		return err
	}
	if stub.Push != nil {
		if err := stub.Push(ser, s.bundle.Payload); err != nil {
			return err
		}
	}
	s.ser = ser
	s.state = WriteHead
	return nil
}

// tryComplete runs after a message's serializer (or, for a relayed
// slot, its raw byte cursor) drains fully. A message flagged
// FlagWaitsResponse stays in the order list (so VisitAll/Cancel can
// still find it) but leaves the write rotation; everything else is
// freed immediately and, unless sender is nil, reported through
// Sender.CompleteMessage before its slot returns to cache.
func (w *Writer) tryComplete(idx int) error {
	s := &w.slots[idx]
	s.bundle.Flags = s.bundle.Flags.Set(message.FlagDoneSend)
	w.unlinkWrite(idx)
	if w.currentSync == idx {
		w.currentSync = nilIndex
	}
	if s.bundle.Flags.Has(message.FlagWaitsResponse) {
		s.awaitingResponse = true
		w.responseWaiting++
		return nil
	}
	bundle, poolID := s.bundle, s.poolID
	w.unlinkOrder(idx)
	w.free(idx)
	if w.sender == nil {
		return nil
	}
	return w.sender.CompleteMessage(bundle, poolID)
}

// AddAckdCount accumulates n into the connection's non-persistent ack
// counter (saturating at 255 rather than wrapping). FillPacket drains
// and resets it the next time it assembles a packet.
func (w *Writer) AddAckdCount(n byte) {
	if int(w.ackdCount)+int(n) > 0xff {
		w.ackdCount = 0xff
		return
	}
	w.ackdCount += n
}

// QueueCancelEcho enqueues a CancelRequest element telling the peer to
// drop the message it sent under (remoteIndex, remoteUnique) — the
// connection's cancel_remote_ids queue. FillPacket drains this queue
// ahead of ordinary message scheduling.
func (w *Writer) QueueCancelEcho(remoteIndex, remoteUnique uint32) {
	w.cancelEchoes = append(w.cancelEchoes, protocol.CancelElement{
		RemoteSlotIndex:  remoteIndex,
		RemoteSlotUnique: remoteUnique,
	})
}

// ResolveResponse releases a slot parked awaiting a peer response
// (kept in order_list until the peer response arrives) once the
// connection layer has matched an incoming response packet to id.
// Returns the bundle that was waiting so the caller can hand the
// response to it, and false if id no longer names a slot in that
// state (already resolved, canceled, or stale).
func (w *Writer) ResolveResponse(id message.ID) (message.Bundle, bool) {
	s, err := w.checkID(id)
	if err != nil || !s.awaitingResponse {
		return message.Bundle{}, false
	}
	idx := int(id.Index)
	b := s.bundle
	w.finalize(idx)
	return b, true
}

func (w *Writer) finalize(idx int) {
	s := &w.slots[idx]
	w.unlinkWrite(idx)
	w.unlinkOrder(idx)
	if w.currentSync == idx {
		w.currentSync = nilIndex
	}
	if s.awaitingResponse {
		w.responseWaiting--
	}
	w.free(idx)
}

func (w *Writer) free(idx int) {
	s := &w.slots[idx]
	*s = slot{state: Empty, nextFree: w.freeHead}
	w.freeHead = idx
	w.freeCount++
}

// locateNextWriteMessage scans the write list starting at writeCursor
// and, when the relay gate is closed, skips relayed slots without
// removing them. Canceled slots are returned like any other so that
// writeSlot can emit their CancelMessage marker and reap them. A
// mid-flight synchronous message always wins regardless of rotation.
// The scan is bounded at 4*len(write list) iterations so a write list
// that is entirely ineligible (e.g. every message relayed while the
// gate is closed) returns "nothing eligible" instead of spinning.
func (w *Writer) locateNextWriteMessage() int {
	if w.currentSync != nilIndex {
		return w.currentSync
	}
	if w.writeHead == nilIndex {
		return nilIndex
	}
	guard := 4 * w.writeLen()
	if guard == 0 {
		guard = 4
	}
	cur := w.writeCursor
	if cur == nilIndex {
		cur = w.writeHead
	}
	for guard > 0 {
		guard--
		if cur == nilIndex {
			return nilIndex
		}
		s := &w.slots[cur]
		next := s.writeNext
		if next == nilIndex {
			next = w.writeHead
		}
		switch {
		case s.state.isRelayed() && !w.cfg.CanSendRelayedMessages:
			cur = next
			continue
		default:
			w.writeCursor = cur
			return cur
		}
	}
	return nilIndex
}

// rotate advances the cursor past idx, giving the next message in
// line a turn once idx has spent its continuous-packet budget.
func (w *Writer) rotate(idx int) {
	s := &w.slots[idx]
	s.continuous = 0
	next := s.writeNext
	if next == nilIndex {
		next = w.writeHead
	}
	w.writeCursor = next
}

// VisitAll calls fn for every active message from newest to oldest,
// stopping early if fn returns false. Grounded on the original's
// forEveryMessagesNewerToOlder.
func (w *Writer) VisitAll(fn func(id message.ID, b message.Bundle) bool) {
	idx := w.orderHead
	for idx != nilIndex {
		s := &w.slots[idx]
		next := s.orderNext
		if s.state.isActive() {
			if !fn(message.ID{Index: uint32(idx), Unique: s.unique}, s.bundle) {
				return
			}
		}
		idx = next
	}
}

// FrontIsRelayed reports whether the message at the front of the
// rotation (the current synchronous message, else the write cursor,
// else the write-list head) is a relayed one. The relay gate is not
// consulted, so it can report true while the gate keeps Write from
// serving that message. Grounded on the original's isFrontRelayMessage.
func (w *Writer) FrontIsRelayed() bool {
	idx := w.currentSync
	if idx == nilIndex {
		idx = w.writeCursor
	}
	if idx == nilIndex {
		idx = w.writeHead
	}
	if idx == nilIndex {
		return false
	}
	return w.slots[idx].state.isRelayed()
}

// Len reports the number of active (prepared-and-not-yet-freed)
// messages.
func (w *Writer) Len() int {
	return len(w.slots) - w.freeCount
}

func (w *Writer) writeLen() int {
	n := 0
	for idx := w.writeHead; idx != nilIndex; idx = w.slots[idx].writeNext {
		n++
	}
	return n
}

func (w *Writer) linkOrderFront(idx int) {
	s := &w.slots[idx]
	s.orderPrev = nilIndex
	s.orderNext = w.orderHead
	if w.orderHead != nilIndex {
		w.slots[w.orderHead].orderPrev = idx
	}
	w.orderHead = idx
	if w.orderTail == nilIndex {
		w.orderTail = idx
	}
}

func (w *Writer) unlinkOrder(idx int) {
	s := &w.slots[idx]
	if s.orderPrev != nilIndex {
		w.slots[s.orderPrev].orderNext = s.orderNext
	} else if w.orderHead == idx {
		w.orderHead = s.orderNext
	}
	if s.orderNext != nilIndex {
		w.slots[s.orderNext].orderPrev = s.orderPrev
	} else if w.orderTail == idx {
		w.orderTail = s.orderPrev
	}
	s.orderNext, s.orderPrev = nilIndex, nilIndex
}

func (w *Writer) linkWriteBack(idx int) {
	s := &w.slots[idx]
	s.writeNext = nilIndex
	s.writePrev = w.writeTail
	if w.writeTail != nilIndex {
		w.slots[w.writeTail].writeNext = idx
	}
	w.writeTail = idx
	if w.writeHead == nilIndex {
		w.writeHead = idx
	}
	s.inWriteList = true
}

func (w *Writer) unlinkWrite(idx int) {
	s := &w.slots[idx]
	if !s.inWriteList {
		return
	}
	s.inWriteList = false
	if s.writePrev != nilIndex {
		w.slots[s.writePrev].writeNext = s.writeNext
	} else if w.writeHead == idx {
		w.writeHead = s.writeNext
	}
	if s.writeNext != nilIndex {
		w.slots[s.writeNext].writePrev = s.writePrev
	} else if w.writeTail == idx {
		w.writeTail = s.writePrev
	}
	if w.writeCursor == idx {
		w.writeCursor = s.writeNext
		if w.writeCursor == nilIndex {
			w.writeCursor = w.writeHead
		}
	}
	s.writeNext, s.writePrev = nilIndex, nilIndex
}
