// Package message defines the wire-level envelope the writer
// multiplexes (Bundle) and the dense type registry used to push it
// through the codec, plus the application-level RPC envelope
// (RPCMessage) that higher layers (server/client/middleware) carry as
// one particular kind of Bundle payload.
package message

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// RPCMessage carries the data for a single RPC request or response.
// It is the application payload most Bundles in this module wrap.
//
//   - On request:  ServiceMethod is set, Payload contains the serialized args, Error is empty.
//   - On response: Payload contains the serialized reply, Error is non-empty if the call failed.
type RPCMessage struct {
	ServiceMethod string // Format: "ServiceName.MethodName", e.g., "Arith.Add"
	Error         string // Non-empty if the server-side handler returned an error
	Payload       []byte // Serialized args (request) or reply (response) as JSON bytes
	// ReplyKey correlates a response back to its request. Each side's
	// writer slot id (Index, Unique) only identifies the message
	// within that side's own writer — it says nothing about which of
	// the peer's pending calls a response answers. ReplyKey is the
	// client-assigned correlation number carried inside the envelope
	// itself and echoed verbatim by the server, the way a RequestId
	// travels inside the message header rather than the packet header.
	ReplyKey uint64
}

// Flags tracks the lifecycle and scheduling properties of a message
// bundle as it moves through the writer.
type Flags uint16

const (
	// FlagSynchronous marks a message that must be globally ordered:
	// at most one synchronous message may be mid-flight per connection.
	FlagSynchronous Flags = 1 << iota
	// FlagWaitsResponse keeps the slot reserved in the order list after
	// serialization completes, until the peer's response arrives.
	FlagWaitsResponse
	// FlagRelayed marks a message whose payload originates on another
	// connection and is being forwarded through the relay engine.
	FlagRelayed
	// FlagStartedSend is set when the writer begins serializing a message.
	FlagStartedSend
	// FlagDoneSend is set when the writer finishes serializing a message.
	FlagDoneSend
	// FlagCanceled marks a message for mid-flight cancellation.
	FlagCanceled
)

func (f Flags) Has(flag Flags) bool    { return f&flag != 0 }
func (f Flags) Set(flag Flags) Flags   { return f | flag }
func (f Flags) Reset(flag Flags) Flags { return f &^ flag }

// Bundle is the value object a caller hands to the writer on Enqueue.
type Bundle struct {
	// Payload is the application message, a polymorphic unit produced
	// by external code. The writer never interprets it directly; it is
	// passed to the registered push function for the message's type.
	Payload any
	// TypeIndex is the dense index assigned by the TypeRegistry.
	TypeIndex uint32
	// Flags holds the synchronous/waits-response/relayed/... bits.
	Flags Flags
	// URL is an optional routing hint string.
	URL string
	// RelayData holds the pre-serialized bytes for a FlagRelayed
	// bundle, supplied by the relay engine rather than produced by a
	// registered push function. The writer copies these bytes directly
	// onto the wire instead of driving a codec.Serializer over Payload.
	RelayData []byte
}

// ID is a (slot index, unique stamp) pair. A handle derived from an ID
// is valid only while the addressed slot's stamp still matches Unique.
type ID struct {
	Index  uint32
	Unique uint32
}

// Invalid is the sentinel ID, never assigned to a live slot because
// unique stamps skip zero (see Counter) and index ^0 is never in range.
var Invalid = ID{Index: ^uint32(0), Unique: 0}

func (id ID) IsValid() bool  { return id.Index != Invalid.Index }
func (id ID) String() string { return fmt.Sprintf("(%d,%d)", id.Index, id.Unique) }

// Serializer and Deserializer are the minimal surfaces the message
// package needs from codec.Serializer/codec.Deserializer, declared
// here as interfaces to avoid an import cycle between codec (which
// needs to push registered payload types) and message (which defines
// what a payload is).
type Serializer interface {
	PushString(v string) error
	PushUint64Cross(v uint64) error
	PushBytes(v []byte) error
}

type Deserializer interface {
	PullString() (string, error)
	PullUint64Cross() (uint64, error)
	PullLengthPrefixedBytes() ([]byte, error)
}

// PushFunc serializes a payload value into the given serializer.
// Registered once per application message type.
type PushFunc func(s Serializer, payload any) error

// PullFunc deserializes into a freshly-allocated payload value.
type PullFunc func(d Deserializer) (any, error)

// Stub is what TypeRegistry.Stub returns for a registered type index:
// the push/pull functions needed to move a payload across the wire,
// plus an optional completion hook, even though the writer core only
// ever calls Push — Pull and CompleteFn exist for the reader side and
// for tests that exercise both directions in-process.
type Stub struct {
	Push       PushFunc
	Pull       PullFunc
	CompleteFn func(payload any) error
}

// TypeRegistry assigns a dense uint32 index to each registered
// application message type and stores its (de)serialization stubs.
// Plays the same role as the server package's reflect-based method
// table, but keyed by message type rather than by RPC method name.
type TypeRegistry struct {
	mu      sync.RWMutex
	byType  map[reflect.Type]uint32
	stubs   []Stub
	minFree int
}

// NewTypeRegistry creates an empty registry. minFreePacketData is the
// value returned by MinimumFreePacketDataSize (the codec-defined
// minimum free body space a packet must retain before the writer will
// start filling it with a new message fragment).
func NewTypeRegistry(minFreePacketData int) *TypeRegistry {
	return &TypeRegistry{
		byType:  make(map[reflect.Type]uint32),
		minFree: minFreePacketData,
	}
}

// Register assigns the next free index to sample's concrete type and
// stores push/pull/complete. Calling Register twice for the same
// concrete type returns the original index; re-registration is treated
// as idempotent rather than an error since nothing requires rejecting
// it for the writer's purposes.
func (r *TypeRegistry) Register(sample any, push PushFunc, pull PullFunc, complete func(any) error) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := reflect.TypeOf(sample)
	if idx, ok := r.byType[t]; ok {
		return idx
	}
	idx := uint32(len(r.stubs))
	r.stubs = append(r.stubs, Stub{Push: push, Pull: pull, CompleteFn: complete})
	r.byType[t] = idx
	return idx
}

// TypeIndex returns the registered index for payload's concrete type.
// ok is false if the type was never registered.
func (r *TypeRegistry) TypeIndex(payload any) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byType[reflect.TypeOf(payload)]
	return idx, ok
}

// Stub returns the registered stub for idx. ok is false if idx is out
// of range.
func (r *TypeRegistry) Stub(idx uint32) (Stub, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(idx) >= len(r.stubs) {
		return Stub{}, false
	}
	return r.stubs[idx], true
}

// MinimumFreePacketDataSize is the codec-defined minimum number of
// free body bytes a packet must retain before the writer may start
// filling it — guarantees forward progress per message attempt.
func (r *TypeRegistry) MinimumFreePacketDataSize() int {
	return r.minFree
}

// Counter implements the per-slot "32-bit counter, wrap and skip zero"
// unique-stamp scheme used to tell a reused slot index apart from its
// prior occupant.
type Counter struct {
	v uint32
}

// Next returns the next nonzero stamp, wrapping past zero.
func (u *Counter) Next() uint32 {
	for {
		n := atomic.AddUint32(&u.v, 1)
		if n != 0 {
			return n
		}
	}
}
