package writer

import "errors"

var (
	// ErrFull is returned by Prepare when every slot is occupied.
	ErrFull = errors.New("writer: no free slot")
	// ErrSynchronousBusy is returned by Enqueue when a synchronous
	// message is already mid-flight; only one may be in flight at a
	// time per connection.
	ErrSynchronousBusy = errors.New("writer: a synchronous message is already in flight")
	// ErrUnknownType is returned when a bundle's payload type was never
	// registered with the writer's TypeRegistry.
	ErrUnknownType = errors.New("writer: message type not registered")
	// ErrStaleID is returned by Enqueue/Cancel when id's Unique stamp no
	// longer matches the slot it names (the slot was freed and reused).
	ErrStaleID = errors.New("writer: stale message id")
	// ErrNotEmpty is returned by Enqueue when the slot named by id has
	// already been enqueued.
	ErrNotEmpty = errors.New("writer: slot already enqueued")
	// ErrMultiplexFull is returned by Enqueue when the write list already
	// holds MaxMessageCountMultiplex messages.
	ErrMultiplexFull = errors.New("writer: multiplex window full")
	// ErrResponseWaitFull is returned by Enqueue when bundle has
	// FlagWaitsResponse set but MaxMessageCountResponseWait messages are
	// already holding a slot awaiting a peer response.
	ErrResponseWaitFull = errors.New("writer: response-wait window full")
)
