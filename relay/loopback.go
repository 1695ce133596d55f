package relay

import (
	"context"
	"sync"
)

// pendingMessage accumulates fragments for one relayed message until
// its last fragment arrives.
type pendingMessage struct {
	header Header
	data   []byte
}

// LoopbackEngine is a minimal in-memory Engine: every relayed message,
// once its last fragment arrives, is queued in the inbox named by its
// header's TargetURL and handed over when PollUpdates is called with
// that name as connectionID; there is no other routing policy. It
// exists for tests and for
// single-process deployments, standing in for a real relay backend
// the way a fake in-memory coordinator stands in for a cluster one.
type LoopbackEngine struct {
	mu       sync.Mutex
	nextID   ID
	pending  map[ID]*pendingMessage
	inboxes  map[string][]queuedDelivery
}

type queuedDelivery struct {
	header Header
	data   []byte
	last   bool
}

func NewLoopbackEngine() *LoopbackEngine {
	return &LoopbackEngine{
		pending: make(map[ID]*pendingMessage),
		inboxes: make(map[string][]queuedDelivery),
	}
}

func (e *LoopbackEngine) Relay(ctx context.Context, header Header, data []byte, id ID, last bool) (ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id == 0 {
		e.nextID++
		id = e.nextID
		e.pending[id] = &pendingMessage{header: header}
	}
	msg, ok := e.pending[id]
	if !ok {
		e.nextID++
		id = e.nextID
		msg = &pendingMessage{header: header}
		e.pending[id] = msg
	}
	msg.data = append(msg.data, data...)

	if last {
		delete(e.pending, id)
		e.inboxes[header.TargetURL] = append(e.inboxes[header.TargetURL], queuedDelivery{
			header: header,
			data:   msg.data,
			last:   true,
		})
	}
	return id, nil
}

func (e *LoopbackEngine) PollUpdates(ctx context.Context, connectionID string, deliver func(header Header, data []byte, last bool) error) error {
	e.mu.Lock()
	queued := e.inboxes[connectionID]
	e.inboxes[connectionID] = nil
	e.mu.Unlock()

	for _, q := range queued {
		if err := deliver(q.header, q.data, q.last); err != nil {
			return err
		}
	}
	return nil
}
