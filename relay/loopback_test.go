package relay

import (
	"bytes"
	"context"
	"testing"
)

func TestLoopbackEngineDeliversCompleteMessage(t *testing.T) {
	e := NewLoopbackEngine()
	ctx := context.Background()

	id, err := e.Relay(ctx, Header{SourceConnectionID: "a", TargetURL: "b"}, []byte("hel"), 0, false)
	if err != nil {
		t.Fatalf("first Relay failed: %v", err)
	}
	if _, err := e.Relay(ctx, Header{SourceConnectionID: "a", TargetURL: "b"}, []byte("lo"), id, true); err != nil {
		t.Fatalf("second Relay failed: %v", err)
	}

	var got []byte
	var lastSeen bool
	err = e.PollUpdates(ctx, "b", func(header Header, data []byte, last bool) error {
		got = append(got, data...)
		lastSeen = last
		return nil
	})
	if err != nil {
		t.Fatalf("PollUpdates failed: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) || !lastSeen {
		t.Fatalf("expected reassembled %q with last=true, got %q last=%v", "hello", got, lastSeen)
	}
}

func TestLoopbackEnginePollUpdatesDrainsOnce(t *testing.T) {
	e := NewLoopbackEngine()
	ctx := context.Background()
	e.Relay(ctx, Header{TargetURL: "b"}, []byte("x"), 0, true)

	calls := 0
	poll := func() {
		e.PollUpdates(ctx, "b", func(Header, []byte, bool) error {
			calls++
			return nil
		})
	}
	poll()
	poll()
	if calls != 1 {
		t.Fatalf("expected exactly one delivery across two polls, got %d", calls)
	}
}
