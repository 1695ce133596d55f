package message

import "testing"

type pingPayload struct{ N int }

func TestTypeRegistryAssignsDenseIndices(t *testing.T) {
	reg := NewTypeRegistry(8)

	idxA := reg.Register(pingPayload{}, nil, nil, nil)
	idxB := reg.Register(RPCMessage{}, nil, nil, nil)

	if idxA != 0 || idxB != 1 {
		t.Fatalf("expected dense indices 0,1, got %d,%d", idxA, idxB)
	}

	if got, ok := reg.TypeIndex(pingPayload{N: 5}); !ok || got != idxA {
		t.Fatalf("TypeIndex mismatch: got %d, ok=%v", got, ok)
	}

	if _, ok := reg.TypeIndex(42); ok {
		t.Fatalf("expected unregistered type to report not-ok")
	}
}

func TestTypeRegistryRegisterIsIdempotent(t *testing.T) {
	reg := NewTypeRegistry(8)
	first := reg.Register(pingPayload{}, nil, nil, nil)
	second := reg.Register(pingPayload{}, nil, nil, nil)
	if first != second {
		t.Fatalf("expected re-registration to return the same index, got %d and %d", first, second)
	}
}

func TestTypeRegistryStubOutOfRange(t *testing.T) {
	reg := NewTypeRegistry(8)
	if _, ok := reg.Stub(0); ok {
		t.Fatalf("expected Stub(0) to be not-ok on an empty registry")
	}
}

func TestCounterSkipsZeroOnWrap(t *testing.T) {
	c := Counter{v: ^uint32(0)} // next AddUint32 wraps to 0
	n := c.Next()
	if n == 0 {
		t.Fatalf("Counter.Next must never return 0")
	}
}
