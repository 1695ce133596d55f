package client

import (
	"mprpc/codec"
	"mprpc/loadbalance"
	"mprpc/registry"
	"mprpc/server"
	"testing"
	"time"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

// staticRegistry is a fixed, single-instance Registry used in tests in
// place of EtcdRegistry, which needs a live etcd cluster.
type staticRegistry struct {
	addr string
}

func (r staticRegistry) Register(string, registry.ServiceInstance, int64) error { return nil }
func (r staticRegistry) Deregister(string, string) error                        { return nil }
func (r staticRegistry) Discover(string) ([]registry.ServiceInstance, error) {
	return []registry.ServiceInstance{{Addr: r.addr, Weight: 1}}, nil
}
func (r staticRegistry) Watch(string) <-chan []registry.ServiceInstance { return nil }

func TestClientCall(t *testing.T) {
	svr := server.NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", ":9100", "", nil)
	time.Sleep(100 * time.Millisecond)

	c := NewClient(staticRegistry{addr: ":9100"}, &loadbalance.RoundRobinBalancer{}, byte(codec.CodecTypeJSON), 2)

	reply := &Reply{}
	if err := c.Call("Arith.Add", &Args{A: 1, B: 2}, reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 3 {
		t.Fatalf("expect 3, got %v", reply.Result)
	}

	reply2 := &Reply{}
	if err := c.Call("Arith.Add", &Args{A: 10, B: 20}, reply2); err != nil {
		t.Fatal(err)
	}
	if reply2.Result != 30 {
		t.Fatalf("expect 30, got %v", reply2.Result)
	}
}

func TestClientCallUnknownService(t *testing.T) {
	svr := server.NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", ":9101", "", nil)
	time.Sleep(100 * time.Millisecond)

	c := NewClient(staticRegistry{addr: ":9101"}, &loadbalance.RoundRobinBalancer{}, byte(codec.CodecTypeJSON), 1)

	reply := &Reply{}
	err := c.Call("Missing.Method", &Args{A: 1, B: 2}, reply)
	if err == nil {
		t.Fatal("expected an error calling an unregistered service")
	}
}
