package test

import (
	"mprpc/client"
	"mprpc/codec"
	"mprpc/loadbalance"
	"mprpc/middleware"
	"mprpc/registry"
	"mprpc/server"
	"testing"
	"time"
)

// ---- test services ----

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

func (a *Arith) Multiply(args *Args, reply *Reply) error {
	reply.Result = args.A * args.B
	return nil
}

// TestFullIntegrationWithEtcd exercises the full stack end to end:
// Client → Registry(etcd) → LB → ConnPool → Writer/Protocol/Codec →
// Middleware → Server → reflection dispatch. Requires a live etcd
// reachable at 127.0.0.1:2379; skipped only when NewEtcdRegistry itself
// returns an error.
func TestFullIntegrationWithEtcd(t *testing.T) {
	reg, err := registry.NewEtcdRegistry([]string{"127.0.0.1:2379"})
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}

	svr := server.NewServer()
	svr.Use(middleware.LoggingMiddleware(nil))
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", ":19090", "127.0.0.1:19090", reg)
	time.Sleep(100 * time.Millisecond)

	bal := &loadbalance.RoundRobinBalancer{}
	cli := client.NewClient(reg, bal, byte(codec.CodecTypeJSON), 2)

	reply := &Reply{}
	if err := cli.Call("Arith.Add", &Args{A: 3, B: 5}, reply); err != nil {
		t.Fatalf("Call Add failed: %v", err)
	}
	if reply.Result != 8 {
		t.Fatalf("Add: expect 8, got %d", reply.Result)
	}

	reply2 := &Reply{}
	if err := cli.Call("Arith.Multiply", &Args{A: 4, B: 6}, reply2); err != nil {
		t.Fatalf("Call Multiply failed: %v", err)
	}
	if reply2.Result != 24 {
		t.Fatalf("Multiply: expect 24, got %d", reply2.Result)
	}

	if err := svr.Shutdown(3 * time.Second); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

// TestMultiServerWithEtcd verifies load balancing across two server
// instances registered under the same service name.
func TestMultiServerWithEtcd(t *testing.T) {
	reg, err := registry.NewEtcdRegistry([]string{"127.0.0.1:2379"})
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	reg.Deregister("Arith", "127.0.0.1:19090")

	svr1 := server.NewServer()
	svr1.Register(&Arith{})
	go svr1.Serve("tcp", ":19091", "127.0.0.1:19091", reg)

	svr2 := server.NewServer()
	svr2.Register(&Arith{})
	go svr2.Serve("tcp", ":19092", "127.0.0.1:19092", reg)

	time.Sleep(100 * time.Millisecond)

	bal := &loadbalance.RoundRobinBalancer{}
	cli := client.NewClient(reg, bal, byte(codec.CodecTypeJSON), 2)

	for i := 1; i <= 10; i++ {
		reply := &Reply{}
		if err := cli.Call("Arith.Add", &Args{A: i, B: i * 10}, reply); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		expected := i + i*10
		if reply.Result != expected {
			t.Fatalf("request %d: expect %d, got %d", i, expected, reply.Result)
		}
	}

	svr1.Shutdown(3 * time.Second)
	svr2.Shutdown(3 * time.Second)
}
