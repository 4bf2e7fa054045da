package main

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dsmmcken/ivy-dsm/internal/coherence"
	"github.com/dsmmcken/ivy-dsm/internal/memregion"
	"github.com/dsmmcken/ivy-dsm/internal/pagedir"
	"github.com/dsmmcken/ivy-dsm/internal/rpc"
	"github.com/dsmmcken/ivy-dsm/internal/workload"
)

const testBase = uintptr(0x600000000000)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func waitUp(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("tcp", addr); err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never came up", addr)
}

// TestScenarioS1PingPong is spec.md §8 S1, driven through the real workload
// driver logic (runPingPong) rather than the lower-level engine calls the
// internal/coherence tests use.
func TestScenarioS1PingPong(t *testing.T) {
	const numNodes = 2
	const rounds = 40
	regionSize := pagedir.PageSize

	addrs := []string{freeAddr(t), freeAddr(t)}
	mems := make([]*workload.Memory, numNodes)

	for i := 0; i < numNodes; i++ {
		dir := pagedir.New(testBase, regionSize, 0)
		region := memregion.NewFake(testBase, regionSize)
		client := rpc.NewClient(addrs, nil)
		engine := coherence.New(i, 0, dir, region, client, nil)

		srv := rpc.NewServer(nil)
		engine.BindRPC(srv)
		go srv.Listen(addrs[i])

		mems[i] = workload.NewMemory(region, engine)
	}
	for _, a := range addrs {
		waitUp(t, a)
	}

	var wg sync.WaitGroup
	errs := make([]error, numNodes)
	for i := 0; i < numNodes; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = runPingPong(mems[i], i, numNodes, testBase, rounds, time.Millisecond)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("node %d: %v", i, err)
		}
	}

	final, err := mems[0].ReadUint32(testBase)
	if err != nil {
		t.Fatalf("final read: %v", err)
	}
	if int(final) != rounds {
		t.Errorf("final counter = %d, want %d", final, rounds)
	}
}
