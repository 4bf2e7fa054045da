package main

import (
	"net"
	"sort"
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

// TestScenarioS6Sort covers spec.md §8 S6: N worker nodes sort disjoint
// slices, signal completion via the header page, and the result is
// verified both for ordering and for the completion flag.
func TestScenarioS6Sort(t *testing.T) {
	const numNodes = 3
	const chunkLen = 32
	regionSize := pagedir.PageSize * uintptr(1+numNodes)

	addrs := make([]string, numNodes)
	for i := range addrs {
		addrs[i] = freeAddr(t)
	}
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
			chunk := reverseSortedChunk(i, chunkLen)
			errs[i] = runSort(mems[i], i, numNodes, testBase, chunk)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("node %d runSort: %v", i, err)
		}
	}

	if err := waitForCompletion(mems[0], testBase, numNodes, time.Millisecond); err != nil {
		t.Fatalf("waitForCompletion: %v", err)
	}

	for i := 0; i < numNodes; i++ {
		got, err := readSortedChunk(mems[0], testBase, i, chunkLen)
		if err != nil {
			t.Fatalf("readSortedChunk(%d): %v", i, err)
		}
		if !sort.SliceIsSorted(got, func(a, b int) bool { return got[a] < got[b] }) {
			t.Errorf("node %d chunk not sorted: %v", i, got)
		}
	}
}
