package coherence

import (
	"net"
	"testing"
	"time"

	"github.com/dsmmcken/ivy-dsm/internal/memregion"
	"github.com/dsmmcken/ivy-dsm/internal/pagedir"
	"github.com/dsmmcken/ivy-dsm/internal/rpc"
)

// testCluster wires N nodes, each with its own directory, fake region, and
// real loopback RPC server, mirroring how cmd/dsmnode wires a real process
// but swapping memregion.LinuxRegion for memregion.Fake so these tests run
// on any platform.
type testCluster struct {
	nodes []*testNode
}

type testNode struct {
	engine *Engine
	region *memregion.Fake
	dir    *pagedir.Directory
}

const clusterBase = uintptr(0x600000000000)

func newTestCluster(t *testing.T, numNodes, numPages int, managerID int) *testCluster {
	t.Helper()
	regionSize := uintptr(numPages) * pagedir.PageSize

	addrs := make([]string, numNodes)
	for i := range addrs {
		addrs[i] = freeLoopbackAddr(t)
	}

	c := &testCluster{nodes: make([]*testNode, numNodes)}
	for i := 0; i < numNodes; i++ {
		dir := pagedir.New(clusterBase, regionSize, managerID)
		region := memregion.NewFake(clusterBase, regionSize)
		client := rpc.NewClient(addrs, nil)
		engine := New(i, managerID, dir, region, client, nil)

		srv := rpc.NewServer(nil)
		engine.BindRPC(srv)
		go srv.Listen(addrs[i])

		c.nodes[i] = &testNode{engine: engine, region: region, dir: dir}
	}

	for _, addr := range addrs {
		waitForListener(t, addr)
	}
	return c
}

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("node at %s never came up", addr)
}

func (c *testCluster) node(i int) *testNode { return c.nodes[i] }

// pageAddrAt returns page index idx's address in the shared region.
func pageAddrAt(idx int) uintptr {
	return clusterBase + uintptr(idx)*pagedir.PageSize
}
