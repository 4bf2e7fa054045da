// Package workload holds the process-wiring and shared-memory access code
// common to every workload driver binary (cmd/workload/*) and to dsmnode
// itself: load the cluster config, reserve the region, build the coherence
// engine and fault interceptor, and expose a plain byte-range view of the
// shared region that application code touches without caring whether the
// underlying access raises a genuine OS fault or (in tests, against
// memregion.Fake) is driven explicitly through the engine.
package workload

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/dsmmcken/ivy-dsm/internal/coherence"
	"github.com/dsmmcken/ivy-dsm/internal/config"
	"github.com/dsmmcken/ivy-dsm/internal/fault"
	"github.com/dsmmcken/ivy-dsm/internal/memregion"
	"github.com/dsmmcken/ivy-dsm/internal/pagedir"
	"github.com/dsmmcken/ivy-dsm/internal/rpc"
)

// Node is one cluster member, fully wired: directory, region, RPC
// transport, coherence engine, fault interceptor, RPC server, and the
// Memory view workload logic reads/writes through.
type Node struct {
	ID        int
	IsManager bool
	Cluster   *config.Cluster

	Dir         *pagedir.Directory
	Region      memregion.Region
	Client      *rpc.Client
	Engine      *coherence.Engine
	Interceptor *fault.Interceptor
	Server      *rpc.Server
	Memory      *Memory

	Log *logrus.Entry
}

// Bootstrap implements spec.md §6's CLI contract (argv[1]=config path,
// argv[2]=decimal node id) and wires every component per spec.md §6.2: a
// cluster config load, the memory region (pre-populated if this node is
// the manager), the page directory, the RPC client/server pair, the
// coherence engine, and the fault interceptor (constructed, not yet
// started). It does not start the interceptor, bind RPC routes or call
// Listen — callers decide whether they're a bare dsmnode or a workload
// that also runs application logic.
func Bootstrap(configPath, nodeIDArg string, log *logrus.Entry) (*Node, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	nodeID, err := strconv.Atoi(nodeIDArg)
	if err != nil {
		return nil, fmt.Errorf("node id must be an integer: %w", err)
	}

	cluster, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cluster.ValidateNodeID(nodeID); err != nil {
		return nil, err
	}

	isManager := nodeID == cluster.ManagerID
	region, err := memregion.Reserve(cluster.BaseAddr, uintptr(cluster.RegionSz), isManager)
	if err != nil {
		return nil, err
	}

	dir := pagedir.New(cluster.BaseAddr, uintptr(cluster.RegionSz), cluster.ManagerID)
	client := rpc.NewClient(cluster.Nodes, log)
	engine := coherence.New(nodeID, cluster.ManagerID, dir, region, client, log)

	ic, err := fault.New(region, engine, log, 4)
	if err != nil {
		return nil, err
	}

	n := &Node{
		ID:          nodeID,
		IsManager:   isManager,
		Cluster:     cluster,
		Dir:         dir,
		Region:      region,
		Client:      client,
		Engine:      engine,
		Interceptor: ic,
		Server:      rpc.NewServer(log),
		Log:         log,
	}
	n.Memory = NewMemory(region, engine)
	return n, nil
}

// Start launches the fault interceptor and binds the coherence RPCs. It
// does not block and does not start serving: callers follow it with
// ListenInBackground, or, when they have no further application logic of
// their own, with n.Server.Listen(n.Cluster.Nodes[n.ID]) on the calling
// goroutine.
func (n *Node) Start() {
	n.Interceptor.Start()
	n.Engine.BindRPC(n.Server)
}

// ListenInBackground starts the RPC server on its own goroutine and
// returns a channel that receives the single error Listen eventually
// returns (nil is never sent; Listen only returns on failure, since
// spec.md §6 requires nodes to run indefinitely).
func (n *Node) ListenInBackground() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.Server.Listen(n.Cluster.Nodes[n.ID])
	}()
	return errCh
}
