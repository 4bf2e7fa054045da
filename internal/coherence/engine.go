// Package coherence implements the IVY fixed-manager write-invalidate
// protocol (spec.md §4.5): the four RPC servicers and the two fault
// handlers, wired to a page directory, a memory region, and an RPC
// client/server pair.
package coherence

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dsmmcken/ivy-dsm/internal/dsmerr"
	"github.com/dsmmcken/ivy-dsm/internal/memregion"
	"github.com/dsmmcken/ivy-dsm/internal/pagedir"
	"github.com/dsmmcken/ivy-dsm/internal/rpc"
)

const (
	rpcGetRdPage    = "GET_RD_PAGE"
	rpcGetWrPage    = "GET_WR_PAGE"
	rpcFetchPage    = "FETCH_PG"
	rpcInvalidate   = "INVALIDATE_PG"
	fetchModeRead   = "rd"
	fetchModeNone   = "none"
)

// Engine is one node's coherence state: its own node id, whether it is the
// manager, the shared directory, the memory region, and the RPC transport
// to every peer (including, for symmetry, an index pointing at itself —
// never dialed; self-requests always take the in-process path per spec.md
// §4.5.2/§4.5.4).
type Engine struct {
	selfID    int
	managerID int
	dir       *pagedir.Directory
	region    memregion.Region
	client    *rpc.Client
	log       *logrus.Entry

	countsMu sync.Mutex
	counts   map[string]int
}

// New builds an Engine. It does not bind RPC handlers or start the fault
// interceptor — callers (internal/workload's Bootstrap and Node.Start)
// wire those explicitly once the
// Engine exists, since both need a reference to it.
func New(selfID, managerID int, dir *pagedir.Directory, region memregion.Region, client *rpc.Client, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		selfID:    selfID,
		managerID: managerID,
		dir:       dir,
		region:    region,
		client:    client,
		log:       log,
		counts:    make(map[string]int),
	}
}

func (e *Engine) countRPC(name string) {
	e.countsMu.Lock()
	e.counts[name]++
	e.countsMu.Unlock()
}

// RPCCounts reports how many times each named servicer has run on this
// node, for operator visibility (the `dsmmon` debug endpoint) and for
// tests asserting spec.md §8 properties like "fetched exactly once".
func (e *Engine) RPCCounts() map[string]int {
	e.countsMu.Lock()
	defer e.countsMu.Unlock()
	out := make(map[string]int, len(e.counts))
	for k, v := range e.counts {
		out[k] = v
	}
	return out
}

// PageView is one page's directory state, for the debug/directory endpoint.
type PageView struct {
	Index   int
	Owner   int
	Copyset []int
	Access  pagedir.AccessMode
}

// DirectorySnapshot returns every page's current directory entry. Callers
// on the manager see authoritative owner/copyset data; on other nodes
// Owner/Copyset are not meaningful (only Access is locally authoritative).
func (e *Engine) DirectorySnapshot() []PageView {
	n := e.dir.NumPages()
	base := e.dir.Base()
	out := make([]PageView, n)
	for i := 0; i < n; i++ {
		addr := base + uintptr(i)*pagedir.PageSize
		e.dir.PageLock(addr)
		entry := e.dir.Info(addr)
		view := PageView{Index: i, Owner: entry.Owner, Access: entry.Access}
		for node := range entry.Copyset {
			view.Copyset = append(view.Copyset, node)
		}
		e.dir.PageUnlock(addr)
		out[i] = view
	}
	return out
}

func (e *Engine) isManager() bool { return e.selfID == e.managerID }

// LocalAccess reports this node's current access mode for addr's page,
// without changing it. Used by internal/workload's Memory type to decide
// whether a touch needs to go through OnReadFault/OnWriteFault when the
// underlying region can't deliver a real OS fault (memregion.Fake, tests).
func (e *Engine) LocalAccess(addr uintptr) pagedir.AccessMode {
	e.dir.PageLock(addr)
	defer e.dir.PageUnlock(addr)
	return e.dir.Info(addr).Access
}

// BindRPC registers the four servicers (spec.md §4.5.1) on srv. Only
// meaningful on the manager for GET_RD_PAGE/GET_WR_PAGE, but every node
// must serve FETCH_PG (as current owner) and INVALIDATE_PG (as a copyset
// member), so all nodes bind all four.
func (e *Engine) BindRPC(srv *rpc.Server) {
	srv.Bind(rpcGetRdPage, e.handleGetRdPage)
	srv.Bind(rpcGetWrPage, e.handleGetWrPage)
	srv.Bind(rpcFetchPage, e.handleFetchPage)
	srv.Bind(rpcInvalidate, e.handleInvalidatePage)
}

// pageSize as an int, for slice-length math.
var pageSizeInt = int(pagedir.PageSize)

// OnReadFault implements spec.md §4.5.2. It does not hold page_lock while
// fetching the page (whether that fetch is a local service call or a
// GET_RD_PAGE round trip to the manager): page_lock is only taken for the
// local region mutation once the real bytes are in hand, so a concurrent
// incoming FETCH_PG/INVALIDATE_PG for this same page never has to wait on
// a lock this node is holding across a blocking RPC of its own (see
// DESIGN.md Open Question 4).
func (e *Engine) OnReadFault(pageAddr uintptr) error {
	var page []byte
	if e.isManager() {
		p, err := e.serviceGetRdPage(pageAddr, e.selfID, true)
		if err != nil {
			return err
		}
		page = p
	} else {
		payload := rpc.JoinFields(uint64(pageAddr), uint64(e.selfID))
		reply := e.client.CallBlocking(e.managerID, rpcGetRdPage, []byte(payload))
		p, err := rpc.DecodePage(string(reply), pageSizeInt)
		if err != nil {
			return err
		}
		page = p
	}

	e.dir.PageLock(pageAddr)
	defer e.dir.PageUnlock(pageAddr)

	// WritePage installs the real bytes via a single UFFDIO_COPY when the
	// page was still missing, resolving the pending fault and waking the
	// faulting thread against the fetched data in one atomic step — never
	// against a zero page. Only once real data is resident does SetMode
	// narrow it down to READ (write-protect only; no further population).
	if err := e.region.WritePage(pageAddr, page); err != nil {
		return err
	}
	if err := e.region.SetMode(pageAddr, 1, pagedir.ModeRead); err != nil {
		return err
	}

	e.dir.Info(pageAddr).Access = pagedir.ModeRead
	return nil
}

// OnWriteFault implements spec.md §4.5.3. Same lock-scoping rule as
// OnReadFault: no page_lock held across the GET_WR_PAGE round trip (or the
// local self-service call), only around the final local mutation.
func (e *Engine) OnWriteFault(pageAddr uintptr) error {
	var page []byte
	var err error
	if e.isManager() {
		page, err = e.serviceGetWrPage(pageAddr, e.selfID)
	} else {
		payload := rpc.JoinFields(uint64(pageAddr), uint64(e.selfID))
		reply := e.client.CallBlocking(e.managerID, rpcGetWrPage, []byte(payload))
		if len(reply) > 0 {
			page, err = rpc.DecodePage(string(reply), pageSizeInt)
		}
	}
	if err != nil {
		return err
	}

	e.dir.PageLock(pageAddr)
	defer e.dir.PageUnlock(pageAddr)

	// len(page) == 0 only when this node was already the directory-owner
	// (serviceGetWrPage's "owner == reqNode" case): the page is already
	// resident locally (it was only demoted to READ, never evicted), so
	// there are no new bytes to install — just clear write-protect. When
	// there are fetched bytes, WritePage installs them atomically via
	// UFFDIO_COPY if the page was missing, again never waking the fault
	// against zeros.
	if len(page) > 0 {
		if err := e.region.WritePage(pageAddr, page); err != nil {
			return err
		}
	} else if err := e.region.SetMode(pageAddr, 1, pagedir.ModeWrite); err != nil {
		return err
	}

	e.dir.Info(pageAddr).Access = pagedir.ModeWrite
	return nil
}

// fetchLocal reads the current node's own page bytes, momentarily raising
// local mode to READ if necessary, then leaves the page in targetMode.
// Used both by the manager's self-service path and by handleFetchPage.
func (e *Engine) fetchLocal(pageAddr uintptr, targetMode pagedir.AccessMode) ([]byte, error) {
	if err := e.region.SetMode(pageAddr, 1, pagedir.ModeRead); err != nil {
		return nil, err
	}
	page, err := e.region.ReadPage(pageAddr)
	if err != nil {
		return nil, err
	}
	if err := e.region.SetMode(pageAddr, 1, targetMode); err != nil {
		return nil, err
	}
	return page, nil
}

// serviceGetRdPage implements spec.md §4.5.4. localCall is true when the
// manager is servicing its own fault in-process (no RPC round trip);
// reqNode is always the requester's node id either way. page_lock is held
// for the whole call, including the FETCH_PG round trip to the owner: the
// only thing that ever contends for it is another request for this same
// page (serialized by design), since OnReadFault/OnWriteFault never hold
// it while blocked on a call of their own (see DESIGN.md Open Question 4).
func (e *Engine) serviceGetRdPage(pageAddr uintptr, reqNode int, localCall bool) ([]byte, error) {
	e.dir.PageLock(pageAddr)
	defer e.dir.PageUnlock(pageAddr)
	e.dir.InfoLock(pageAddr)
	defer e.dir.InfoUnlock(pageAddr)

	entry := e.dir.Info(pageAddr)
	owner := entry.Owner

	// Open Question 2 (DESIGN.md): the manager, servicing a read fault on
	// itself, joins its own copyset iff it is not the owner. For a remote
	// requester this is unconditional.
	if !(localCall && owner == e.selfID) {
		entry.Copyset[reqNode] = struct{}{}
	}

	var page []byte
	var err error
	if owner == e.selfID {
		page, err = e.fetchLocal(pageAddr, pagedir.ModeRead)
		if err == nil {
			entry.Access = pagedir.ModeRead
		}
	} else {
		reply := e.client.CallBlocking(owner, rpcFetchPage, []byte(rpc.JoinFields(uint64(pageAddr))+":"+fetchModeRead))
		page, err = rpc.DecodePage(string(reply), pageSizeInt)
	}
	return page, err
}

func (e *Engine) handleGetRdPage(payload []byte) ([]byte, error) {
	e.countRPC(rpcGetRdPage)
	fields, err := rpc.SplitFields(string(payload), 2)
	if err != nil {
		return nil, err
	}
	pageAddr := uintptr(fields[0])
	reqNode := int(fields[1])

	page, err := e.serviceGetRdPage(pageAddr, reqNode, false)
	if err != nil {
		return nil, err
	}
	return []byte(rpc.EncodePage(page)), nil
}

// serviceGetWrPage implements spec.md §4.5.5. Same page_lock-for-the-whole-
// call discipline as serviceGetRdPage, covering the FETCH_PG to the owner
// and the INVALIDATE_PG fan-out to the rest of the copyset.
func (e *Engine) serviceGetWrPage(pageAddr uintptr, reqNode int) ([]byte, error) {
	e.dir.PageLock(pageAddr)
	defer e.dir.PageUnlock(pageAddr)
	e.dir.InfoLock(pageAddr)

	entry := e.dir.Info(pageAddr)
	owner := entry.Owner
	delete(entry.Copyset, reqNode)

	invalidate := make([]int, 0, len(entry.Copyset))
	for n := range entry.Copyset {
		invalidate = append(invalidate, n)
	}

	var page []byte
	var err error
	switch {
	case owner == e.selfID:
		page, err = e.fetchLocal(pageAddr, pagedir.ModeNone)
		if err == nil {
			entry.Access = pagedir.ModeNone
		}
	case owner == reqNode:
		page = nil
	default:
		reply := e.client.CallBlocking(owner, rpcFetchPage, []byte(rpc.JoinFields(uint64(pageAddr))+":"+fetchModeNone))
		page, err = rpc.DecodePage(string(reply), pageSizeInt)
	}
	if err != nil {
		e.dir.InfoUnlock(pageAddr)
		return nil, err
	}

	for _, n := range invalidate {
		if n == e.selfID {
			// The manager is in its own copyset after a local read fault
			// on a page another node owns. It already holds page_lock
			// here, so it drops its READ copy in place instead of sending
			// itself an INVALIDATE_PG.
			if err := e.region.SetMode(pageAddr, 1, pagedir.ModeNone); err != nil {
				e.dir.InfoUnlock(pageAddr)
				return nil, dsmerr.Wrap(dsmerr.KindInvalidationFailed, "local invalidation failed", err)
			}
			entry.Access = pagedir.ModeNone
			continue
		}
		reply := e.client.CallBlocking(n, rpcInvalidate, []byte(rpc.JoinFields(uint64(pageAddr))))
		if string(reply) != rpc.ReplyOK {
			e.dir.InfoUnlock(pageAddr)
			return nil, dsmerr.New(dsmerr.KindInvalidationFailed, "invalidation target did not acknowledge")
		}
	}

	entry.Copyset = make(map[int]struct{})
	entry.Owner = reqNode
	e.dir.InfoUnlock(pageAddr)
	return page, nil
}

func (e *Engine) handleGetWrPage(payload []byte) ([]byte, error) {
	e.countRPC(rpcGetWrPage)
	fields, err := rpc.SplitFields(string(payload), 2)
	if err != nil {
		return nil, err
	}
	pageAddr := uintptr(fields[0])
	reqNode := int(fields[1])

	page, err := e.serviceGetWrPage(pageAddr, reqNode)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return []byte{}, nil
	}
	return []byte(rpc.EncodePage(page)), nil
}

// handleFetchPage implements spec.md §4.5.6, on whichever node currently
// owns the page.
func (e *Engine) handleFetchPage(payload []byte) ([]byte, error) {
	e.countRPC(rpcFetchPage)
	addr, mode, err := splitAddrMode(string(payload))
	if err != nil {
		return nil, err
	}
	pageAddr := addr

	var target pagedir.AccessMode
	switch mode {
	case fetchModeRead:
		target = pagedir.ModeRead
	case fetchModeNone:
		target = pagedir.ModeNone
	default:
		return nil, dsmerr.New(dsmerr.KindRPCProtocol, "FETCH_PG mode must be rd or none")
	}

	e.dir.PageLock(pageAddr)
	defer e.dir.PageUnlock(pageAddr)

	page, err := e.fetchLocal(pageAddr, target)
	if err != nil {
		return nil, err
	}
	e.dir.Info(pageAddr).Access = target
	return []byte(rpc.EncodePage(page)), nil
}

// handleInvalidatePage implements spec.md §4.5.7. Idempotent: a page
// already at NONE simply stays there (spec.md §8 property 6).
func (e *Engine) handleInvalidatePage(payload []byte) ([]byte, error) {
	e.countRPC(rpcInvalidate)
	fields, err := rpc.SplitFields(string(payload), 1)
	if err != nil {
		return nil, err
	}
	pageAddr := uintptr(fields[0])

	e.dir.PageLock(pageAddr)
	defer e.dir.PageUnlock(pageAddr)

	if err := e.region.SetMode(pageAddr, 1, pagedir.ModeNone); err != nil {
		return []byte(rpc.ReplyNotOK), nil
	}
	e.dir.Info(pageAddr).Access = pagedir.ModeNone
	return []byte(rpc.ReplyOK), nil
}

// splitAddrMode parses "addr:mode" where mode is the literal token "rd" or
// "none" (rpc.SplitFields assumes every field is numeric, so FETCH_PG's
// payload needs its own tiny parser).
func splitAddrMode(payload string) (uintptr, string, error) {
	idx := strings.LastIndexByte(payload, ':')
	if idx < 0 {
		return 0, "", dsmerr.New(dsmerr.KindRPCProtocol, "FETCH_PG payload must be addr:mode")
	}
	addrFields, err := rpc.SplitFields(payload[:idx], 1)
	if err != nil {
		return 0, "", err
	}
	return uintptr(addrFields[0]), payload[idx+1:], nil
}
