//go:build linux

package memregion

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dsmmcken/ivy-dsm/internal/dsmerr"
	"github.com/dsmmcken/ivy-dsm/internal/pagedir"
)

// userfaultfd ioctl numbers, computed by hand from the kernel UAPI structs
// the same way the teacher's VM layer derived UFFDIO_COPY/UFFDIO_ZEROPAGE
// (see uffd ioctl numbers for amd64 in the teacher's uffd code): direction
// (2 bits) | size (14 bits) | type (8 bits) | nr (8 bits).
const (
	_UFFDIO_API          = 0xc018aa3f // _IOWR(0xAA, 0x3f, struct uffdio_api)      [24 bytes]
	_UFFDIO_REGISTER     = 0xc020aa00 // _IOWR(0xAA, 0x00, struct uffdio_register) [32 bytes]
	_UFFDIO_UNREGISTER   = 0x8010aa01 // _IOR (0xAA, 0x01, struct uffdio_range)    [16 bytes]
	_UFFDIO_COPY         = 0xc028aa03 // _IOWR(0xAA, 0x03, struct uffdio_copy)     [40 bytes]
	_UFFDIO_ZEROPAGE     = 0xc020aa04 // _IOWR(0xAA, 0x04, struct uffdio_zeropage) [32 bytes]
	_UFFDIO_WRITEPROTECT = 0xc018aa06 // _IOWR(0xAA, 0x06, struct uffdio_writeprotect) [24 bytes]

	_UFFD_API = 0xAA

	_UFFD_FEATURE_PAGEFAULT_FLAG_WP = 1 << 0

	_UFFDIO_REGISTER_MODE_MISSING = 1 << 0
	_UFFDIO_REGISTER_MODE_WP      = 1 << 1

	_UFFDIO_WRITEPROTECT_MODE_WP = 1 << 0

	_UFFD_EVENT_PAGEFAULT = 0x12

	_UFFD_PAGEFAULT_FLAG_WRITE = 1 << 0
	_UFFD_PAGEFAULT_FLAG_WP    = 1 << 1
)

// uffdMsgSize is sizeof(struct uffd_msg) on every arch (32 bytes, packed).
const uffdMsgSize = 32

type uffdioAPI struct {
	api      uint64
	features uint64
	ioctls   uint64 // out
}

var _ [24]byte = [unsafe.Sizeof(uffdioAPI{})]byte{}

type uffdioRange struct {
	start uint64
	length uint64
}

type uffdioRegister struct {
	rng    uffdioRange
	mode   uint64
	ioctls uint64 // out
}

var _ [32]byte = [unsafe.Sizeof(uffdioRegister{})]byte{}

type uffdioCopy struct {
	dst  uint64
	src  uint64
	len  uint64
	mode uint64
	copy int64 // out
}

var _ [40]byte = [unsafe.Sizeof(uffdioCopy{})]byte{}

type uffdioZeropage struct {
	rng      uffdioRange
	mode     uint64
	zeropage int64 // out
}

var _ [32]byte = [unsafe.Sizeof(uffdioZeropage{})]byte{}

type uffdioWriteprotect struct {
	rng  uffdioRange
	mode uint64
}

var _ [24]byte = [unsafe.Sizeof(uffdioWriteprotect{})]byte{}

// LinuxRegion is the real Memory Region Controller: a fixed-address
// anonymous mapping whose page residency and write-protection are driven
// entirely through userfaultfd ioctls. A plain mprotect can't be layered
// on top of it: the VMA has to stay PROT_READ|PROT_WRITE for uffd's
// missing-page faults to fire at all, so "access mode" below is realized
// as (a) present/absent, toggled with UFFDIO_COPY/ZEROPAGE and
// MADV_DONTNEED, and (b) write-protected/not, toggled with
// UFFDIO_WRITEPROTECT.
type LinuxRegion struct {
	base uintptr
	size uintptr
	data []byte
	fd   int

	mu        sync.Mutex // guards populated; ioctls themselves are already serialized by the engine's page_lock
	populated map[uintptr]bool
}

// Reserve maps size bytes (rounded down to PageSize) at the fixed address
// base, registers the range with userfaultfd in missing+write-protect
// mode, and returns the controller. If isManager is true the whole region
// is eagerly populated and left writable, matching the spec's "the manager
// starts as owner of every page with READ-WRITE on the underlying mapping
// but logical access NONE until first fault" — the manager's own local
// reads/writes never trap; only remote requests reach it via RPC.
func Reserve(base, size uintptr, isManager bool) (*LinuxRegion, error) {
	size = pagedir.AlignDownSize(size)
	if size == 0 {
		return nil, dsmerr.New(dsmerr.KindOSMap, "region size rounds down to zero pages")
	}
	base = pagedir.AlignDown(base)

	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, base, size,
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		uintptr(unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED),
		^uintptr(0), 0)
	if errno != 0 {
		return nil, dsmerr.Wrap(dsmerr.KindOSMap, "mmap shared region", errno)
	}
	if addr != base {
		unix.Syscall(unix.SYS_MUNMAP, addr, size, 0)
		return nil, dsmerr.New(dsmerr.KindOSMap, "kernel did not honor MAP_FIXED base address")
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)

	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, uintptr(unix.O_CLOEXEC|unix.O_NONBLOCK), 0, 0)
	if errno != 0 {
		unix.Syscall(unix.SYS_MUNMAP, addr, size, 0)
		return nil, dsmerr.Wrap(dsmerr.KindOSSignal, "userfaultfd", errno)
	}

	api := uffdioAPI{api: _UFFD_API, features: _UFFD_FEATURE_PAGEFAULT_FLAG_WP}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, _UFFDIO_API, uintptr(unsafe.Pointer(&api))); errno != 0 {
		unix.Close(int(fd))
		unix.Syscall(unix.SYS_MUNMAP, addr, size, 0)
		return nil, dsmerr.Wrap(dsmerr.KindOSSignal, "UFFDIO_API", errno)
	}

	reg := uffdioRegister{
		rng:  uffdioRange{start: uint64(addr), length: uint64(size)},
		mode: _UFFDIO_REGISTER_MODE_MISSING | _UFFDIO_REGISTER_MODE_WP,
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, _UFFDIO_REGISTER, uintptr(unsafe.Pointer(&reg))); errno != 0 {
		unix.Close(int(fd))
		unix.Syscall(unix.SYS_MUNMAP, addr, size, 0)
		return nil, dsmerr.Wrap(dsmerr.KindOSSignal, "UFFDIO_REGISTER", errno)
	}

	r := &LinuxRegion{
		base:      addr,
		size:      size,
		data:      data,
		fd:        int(fd),
		populated: make(map[uintptr]bool),
	}

	if isManager {
		if err := r.SetMode(addr, int(size/PageSize), pagedir.ModeWrite); err != nil {
			r.Close()
			return nil, err
		}
	}

	return r, nil
}

func (r *LinuxRegion) Base() uintptr  { return r.base }
func (r *LinuxRegion) Size() uintptr  { return r.size }
func (r *LinuxRegion) FaultFD() int   { return r.fd }

// Bytes exposes the whole mapped region directly. Workload code indexes
// into it like ordinary memory; a touch on a NONE or write-protected page
// raises a genuine userfaultfd event that the fault interceptor, running
// on its own goroutines, resolves synchronously before the access
// completes — no explicit call into the coherence engine is needed here.
func (r *LinuxRegion) Bytes() []byte {
	return r.data
}

// Close tears down the mapping and the uffd fd. Used by tests and by
// orderly (non-crash) process shutdown.
func (r *LinuxRegion) Close() error {
	unix.Close(r.fd)
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, r.base, r.size, 0)
	if errno != 0 {
		return dsmerr.Wrap(dsmerr.KindOSMap, "munmap shared region", errno)
	}
	return nil
}

func (r *LinuxRegion) offsetSlice(addr uintptr, length uintptr) []byte {
	off := addr - r.base
	return r.data[off : off+length]
}

// ensurePresent zero-installs any page in [addr, addr+count*PageSize) that
// has never been populated. Real bytes, when there are any to install,
// arrive through WritePage instead — this only guarantees the page exists
// so a write-protect toggle or a raw copy() has something to operate on.
func (r *LinuxRegion) ensurePresent(addr uintptr, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < count; i++ {
		p := addr + uintptr(i)*PageSize
		if r.populated[p] {
			continue
		}
		zp := uffdioZeropage{rng: uffdioRange{start: uint64(p), length: uint64(PageSize)}}
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(r.fd), _UFFDIO_ZEROPAGE, uintptr(unsafe.Pointer(&zp)))
		if errno != 0 && errno != unix.EEXIST {
			return dsmerr.Wrap(dsmerr.KindOSProt, "UFFDIO_ZEROPAGE", errno)
		}
		r.populated[p] = true
	}
	return nil
}

func (r *LinuxRegion) setWriteProtect(addr uintptr, count int, wp bool) error {
	var mode uint64
	if wp {
		mode = _UFFDIO_WRITEPROTECT_MODE_WP
	}
	wpReq := uffdioWriteprotect{
		rng:  uffdioRange{start: uint64(addr), length: uint64(uintptr(count) * PageSize)},
		mode: mode,
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(r.fd), _UFFDIO_WRITEPROTECT, uintptr(unsafe.Pointer(&wpReq)))
	if errno != 0 {
		return dsmerr.Wrap(dsmerr.KindOSProt, "UFFDIO_WRITEPROTECT", errno)
	}
	return nil
}

// evict returns pages to the missing state via MADV_DONTNEED so the next
// access of any kind — read or write — raises a fresh missing-page fault.
// This is how NONE is realized: invalidated bytes are worthless anyway
// since the canonical copy lives elsewhere, so there is nothing to save.
func (r *LinuxRegion) evict(addr uintptr, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	length := uintptr(count) * PageSize
	if err := unix.Madvise(r.offsetSlice(addr, length), unix.MADV_DONTNEED); err != nil {
		return dsmerr.Wrap(dsmerr.KindOSProt, "MADV_DONTNEED", err)
	}
	for i := 0; i < count; i++ {
		delete(r.populated, addr+uintptr(i)*PageSize)
	}
	return nil
}

// SetMode realizes NONE/READ/WRITE as described on LinuxRegion.
func (r *LinuxRegion) SetMode(addr uintptr, count int, mode pagedir.AccessMode) error {
	addr = pagedir.AlignDown(addr)
	switch mode {
	case pagedir.ModeNone:
		return r.evict(addr, count)
	case pagedir.ModeRead:
		if err := r.ensurePresent(addr, count); err != nil {
			return err
		}
		return r.setWriteProtect(addr, count, true)
	case pagedir.ModeWrite:
		if err := r.ensurePresent(addr, count); err != nil {
			return err
		}
		return r.setWriteProtect(addr, count, false)
	default:
		return dsmerr.New(dsmerr.KindBadState, "unknown access mode")
	}
}

func (r *LinuxRegion) ReadPage(addr uintptr) ([]byte, error) {
	addr = pagedir.AlignDown(addr)
	buf := make([]byte, PageSize)
	copy(buf, r.offsetSlice(addr, PageSize))
	return buf, nil
}

// WritePage installs data via UFFDIO_COPY if the page has never been
// populated (resolving a pending missing-fault and waking the faulter in
// one step), or via a plain copy after clearing write-protect otherwise.
// Either way the page is left in WRITE mode; the caller downgrades with a
// separate SetMode call if a different final mode is wanted.
func (r *LinuxRegion) WritePage(addr uintptr, data []byte) error {
	addr = pagedir.AlignDown(addr)
	if uintptr(len(data)) != PageSize {
		return dsmerr.New(dsmerr.KindBadState, "write_page payload is not one page")
	}

	r.mu.Lock()
	already := r.populated[addr]
	r.mu.Unlock()

	if !already {
		cp := uffdioCopy{
			dst: uint64(addr),
			src: uint64(uintptr(unsafe.Pointer(&data[0]))),
			len: uint64(PageSize),
		}
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(r.fd), _UFFDIO_COPY, uintptr(unsafe.Pointer(&cp)))
		if errno != 0 && errno != unix.EEXIST {
			return dsmerr.Wrap(dsmerr.KindOSProt, "UFFDIO_COPY", errno)
		}
		r.mu.Lock()
		r.populated[addr] = true
		r.mu.Unlock()
		return nil
	}

	if err := r.setWriteProtect(addr, 1, false); err != nil {
		return err
	}
	copy(r.offsetSlice(addr, PageSize), data)
	return nil
}
