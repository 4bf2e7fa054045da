// Package fault implements the Fault Interceptor (spec.md §4.2): it turns
// a raw memory-access trap on the reserved range into a synchronous call
// into the coherence engine, on the faulting goroutine's own stack.
package fault

// Engine is the coherence engine's fault-facing surface. Both methods take
// a page-aligned address and run synchronously on the faulting thread;
// returning an error is fatal (spec.md §4.2: "a failed coherence
// transaction is fatal").
type Engine interface {
	OnReadFault(pageAddr uintptr) error
	OnWriteFault(pageAddr uintptr) error
}

// uffdMsgSize is sizeof(struct uffd_msg): 1 byte event, 1 reserved, 2
// reserved, 4 reserved, then the pagefault union (8 bytes flags, 8 bytes
// address, 8 bytes feat) — 32 bytes total, identical on every arch uffd
// supports.
const uffdMsgSize = 32

const (
	uffdEventPagefault = 0x12

	uffdPagefaultFlagWrite = 1 << 0
	uffdPagefaultFlagWP    = 1 << 1
)

// parsedFault is one decoded uffd_msg pagefault event.
type parsedFault struct {
	valid bool
	addr  uintptr
	write bool
}

// parseUffdMsg decodes one fixed-size uffd_msg record. It is pure so the
// dispatch logic that consumes it can be unit-tested without a real
// userfaultfd descriptor: msg[0] is the event type, msg[8:16] the
// pagefault flags, msg[16:24] the faulting address — the layout of
// linux/userfaultfd.h's struct uffd_msg.
func parseUffdMsg(msg []byte) parsedFault {
	if len(msg) != uffdMsgSize {
		return parsedFault{}
	}
	if msg[0] != uffdEventPagefault {
		return parsedFault{}
	}
	flags := leUint64(msg[8:16])
	addr := leUint64(msg[16:24])
	write := flags&(uffdPagefaultFlagWrite|uffdPagefaultFlagWP) != 0
	return parsedFault{valid: true, addr: uintptr(addr), write: write}
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
