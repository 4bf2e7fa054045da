package workload

import (
	"encoding/binary"

	"github.com/dsmmcken/ivy-dsm/internal/coherence"
	"github.com/dsmmcken/ivy-dsm/internal/memregion"
	"github.com/dsmmcken/ivy-dsm/internal/pagedir"
)

// rawBytes is implemented by region types that expose their whole backing
// slice directly — the real Linux mapping, where indexing the slice raises
// genuine userfaultfd events the interceptor already handles. memregion.Fake
// does not implement it: workload code running against Fake (tests only)
// takes the explicit path below, which does exactly what a real fault would
// do before letting the access through.
type rawBytes interface {
	Bytes() []byte
}

// Memory is the application-level view of the shared region: plain
// byte-range reads/writes addressed by absolute virtual address, the same
// addresses the coherence engine and page directory use.
type Memory struct {
	region memregion.Region
	engine *coherence.Engine
	raw    []byte
}

func NewMemory(region memregion.Region, engine *coherence.Engine) *Memory {
	m := &Memory{region: region, engine: engine}
	if rb, ok := region.(rawBytes); ok {
		m.raw = rb.Bytes()
	}
	return m
}

// ensurePage makes addr's page locally accessible for the given direction
// before the caller touches it. On the real mapping this is a no-op: the
// kernel raises the fault itself, synchronously, the moment the code below
// indexes m.raw. Against memregion.Fake (no kernel, no fault delivery) it
// drives the same engine entry points the interceptor would have called.
func (m *Memory) ensurePage(addr uintptr, write bool) error {
	if m.raw != nil {
		return nil
	}
	access := m.engine.LocalAccess(addr)
	switch {
	case write && access != pagedir.ModeWrite:
		return m.engine.OnWriteFault(pagedir.AlignDown(addr))
	case !write && access == pagedir.ModeNone:
		return m.engine.OnReadFault(pagedir.AlignDown(addr))
	default:
		return nil
	}
}

func (m *Memory) touchRange(addr uintptr, n int, write bool) error {
	end := addr + uintptr(n)
	for p := pagedir.AlignDown(addr); p < end; p += pagedir.PageSize {
		if err := m.ensurePage(p, write); err != nil {
			return err
		}
	}
	return nil
}

// Read copies n bytes starting at addr out of the shared region.
func (m *Memory) Read(addr uintptr, n int) ([]byte, error) {
	if err := m.touchRange(addr, n, false); err != nil {
		return nil, err
	}
	if m.raw != nil {
		off := addr - m.region.Base()
		out := make([]byte, n)
		copy(out, m.raw[off:off+uintptr(n)])
		return out, nil
	}

	out := make([]byte, 0, n)
	for remaining, cur := n, addr; remaining > 0; {
		page, err := m.region.ReadPage(pagedir.AlignDown(cur))
		if err != nil {
			return nil, err
		}
		off := cur - pagedir.AlignDown(cur)
		take := int(pagedir.PageSize - off)
		if take > remaining {
			take = remaining
		}
		out = append(out, page[off:off+uintptr(take)]...)
		cur += uintptr(take)
		remaining -= take
	}
	return out, nil
}

// Write copies data into the shared region starting at addr.
func (m *Memory) Write(addr uintptr, data []byte) error {
	if err := m.touchRange(addr, len(data), true); err != nil {
		return err
	}
	if m.raw != nil {
		off := addr - m.region.Base()
		copy(m.raw[off:off+uintptr(len(data))], data)
		return nil
	}

	for remaining, cur, src := len(data), addr, data; remaining > 0; {
		pageAddr := pagedir.AlignDown(cur)
		page, err := m.region.ReadPage(pageAddr)
		if err != nil {
			return err
		}
		off := cur - pageAddr
		take := int(pagedir.PageSize - off)
		if take > remaining {
			take = remaining
		}
		copy(page[off:off+uintptr(take)], src[:take])
		if err := m.region.WritePage(pageAddr, page); err != nil {
			return err
		}
		cur += uintptr(take)
		src = src[take:]
		remaining -= take
	}
	return nil
}

func (m *Memory) ReadByte(addr uintptr) (byte, error) {
	b, err := m.Read(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *Memory) WriteByte(addr uintptr, v byte) error {
	return m.Write(addr, []byte{v})
}

func (m *Memory) ReadUint64(addr uintptr) (uint64, error) {
	b, err := m.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *Memory) WriteUint64(addr uintptr, v uint64) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return m.Write(addr, b)
}

func (m *Memory) ReadUint32(addr uintptr) (uint32, error) {
	b, err := m.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *Memory) WriteUint32(addr uintptr, v uint32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return m.Write(addr, b)
}
