package memregion

import (
	"github.com/dsmmcken/ivy-dsm/internal/dsmerr"
	"github.com/dsmmcken/ivy-dsm/internal/pagedir"
)

// Fake is a pure-Go Region with no OS dependency: plain byte slices keyed
// by page index, and a recorded mode per page. It exists so the coherence
// engine's unit tests exercise the exact same Region interface the real
// mmap/userfaultfd-backed implementation does, without needing Linux or
// elevated privileges to run.
type Fake struct {
	base  uintptr
	size  uintptr
	pages map[uintptr][]byte
	modes map[uintptr]pagedir.AccessMode

	// SetModeCalls and WritePageCalls record invocations for assertions in
	// tests that care about call counts (e.g. "fetch exactly once").
	SetModeCalls   []ModeCall
	WritePageCalls int
}

type ModeCall struct {
	Addr  uintptr
	Count int
	Mode  pagedir.AccessMode
}

func NewFake(base, size uintptr) *Fake {
	return &Fake{
		base:  pagedir.AlignDown(base),
		size:  pagedir.AlignDownSize(size),
		pages: make(map[uintptr][]byte),
		modes: make(map[uintptr]pagedir.AccessMode),
	}
}

func (f *Fake) bounds(addr uintptr, count int) error {
	addr = pagedir.AlignDown(addr)
	end := addr + uintptr(count)*PageSize
	if addr < f.base || end > f.base+f.size {
		return dsmerr.New(dsmerr.KindBadState, "fake region: address out of range")
	}
	return nil
}

func (f *Fake) SetMode(addr uintptr, count int, mode pagedir.AccessMode) error {
	addr = pagedir.AlignDown(addr)
	if err := f.bounds(addr, count); err != nil {
		return err
	}
	f.SetModeCalls = append(f.SetModeCalls, ModeCall{Addr: addr, Count: count, Mode: mode})
	for i := 0; i < count; i++ {
		p := addr + uintptr(i)*PageSize
		f.modes[p] = mode
		if _, ok := f.pages[p]; !ok {
			f.pages[p] = make([]byte, PageSize)
		}
	}
	return nil
}

func (f *Fake) ReadPage(addr uintptr) ([]byte, error) {
	addr = pagedir.AlignDown(addr)
	if err := f.bounds(addr, 1); err != nil {
		return nil, err
	}
	buf := make([]byte, PageSize)
	copy(buf, f.pages[addr])
	return buf, nil
}

func (f *Fake) WritePage(addr uintptr, data []byte) error {
	addr = pagedir.AlignDown(addr)
	if err := f.bounds(addr, 1); err != nil {
		return err
	}
	if len(data) != int(PageSize) {
		return dsmerr.New(dsmerr.KindBadState, "fake region: write_page payload is not one page")
	}
	f.WritePageCalls++
	buf := make([]byte, PageSize)
	copy(buf, data)
	f.pages[addr] = buf
	f.modes[addr] = pagedir.ModeWrite
	return nil
}

func (f *Fake) Base() uintptr { return f.base }
func (f *Fake) Size() uintptr { return f.size }

// ModeOf is a test-only accessor for the mode the fake last recorded for a
// page, used to assert protection transitions without a real OS mapping.
func (f *Fake) ModeOf(addr uintptr) pagedir.AccessMode {
	return f.modes[pagedir.AlignDown(addr)]
}
