//go:build !linux

package memregion

import (
	"github.com/dsmmcken/ivy-dsm/internal/dsmerr"
	"github.com/dsmmcken/ivy-dsm/internal/pagedir"
)

// LinuxRegion does not exist on this platform. The type stub below lets
// callers that reference the type and Reserve (internal/workload's
// Bootstrap) still compile; Reserve always fails.
type LinuxRegion struct{}

func Reserve(base, size uintptr, isManager bool) (*LinuxRegion, error) {
	return nil, dsmerr.New(dsmerr.KindOSMap, "userfaultfd-backed memory regions require linux")
}

func (r *LinuxRegion) Base() uintptr { return 0 }
func (r *LinuxRegion) Size() uintptr { return 0 }
func (r *LinuxRegion) FaultFD() int  { return -1 }

func (r *LinuxRegion) SetMode(addr uintptr, count int, mode pagedir.AccessMode) error {
	return dsmerr.New(dsmerr.KindOSMap, "unsupported platform")
}

func (r *LinuxRegion) ReadPage(addr uintptr) ([]byte, error) {
	return nil, dsmerr.New(dsmerr.KindOSMap, "unsupported platform")
}

func (r *LinuxRegion) WritePage(addr uintptr, data []byte) error {
	return dsmerr.New(dsmerr.KindOSMap, "unsupported platform")
}

func (r *LinuxRegion) Bytes() []byte { return nil }
