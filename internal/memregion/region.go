// Package memregion implements the Memory Region Controller: reserving the
// shared address range and changing the access mode of pages within it.
// The controller owns no locks; callers (the coherence engine, through the
// page directory) serialize access.
package memregion

import (
	"github.com/dsmmcken/ivy-dsm/internal/pagedir"
)

// PageSize re-exports the protocol's fixed page granularity.
const PageSize = pagedir.PageSize

// Region is the controller's operation set (spec §4.1): reserve is the
// constructor of a concrete implementation and is not part of this
// interface since its signature differs per platform.
type Region interface {
	// SetMode changes the protection of count contiguous pages starting at
	// the page-aligned addr. addr is silently aligned down.
	SetMode(addr uintptr, count int, mode pagedir.AccessMode) error

	// ReadPage returns the current raw bytes of the page at addr. Caller
	// must already hold sufficient local access (READ or WRITE).
	ReadPage(addr uintptr) ([]byte, error)

	// WritePage installs data as the page's contents. It elevates the page
	// to WRITE as needed to perform the copy and leaves it in WRITE mode;
	// callers that want a different final mode issue a separate SetMode
	// call afterward (this is the spec's "restores the desired mode
	// (caller-supplied via separate set_mode)" clause).
	WritePage(addr uintptr, data []byte) error

	Base() uintptr
	Size() uintptr
}
