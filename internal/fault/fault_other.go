//go:build !linux

package fault

import (
	"github.com/sirupsen/logrus"

	"github.com/dsmmcken/ivy-dsm/internal/dsmerr"
	"github.com/dsmmcken/ivy-dsm/internal/memregion"
)

// Interceptor stub: userfaultfd-backed fault interception requires Linux.
type Interceptor struct{}

func New(source memregion.FaultSource, engine Engine, log *logrus.Entry, workers int) (*Interceptor, error) {
	return nil, dsmerr.New(dsmerr.KindOSSignal, "fault interception requires linux")
}

func (ic *Interceptor) Start() {}
func (ic *Interceptor) Stop()  {}
