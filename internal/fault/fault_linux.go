//go:build linux

package fault

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/dsmmcken/ivy-dsm/internal/dsmerr"
	"github.com/dsmmcken/ivy-dsm/internal/memregion"
	"github.com/dsmmcken/ivy-dsm/internal/pagedir"
)

// installed enforces the process-wide singleton: only one Interceptor may
// ever exist, mirroring the reference's single process-global handler
// pointer (spec.md §9, "enforced by construction").
var installed atomic.Bool

// maxBatch bounds how many uffd_msg records are read per poll wakeup.
const maxBatch = 16

// pollTimeoutMs matches the teacher's uffd poll loop: short enough to
// notice Stop promptly, long enough not to spin.
const pollTimeoutMs = 100

// Interceptor polls a FaultSource's userfaultfd descriptor and dispatches
// decoded faults to an Engine. Workers run dispatch concurrently — "distinct
// faults on different pages proceed in parallel" (spec.md §4.2) — while the
// engine's own per-page page_lock serializes same-page faults.
type Interceptor struct {
	source  memregion.FaultSource
	engine  Engine
	log     *logrus.Entry
	workers int

	stop chan struct{}
	done chan struct{}
}

// New installs the process-wide fault interceptor for source/engine. A
// second call, in this process or any other Interceptor value, fails with
// DOUBLE_INSTALL.
func New(source memregion.FaultSource, engine Engine, log *logrus.Entry, workers int) (*Interceptor, error) {
	if !installed.CompareAndSwap(false, true) {
		return nil, dsmerr.New(dsmerr.KindDoubleInstall, "a fault interceptor is already installed in this process")
	}
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Interceptor{
		source:  source,
		engine:  engine,
		log:     log,
		workers: workers,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the poll loop and worker pool in the background. It
// returns immediately; call Stop to shut down.
func (ic *Interceptor) Start() {
	faults := make(chan parsedFault, ic.workers*4)
	go ic.pollLoop(faults)
	for i := 0; i < ic.workers; i++ {
		go ic.worker(faults)
	}
}

// Stop halts the poll loop and releases the process-wide singleton slot.
func (ic *Interceptor) Stop() {
	close(ic.stop)
	<-ic.done
	installed.Store(false)
}

func (ic *Interceptor) pollLoop(out chan<- parsedFault) {
	defer close(out)
	defer close(ic.done)

	var buf [uffdMsgSize * maxBatch]byte
	fd := ic.source.FaultFD()

	for {
		select {
		case <-ic.stop:
			return
		default:
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			ic.log.WithError(err).Fatal("fault interceptor: poll failed")
		}
		if n == 0 {
			continue
		}

		nr, err := unix.Read(fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			ic.log.WithError(err).Fatal("fault interceptor: read uffd fd failed")
		}

		count := nr / uffdMsgSize
		for i := 0; i < count; i++ {
			pf := parseUffdMsg(buf[i*uffdMsgSize : (i+1)*uffdMsgSize])
			if !pf.valid {
				continue
			}
			if pf.addr < ic.source.Base() || pf.addr >= ic.source.Base()+ic.source.Size() {
				// Outside the reserved range: the reference re-raises the
				// trap, terminating the process. There is no signal to
				// re-raise here, so this is the closest equivalent.
				ic.log.WithField("addr", pf.addr).Fatal("fault interceptor: fault outside reserved range")
			}
			select {
			case out <- pf:
			case <-ic.stop:
				return
			}
		}
	}
}

func (ic *Interceptor) worker(in <-chan parsedFault) {
	for pf := range in {
		pageAddr := pagedir.AlignDown(pf.addr)
		var err error
		if pf.write {
			err = ic.engine.OnWriteFault(pageAddr)
		} else {
			err = ic.engine.OnReadFault(pageAddr)
		}
		if err != nil {
			ic.log.WithError(err).WithField("addr", pageAddr).Fatal("fault interceptor: coherence transaction failed")
		}
	}
}
