// Package trap implements the exception dispatch mechanism of the simulated
// machine. Low-level fault stubs deposit a register snapshot and an exception
// number; the dispatcher forwards the snapshot to whichever handler is
// registered for that number.
package trap

import (
	"log"
	"os"
)

// TableSize is the number of processor-defined exception vectors.
const TableSize = 32

// PageFaultVector is the exception vector raised on a translation miss.
const PageFaultVector uint32 = 14

// Regs is the saved-register snapshot that the low-level fault stub builds
// before entering the dispatcher.
type Regs struct {
	GS, FS, ES, DS                         uint32
	EDI, ESI, EBP, ESP, EBX, EDX, ECX, EAX uint32
	IntNo, ErrCode                         uint32
	EIP, CS, EFlags, UserESP, SS           uint32
}

// A Handler resolves one exception. Handlers run synchronously on the
// trapping thread of control and must not be reentered.
type Handler interface {
	HandleException(r *Regs)
}

// A Dispatcher routes exceptions to registered handlers.
type Dispatcher struct {
	handlers [TableSize]Handler
	logger   *log.Logger
}

// NewDispatcher creates a dispatcher with an empty handler table. If logger
// is nil, a default logger writing to stderr is used.
func NewDispatcher(logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(os.Stderr, "trap: ", 0)
	}

	return &Dispatcher{logger: logger}
}

// Register installs a handler for an exception vector, replacing any handler
// already registered there.
func (d *Dispatcher) Register(vector uint32, h Handler) {
	if vector >= TableSize {
		d.logger.Panicf("exception vector %d out of range", vector)
	}

	d.handlers[vector] = h
	d.logger.Printf("installed exception handler at vector %d", vector)
}

// Deregister removes the handler for an exception vector.
func (d *Dispatcher) Deregister(vector uint32) {
	if vector >= TableSize {
		d.logger.Panicf("exception vector %d out of range", vector)
	}

	d.handlers[vector] = nil
	d.logger.Printf("removed exception handler at vector %d", vector)
}

// Dispatch routes a trapped exception to its handler. An exception with no
// registered handler cannot be resolved, so dispatch halts.
func (d *Dispatcher) Dispatch(r *Regs) {
	if r.IntNo >= TableSize {
		d.logger.Panicf("exception vector %d out of range", r.IntNo)
	}

	h := d.handlers[r.IntNo]
	if h == nil {
		d.logger.Panicf("no handler registered for exception vector %d",
			r.IntNo)
	}

	h.HandleException(r)
}
