package paging

import (
	"log"
	"os"

	"github.com/kernelsim/pagesim/machine"
	"github.com/kernelsim/pagesim/trap"
)

// Fault kinds recorded for every resolved or rejected fault.
const (
	FaultKindDirectoryMiss = "directory_miss"
	FaultKindTableMiss     = "table_miss"
	FaultKindSpurious      = "spurious"
)

// A FaultEvent describes one page fault and how it was resolved.
type FaultEvent struct {
	Seq        uint64
	VAddr      uint32
	PDIndex    uint32
	PTIndex    uint32
	Kind       string
	TableFrame uint32
	PageFrame  uint32
	StaleEntry uint32
}

// A FaultLogger receives a FaultEvent for every fault the handler sees.
type FaultLogger interface {
	LogFault(ev FaultEvent)
}

// A HaltFunc is invoked when fault handling cannot proceed. Returning to the
// faulting code without a resident mapping would fault forever, so the
// handler's contract is resolve or halt. The default halt panics through the
// handler's logger.
type HaltFunc func(format string, args ...any)

// A FaultHandler resolves page faults against the currently active page
// table by allocating physical frames on first touch. It is registered on
// the page-fault vector of the trap dispatcher.
//
// The handler runs synchronously on the trapping thread of control, with the
// surrounding kernel guaranteeing it is never reentered.
type FaultHandler struct {
	sys  *System
	vmem MemoryView

	logger   *log.Logger
	halt     HaltFunc
	recorder FaultLogger

	seq uint64
}

// HandleException resolves one page fault and returns, so that the hardware
// retries the faulting instruction against the now-resident mapping.
func (h *FaultHandler) HandleException(_ *trap.Regs) {
	sys := h.sys
	if sys.active == nil {
		h.halt("page fault arrived with no active page table")
		return
	}

	vAddr := sys.regs.ReadFaultAddress()
	pdIndex := machine.DirectoryIndex(vAddr)
	ptIndex := machine.TableIndex(vAddr)

	h.logger.Printf("page fault at %#08x (directory %d, table %d)",
		vAddr, pdIndex, ptIndex)

	// The directory is read through its self-window, never via an identity
	// assumption: once paging is on, physical memory beyond the identity
	// region is not otherwise addressable.
	pdeAddr := machine.DirectoryWindowAddr + pdIndex*machine.EntryBytes
	pdeWord, err := h.vmem.ReadWord(pdeAddr)
	if err != nil {
		h.halt("reading directory entry %d: %v", pdIndex, err)
		return
	}

	pde := machine.Entry(pdeWord)
	if !pde.Present() {
		h.resolveDirectoryMiss(vAddr, pdIndex, ptIndex)
		return
	}

	h.resolveTableMiss(vAddr, pdIndex, ptIndex)
}

// resolveDirectoryMiss installs a fresh second-level table and the faulting
// page itself.
func (h *FaultHandler) resolveDirectoryMiss(vAddr, pdIndex, ptIndex uint32) {
	sys := h.sys

	tableFrame, err := sys.kernelPool.Allocate(1)
	if err != nil {
		// The directory entry is left absent and well-formed; a degenerate
		// mapping must never be installed.
		h.halt("allocating page table for %#08x: %v", vAddr, err)
		return
	}

	pdeAddr := machine.DirectoryWindowAddr + pdIndex*machine.EntryBytes
	pde := machine.MakeEntry(tableFrame,
		machine.EntryPresent|machine.EntryWritable)
	if err := h.vmem.WriteWord(pdeAddr, uint32(pde)); err != nil {
		h.halt("installing directory entry %d: %v", pdIndex, err)
		return
	}

	// The recursive window for this table resolves only now that its
	// directory entry is installed. Zero it through the window.
	tableBase := machine.TableWindowAddr(pdIndex)
	for i := uint32(0); i < machine.EntriesPerTable; i++ {
		addr := tableBase + i*machine.EntryBytes
		if err := h.vmem.WriteWord(addr, 0); err != nil {
			h.halt("zeroing page table %d: %v", pdIndex, err)
			return
		}
	}

	pageFrame, err := sys.processPool.Allocate(1)
	if err != nil {
		h.halt("allocating page for %#08x: %v", vAddr, err)
		return
	}

	pte := machine.MakeEntry(pageFrame,
		machine.EntryPresent|machine.EntryWritable)
	pteAddr := tableBase + ptIndex*machine.EntryBytes
	if err := h.vmem.WriteWord(pteAddr, uint32(pte)); err != nil {
		h.halt("installing table entry %d: %v", ptIndex, err)
		return
	}

	h.logger.Printf(
		"resolved directory miss: table frame %d, page frame %d",
		tableFrame, pageFrame)

	h.record(FaultEvent{
		VAddr:      vAddr,
		PDIndex:    pdIndex,
		PTIndex:    ptIndex,
		Kind:       FaultKindDirectoryMiss,
		TableFrame: tableFrame,
		PageFrame:  pageFrame,
	})
}

// resolveTableMiss installs the faulting page into an already-present
// second-level table. A fault on an entry that is already present is not a
// missing mapping but a protection violation or stale retry; resolving it is
// out of scope, so it is classified and the handler halts rather than
// silently returning into a fault loop.
func (h *FaultHandler) resolveTableMiss(vAddr, pdIndex, ptIndex uint32) {
	sys := h.sys

	pteAddr := machine.TableWindowAddr(pdIndex) + ptIndex*machine.EntryBytes
	pteWord, err := h.vmem.ReadWord(pteAddr)
	if err != nil {
		h.halt("reading table entry %d of table %d: %v", ptIndex, pdIndex, err)
		return
	}

	pte := machine.Entry(pteWord)
	if pte.Present() {
		h.record(FaultEvent{
			VAddr:      vAddr,
			PDIndex:    pdIndex,
			PTIndex:    ptIndex,
			Kind:       FaultKindSpurious,
			StaleEntry: uint32(pte),
		})
		h.halt(
			"spurious fault at %#08x: entry %#08x already present "+
				"(directory %d, table %d)",
			vAddr, uint32(pte), pdIndex, ptIndex)
		return
	}

	pageFrame, err := sys.processPool.Allocate(1)
	if err != nil {
		h.halt("allocating page for %#08x: %v", vAddr, err)
		return
	}

	newPTE := machine.MakeEntry(pageFrame,
		machine.EntryPresent|machine.EntryWritable)
	if err := h.vmem.WriteWord(pteAddr, uint32(newPTE)); err != nil {
		h.halt("installing table entry %d: %v", ptIndex, err)
		return
	}

	h.logger.Printf("resolved table miss: page frame %d", pageFrame)

	h.record(FaultEvent{
		VAddr:     vAddr,
		PDIndex:   pdIndex,
		PTIndex:   ptIndex,
		Kind:      FaultKindTableMiss,
		PageFrame: pageFrame,
	})
}

func (h *FaultHandler) record(ev FaultEvent) {
	h.seq++
	ev.Seq = h.seq

	if h.recorder != nil {
		h.recorder.LogFault(ev)
	}
}

// A FaultHandlerBuilder can build fault handlers.
type FaultHandlerBuilder struct {
	sys      *System
	vmem     MemoryView
	logger   *log.Logger
	halt     HaltFunc
	recorder FaultLogger
}

// MakeFaultHandlerBuilder creates a builder with default parameters.
func MakeFaultHandlerBuilder() FaultHandlerBuilder {
	return FaultHandlerBuilder{}
}

// WithSystem sets the paging system whose active table the handler resolves
// faults against.
func (b FaultHandlerBuilder) WithSystem(s *System) FaultHandlerBuilder {
	b.sys = s
	return b
}

// WithMemoryView sets the translated memory view used to edit paging
// structures through the recursive window.
func (b FaultHandlerBuilder) WithMemoryView(v MemoryView) FaultHandlerBuilder {
	b.vmem = v
	return b
}

// WithLogger sets the logger used for diagnostic tracing.
func (b FaultHandlerBuilder) WithLogger(l *log.Logger) FaultHandlerBuilder {
	b.logger = l
	return b
}

// WithHalt sets the function invoked when fault handling cannot proceed.
func (b FaultHandlerBuilder) WithHalt(h HaltFunc) FaultHandlerBuilder {
	b.halt = h
	return b
}

// WithFaultLogger sets the sink that receives a FaultEvent per fault.
func (b FaultHandlerBuilder) WithFaultLogger(r FaultLogger) FaultHandlerBuilder {
	b.recorder = r
	return b
}

// Build returns a newly created fault handler.
func (b FaultHandlerBuilder) Build() *FaultHandler {
	if b.sys == nil || b.vmem == nil {
		panic("fault handler requires a paging system and a memory view")
	}

	logger := b.logger
	if logger == nil {
		logger = log.New(os.Stderr, "paging: ", 0)
	}

	halt := b.halt
	if halt == nil {
		halt = logger.Panicf
	}

	return &FaultHandler{
		sys:      b.sys,
		vmem:     b.vmem,
		logger:   logger,
		halt:     halt,
		recorder: b.recorder,
	}
}
