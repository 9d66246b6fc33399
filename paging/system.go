// Package paging implements the virtual-memory core of the simulated kernel:
// construction and activation of the hardware page table, and the page-fault
// handler that performs on-demand frame allocation.
package paging

import (
	"log"
	"os"
)

// A FramePool hands out physical page-frame numbers.
type FramePool interface {
	Allocate(count uint32) (uint32, error)
}

// A RegisterInterface is the narrow slice of the machine's register file that
// the paging core touches.
type RegisterInterface interface {
	WritePageTableBase(pAddr uint32)
	EnablePaging()
	ReadFaultAddress() uint32
}

// A PhysMemory provides word access to raw physical memory. It is valid only
// while paging is off, or within the identity-mapped kernel region.
type PhysMemory interface {
	ReadWord(addr uint32) (uint32, error)
	WriteWord(addr, val uint32) error
}

// A MemoryView provides word access through the active translation. It is
// how the fault handler edits paging structures once paging is on.
type MemoryView interface {
	ReadWord(vAddr uint32) (uint32, error)
	WriteWord(vAddr, val uint32) error
}

// A System is the process-wide paging state: the frame pools every page
// table allocates from, the size of the shared kernel region, the currently
// active page table, and the paging-enabled flag. It is initialized once at
// boot, before any page table is constructed, and never torn down.
type System struct {
	kernelPool  FramePool
	processPool FramePool
	sharedSize  uint32

	regs RegisterInterface
	phys PhysMemory

	active  *PageTable
	enabled bool

	logger *log.Logger
}

// Active returns the currently active page table, or nil before the first
// load.
func (s *System) Active() *PageTable {
	return s.active
}

// Enabled reports whether paging has been turned on.
func (s *System) Enabled() bool {
	return s.enabled
}

// SharedSize returns the configured size of the shared kernel region in
// bytes.
func (s *System) SharedSize() uint32 {
	return s.sharedSize
}

// EnablePaging sets the processor's paging-enable bit and marks the system
// as paging-enabled. The transition is one-way and idempotent.
func (s *System) EnablePaging() {
	s.regs.EnablePaging()
	s.enabled = true
	s.logger.Printf("enabled paging")
}

// A Builder can build paging systems.
type Builder struct {
	kernelPool  FramePool
	processPool FramePool
	sharedSize  uint32
	regs        RegisterInterface
	phys        PhysMemory
	logger      *log.Logger
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{}
}

// WithKernelPool sets the pool that backs paging structures. Frames for page
// directories and second-level tables come from here.
func (b Builder) WithKernelPool(p FramePool) Builder {
	b.kernelPool = p
	return b
}

// WithProcessPool sets the pool that backs demand-allocated data pages.
func (b Builder) WithProcessPool(p FramePool) Builder {
	b.processPool = p
	return b
}

// WithSharedSize sets the size of the shared kernel region in bytes.
func (b Builder) WithSharedSize(size uint32) Builder {
	b.sharedSize = size
	return b
}

// WithRegisters sets the register interface the system drives.
func (b Builder) WithRegisters(r RegisterInterface) Builder {
	b.regs = r
	return b
}

// WithPhysMemory sets the physical memory that paging structures live in.
func (b Builder) WithPhysMemory(m PhysMemory) Builder {
	b.phys = m
	return b
}

// WithLogger sets the logger used for diagnostic tracing.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

// Build returns a newly initialized paging system.
func (b Builder) Build() *System {
	if b.kernelPool == nil || b.processPool == nil {
		panic("paging system requires a kernel pool and a process pool")
	}

	if b.regs == nil || b.phys == nil {
		panic("paging system requires registers and physical memory")
	}

	logger := b.logger
	if logger == nil {
		logger = log.New(os.Stderr, "paging: ", 0)
	}

	s := &System{
		kernelPool:  b.kernelPool,
		processPool: b.processPool,
		sharedSize:  b.sharedSize,
		regs:        b.regs,
		phys:        b.phys,
		logger:      logger,
	}

	s.logger.Printf("initialized paging system, shared region %d bytes",
		s.sharedSize)

	return s
}
