package machine

import (
	"errors"
	"fmt"

	"github.com/kernelsim/pagesim/trap"
)

// ErrFaultLoop is returned by Touch when the fault handler returns but the
// access still does not translate.
var ErrFaultLoop = errors.New("page fault not resolved after retry")

// A PageFaultError is the result of a translation that missed a resident
// mapping. It carries the decoded faulting address.
type PageFaultError struct {
	VAddr          uint32
	DirectoryIndex uint32
	TableIndex     uint32
	DirectoryMiss  bool
}

func (e *PageFaultError) Error() string {
	level := "table"
	if e.DirectoryMiss {
		level = "directory"
	}

	return fmt.Sprintf("page fault at %#08x (%s miss, directory %d, table %d)",
		e.VAddr, level, e.DirectoryIndex, e.TableIndex)
}

// A TrapDispatcher delivers a synthesized exception to the kernel.
type TrapDispatcher interface {
	Dispatch(r *trap.Regs)
}

// An MMU performs the hardware side of address translation: the two-level
// walk over the paging structures held in physical storage.
type MMU struct {
	mem  *Storage
	regs *RegisterFile
	disp TrapDispatcher

	// maxRetries bounds how many times Touch re-runs a faulting access
	// before declaring a fault loop.
	maxRetries int
}

// NewMMU creates an MMU over the given storage and register file. The
// dispatcher may be nil if Touch is never used.
func NewMMU(mem *Storage, regs *RegisterFile, disp TrapDispatcher) *MMU {
	return &MMU{
		mem:        mem,
		regs:       regs,
		disp:       disp,
		maxRetries: 2,
	}
}

// Translate resolves a virtual address to a physical address. Before paging
// is enabled every address translates to itself. Afterwards the MMU walks the
// directory loaded in CR3; a missing directory or table entry yields a
// *PageFaultError.
func (m *MMU) Translate(vAddr uint32) (uint32, error) {
	if !m.regs.PagingEnabled() {
		return vAddr, nil
	}

	pdIndex := DirectoryIndex(vAddr)
	ptIndex := TableIndex(vAddr)

	pdeAddr := m.regs.PageTableBase() + pdIndex*EntryBytes
	pdeWord, err := m.mem.ReadWord(pdeAddr)
	if err != nil {
		return 0, fmt.Errorf("reading directory entry: %w", err)
	}

	pde := Entry(pdeWord)
	if !pde.Present() {
		return 0, &PageFaultError{
			VAddr:          vAddr,
			DirectoryIndex: pdIndex,
			TableIndex:     ptIndex,
			DirectoryMiss:  true,
		}
	}

	pteAddr := pde.PhysAddr() + ptIndex*EntryBytes
	pteWord, err := m.mem.ReadWord(pteAddr)
	if err != nil {
		return 0, fmt.Errorf("reading table entry: %w", err)
	}

	pte := Entry(pteWord)
	if !pte.Present() {
		return 0, &PageFaultError{
			VAddr:          vAddr,
			DirectoryIndex: pdIndex,
			TableIndex:     ptIndex,
		}
	}

	return pte.PhysAddr() | PageOffset(vAddr), nil
}

// Touch emulates an instruction access to a virtual address. On a
// translation miss it records the faulting address in CR2, raises the
// page-fault exception through the dispatcher, and retries, the way hardware
// re-executes the faulting instruction. It returns the physical address the
// access finally resolved to.
func (m *MMU) Touch(vAddr uint32) (uint32, error) {
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		pAddr, err := m.Translate(vAddr)

		var fault *PageFaultError
		if errors.As(err, &fault) {
			m.regs.WriteCR2(vAddr)
			m.disp.Dispatch(&trap.Regs{IntNo: trap.PageFaultVector})
			continue
		}

		if err != nil {
			return 0, err
		}

		return pAddr, nil
	}

	return 0, fmt.Errorf("touching %#08x: %w", vAddr, ErrFaultLoop)
}
