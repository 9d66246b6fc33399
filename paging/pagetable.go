package paging

import (
	"errors"
	"fmt"

	"github.com/kernelsim/pagesim/machine"
)

// ErrNotBuilt is returned by Load when the page table's construction never
// completed, so there is no directory address to hand to the hardware.
var ErrNotBuilt = errors.New("page table was not built")

// A PageTable owns one page directory and, transitively, every second-level
// table reachable from it.
//
// The directory keeps two fixed mappings for its whole lifetime: slot 0 maps
// the first 4 MiB of physical memory onto itself, so the kernel stays
// addressable the instant paging turns on, and the last slot points back at
// the directory's own frame, opening the recursive window through which
// paging structures are edited as data once paging is active.
type PageTable struct {
	sys            *System
	directoryFrame uint32
	built          bool
}

// NewPageTable constructs a page table: a zeroed directory, an eagerly built
// identity mapping of the first 4 MiB in slot 0, well-formed absent entries
// everywhere else, and the recursive self-mapping in the last slot.
//
// Construction only prepares structures in physical memory; it performs no
// register side effects. All writes go through physical addressing, which is
// valid here because paging is off until the table is loaded and enabled.
func (s *System) NewPageTable() (*PageTable, error) {
	dirFrame, err := s.kernelPool.Allocate(1)
	if err != nil {
		return nil, fmt.Errorf("allocating page directory: %w", err)
	}

	firstTable, err := s.kernelPool.Allocate(1)
	if err != nil {
		return nil, fmt.Errorf("allocating first page table: %w", err)
	}

	tableAddr := machine.FrameAddr(firstTable)
	for i := uint32(0); i < machine.EntriesPerTable; i++ {
		entry := machine.MakeEntry(i,
			machine.EntryPresent|machine.EntryWritable)
		err := s.phys.WriteWord(tableAddr+i*machine.EntryBytes, uint32(entry))
		if err != nil {
			return nil, fmt.Errorf("building identity mapping: %w", err)
		}
	}

	dirAddr := machine.FrameAddr(dirFrame)
	for i := uint32(0); i < machine.EntriesPerTable; i++ {
		var entry machine.Entry
		switch i {
		case 0:
			entry = machine.MakeEntry(firstTable,
				machine.EntryPresent|machine.EntryWritable)
		case machine.RecursiveSlot:
			entry = machine.MakeEntry(dirFrame,
				machine.EntryPresent|machine.EntryWritable)
		default:
			entry = machine.AbsentEntry
		}

		err := s.phys.WriteWord(dirAddr+i*machine.EntryBytes, uint32(entry))
		if err != nil {
			return nil, fmt.Errorf("building page directory: %w", err)
		}
	}

	s.logger.Printf(
		"constructed page directory at frame %d, first 4 MiB identity-mapped",
		dirFrame)

	return &PageTable{
		sys:            s,
		directoryFrame: dirFrame,
		built:          true,
	}, nil
}

// DirectoryFrame returns the physical frame number of the page directory.
func (pt *PageTable) DirectoryFrame() uint32 {
	return pt.directoryFrame
}

// Load writes the directory's physical address into the page-table-base
// register and records this table as the process-wide active table. Loading
// a table whose construction failed is refused, so an undefined address is
// never handed to the hardware.
func (pt *PageTable) Load() error {
	if !pt.built {
		return ErrNotBuilt
	}

	pt.sys.regs.WritePageTableBase(machine.FrameAddr(pt.directoryFrame))
	pt.sys.active = pt
	pt.sys.logger.Printf("loaded page table, directory frame %d",
		pt.directoryFrame)

	return nil
}

// DirectoryEntry reads directory slot i. The read goes through physical
// addressing; it is an inspection path, not part of fault handling.
func (pt *PageTable) DirectoryEntry(i uint32) (machine.Entry, error) {
	if i >= machine.EntriesPerTable {
		return 0, fmt.Errorf("directory index %d out of range", i)
	}

	addr := machine.FrameAddr(pt.directoryFrame) + i*machine.EntryBytes
	word, err := pt.sys.phys.ReadWord(addr)

	return machine.Entry(word), err
}

// TableEntry reads entry ptIndex of the second-level table referenced by
// directory slot pdIndex. It fails if that slot is not present.
func (pt *PageTable) TableEntry(pdIndex, ptIndex uint32) (machine.Entry, error) {
	if ptIndex >= machine.EntriesPerTable {
		return 0, fmt.Errorf("table index %d out of range", ptIndex)
	}

	pde, err := pt.DirectoryEntry(pdIndex)
	if err != nil {
		return 0, err
	}

	if !pde.Present() {
		return 0, fmt.Errorf("directory slot %d maps no table", pdIndex)
	}

	word, err := pt.sys.phys.ReadWord(pde.PhysAddr() + ptIndex*machine.EntryBytes)

	return machine.Entry(word), err
}
