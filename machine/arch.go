// Package machine models the hardware that the paging subsystem runs on: a
// sparse physical memory, the control registers involved in paging, and the
// two-level page walker that translates virtual addresses the way the
// processor would.
package machine

// Architecture constants for 32-bit two-level paging.
const (
	// PageSize is the size of a page frame in bytes.
	PageSize uint32 = 4096

	// Log2PageSize is the number of offset bits in a virtual address.
	Log2PageSize = 12

	// EntriesPerTable is the number of entries in a page directory or a
	// second-level page table.
	EntriesPerTable uint32 = 1024

	// EntryBytes is the size of a directory or table entry.
	EntryBytes uint32 = 4
)

// Recursive-mapping window addresses. The last directory slot points at the
// directory's own frame, so the 4 MiB starting at RecursiveWindowBase exposes
// every live second-level table as data, and the directory itself appears at
// DirectoryWindowAddr.
const (
	RecursiveWindowBase uint32 = 0xFFC00000
	DirectoryWindowAddr uint32 = 0xFFFFF000
)

// RecursiveSlot is the directory index reserved for the self-mapping.
const RecursiveSlot uint32 = EntriesPerTable - 1

// DirectoryIndex extracts bits [22:31] of a virtual address.
func DirectoryIndex(vAddr uint32) uint32 {
	return (vAddr >> 22) & 0x3FF
}

// TableIndex extracts bits [12:21] of a virtual address.
func TableIndex(vAddr uint32) uint32 {
	return (vAddr >> 12) & 0x3FF
}

// PageOffset extracts the low 12 bits of a virtual address.
func PageOffset(vAddr uint32) uint32 {
	return vAddr & 0xFFF
}

// FrameAddr converts a frame number to the physical address of its first
// byte.
func FrameAddr(frame uint32) uint32 {
	return frame * PageSize
}

// TableWindowAddr returns the virtual address at which the second-level table
// serving directory slot pdIndex appears through the recursive window.
func TableWindowAddr(pdIndex uint32) uint32 {
	return RecursiveWindowBase | (pdIndex << Log2PageSize)
}
