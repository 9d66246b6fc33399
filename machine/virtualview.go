package machine

import "fmt"

// A VirtualView accesses storage through the active translation, the way
// kernel code sees memory once paging is on. Accesses that miss a resident
// mapping fail with the translation error instead of raising an exception:
// the view is used from within fault handling, where a nested fault is
// outside the design's contract.
type VirtualView struct {
	mmu *MMU
	mem *Storage
}

// NewVirtualView creates a view over the given MMU and storage.
func NewVirtualView(mmu *MMU, mem *Storage) *VirtualView {
	return &VirtualView{mmu: mmu, mem: mem}
}

// ReadWord reads a 32-bit word at a virtual address.
func (v *VirtualView) ReadWord(vAddr uint32) (uint32, error) {
	pAddr, err := v.mmu.Translate(vAddr)
	if err != nil {
		return 0, fmt.Errorf("virtual read at %#08x: %w", vAddr, err)
	}

	return v.mem.ReadWord(pAddr)
}

// WriteWord writes a 32-bit word at a virtual address.
func (v *VirtualView) WriteWord(vAddr, val uint32) error {
	pAddr, err := v.mmu.Translate(vAddr)
	if err != nil {
		return fmt.Errorf("virtual write at %#08x: %w", vAddr, err)
	}

	return v.mem.WriteWord(pAddr, val)
}
