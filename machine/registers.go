package machine

// CR0PagingEnable is the paging-enable bit of control register 0.
const CR0PagingEnable uint32 = 1 << 31

// A RegisterFile holds the control registers that the paging subsystem
// touches: CR0 (paging enable), CR2 (faulting address), and CR3 (page
// directory base).
type RegisterFile struct {
	cr0 uint32
	cr2 uint32
	cr3 uint32
}

// NewRegisterFile creates a register file with all registers cleared.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{}
}

// ReadCR0 returns the value of control register 0.
func (r *RegisterFile) ReadCR0() uint32 { return r.cr0 }

// WriteCR0 replaces control register 0.
func (r *RegisterFile) WriteCR0(v uint32) { r.cr0 = v }

// ReadCR2 returns the recorded faulting address.
func (r *RegisterFile) ReadCR2() uint32 { return r.cr2 }

// WriteCR2 records a faulting address.
func (r *RegisterFile) WriteCR2(v uint32) { r.cr2 = v }

// ReadCR3 returns the value of control register 3.
func (r *RegisterFile) ReadCR3() uint32 { return r.cr3 }

// WriteCR3 replaces control register 3.
func (r *RegisterFile) WriteCR3(v uint32) { r.cr3 = v }

// WritePageTableBase loads the physical address of a page directory into
// CR3.
func (r *RegisterFile) WritePageTableBase(pAddr uint32) {
	r.cr3 = pAddr
}

// PageTableBase returns the page-directory base currently loaded in CR3.
func (r *RegisterFile) PageTableBase() uint32 {
	return r.cr3 &^ 0xFFF
}

// EnablePaging ORs the paging-enable bit into CR0. There is no corresponding
// disable operation.
func (r *RegisterFile) EnablePaging() {
	r.cr0 |= CR0PagingEnable
}

// PagingEnabled reports whether the paging-enable bit of CR0 is set.
func (r *RegisterFile) PagingEnabled() bool {
	return r.cr0&CR0PagingEnable != 0
}

// ReadFaultAddress returns the faulting address recorded in CR2.
func (r *RegisterFile) ReadFaultAddress() uint32 {
	return r.cr2
}
