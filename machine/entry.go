package machine

// An Entry is one 32-bit word of a page directory or a second-level page
// table. Bits [12:31] hold a frame address, the low bits hold flags.
type Entry uint32

// Entry flag bits, matching the hardware layout.
const (
	EntryPresent  Entry = 1 << 0
	EntryWritable Entry = 1 << 1
	EntryUser     Entry = 1 << 2
)

// AbsentEntry is the convention for a well-formed entry that maps nothing:
// not present, writable, supervisor-only.
const AbsentEntry Entry = EntryWritable

// MakeEntry builds an entry that points at the given frame with the given
// flags.
func MakeEntry(frame uint32, flags Entry) Entry {
	return Entry(FrameAddr(frame)) | flags
}

// Present reports whether the entry maps a resident frame.
func (e Entry) Present() bool {
	return e&EntryPresent != 0
}

// Writable reports whether the mapped frame can be written.
func (e Entry) Writable() bool {
	return e&EntryWritable != 0
}

// User reports whether the mapped frame is accessible from user mode.
func (e Entry) User() bool {
	return e&EntryUser != 0
}

// Frame returns the frame number the entry points at.
func (e Entry) Frame() uint32 {
	return uint32(e) >> Log2PageSize
}

// PhysAddr returns the physical address of the frame the entry points at.
func (e Entry) PhysAddr() uint32 {
	return uint32(e) &^ 0xFFF
}
