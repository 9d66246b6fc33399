package machine

import (
	"encoding/binary"
	"fmt"
)

// A Storage keeps the physical memory of the simulated machine.
//
// The storage manages memory in page-sized units. Units that are never
// touched by Read or Write consume no host memory, so a storage can model a
// large physical address space cheaply.
type Storage struct {
	capacity uint32
	units    map[uint32][]byte
}

// NewStorage creates a storage with the given capacity in bytes. The capacity
// must be a multiple of the page size.
func NewStorage(capacity uint32) *Storage {
	if capacity%PageSize != 0 {
		panic("storage capacity must be a multiple of the page size")
	}

	return &Storage{
		capacity: capacity,
		units:    make(map[uint32][]byte),
	}
}

// Capacity returns the size of the physical address space in bytes.
func (s *Storage) Capacity() uint32 {
	return s.capacity
}

func (s *Storage) unitFor(addr uint32) ([]byte, error) {
	if addr >= s.capacity {
		return nil, fmt.Errorf(
			"physical address %#08x beyond storage capacity %#08x",
			addr, s.capacity)
	}

	base := addr &^ (PageSize - 1)
	unit, ok := s.units[base]
	if !ok {
		unit = make([]byte, PageSize)
		s.units[base] = unit
	}

	return unit, nil
}

// Read copies n bytes starting at the given physical address.
func (s *Storage) Read(addr, n uint32) ([]byte, error) {
	res := make([]byte, n)
	offset := uint32(0)

	for offset < n {
		unit, err := s.unitFor(addr + offset)
		if err != nil {
			return nil, err
		}

		inUnit := (addr + offset) & (PageSize - 1)
		chunk := PageSize - inUnit
		if left := n - offset; left < chunk {
			chunk = left
		}

		copy(res[offset:offset+chunk], unit[inUnit:inUnit+chunk])
		offset += chunk
	}

	return res, nil
}

// Write copies data into the storage starting at the given physical address.
func (s *Storage) Write(addr uint32, data []byte) error {
	offset := uint32(0)

	for offset < uint32(len(data)) {
		unit, err := s.unitFor(addr + offset)
		if err != nil {
			return err
		}

		inUnit := (addr + offset) & (PageSize - 1)
		chunk := PageSize - inUnit
		if left := uint32(len(data)) - offset; left < chunk {
			chunk = left
		}

		copy(unit[inUnit:inUnit+chunk], data[offset:offset+chunk])
		offset += chunk
	}

	return nil
}

// ReadWord reads a 32-bit little-endian word at a 4-byte-aligned physical
// address.
func (s *Storage) ReadWord(addr uint32) (uint32, error) {
	if addr%EntryBytes != 0 {
		return 0, fmt.Errorf("unaligned word read at %#08x", addr)
	}

	unit, err := s.unitFor(addr)
	if err != nil {
		return 0, err
	}

	inUnit := addr & (PageSize - 1)

	return binary.LittleEndian.Uint32(unit[inUnit : inUnit+EntryBytes]), nil
}

// WriteWord writes a 32-bit little-endian word at a 4-byte-aligned physical
// address.
func (s *Storage) WriteWord(addr, val uint32) error {
	if addr%EntryBytes != 0 {
		return fmt.Errorf("unaligned word write at %#08x", addr)
	}

	unit, err := s.unitFor(addr)
	if err != nil {
		return err
	}

	inUnit := addr & (PageSize - 1)
	binary.LittleEndian.PutUint32(unit[inUnit:inUnit+EntryBytes], val)

	return nil
}
