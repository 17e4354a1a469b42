package memory

import (
	"fmt"
	"sync/atomic"
)

// deviceBit marks addresses that route into the device table rather than
// main memory.
const deviceBit uint32 = 0x80000000

// deviceFrameBit is deviceBit expressed in frame-number space.
const deviceFrameBit uint32 = deviceBit >> FrameShift

// deviceEntry pairs a mapping with its base frame so the bus can rebase
// offsets before forwarding. A mapping spanning several frames appears once
// per frame with the same entry.
type deviceEntry struct {
	base    uint32
	mapping Mapping
}

// Bus is the memory fabric every hart sees: one main memory region at
// address 0 and a frame-indexed table of device mappings in the upper half
// of the address space. The bus itself implements Mapping by dispatching to
// the appropriate region.
type Bus struct {
	main    *MainMemory
	devices map[uint32]deviceEntry
}

// BusBuilder assembles a bus. It is the only way to construct one; overlap
// and missing-main errors are construction bugs and panic.
type BusBuilder struct {
	main    *MainMemory
	devices map[uint32]deviceEntry
}

// NewBusBuilder returns an empty builder.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{devices: make(map[uint32]deviceEntry)}
}

// WithMainMemory installs a fresh main memory of frameCount frames at
// address 0. Panics if main memory was already installed.
func (b *BusBuilder) WithMainMemory(frameCount uint32) *BusBuilder {
	if b.main != nil {
		panic("bus: main memory installed twice")
	}
	b.main = NewMainMemory(0, frameCount)
	return b
}

// WithMapping installs a device mapping into every frame it spans. Panics
// if any of those frames is already occupied.
func (b *BusBuilder) WithMapping(m Mapping) *BusBuilder {
	props := m.Properties()
	for i := uint32(0); i < props.FrameCount; i++ {
		fn := props.BaseFrame + i
		if _, ok := b.devices[fn]; ok {
			panic(fmt.Sprintf("bus: overlapping mappings at frame 0x%05X", fn))
		}
		b.devices[fn] = deviceEntry{base: props.BaseFrame, mapping: m}
	}
	return b
}

// Build finalizes the bus. Panics if no main memory was installed.
func (b *BusBuilder) Build() *Bus {
	if b.main == nil {
		panic("bus: built without main memory")
	}
	return &Bus{main: b.main, devices: b.devices}
}

// MainMemorySize returns the byte size of the main memory region.
func (bus *Bus) MainMemorySize() uint32 {
	return bus.main.Size()
}

// device resolves an address with bit 31 set to its mapping and the offset
// rebased to the mapping's start.
func (bus *Bus) device(offset uint32) (Mapping, uint32, error) {
	fn := offset >> FrameShift
	e, ok := bus.devices[fn]
	if !ok {
		return nil, 0, &OutOfBoundsError{Offset: offset}
	}
	return e.mapping, offset - e.base<<FrameShift, nil
}

// LoadByte routes a byte load to main memory or a device.
func (bus *Bus) LoadByte(offset uint32) (uint8, error) {
	if offset&deviceBit == 0 {
		return bus.main.LoadByte(offset)
	}
	m, rel, err := bus.device(offset)
	if err != nil {
		return 0, err
	}
	return m.LoadByte(rel)
}

// LoadHalfWord routes a half-word load.
func (bus *Bus) LoadHalfWord(offset uint32) (uint16, error) {
	if offset&deviceBit == 0 {
		return bus.main.LoadHalfWord(offset)
	}
	m, rel, err := bus.device(offset)
	if err != nil {
		return 0, err
	}
	return m.LoadHalfWord(rel)
}

// LoadWord routes a word load.
func (bus *Bus) LoadWord(offset uint32) (uint32, error) {
	if offset&deviceBit == 0 {
		return bus.main.LoadWord(offset)
	}
	m, rel, err := bus.device(offset)
	if err != nil {
		return 0, err
	}
	return m.LoadWord(rel)
}

// StoreByte routes a byte store.
func (bus *Bus) StoreByte(offset uint32, v uint8) error {
	if offset&deviceBit == 0 {
		return bus.main.StoreByte(offset, v)
	}
	m, rel, err := bus.device(offset)
	if err != nil {
		return err
	}
	return m.StoreByte(rel, v)
}

// StoreHalfWord routes a half-word store.
func (bus *Bus) StoreHalfWord(offset uint32, v uint16) error {
	if offset&deviceBit == 0 {
		return bus.main.StoreHalfWord(offset, v)
	}
	m, rel, err := bus.device(offset)
	if err != nil {
		return err
	}
	return m.StoreHalfWord(rel, v)
}

// StoreWord routes a word store.
func (bus *Bus) StoreWord(offset uint32, v uint32) error {
	if offset&deviceBit == 0 {
		return bus.main.StoreWord(offset, v)
	}
	m, rel, err := bus.device(offset)
	if err != nil {
		return err
	}
	return m.StoreWord(rel, v)
}

// BlockRead routes a block read. Device block reads go to the single
// mapping containing the starting offset; a span crossing out of that
// mapping fails inside it.
func (bus *Bus) BlockRead(offset uint32, dst []byte) (int, error) {
	if offset&deviceBit == 0 {
		return bus.main.BlockRead(offset, dst)
	}
	m, rel, err := bus.device(offset)
	if err != nil {
		return 0, err
	}
	return m.BlockRead(rel, dst)
}

// BlockWrite routes a block write.
func (bus *Bus) BlockWrite(offset uint32, src []byte) (int, error) {
	if offset&deviceBit == 0 {
		return bus.main.BlockWrite(offset, src)
	}
	m, rel, err := bus.device(offset)
	if err != nil {
		return 0, err
	}
	return m.BlockWrite(rel, src)
}

// BlockReadMasked routes a masked block read.
func (bus *Bus) BlockReadMasked(offset uint32, dst, mask []byte) (int, error) {
	if offset&deviceBit == 0 {
		return bus.main.BlockReadMasked(offset, dst, mask)
	}
	m, rel, err := bus.device(offset)
	if err != nil {
		return 0, err
	}
	return m.BlockReadMasked(rel, dst, mask)
}

// BlockWriteMasked routes a masked block write.
func (bus *Bus) BlockWriteMasked(offset uint32, src, mask []byte) (int, error) {
	if offset&deviceBit == 0 {
		return bus.main.BlockWriteMasked(offset, src, mask)
	}
	m, rel, err := bus.device(offset)
	if err != nil {
		return 0, err
	}
	return m.BlockWriteMasked(rel, src, mask)
}

// StreamRead routes a stream read by frame number.
func (bus *Bus) StreamRead(frameNumber uint32, reads []StreamRead, dst []uint32) (int, error) {
	if frameNumber&deviceFrameBit == 0 {
		return bus.main.StreamRead(frameNumber, reads, dst)
	}
	e, ok := bus.devices[frameNumber]
	if !ok {
		return 0, &OutOfBoundsError{Offset: frameNumber << FrameShift}
	}
	return e.mapping.StreamRead(frameNumber-e.base, reads, dst)
}

// StreamWrite routes a stream write by frame number.
func (bus *Bus) StreamWrite(frameNumber uint32, writes []StreamWrite) (int, error) {
	if frameNumber&deviceFrameBit == 0 {
		return bus.main.StreamWrite(frameNumber, writes)
	}
	e, ok := bus.devices[frameNumber]
	if !ok {
		return 0, &OutOfBoundsError{Offset: frameNumber << FrameShift}
	}
	return e.mapping.StreamWrite(frameNumber-e.base, writes)
}

// StoreConditional routes a conditional store to the region owning the
// offset.
func (bus *Bus) StoreConditional(offset, val uint32, reservation *atomic.Uint32, expected uint32) (uint32, error) {
	if offset&deviceBit == 0 {
		return bus.main.StoreConditional(offset, val, reservation, expected)
	}
	m, rel, err := bus.device(offset)
	if err != nil {
		return 0, err
	}
	return m.StoreConditional(rel, val, reservation, expected)
}

// amoDevice validates the device's AMO class before forwarding.
func (bus *Bus) amoDevice(offset uint32, need AmoClass, op func(m Mapping, rel uint32) (uint32, error)) (uint32, error) {
	m, rel, err := bus.device(offset)
	if err != nil {
		return 0, err
	}
	if class := m.Attributes().Amo; class < need {
		return 0, &AmoUnsupportedError{Class: class}
	}
	return op(m, rel)
}

// AmoSwapW routes an atomic swap.
func (bus *Bus) AmoSwapW(offset, src uint32) (uint32, error) {
	if offset&deviceBit == 0 {
		return bus.main.AmoSwapW(offset, src)
	}
	return bus.amoDevice(offset, AmoSwap, func(m Mapping, rel uint32) (uint32, error) {
		return m.AmoSwapW(rel, src)
	})
}

// AmoAddW routes an atomic add.
func (bus *Bus) AmoAddW(offset, src uint32) (uint32, error) {
	if offset&deviceBit == 0 {
		return bus.main.AmoAddW(offset, src)
	}
	return bus.amoDevice(offset, AmoArithmetic, func(m Mapping, rel uint32) (uint32, error) {
		return m.AmoAddW(rel, src)
	})
}

// AmoAndW routes an atomic and.
func (bus *Bus) AmoAndW(offset, src uint32) (uint32, error) {
	if offset&deviceBit == 0 {
		return bus.main.AmoAndW(offset, src)
	}
	return bus.amoDevice(offset, AmoLogical, func(m Mapping, rel uint32) (uint32, error) {
		return m.AmoAndW(rel, src)
	})
}

// AmoOrW routes an atomic or.
func (bus *Bus) AmoOrW(offset, src uint32) (uint32, error) {
	if offset&deviceBit == 0 {
		return bus.main.AmoOrW(offset, src)
	}
	return bus.amoDevice(offset, AmoLogical, func(m Mapping, rel uint32) (uint32, error) {
		return m.AmoOrW(rel, src)
	})
}

// AmoXorW routes an atomic xor.
func (bus *Bus) AmoXorW(offset, src uint32) (uint32, error) {
	if offset&deviceBit == 0 {
		return bus.main.AmoXorW(offset, src)
	}
	return bus.amoDevice(offset, AmoLogical, func(m Mapping, rel uint32) (uint32, error) {
		return m.AmoXorW(rel, src)
	})
}

// AmoMinW routes an atomic signed minimum.
func (bus *Bus) AmoMinW(offset, src uint32) (uint32, error) {
	if offset&deviceBit == 0 {
		return bus.main.AmoMinW(offset, src)
	}
	return bus.amoDevice(offset, AmoArithmetic, func(m Mapping, rel uint32) (uint32, error) {
		return m.AmoMinW(rel, src)
	})
}

// AmoMaxW routes an atomic signed maximum.
func (bus *Bus) AmoMaxW(offset, src uint32) (uint32, error) {
	if offset&deviceBit == 0 {
		return bus.main.AmoMaxW(offset, src)
	}
	return bus.amoDevice(offset, AmoArithmetic, func(m Mapping, rel uint32) (uint32, error) {
		return m.AmoMaxW(rel, src)
	})
}

// AmoMinuW routes an atomic unsigned minimum.
func (bus *Bus) AmoMinuW(offset, src uint32) (uint32, error) {
	if offset&deviceBit == 0 {
		return bus.main.AmoMinuW(offset, src)
	}
	return bus.amoDevice(offset, AmoArithmetic, func(m Mapping, rel uint32) (uint32, error) {
		return m.AmoMinuW(rel, src)
	})
}

// AmoMaxuW routes an atomic unsigned maximum.
func (bus *Bus) AmoMaxuW(offset, src uint32) (uint32, error) {
	if offset&deviceBit == 0 {
		return bus.main.AmoMaxuW(offset, src)
	}
	return bus.amoDevice(offset, AmoArithmetic, func(m Mapping, rel uint32) (uint32, error) {
		return m.AmoMaxuW(rel, src)
	})
}

// Attributes reports attributes for the bus as a whole; individual regions
// override these for their own frames.
func (bus *Bus) Attributes() PMA {
	return MainPMA()
}

// Properties reports the full 20-bit frame space the bus decodes.
func (bus *Bus) Properties() Properties {
	return Properties{BaseFrame: 0, FrameCount: 0xFFFFF}
}

// RegisterReservationSet forwards the cell to main memory and to every
// distinct reservable device mapping exactly once, so each region can
// invalidate the reservation on remote writes. Mappings reporting no
// reservability are skipped.
func (bus *Bus) RegisterReservationSet(cell *atomic.Uint32) {
	bus.main.RegisterReservationSet(cell)
	seen := make(map[uint32]bool)
	for _, e := range bus.devices {
		if seen[e.base] {
			continue
		}
		seen[e.base] = true
		if e.mapping.Attributes().Reservability == ReserveNone {
			continue
		}
		e.mapping.RegisterReservationSet(cell)
	}
}
