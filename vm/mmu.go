package vm

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/lookbusy1344/riscv-emulator/memory"
)

// Data and instruction cache geometry: 4 sets x 2 ways of 64-byte lines
// (16 words). The data cache tracker is a 64-bit byte-dirty mask covering
// one line, so the line size and tracker width move together.
const (
	cacheSetBits   = 2
	cacheAssoc     = 2
	cacheBlockBits = 4

	lineBytes = 64
	lineMask  = lineBytes - 1
)

// deviceSpace marks addresses that route to device mappings; they are
// non-cacheable and bypass both caches.
const deviceSpace uint32 = 0x80000000

// MMU is a hart's memory front end: an instruction cache of pre-decoded
// operations and a writeback data cache with byte-level dirty tracking,
// both sitting in front of the shared bus, plus the hart's LR/SC
// reservation cell.
//
// The caches are heap-allocated behind pointers; they are tens of
// kilobytes, and moving a hart must not copy its working set.
type MMU struct {
	bus         *memory.Bus
	reservation *atomic.Uint32
	isa         ISA

	dcache *Cache[uint32, uint64]
	icache *Cache[Instruction, struct{}]

	// attr caches physical memory attributes one entry per line; block
	// fetching attributes makes no sense. Unwired until the PMA lookup
	// path lands.
	attr *Cache[memory.PMAPacked, struct{}]

	// tlb is reserved for Sv32 translation; addresses are currently
	// physical.
	tlb *Cache[uint32, struct{}]
}

// NewMMU creates the per-hart memory front end over the shared bus.
func NewMMU(bus *memory.Bus, reservation *atomic.Uint32, isa ISA) *MMU {
	return &MMU{
		bus:         bus,
		reservation: reservation,
		isa:         isa,
		dcache:      NewCache[uint32, uint64](cacheSetBits, cacheAssoc, cacheBlockBits),
		icache:      NewCache[Instruction, struct{}](cacheSetBits, cacheAssoc, cacheBlockBits),
		attr:        NewCache[memory.PMAPacked, struct{}](12, 3, 0),
		tlb:         NewCache[uint32, struct{}](12, 3, 0),
	}
}

// Reservation exposes the hart's reservation cell for bus registration.
func (m *MMU) Reservation() *atomic.Uint32 {
	return m.reservation
}

// fillLine reads the 64-byte line containing addr from the bus into a
// block of words.
func (m *MMU) fillLine(addr uint32) func(block []uint32) error {
	base := addr &^ uint32(lineMask)
	return func(block []uint32) error {
		var buf [lineBytes]byte
		if _, err := m.bus.BlockRead(base, buf[:]); err != nil {
			return wrapBus(err)
		}
		for i := range block {
			block[i] = binary.LittleEndian.Uint32(buf[i*4:])
		}
		return nil
	}
}

// writeback pushes an evicted line back through the bus, masked by its
// byte-dirty tracker so clean bytes are never forged.
func (m *MMU) writeback(ev *Eviction[uint32, uint64]) error {
	var buf [lineBytes]byte
	for i, w := range ev.Block {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	var mask [8]byte
	binary.LittleEndian.PutUint64(mask[:], ev.Tracker)
	_, err := m.bus.BlockWriteMasked(ev.Addr<<2, buf[:], mask[:])
	return wrapBus(err)
}

// flushLine writes back and drops the cached copy of addr's line, so a
// following bus-level access sees and leaves coherent memory.
func (m *MMU) flushLine(addr uint32) error {
	if ev := m.dcache.Remove(addr >> 2); ev != nil {
		return m.writeback(ev)
	}
	return nil
}

// extract pulls the width-byte value containing addr out of its word.
func extract(w, addr, width uint32) uint32 {
	switch width {
	case 4:
		return w
	case 2:
		return uint32(uint16(w >> (((addr >> 1) & 1) * 16)))
	default:
		return uint32(uint8(w >> ((addr & 3) * 8)))
	}
}

// inject replaces the width-byte value containing addr within its word.
func inject(w *uint32, addr, width, val uint32) {
	switch width {
	case 4:
		*w = val
	case 2:
		shift := ((addr >> 1) & 1) * 16
		*w = *w&^(0xFFFF<<shift) | (val&0xFFFF)<<shift
	default:
		shift := (addr & 3) * 8
		*w = *w&^(0xFF<<shift) | (val&0xFF)<<shift
	}
}

// trackBits returns the tracker bits for a width-byte store at addr: width
// consecutive bits at the byte position within the 64-byte line.
func trackBits(addr, width uint32) uint64 {
	return uint64(1<<width-1) << (addr & lineMask)
}

func (m *MMU) load(addr, width uint32) (uint32, error) {
	if addr&(width-1) != 0 {
		return 0, &LoadAlignmentError{Addr: addr, Alignment: width}
	}

	if addr&deviceSpace != 0 {
		return m.deviceLoad(addr, width)
	}

	word := addr >> 2
	if p, ok := m.dcache.Get(word); ok {
		return extract(*p, addr, width), nil
	}

	p, evicted, err := m.dcache.GetOrInsertWith(word, m.fillLine(addr))
	if err != nil {
		return 0, err
	}
	if evicted != nil {
		if err := m.writeback(evicted); err != nil {
			return 0, err
		}
	}
	return extract(*p, addr, width), nil
}

func (m *MMU) store(addr, width, val uint32) error {
	if addr&(width-1) != 0 {
		return &StoreAlignmentError{Addr: addr, Alignment: width}
	}

	if addr&deviceSpace != 0 {
		return m.deviceStore(addr, width, val)
	}

	word := addr >> 2
	if p, tracker, ok := m.dcache.GetMut(word); ok {
		inject(p, addr, width, val)
		*tracker |= trackBits(addr, width)
		return nil
	}

	p, tracker, evicted, err := m.dcache.GetMutOrInsertWith(word, m.fillLine(addr))
	if err != nil {
		return err
	}
	if evicted != nil {
		if err := m.writeback(evicted); err != nil {
			return err
		}
	}
	inject(p, addr, width, val)
	*tracker |= trackBits(addr, width)
	return nil
}

// deviceLoad reads device space through per-width bus operations, never
// the cache.
func (m *MMU) deviceLoad(addr, width uint32) (uint32, error) {
	switch width {
	case 4:
		w, err := m.bus.LoadWord(addr)
		return w, wrapBus(err)
	case 2:
		hw, err := m.bus.LoadHalfWord(addr)
		return uint32(hw), wrapBus(err)
	default:
		b, err := m.bus.LoadByte(addr)
		return uint32(b), wrapBus(err)
	}
}

// deviceStore writes device space through per-width bus operations.
func (m *MMU) deviceStore(addr, width, val uint32) error {
	switch width {
	case 4:
		return wrapBus(m.bus.StoreWord(addr, val))
	case 2:
		return wrapBus(m.bus.StoreHalfWord(addr, uint16(val)))
	default:
		return wrapBus(m.bus.StoreByte(addr, uint8(val)))
	}
}

// LoadByte loads and zero-extends one byte.
func (m *MMU) LoadByte(addr uint32) (uint32, error) {
	return m.load(addr, 1)
}

// LoadHalfWord loads and zero-extends a 2-byte aligned half word.
func (m *MMU) LoadHalfWord(addr uint32) (uint32, error) {
	return m.load(addr, 2)
}

// LoadWord loads a 4-byte aligned word.
func (m *MMU) LoadWord(addr uint32) (uint32, error) {
	return m.load(addr, 4)
}

// StoreByte stores one byte.
func (m *MMU) StoreByte(addr uint32, b uint8) error {
	return m.store(addr, 1, uint32(b))
}

// StoreHalfWord stores a 2-byte aligned half word.
func (m *MMU) StoreHalfWord(addr uint32, hw uint16) error {
	return m.store(addr, 2, uint32(hw))
}

// StoreWord stores a 4-byte aligned word.
func (m *MMU) StoreWord(addr uint32, w uint32) error {
	return m.store(addr, 4, w)
}

// LoadInstruction fetches the pre-decoded instruction at pc. A miss reads
// the whole 64-byte line and decodes its 16 words; device space is fetched
// and decoded without caching.
func (m *MMU) LoadInstruction(pc uint32) (Instruction, error) {
	if pc&3 != 0 {
		return Instruction{}, &LoadAlignmentError{Addr: pc, Alignment: 4}
	}

	if pc&deviceSpace != 0 {
		w, err := m.bus.LoadWord(pc)
		if err != nil {
			return Instruction{}, wrapBus(err)
		}
		return m.isa.Decode(w), nil
	}

	word := pc >> 2
	if p, ok := m.icache.Get(word); ok {
		return *p, nil
	}

	base := pc &^ uint32(lineMask)
	fill := func(block []Instruction) error {
		var buf [lineBytes]byte
		if _, err := m.bus.BlockRead(base, buf[:]); err != nil {
			return wrapBus(err)
		}
		for i := range block {
			block[i] = m.isa.Decode(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return nil
	}

	p, _, err := m.icache.GetOrInsertWith(word, fill)
	if err != nil {
		return Instruction{}, err
	}
	return *p, nil
}

// InvalidateInstructionCache drops every cached decode; fence.i is the
// architectural trigger.
func (m *MMU) InvalidateInstructionCache() {
	m.icache.Invalidate()
}

// FlushDataCache writes every dirty line back to the bus and empties the
// cache, publishing this hart's stores for bus-level observers.
func (m *MMU) FlushDataCache() error {
	for _, ev := range m.dcache.Drain() {
		if err := m.writeback(ev); err != nil {
			return err
		}
	}
	return nil
}

// LoadReserved reads a word directly from the bus and records the
// reservation set (the 64-byte granule) in the hart's cell. The cached
// copy of the line is flushed first so the bus read is coherent.
func (m *MMU) LoadReserved(addr uint32) (uint32, error) {
	if addr&3 != 0 {
		return 0, &LoadAlignmentError{Addr: addr, Alignment: 4}
	}
	if err := m.flushLine(addr); err != nil {
		return 0, err
	}
	m.reservation.Store(memory.ReservationSet(addr))
	w, err := m.bus.LoadWord(addr)
	return w, wrapBus(err)
}

// StoreConditional attempts the conditional store. If this hart's cell no
// longer holds addr's reservation set the store fails locally with 1 and
// memory is untouched; otherwise the bus decides under the frame lock.
func (m *MMU) StoreConditional(addr, val uint32) (uint32, error) {
	if addr&3 != 0 {
		return 0, &StoreAlignmentError{Addr: addr, Alignment: 4}
	}
	set := memory.ReservationSet(addr)
	if m.reservation.Load() != set {
		return 1, nil
	}
	if err := m.flushLine(addr); err != nil {
		return 0, err
	}
	code, err := m.bus.StoreConditional(addr, val, m.reservation, set)
	return code, wrapBus(err)
}

// amo flushes the target line and forwards a read-modify-write to the bus,
// which performs it atomically at the owning region.
func (m *MMU) amo(addr, src uint32, op func(offset, src uint32) (uint32, error)) (uint32, error) {
	if err := m.flushLine(addr); err != nil {
		return 0, err
	}
	old, err := op(addr, src)
	return old, wrapBus(err)
}

// AmoSwapW atomically swaps the word at addr with src.
func (m *MMU) AmoSwapW(addr, src uint32) (uint32, error) {
	return m.amo(addr, src, m.bus.AmoSwapW)
}

// AmoAddW atomically adds src to the word at addr.
func (m *MMU) AmoAddW(addr, src uint32) (uint32, error) {
	return m.amo(addr, src, m.bus.AmoAddW)
}

// AmoAndW atomically ands src into the word at addr.
func (m *MMU) AmoAndW(addr, src uint32) (uint32, error) {
	return m.amo(addr, src, m.bus.AmoAndW)
}

// AmoOrW atomically ors src into the word at addr.
func (m *MMU) AmoOrW(addr, src uint32) (uint32, error) {
	return m.amo(addr, src, m.bus.AmoOrW)
}

// AmoXorW atomically xors src into the word at addr.
func (m *MMU) AmoXorW(addr, src uint32) (uint32, error) {
	return m.amo(addr, src, m.bus.AmoXorW)
}

// AmoMinW atomically stores the signed minimum.
func (m *MMU) AmoMinW(addr, src uint32) (uint32, error) {
	return m.amo(addr, src, m.bus.AmoMinW)
}

// AmoMaxW atomically stores the signed maximum.
func (m *MMU) AmoMaxW(addr, src uint32) (uint32, error) {
	return m.amo(addr, src, m.bus.AmoMaxW)
}

// AmoMinuW atomically stores the unsigned minimum.
func (m *MMU) AmoMinuW(addr, src uint32) (uint32, error) {
	return m.amo(addr, src, m.bus.AmoMinuW)
}

// AmoMaxuW atomically stores the unsigned maximum.
func (m *MMU) AmoMaxuW(addr, src uint32) (uint32, error) {
	return m.amo(addr, src, m.bus.AmoMaxuW)
}
