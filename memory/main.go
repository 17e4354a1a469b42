package memory

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// frame is one 4 KiB unit of backing storage with its own lock, so harts
// touching different frames never contend.
type frame struct {
	mu   sync.Mutex
	data [FrameSize]byte
}

// MainMemory is a frame-granular, byte-addressable memory region. Bytes are
// stored little-endian regardless of host order. It implements the full
// Mapping contract including LR/SC reservation bookkeeping.
type MainMemory struct {
	baseFrame uint32
	frames    []frame

	resMu        sync.Mutex
	reservations []*atomic.Uint32
}

// NewMainMemory creates a zeroed main memory of frameCount 4 KiB frames
// based at the given frame number.
func NewMainMemory(baseFrame, frameCount uint32) *MainMemory {
	return &MainMemory{
		baseFrame: baseFrame,
		frames:    make([]frame, frameCount),
	}
}

// Size returns the backed size in bytes.
func (m *MainMemory) Size() uint32 {
	return uint32(len(m.frames)) * FrameSize
}

// checkOffset validates alignment and bounds for a width-byte access and
// splits the offset into frame index and byte index within the frame.
func (m *MainMemory) checkOffset(offset, width uint32, store bool) (int, int, error) {
	if offset&(width-1) != 0 {
		if store {
			return 0, 0, &StoreMisalignedError{Offset: offset, Alignment: width}
		}
		return 0, 0, &LoadMisalignedError{Offset: offset, Alignment: width}
	}
	fn := int(offset >> FrameShift)
	if fn >= len(m.frames) {
		return 0, 0, &OutOfBoundsError{Offset: offset}
	}
	return fn, int(offset & FrameMask), nil
}

// LoadByte reads one byte.
func (m *MainMemory) LoadByte(offset uint32) (uint8, error) {
	fn, b, err := m.checkOffset(offset, 1, false)
	if err != nil {
		return 0, err
	}
	f := &m.frames[fn]
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[b], nil
}

// LoadHalfWord reads a little-endian 16-bit value from a 2-byte aligned
// offset.
func (m *MainMemory) LoadHalfWord(offset uint32) (uint16, error) {
	fn, b, err := m.checkOffset(offset, 2, false)
	if err != nil {
		return 0, err
	}
	f := &m.frames[fn]
	f.mu.Lock()
	defer f.mu.Unlock()
	return binary.LittleEndian.Uint16(f.data[b:]), nil
}

// LoadWord reads a little-endian 32-bit value from a 4-byte aligned offset.
func (m *MainMemory) LoadWord(offset uint32) (uint32, error) {
	fn, b, err := m.checkOffset(offset, 4, false)
	if err != nil {
		return 0, err
	}
	f := &m.frames[fn]
	f.mu.Lock()
	defer f.mu.Unlock()
	return binary.LittleEndian.Uint32(f.data[b:]), nil
}

// StoreByte writes one byte and invalidates reservations covering it.
func (m *MainMemory) StoreByte(offset uint32, v uint8) error {
	fn, b, err := m.checkOffset(offset, 1, true)
	if err != nil {
		return err
	}
	f := &m.frames[fn]
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[b] = v
	m.invalidateSet(ReservationSet(offset))
	return nil
}

// StoreHalfWord writes a little-endian 16-bit value to a 2-byte aligned
// offset and invalidates reservations covering it.
func (m *MainMemory) StoreHalfWord(offset uint32, v uint16) error {
	fn, b, err := m.checkOffset(offset, 2, true)
	if err != nil {
		return err
	}
	f := &m.frames[fn]
	f.mu.Lock()
	defer f.mu.Unlock()
	binary.LittleEndian.PutUint16(f.data[b:], v)
	m.invalidateSet(ReservationSet(offset))
	return nil
}

// StoreWord writes a little-endian 32-bit value to a 4-byte aligned offset
// and invalidates reservations covering it.
func (m *MainMemory) StoreWord(offset uint32, v uint32) error {
	fn, b, err := m.checkOffset(offset, 4, true)
	if err != nil {
		return err
	}
	f := &m.frames[fn]
	f.mu.Lock()
	defer f.mu.Unlock()
	binary.LittleEndian.PutUint32(f.data[b:], v)
	m.invalidateSet(ReservationSet(offset))
	return nil
}

// BlockRead copies len(dst) bytes starting at offset, locking frames one at
// a time in ascending order.
func (m *MainMemory) BlockRead(offset uint32, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	start := int(offset >> FrameShift)
	end := (int(offset) + len(dst) - 1) >> FrameShift
	if end >= len(m.frames) {
		return 0, &OutOfBoundsError{Offset: offset}
	}

	frameOffs := int(offset & FrameMask)
	dstOffs := 0
	for fn := start; fn <= end; fn++ {
		f := &m.frames[fn]
		f.mu.Lock()
		n := copy(dst[dstOffs:], f.data[frameOffs:])
		f.mu.Unlock()
		dstOffs += n
		frameOffs = 0
	}
	return dstOffs, nil
}

// BlockWrite writes src starting at offset, locking frames one at a time in
// ascending order. Reservations covering each written frame span are
// invalidated under that frame's lock.
func (m *MainMemory) BlockWrite(offset uint32, src []byte) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	start := int(offset >> FrameShift)
	end := (int(offset) + len(src) - 1) >> FrameShift
	if end >= len(m.frames) {
		return 0, &OutOfBoundsError{Offset: offset}
	}

	frameOffs := int(offset & FrameMask)
	srcOffs := 0
	for fn := start; fn <= end; fn++ {
		f := &m.frames[fn]
		f.mu.Lock()
		n := copy(f.data[frameOffs:], src[srcOffs:])
		first := uint32(fn)<<FrameShift + uint32(frameOffs)
		m.invalidateRange(ReservationSet(first), ReservationSet(first+uint32(n)-1))
		f.mu.Unlock()
		srcOffs += n
		frameOffs = 0
	}
	return srcOffs, nil
}

// BlockReadMasked copies byte i into dst only when bit i of mask is set.
func (m *MainMemory) BlockReadMasked(offset uint32, dst, mask []byte) (int, error) {
	if len(mask)*8 < len(dst) {
		panic("memory: mask must contain enough bits to mask dst")
	}
	if len(dst) == 0 {
		return 0, nil
	}
	start := int(offset >> FrameShift)
	end := (int(offset) + len(dst) - 1) >> FrameShift
	if end >= len(m.frames) {
		return 0, &OutOfBoundsError{Offset: offset}
	}

	frameOffs := int(offset & FrameMask)
	dstOffs := 0
	read := 0
	for fn := start; fn <= end; fn++ {
		f := &m.frames[fn]
		f.mu.Lock()
		n := min(FrameSize-frameOffs, len(dst)-dstOffs)
		for i := 0; i < n; i++ {
			mi := dstOffs + i
			if (mask[mi>>3]>>(mi&7))&1 == 1 {
				dst[mi] = f.data[frameOffs+i]
				read++
			}
		}
		f.mu.Unlock()
		dstOffs += n
		frameOffs = 0
	}
	return read, nil
}

// BlockWriteMasked writes byte i of src only when bit i of mask is set.
// Reservations covering the written span are invalidated even for bytes the
// mask skips; the span was written back by a cache and its granules are no
// longer private.
func (m *MainMemory) BlockWriteMasked(offset uint32, src, mask []byte) (int, error) {
	if len(mask)*8 < len(src) {
		panic("memory: mask must contain enough bits to mask src")
	}
	if len(src) == 0 {
		return 0, nil
	}
	start := int(offset >> FrameShift)
	end := (int(offset) + len(src) - 1) >> FrameShift
	if end >= len(m.frames) {
		return 0, &OutOfBoundsError{Offset: offset}
	}

	frameOffs := int(offset & FrameMask)
	srcOffs := 0
	written := 0
	for fn := start; fn <= end; fn++ {
		f := &m.frames[fn]
		f.mu.Lock()
		n := min(FrameSize-frameOffs, len(src)-srcOffs)
		for i := 0; i < n; i++ {
			mi := srcOffs + i
			if (mask[mi>>3]>>(mi&7))&1 == 1 {
				f.data[frameOffs+i] = src[mi]
				written++
			}
		}
		first := uint32(fn)<<FrameShift + uint32(frameOffs)
		m.invalidateRange(ReservationSet(first), ReservationSet(first+uint32(n)-1))
		f.mu.Unlock()
		srcOffs += n
		frameOffs = 0
	}
	return written, nil
}

// streamCheck validates one stream entry. Misaligned entries are caller
// bugs: combined reads or writes issued after them may already have
// completed, so an error return could not preserve precise exceptions.
func streamCheck(offset uint16, width uint8) {
	switch width {
	case 1, 2, 4:
	default:
		panic("memory: stream width must be 1, 2, or 4")
	}
	if offset&uint16(width-1) != 0 {
		panic("memory: misaligned stream entry")
	}
}

// StreamRead performs the reads against a single frame, one result per
// entry.
func (m *MainMemory) StreamRead(frameNumber uint32, reads []StreamRead, dst []uint32) (int, error) {
	if len(reads) != len(dst) {
		panic("memory: stream read requires len(reads) == len(dst)")
	}
	fn := int(frameNumber)
	if fn >= len(m.frames) {
		return 0, &OutOfBoundsError{Offset: frameNumber << FrameShift}
	}
	f := &m.frames[fn]
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range reads {
		streamCheck(r.Offset, r.Width)
		b := int(r.Offset)
		switch r.Width {
		case 1:
			dst[i] = uint32(f.data[b])
		case 2:
			dst[i] = uint32(binary.LittleEndian.Uint16(f.data[b:]))
		case 4:
			dst[i] = binary.LittleEndian.Uint32(f.data[b:])
		}
	}
	return len(reads), nil
}

// StreamWrite performs the writes against a single frame.
func (m *MainMemory) StreamWrite(frameNumber uint32, writes []StreamWrite) (int, error) {
	fn := int(frameNumber)
	if fn >= len(m.frames) {
		return 0, &OutOfBoundsError{Offset: frameNumber << FrameShift}
	}
	f := &m.frames[fn]
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range writes {
		streamCheck(w.Offset, w.Width)
		b := int(w.Offset)
		switch w.Width {
		case 1:
			f.data[b] = uint8(w.Value)
		case 2:
			binary.LittleEndian.PutUint16(f.data[b:], uint16(w.Value))
		case 4:
			binary.LittleEndian.PutUint32(f.data[b:], w.Value)
		}
		addr := frameNumber<<FrameShift | uint32(w.Offset)
		m.invalidateSet(ReservationSet(addr))
	}
	return len(writes), nil
}

// StoreConditional checks the caller's reservation by compare-and-swap, and
// on success performs the store and invalidates every registered cell still
// holding expected. The check, store, and invalidation all happen under the
// frame lock so any observer that sees the new value also sees the
// reservations gone.
func (m *MainMemory) StoreConditional(offset, val uint32, reservation *atomic.Uint32, expected uint32) (uint32, error) {
	fn, b, err := m.checkOffset(offset, 4, true)
	if err != nil {
		return 0, err
	}
	f := &m.frames[fn]
	f.mu.Lock()
	defer f.mu.Unlock()
	if claimReservation(reservation, expected) != 0 {
		return 1, nil
	}
	binary.LittleEndian.PutUint32(f.data[b:], val)
	m.invalidateSet(expected)
	return 0, nil
}

// amo applies fn to the word at offset under the frame lock and returns the
// previous value. Reservations on the word's granule are invalidated while
// the lock is held, keeping the read-modify-write and the invalidation
// atomic for every observer.
func (m *MainMemory) amo(offset uint32, fn func(old uint32) uint32) (uint32, error) {
	if offset&3 != 0 {
		return 0, &AmoMisalignedError{Offset: offset, Class: AmoArithmetic}
	}
	frameNumber := int(offset >> FrameShift)
	if frameNumber >= len(m.frames) {
		return 0, &OutOfBoundsError{Offset: offset}
	}
	b := int(offset & FrameMask)
	f := &m.frames[frameNumber]
	f.mu.Lock()
	defer f.mu.Unlock()
	old := binary.LittleEndian.Uint32(f.data[b:])
	binary.LittleEndian.PutUint32(f.data[b:], fn(old))
	m.invalidateSet(ReservationSet(offset))
	return old, nil
}

// AmoSwapW atomically replaces the word with src.
func (m *MainMemory) AmoSwapW(offset, src uint32) (uint32, error) {
	return m.amo(offset, func(uint32) uint32 { return src })
}

// AmoAddW atomically adds src to the word, wrapping.
func (m *MainMemory) AmoAddW(offset, src uint32) (uint32, error) {
	return m.amo(offset, func(old uint32) uint32 { return old + src })
}

// AmoAndW atomically ands src into the word.
func (m *MainMemory) AmoAndW(offset, src uint32) (uint32, error) {
	return m.amo(offset, func(old uint32) uint32 { return old & src })
}

// AmoOrW atomically ors src into the word.
func (m *MainMemory) AmoOrW(offset, src uint32) (uint32, error) {
	return m.amo(offset, func(old uint32) uint32 { return old | src })
}

// AmoXorW atomically xors src into the word.
func (m *MainMemory) AmoXorW(offset, src uint32) (uint32, error) {
	return m.amo(offset, func(old uint32) uint32 { return old ^ src })
}

// AmoMinW atomically stores the signed minimum of the word and src.
func (m *MainMemory) AmoMinW(offset, src uint32) (uint32, error) {
	return m.amo(offset, func(old uint32) uint32 {
		if int32(old) < int32(src) {
			return old
		}
		return src
	})
}

// AmoMaxW atomically stores the signed maximum of the word and src.
func (m *MainMemory) AmoMaxW(offset, src uint32) (uint32, error) {
	return m.amo(offset, func(old uint32) uint32 {
		if int32(old) > int32(src) {
			return old
		}
		return src
	})
}

// AmoMinuW atomically stores the unsigned minimum of the word and src.
func (m *MainMemory) AmoMinuW(offset, src uint32) (uint32, error) {
	return m.amo(offset, func(old uint32) uint32 {
		if old < src {
			return old
		}
		return src
	})
}

// AmoMaxuW atomically stores the unsigned maximum of the word and src.
func (m *MainMemory) AmoMaxuW(offset, src uint32) (uint32, error) {
	return m.amo(offset, func(old uint32) uint32 {
		if old > src {
			return old
		}
		return src
	})
}

// Attributes reports main memory attributes.
func (m *MainMemory) Attributes() PMA {
	return MainPMA()
}

// Properties reports the base frame and frame count.
func (m *MainMemory) Properties() Properties {
	return Properties{BaseFrame: m.baseFrame, FrameCount: uint32(len(m.frames))}
}

// RegisterReservationSet adds a hart's reservation cell to the registry
// consulted by every write path.
func (m *MainMemory) RegisterReservationSet(cell *atomic.Uint32) {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	m.reservations = append(m.reservations, cell)
}

// invalidateSet clears every registered reservation equal to set.
func (m *MainMemory) invalidateSet(set uint32) {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	invalidateReservations(m.reservations, set)
}

// invalidateRange clears reservations for every set in [first, last].
func (m *MainMemory) invalidateRange(first, last uint32) {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	for set := first; set <= last; set++ {
		invalidateReservations(m.reservations, set)
	}
}
