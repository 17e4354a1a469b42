package vm

// tagInvalid marks an empty cache slot. Real tags are addresses shifted
// right by at least one bit, so the sentinel can never collide with one.
const tagInvalid = ^uint32(0)

// Eviction describes a block pushed out of the cache: the block-aligned
// address it was caching, a copy of its contents, and its tracker. Only
// valid dirty victims produce evictions.
type Eviction[T any, U any] struct {
	Addr    uint32
	Block   []T
	Tracker U
}

// Cache is a set-associative cache of fixed-size blocks of T, each with a
// tracker of type U that is zeroed when the block is filled. Addresses are
// split as (tag, set, block-offset): the low blockBits select the entry
// within a block, the next setBits select the set, and the rest is the tag.
//
// Victims are chosen round-robin per set after invalid slots run out;
// recency bookkeeping is not worth its cost at these associativities.
type Cache[T any, U any] struct {
	setBits   uint
	assoc     int
	blockBits uint

	blockLen int
	setCount int

	// Slot i of set s is index s*assoc+i; its entries start at
	// (s*assoc+i)<<blockBits in data.
	data     []T
	trackers []U
	tags     []uint32
	dirty    []bool
	victims  []uint8
}

// NewCache creates an empty cache with 2^setBits sets of assoc blocks of
// 2^blockBits entries.
func NewCache[T any, U any](setBits uint, assoc int, blockBits uint) *Cache[T, U] {
	if assoc < 1 || assoc > 255 {
		panic("cache: associativity out of range")
	}
	if setBits+blockBits == 0 || setBits+blockBits > 30 {
		panic("cache: geometry out of range")
	}
	setCount := 1 << setBits
	slots := setCount * assoc
	c := &Cache[T, U]{
		setBits:   setBits,
		assoc:     assoc,
		blockBits: blockBits,
		blockLen:  1 << blockBits,
		setCount:  setCount,
		data:      make([]T, slots<<blockBits),
		trackers:  make([]U, slots),
		tags:      make([]uint32, slots),
		dirty:     make([]bool, slots),
		victims:   make([]uint8, setCount),
	}
	for i := range c.tags {
		c.tags[i] = tagInvalid
	}
	return c
}

func (c *Cache[T, U]) split(addr uint32) (tag, set, offset uint32) {
	offset = addr & uint32(c.blockLen-1)
	set = (addr >> c.blockBits) & uint32(c.setCount-1)
	tag = addr >> (c.blockBits + c.setBits)
	return
}

// findSlot returns the slot index holding tag within set, or -1.
func (c *Cache[T, U]) findSlot(tag, set uint32) int {
	base := int(set) * c.assoc
	for i := 0; i < c.assoc; i++ {
		if c.tags[base+i] == tag {
			return base + i
		}
	}
	return -1
}

func (c *Cache[T, U]) entry(slot int, offset uint32) *T {
	return &c.data[slot<<c.blockBits+int(offset)]
}

// Get returns the entry holding addr if its block is resident.
func (c *Cache[T, U]) Get(addr uint32) (*T, bool) {
	tag, set, offset := c.split(addr)
	slot := c.findSlot(tag, set)
	if slot < 0 {
		return nil, false
	}
	return c.entry(slot, offset), true
}

// GetMut returns the entry and its block's tracker, marking the slot dirty.
func (c *Cache[T, U]) GetMut(addr uint32) (*T, *U, bool) {
	tag, set, offset := c.split(addr)
	slot := c.findSlot(tag, set)
	if slot < 0 {
		return nil, nil, false
	}
	c.dirty[slot] = true
	return c.entry(slot, offset), &c.trackers[slot], true
}

// insert places a new block for addr: the first invalid slot is used, else
// the set's round-robin victim. The previous occupant is reported only if
// it was valid and dirty. fill populates the block in place; if it fails
// the slot is left invalid and the error is returned.
func (c *Cache[T, U]) insert(tag, set uint32, fill func(block []T) error) (int, *Eviction[T, U], error) {
	base := int(set) * c.assoc
	slot := -1
	for i := 0; i < c.assoc; i++ {
		if c.tags[base+i] == tagInvalid {
			slot = base + i
			break
		}
	}
	if slot < 0 {
		v := c.victims[set]
		c.victims[set] = uint8((int(v) + 1) % c.assoc)
		slot = base + int(v)
	}

	var evicted *Eviction[T, U]
	if c.tags[slot] != tagInvalid && c.dirty[slot] {
		block := make([]T, c.blockLen)
		copy(block, c.data[slot<<c.blockBits:(slot+1)<<c.blockBits])
		evicted = &Eviction[T, U]{
			Addr:    c.tags[slot]<<(c.blockBits+c.setBits) | set<<c.blockBits,
			Block:   block,
			Tracker: c.trackers[slot],
		}
	}

	c.tags[slot] = tag
	c.dirty[slot] = false
	var zero U
	c.trackers[slot] = zero

	if err := fill(c.data[slot<<c.blockBits : (slot+1)<<c.blockBits]); err != nil {
		c.tags[slot] = tagInvalid
		return 0, nil, err
	}
	return slot, evicted, nil
}

// GetOrInsertWith returns the entry for addr, filling its block on a miss.
// The eviction is non-nil only when a valid dirty block was displaced.
func (c *Cache[T, U]) GetOrInsertWith(addr uint32, fill func(block []T) error) (*T, *Eviction[T, U], error) {
	tag, set, offset := c.split(addr)
	if slot := c.findSlot(tag, set); slot >= 0 {
		return c.entry(slot, offset), nil, nil
	}
	slot, evicted, err := c.insert(tag, set, fill)
	if err != nil {
		return nil, nil, err
	}
	return c.entry(slot, offset), evicted, nil
}

// GetMutOrInsertWith is GetOrInsertWith for mutating accesses: the returned
// block is marked dirty and its tracker is exposed.
func (c *Cache[T, U]) GetMutOrInsertWith(addr uint32, fill func(block []T) error) (*T, *U, *Eviction[T, U], error) {
	tag, set, offset := c.split(addr)
	if slot := c.findSlot(tag, set); slot >= 0 {
		c.dirty[slot] = true
		return c.entry(slot, offset), &c.trackers[slot], nil, nil
	}
	slot, evicted, err := c.insert(tag, set, fill)
	if err != nil {
		return nil, nil, nil, err
	}
	c.dirty[slot] = true
	return c.entry(slot, offset), &c.trackers[slot], evicted, nil
}

// Remove invalidates the block containing addr. A valid dirty block is
// returned as an eviction so the caller can write it back.
func (c *Cache[T, U]) Remove(addr uint32) *Eviction[T, U] {
	tag, set, _ := c.split(addr)
	slot := c.findSlot(tag, set)
	if slot < 0 {
		return nil
	}
	var evicted *Eviction[T, U]
	if c.dirty[slot] {
		block := make([]T, c.blockLen)
		copy(block, c.data[slot<<c.blockBits:(slot+1)<<c.blockBits])
		evicted = &Eviction[T, U]{
			Addr:    tag<<(c.blockBits+c.setBits) | set<<c.blockBits,
			Block:   block,
			Tracker: c.trackers[slot],
		}
	}
	c.tags[slot] = tagInvalid
	c.dirty[slot] = false
	return evicted
}

// Drain empties the whole cache, returning an eviction for every valid
// dirty block so the caller can write them back.
func (c *Cache[T, U]) Drain() []*Eviction[T, U] {
	var evictions []*Eviction[T, U]
	for slot, tag := range c.tags {
		if tag != tagInvalid && c.dirty[slot] {
			set := uint32(slot / c.assoc)
			block := make([]T, c.blockLen)
			copy(block, c.data[slot<<c.blockBits:(slot+1)<<c.blockBits])
			evictions = append(evictions, &Eviction[T, U]{
				Addr:    tag<<(c.blockBits+c.setBits) | set<<c.blockBits,
				Block:   block,
				Tracker: c.trackers[slot],
			})
		}
		c.tags[slot] = tagInvalid
		c.dirty[slot] = false
	}
	return evictions
}

// Invalidate empties the whole cache without writing anything back.
func (c *Cache[T, U]) Invalidate() {
	for i := range c.tags {
		c.tags[i] = tagInvalid
		c.dirty[i] = false
	}
}
