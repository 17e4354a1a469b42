package memory

// MemoryKind distinguishes main memory from memory-mapped I/O.
type MemoryKind uint8

const (
	KindMain MemoryKind = iota
	KindIO
)

// AmoClass describes which atomic memory operations a region supports.
// Each class is a superset of the previous one.
type AmoClass uint8

const (
	// AmoNone supports no atomics; all atomic operations fail.
	AmoNone AmoClass = iota

	// AmoSwap supports amoswap only.
	AmoSwap

	// AmoLogical supports amoand, amoor, amoxor plus swap.
	AmoLogical

	// AmoArithmetic supports amoadd and amomin[u]/amomax[u] plus logical
	// and swap.
	AmoArithmetic
)

func (c AmoClass) String() string {
	switch c {
	case AmoNone:
		return "none"
	case AmoSwap:
		return "swap"
	case AmoLogical:
		return "logical"
	case AmoArithmetic:
		return "arithmetic"
	}
	return "unknown"
}

// Reservability describes whether a region participates in LR/SC.
type Reservability uint8

const (
	// ReserveNone means lr and sc are unsupported on this region.
	ReserveNone Reservability = iota

	// ReserveNonEventual allows reservations but sc may never succeed.
	ReserveNonEventual

	// ReserveEventual allows reservations and sc must eventually succeed
	// when the other architectural conditions are upheld.
	ReserveEventual
)

// Idempotency describes whether spurious reads or writes may occur.
type Idempotency uint8

const (
	// NonIdempotent regions must see exactly the accesses the program
	// performs; no caching of results.
	NonIdempotent Idempotency = iota

	// Idempotent regions tolerate spurious reads and writes.
	Idempotent
)

// Cacheability describes how a region's contents may be cached.
type Cacheability uint8

const (
	// NonCacheable regions require every load and store to be coherent.
	NonCacheable Cacheability = iota

	// StreamOnly regions accept streamed writes or loads.
	StreamOnly

	// WriteStreamLoadCache regions accept streamed writes; loads can be
	// cached.
	WriteStreamLoadCache

	// Cacheable regions are fully cacheable and must support block reads
	// and writes.
	Cacheable
)

// PMA holds the physical memory attributes of a region.
type PMA struct {
	Kind          MemoryKind
	Amo           AmoClass
	Reservability Reservability
	Idempotency   Idempotency
	Cacheability  Cacheability
}

// MainPMA returns the attributes of ordinary main memory: fully cacheable,
// reservable, idempotent, with arithmetic atomics.
func MainPMA() PMA {
	return PMA{
		Kind:          KindMain,
		Amo:           AmoArithmetic,
		Reservability: ReserveEventual,
		Idempotency:   Idempotent,
		Cacheability:  Cacheable,
	}
}

// PMAPacked is a PMA packed into a single byte:
//
//	bit  0   kind
//	bits 1-2 amo class
//	bits 3-4 reservability (3 is reserved and unpacks to none)
//	bit  5   idempotency
//	bits 6-7 cacheability
type PMAPacked uint8

// Pack packs the attributes into their single-byte representation.
func (p PMA) Pack() PMAPacked {
	return PMAPacked(uint8(p.Kind) |
		uint8(p.Amo)<<1 |
		uint8(p.Reservability)<<3 |
		uint8(p.Idempotency)<<5 |
		uint8(p.Cacheability)<<6)
}

// Kind extracts the memory kind.
func (p PMAPacked) Kind() MemoryKind {
	return MemoryKind(p & 1)
}

// Amo extracts the AMO class.
func (p PMAPacked) Amo() AmoClass {
	return AmoClass((p >> 1) & 3)
}

// Reservability extracts the reservability; the reserved encoding 3 reads
// back as ReserveNone.
func (p PMAPacked) Reservability() Reservability {
	r := Reservability((p >> 3) & 3)
	if r > ReserveEventual {
		return ReserveNone
	}
	return r
}

// Idempotency extracts the idempotency bit.
func (p PMAPacked) Idempotency() Idempotency {
	return Idempotency((p >> 5) & 1)
}

// Cacheability extracts the cacheability level.
func (p PMAPacked) Cacheability() Cacheability {
	return Cacheability((p >> 6) & 3)
}

// Unpack expands the packed byte back into the full attribute record.
func (p PMAPacked) Unpack() PMA {
	return PMA{
		Kind:          p.Kind(),
		Amo:           p.Amo(),
		Reservability: p.Reservability(),
		Idempotency:   p.Idempotency(),
		Cacheability:  p.Cacheability(),
	}
}
