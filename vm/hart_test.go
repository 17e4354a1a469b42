package vm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookbusy1344/riscv-emulator/memory"
)

func testHart(t *testing.T, frames uint32) (*Hart, *memory.Bus) {
	t.Helper()
	bus := memory.NewBusBuilder().WithMainMemory(frames).Build()
	h := NewHart(bus, FullISA())
	bus.RegisterReservationSet(h.Reservation())
	return h, bus
}

// loadProgram encodes the instructions and writes them at addr.
func loadProgram(t *testing.T, bus *memory.Bus, addr uint32, program []Instruction) {
	t.Helper()
	buf := make([]byte, len(program)*4)
	for i, inst := range program {
		binary.LittleEndian.PutUint32(buf[i*4:], MustEncode(inst))
	}
	_, err := bus.BlockWrite(addr, buf)
	require.NoError(t, err)
}

// runToException steps until the hart concludes with an exception and
// returns it.
func runToException(t *testing.T, h *Hart) Conclusion {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if c := h.Step(); c.Kind == ConclusionException {
			return c
		}
	}
	t.Fatal("program did not reach an exception")
	return Conclusion{}
}

func TestHartAdd(t *testing.T) {
	h, bus := testHart(t, 4)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: X1, Rs1: X0, Imm: 5},
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 7},
		{Kind: KindAdd, Rd: X3, Rs1: X1, Rs2: X2},
		{Kind: KindEcall},
	})

	c := runToException(t, h)
	assert.Equal(t, ExcEnvironmentCall, c.Code)
	assert.Equal(t, uint32(12), h.Regs.Get(X3))
	assert.Equal(t, uint32(12), h.PC, "pc rests on the ecall")
}

func TestHartBranchNotTaken(t *testing.T) {
	h, bus := testHart(t, 4)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: X1, Rs1: X0, Imm: 1},
		{Kind: KindBeq, Rs1: X1, Rs2: X0, Imm: 8}, // not taken: x1 != x0
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 99},
		{Kind: KindEcall},
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 42},
		{Kind: KindEcall},
	})

	c := runToException(t, h)
	assert.Equal(t, ExcEnvironmentCall, c.Code)
	assert.Equal(t, uint32(99), h.Regs.Get(X2))
}

func TestHartBranchTaken(t *testing.T) {
	h, bus := testHart(t, 4)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindBeq, Rs1: X0, Rs2: X0, Imm: 8}, // taken: skips the next instruction
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 99},
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 42},
		{Kind: KindEcall},
	})

	runToException(t, h)
	assert.Equal(t, uint32(42), h.Regs.Get(X2))
}

func TestHartJalLink(t *testing.T) {
	h, bus := testHart(t, 4)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindJal, Rd: X1, Imm: 8}, // jumps over the first ecall
		{Kind: KindEcall},               // never runs
		{Kind: KindEcall},
	})

	c := runToException(t, h)
	assert.Equal(t, ExcEnvironmentCall, c.Code)
	assert.Equal(t, uint32(4), h.Regs.Get(X1), "link is pc of jal + 4")
	assert.Equal(t, uint32(8), h.PC)
}

func TestHartJalr(t *testing.T) {
	h, bus := testHart(t, 4)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: X5, Rs1: X0, Imm: 13}, // target 12, with bit 0 set
		{Kind: KindJalr, Rd: X1, Rs1: X5, Imm: 0},  // bit 0 is cleared
		{Kind: KindEcall},                          // never runs
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 7},
		{Kind: KindEcall},
	})

	runToException(t, h)
	assert.Equal(t, uint32(7), h.Regs.Get(X2))
	assert.Equal(t, uint32(8), h.Regs.Get(X1))
}

func TestHartLoadStoreRoundTrip(t *testing.T) {
	h, bus := testHart(t, 4)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindLui, Rd: X1, Imm: 0x000DF000},              // 0xDF000
		{Kind: KindAddi, Rd: X1, Rs1: X1, Imm: -0x521},        // closer to 0xDEADF
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 0x100},         // address
		{Kind: KindSw, Rs1: X2, Rs2: X1, Imm: 0},              //
		{Kind: KindLw, Rd: X3, Rs1: X2, Imm: 0},               //
		{Kind: KindEcall},
	})

	runToException(t, h)
	assert.Equal(t, h.Regs.Get(X1), h.Regs.Get(X3))

	// The stored word is also what the memory holds once flushed.
	require.NoError(t, h.MMU().FlushDataCache())
	w, err := bus.LoadWord(0x100)
	require.NoError(t, err)
	assert.Equal(t, h.Regs.Get(X1), w)
}

func TestHartStoreExactValue(t *testing.T) {
	h, bus := testHart(t, 4)

	// Materialize 0xDEADBEEF: lui 0xDEADC000 then addi -0x111.
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindLui, Rd: X1, Imm: -559038464}, // 0xDEADC000 as int32
		{Kind: KindAddi, Rd: X1, Rs1: X1, Imm: -0x111},
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 0x100},
		{Kind: KindSw, Rs1: X2, Rs2: X1, Imm: 0},
		{Kind: KindLw, Rd: X3, Rs1: X2, Imm: 0},
		{Kind: KindEcall},
	})

	runToException(t, h)
	assert.Equal(t, uint32(0xDEADBEEF), h.Regs.Get(X1))
	assert.Equal(t, uint32(0xDEADBEEF), h.Regs.Get(X3))
}

func TestHartSignExtension(t *testing.T) {
	h, bus := testHart(t, 4)
	require.NoError(t, bus.StoreWord(0x100, 0x0000FF80))

	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 0x100},
		{Kind: KindLb, Rd: X3, Rs1: X2, Imm: 0},  // 0x80 -> sign extended
		{Kind: KindLbu, Rd: X4, Rs1: X2, Imm: 0}, // 0x80 -> zero extended
		{Kind: KindLh, Rd: X5, Rs1: X2, Imm: 0},  // 0xFF80 -> sign extended
		{Kind: KindLhu, Rd: X6, Rs1: X2, Imm: 0}, // 0xFF80 -> zero extended
		{Kind: KindEcall},
	})

	runToException(t, h)
	assert.Equal(t, uint32(0xFFFFFF80), h.Regs.Get(X3))
	assert.Equal(t, uint32(0x80), h.Regs.Get(X4))
	assert.Equal(t, uint32(0xFFFFFF80), h.Regs.Get(X5))
	assert.Equal(t, uint32(0xFF80), h.Regs.Get(X6))
}

func TestHartX0IsHardwiredZero(t *testing.T) {
	h, bus := testHart(t, 4)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: RegIgnore, Rs1: X0, Imm: 123}, // write to x0
		{Kind: KindAdd, Rd: X1, Rs1: X0, Rs2: X0},
		{Kind: KindEcall},
	})

	runToException(t, h)
	assert.Equal(t, uint32(0), h.Regs.Get(X1))
	assert.Equal(t, uint32(0), h.Regs.Get(X0))
}

func TestHartMisalignedBranchTarget(t *testing.T) {
	h, bus := testHart(t, 4)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindBeq, Rs1: X0, Rs2: X0, Imm: 6}, // taken, target not 4-aligned
	})

	c := h.Step()
	assert.Equal(t, ConclusionException, c.Kind)
	assert.Equal(t, ExcInstructionAddressMisaligned, c.Code)
	assert.Equal(t, uint32(0), h.PC, "pc unchanged on exception")
}

func TestHartMisalignedJalTarget(t *testing.T) {
	h, bus := testHart(t, 4)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindJal, Rd: X1, Imm: 10},
	})

	c := h.Step()
	assert.Equal(t, ConclusionException, c.Kind)
	assert.Equal(t, ExcInstructionAddressMisaligned, c.Code)
}

func TestHartLoadFaults(t *testing.T) {
	h, bus := testHart(t, 1)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 0x102},
		{Kind: KindLw, Rd: X1, Rs1: X2, Imm: 0}, // misaligned word load
	})

	h.Step()
	c := h.Step()
	assert.Equal(t, ConclusionException, c.Kind)
	assert.Equal(t, ExcLoadAddressMisaligned, c.Code)

	// Out of bounds load faults with an access error.
	h2, bus2 := testHart(t, 1)
	loadProgram(t, bus2, 0, []Instruction{
		{Kind: KindLui, Rd: X2, Imm: 0x7FFFF000},
		{Kind: KindLw, Rd: X1, Rs1: X2, Imm: 0},
	})
	h2.Step()
	c = h2.Step()
	assert.Equal(t, ConclusionException, c.Kind)
	assert.Equal(t, ExcLoadAccessFault, c.Code)
}

func TestHartStoreFaults(t *testing.T) {
	h, bus := testHart(t, 1)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 0x102},
		{Kind: KindSw, Rs1: X2, Rs2: X0, Imm: 0},
	})

	h.Step()
	c := h.Step()
	assert.Equal(t, ConclusionException, c.Kind)
	assert.Equal(t, ExcStoreAddressMisaligned, c.Code)
}

func TestHartIllegalInstruction(t *testing.T) {
	h, bus := testHart(t, 1)
	require.NoError(t, bus.StoreWord(0, 0xFFFFFFFF))

	c := h.Step()
	assert.Equal(t, ConclusionException, c.Kind)
	assert.Equal(t, ExcIllegalInstruction, c.Code)
}

func TestHartEbreak(t *testing.T) {
	h, bus := testHart(t, 1)
	loadProgram(t, bus, 0, []Instruction{{Kind: KindEbreak}})

	c := h.Step()
	assert.Equal(t, ConclusionException, c.Kind)
	assert.Equal(t, ExcBreakpoint, c.Code)
}

func TestHartMisalignedFetch(t *testing.T) {
	h, _ := testHart(t, 1)
	h.PC = 2

	c := h.Step()
	assert.Equal(t, ConclusionException, c.Kind)
	assert.Equal(t, ExcInstructionAddressMisaligned, c.Code)
}

func TestHartFetchFault(t *testing.T) {
	h, _ := testHart(t, 1)
	h.PC = 0x100000

	c := h.Step()
	assert.Equal(t, ConclusionException, c.Kind)
	assert.Equal(t, ExcInstructionAccessFault, c.Code)
}

func TestHartShifts(t *testing.T) {
	h, bus := testHart(t, 4)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: X1, Rs1: X0, Imm: -8},   // 0xFFFFFFF8
		{Kind: KindSrli, Rd: X2, Rs1: X1, Imm: 28},   // logical: 0xF
		{Kind: KindSrai, Rd: X3, Rs1: X1, Imm: 28},   // arithmetic: -1
		{Kind: KindAddi, Rd: X4, Rs1: X0, Imm: 0x21}, // shift amount uses low 5 bits: 1
		{Kind: KindSll, Rd: X5, Rs1: X1, Rs2: X4},
		{Kind: KindEcall},
	})

	runToException(t, h)
	assert.Equal(t, uint32(0xF), h.Regs.Get(X2))
	assert.Equal(t, uint32(0xFFFFFFFF), h.Regs.Get(X3))
	assert.Equal(t, uint32(0xFFFFFFF0), h.Regs.Get(X5))
}

func TestHartComparisons(t *testing.T) {
	h, bus := testHart(t, 4)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: X1, Rs1: X0, Imm: -1}, // signed -1 / unsigned max
		{Kind: KindSlti, Rd: X2, Rs1: X1, Imm: 0},  // -1 < 0 -> 1
		{Kind: KindSltiu, Rd: X3, Rs1: X1, Imm: 0}, // max < 0 -> 0
		{Kind: KindAddi, Rd: X4, Rs1: X0, Imm: 1},
		{Kind: KindSlt, Rd: X5, Rs1: X1, Rs2: X4},  // -1 < 1 -> 1
		{Kind: KindSltu, Rd: X6, Rs1: X1, Rs2: X4}, // max < 1 -> 0
		{Kind: KindEcall},
	})

	runToException(t, h)
	assert.Equal(t, uint32(1), h.Regs.Get(X2))
	assert.Equal(t, uint32(0), h.Regs.Get(X3))
	assert.Equal(t, uint32(1), h.Regs.Get(X5))
	assert.Equal(t, uint32(0), h.Regs.Get(X6))
}

func TestHartMulDiv(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		rs1  uint32
		rs2  uint32
		want uint32
	}{
		{"mul", KindMul, 7, 6, 42},
		{"mul wraps", KindMul, 0x80000000, 2, 0},
		{"mulh", KindMulh, 0xFFFFFFFF, 0xFFFFFFFF, 0},            // (-1)*(-1) = 1, high 0
		{"mulhu", KindMulhu, 0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFE}, // max*max high word
		{"mulhsu", KindMulhsu, 0xFFFFFFFF, 2, 0xFFFFFFFF},        // -1 * 2 -> high all ones
		{"div", KindDiv, 0xFFFFFFF9, 2, 0xFFFFFFFD}, // -7 / 2 = -3
		{"div by zero", KindDiv, 7, 0, 0xFFFFFFFF},
		{"div overflow", KindDiv, 0x80000000, 0xFFFFFFFF, 0x80000000},
		{"divu", KindDivu, 7, 2, 3},
		{"divu by zero", KindDivu, 7, 0, 0xFFFFFFFF},
		{"rem", KindRem, 0xFFFFFFF9, 2, 0xFFFFFFFF}, // -7 % 2 = -1
		{"rem by zero", KindRem, 7, 0, 7},
		{"rem overflow", KindRem, 0x80000000, 0xFFFFFFFF, 0},
		{"remu", KindRemu, 7, 2, 1},
		{"remu by zero", KindRemu, 7, 0, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, bus := testHart(t, 4)
			loadProgram(t, bus, 0, []Instruction{
				{Kind: tt.kind, Rd: X3, Rs1: X1, Rs2: X2},
				{Kind: KindEcall},
			})
			h.Regs.Set(X1, tt.rs1)
			h.Regs.Set(X2, tt.rs2)

			runToException(t, h)
			assert.Equal(t, tt.want, h.Regs.Get(X3))
		})
	}
}

func TestHartLrScSuccess(t *testing.T) {
	h, bus := testHart(t, 4)
	require.NoError(t, bus.StoreWord(0x100, 10))

	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 0x100},
		{Kind: KindLrw, Rd: X1, Rs1: X2},
		{Kind: KindAddi, Rd: X1, Rs1: X1, Imm: 1},
		{Kind: KindScw, Rd: X3, Rs1: X2, Rs2: X1},
		{Kind: KindEcall},
	})

	runToException(t, h)
	assert.Equal(t, uint32(0), h.Regs.Get(X3), "sc reports success")

	w, err := bus.LoadWord(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), w)
}

func TestHartScFailureAfterRemoteStore(t *testing.T) {
	h, bus := testHart(t, 4)
	require.NoError(t, bus.StoreWord(0x100, 10))

	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 0x100},
		{Kind: KindLrw, Rd: X1, Rs1: X2},
		{Kind: KindAddi, Rd: X1, Rs1: X1, Imm: 1},
		{Kind: KindScw, Rd: X3, Rs1: X2, Rs2: X1},
		{Kind: KindEcall},
	})

	// Run through the lr.
	h.Step()
	h.Step()

	// Another hart stores a different value into the same 64-byte granule.
	require.NoError(t, bus.StoreWord(0x13C, 999))

	runToException(t, h)
	assert.Equal(t, uint32(1), h.Regs.Get(X3), "sc reports failure")

	w, err := bus.LoadWord(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), w, "failed sc leaves memory unchanged")
}

func TestHartAmoInstructions(t *testing.T) {
	h, bus := testHart(t, 4)
	require.NoError(t, bus.StoreWord(0x100, 10))

	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 0x100},
		{Kind: KindAddi, Rd: X4, Rs1: X0, Imm: 5},
		{Kind: KindAmoAddw, Rd: X1, Rs1: X2, Rs2: X4}, // 10+5, x1=10
		{Kind: KindAmoSwapw, Rd: X5, Rs1: X2, Rs2: X0}, // swap in 0, x5=15
		{Kind: KindEcall},
	})

	runToException(t, h)
	assert.Equal(t, uint32(10), h.Regs.Get(X1))
	assert.Equal(t, uint32(15), h.Regs.Get(X5))

	w, err := bus.LoadWord(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), w)
}

func TestHartFenceIRefetchesModifiedCode(t *testing.T) {
	h, bus := testHart(t, 4)

	// The program stores a new instruction over its own tail, then
	// executes fence.i; the refetched tail must be the stored one.
	// Stored instruction: addi x3, x0, 42.
	patch := MustEncode(Instruction{Kind: KindAddi, Rd: X3, Rs1: X0, Imm: 42})

	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindLui, Rd: X1, Imm: int32(patch & 0xFFFFF000)},
		{Kind: KindAddi, Rd: X1, Rs1: X1, Imm: int32(SignExtend(patch&0xFFF, 12))},
		{Kind: KindAddi, Rd: X2, Rs1: X0, Imm: 0x14}, // patch target
		{Kind: KindSw, Rs1: X2, Rs2: X1, Imm: 0},
		{Kind: KindFencei},
		{Kind: KindEcall}, // 0x14: overwritten by the patch before it runs
		{Kind: KindEcall}, // 0x18
	})

	// Pre-fetch the line so the stale decode of 0x14 (an ecall) is cached.
	_, err := h.MMU().LoadInstruction(0x14)
	require.NoError(t, err)

	runToException(t, h)
	assert.Equal(t, uint32(42), h.Regs.Get(X3), "patched instruction must execute after fence.i")
	assert.Equal(t, uint32(0x18), h.PC)
}

func TestHartZicsr(t *testing.T) {
	h, bus := testHart(t, 4)
	loadProgram(t, bus, 0, []Instruction{
		{Kind: KindAddi, Rd: X1, Rs1: X0, Imm: 0xF0},
		{Kind: KindCsrRw, Rd: RegIgnore, Rs1: X1, CSR: 0x340}, // mscratch = 0xF0
		{Kind: KindCsrRsi, Rd: X2, CSR: 0x340, Imm: 0x0F},     // x2 = 0xF0, set low bits
		{Kind: KindCsrRc, Rd: X3, Rs1: X1, CSR: 0x340},        // x3 = 0xFF, clear 0xF0
		{Kind: KindCsrRs, Rd: X4, Rs1: X0, CSR: 0x340},        // x4 = 0x0F, read only
		{Kind: KindEcall},
	})

	runToException(t, h)
	assert.Equal(t, uint32(0xF0), h.Regs.Get(X2))
	assert.Equal(t, uint32(0xFF), h.Regs.Get(X3))
	assert.Equal(t, uint32(0x0F), h.Regs.Get(X4))
}
