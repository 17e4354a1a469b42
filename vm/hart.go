package vm

import (
	"sync/atomic"

	"github.com/lookbusy1344/riscv-emulator/memory"
)

// Hart is a single hardware thread: a program counter, the register file,
// and a private MMU over the shared bus. Harts share nothing else; real
// parallelism comes from running each on its own OS thread.
type Hart struct {
	PC   uint32
	Regs RegisterFile

	mmu *MMU
	isa ISA
	csr []uint32
}

// NewHart creates a hart attached to the bus with a fresh, empty
// reservation cell. The caller is responsible for registering the cell
// with the bus so remote writes can invalidate it.
func NewHart(bus *memory.Bus, isa ISA) *Hart {
	reservation := &atomic.Uint32{}
	reservation.Store(memory.ReservationNone)
	return &Hart{
		mmu: NewMMU(bus, reservation, isa),
		isa: isa,
		csr: make([]uint32, 4096),
	}
}

// Reservation exposes the hart's reservation cell for bus registration.
func (h *Hart) Reservation() *atomic.Uint32 {
	return h.mmu.Reservation()
}

// MMU exposes the hart's memory front end.
func (h *Hart) MMU() *MMU {
	return h.mmu
}

// Step fetches, executes, and retires exactly one instruction. On
// ConclusionNone the program counter advances by 4; a jump has already
// updated it; an exception leaves it unchanged.
func (h *Hart) Step() Conclusion {
	inst, err := h.mmu.LoadInstruction(h.PC)
	if err != nil {
		return concludeException(fetchExceptionCode(err))
	}

	conclusion := h.execute(&inst)

	if conclusion.Kind == ConclusionNone {
		h.PC += 4
	}
	return conclusion
}

func (h *Hart) execute(inst *Instruction) Conclusion {
	switch inst.Kind {
	case KindLui:
		return h.lui(inst)
	case KindAuipc:
		return h.auipc(inst)
	case KindJal:
		return h.jal(inst)
	case KindJalr:
		return h.jalr(inst)
	case KindBeq:
		return h.beq(inst)
	case KindBne:
		return h.bne(inst)
	case KindBlt:
		return h.blt(inst)
	case KindBge:
		return h.bge(inst)
	case KindBltu:
		return h.bltu(inst)
	case KindBgeu:
		return h.bgeu(inst)
	case KindLb:
		return h.lb(inst)
	case KindLh:
		return h.lh(inst)
	case KindLw:
		return h.lw(inst)
	case KindLbu:
		return h.lbu(inst)
	case KindLhu:
		return h.lhu(inst)
	case KindSb:
		return h.sb(inst)
	case KindSh:
		return h.sh(inst)
	case KindSw:
		return h.sw(inst)
	case KindAddi:
		return h.addi(inst)
	case KindSlti:
		return h.slti(inst)
	case KindSltiu:
		return h.sltiu(inst)
	case KindXori:
		return h.xori(inst)
	case KindOri:
		return h.ori(inst)
	case KindAndi:
		return h.andi(inst)
	case KindSlli:
		return h.slli(inst)
	case KindSrli:
		return h.srli(inst)
	case KindSrai:
		return h.srai(inst)
	case KindAdd:
		return h.add(inst)
	case KindSub:
		return h.sub(inst)
	case KindSll:
		return h.sll(inst)
	case KindSlt:
		return h.slt(inst)
	case KindSltu:
		return h.sltu(inst)
	case KindXor:
		return h.xor(inst)
	case KindSrl:
		return h.srl(inst)
	case KindSra:
		return h.sra(inst)
	case KindOr:
		return h.or(inst)
	case KindAnd:
		return h.and(inst)
	case KindFence:
		return h.fence(inst)
	case KindEcall:
		return concludeException(ExcEnvironmentCall)
	case KindEbreak:
		return concludeException(ExcBreakpoint)
	case KindFencei:
		return h.fencei(inst)
	case KindCsrRw:
		return h.csrrw(inst)
	case KindCsrRs:
		return h.csrrs(inst)
	case KindCsrRc:
		return h.csrrc(inst)
	case KindCsrRwi:
		return h.csrrwi(inst)
	case KindCsrRsi:
		return h.csrrsi(inst)
	case KindCsrRci:
		return h.csrrci(inst)
	case KindMul:
		return h.mul(inst)
	case KindMulh:
		return h.mulh(inst)
	case KindMulhsu:
		return h.mulhsu(inst)
	case KindMulhu:
		return h.mulhu(inst)
	case KindDiv:
		return h.div(inst)
	case KindDivu:
		return h.divu(inst)
	case KindRem:
		return h.rem(inst)
	case KindRemu:
		return h.remu(inst)
	case KindLrw:
		return h.lrw(inst)
	case KindScw:
		return h.scw(inst)
	case KindAmoSwapw:
		return h.amoOp(inst, h.mmu.AmoSwapW)
	case KindAmoAddw:
		return h.amoOp(inst, h.mmu.AmoAddW)
	case KindAmoXorw:
		return h.amoOp(inst, h.mmu.AmoXorW)
	case KindAmoAndw:
		return h.amoOp(inst, h.mmu.AmoAndW)
	case KindAmoOrw:
		return h.amoOp(inst, h.mmu.AmoOrW)
	case KindAmoMinw:
		return h.amoOp(inst, h.mmu.AmoMinW)
	case KindAmoMaxw:
		return h.amoOp(inst, h.mmu.AmoMaxW)
	case KindAmoMinuw:
		return h.amoOp(inst, h.mmu.AmoMinuW)
	case KindAmoMaxuw:
		return h.amoOp(inst, h.mmu.AmoMaxuW)
	}
	return concludeException(ExcIllegalInstruction)
}
