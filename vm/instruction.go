package vm

import "fmt"

// Kind enumerates every decoded operation.
type Kind uint8

const (
	KindLui Kind = iota
	KindAuipc
	KindJal
	KindJalr
	KindBeq
	KindBne
	KindBlt
	KindBge
	KindBltu
	KindBgeu
	KindLb
	KindLh
	KindLw
	KindLbu
	KindLhu
	KindSb
	KindSh
	KindSw
	KindAddi
	KindSlti
	KindSltiu
	KindXori
	KindOri
	KindAndi
	KindSlli
	KindSrli
	KindSrai
	KindAdd
	KindSub
	KindSll
	KindSlt
	KindSltu
	KindXor
	KindSrl
	KindSra
	KindOr
	KindAnd
	KindFence
	KindEcall
	KindEbreak

	KindFencei

	KindCsrRw
	KindCsrRs
	KindCsrRc
	KindCsrRwi
	KindCsrRsi
	KindCsrRci

	KindMul
	KindMulh
	KindMulhsu
	KindMulhu
	KindDiv
	KindDivu
	KindRem
	KindRemu

	KindLrw
	KindScw
	KindAmoSwapw
	KindAmoAddw
	KindAmoXorw
	KindAmoAndw
	KindAmoOrw
	KindAmoMinw
	KindAmoMaxw
	KindAmoMinuw
	KindAmoMaxuw

	// KindInvalid is always the last variant, so an array sized
	// KindInvalid+1 can be indexed by every kind.
	KindInvalid
)

var kindNames = [KindInvalid + 1]string{
	"lui", "auipc", "jal", "jalr",
	"beq", "bne", "blt", "bge", "bltu", "bgeu",
	"lb", "lh", "lw", "lbu", "lhu",
	"sb", "sh", "sw",
	"addi", "slti", "sltiu", "xori", "ori", "andi",
	"slli", "srli", "srai",
	"add", "sub", "sll", "slt", "sltu", "xor", "srl", "sra", "or", "and",
	"fence", "ecall", "ebreak",
	"fence.i",
	"csrrw", "csrrs", "csrrc", "csrrwi", "csrrsi", "csrrci",
	"mul", "mulh", "mulhsu", "mulhu", "div", "divu", "rem", "remu",
	"lr.w", "sc.w", "amoswap.w", "amoadd.w", "amoxor.w", "amoand.w",
	"amoor.w", "amomin.w", "amomax.w", "amominu.w", "amomaxu.w",
	"invalid",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Instruction is a decoded operation. It is a flat record so the
// instruction cache can store a uniform size per line; each kind populates
// only the fields its format carries, and the rest stay zero. Instructions
// are plain values and freely copyable.
type Instruction struct {
	Kind Kind

	Rd  Reg
	Rs1 Reg
	Rs2 Reg

	// Imm holds the format's sign-extended immediate, the shift amount of
	// the shift-immediate forms, or the zero-extended uimm of the CSR
	// immediate forms.
	Imm int32

	// CSR is the control register index of the Zicsr forms.
	CSR uint16

	// Aq and Rl are the acquire/release bits of the atomic forms.
	Aq bool
	Rl bool

	// Raw preserves the original word for KindInvalid.
	Raw uint32
}

// String renders the instruction roughly as an assembler would accept it.
func (i Instruction) String() string {
	switch i.Kind {
	case KindLui, KindAuipc:
		return fmt.Sprintf("%s %s, 0x%X", i.Kind, i.Rd, uint32(i.Imm)>>12)
	case KindJal:
		return fmt.Sprintf("%s %s, %d", i.Kind, i.Rd, i.Imm)
	case KindJalr:
		return fmt.Sprintf("%s %s, %d(%s)", i.Kind, i.Rd, i.Imm, i.Rs1)
	case KindBeq, KindBne, KindBlt, KindBge, KindBltu, KindBgeu:
		return fmt.Sprintf("%s %s, %s, %d", i.Kind, i.Rs1, i.Rs2, i.Imm)
	case KindLb, KindLh, KindLw, KindLbu, KindLhu:
		return fmt.Sprintf("%s %s, %d(%s)", i.Kind, i.Rd, i.Imm, i.Rs1)
	case KindSb, KindSh, KindSw:
		return fmt.Sprintf("%s %s, %d(%s)", i.Kind, i.Rs2, i.Imm, i.Rs1)
	case KindAddi, KindSlti, KindSltiu, KindXori, KindOri, KindAndi,
		KindSlli, KindSrli, KindSrai:
		return fmt.Sprintf("%s %s, %s, %d", i.Kind, i.Rd, i.Rs1, i.Imm)
	case KindAdd, KindSub, KindSll, KindSlt, KindSltu, KindXor, KindSrl,
		KindSra, KindOr, KindAnd,
		KindMul, KindMulh, KindMulhsu, KindMulhu, KindDiv, KindDivu,
		KindRem, KindRemu:
		return fmt.Sprintf("%s %s, %s, %s", i.Kind, i.Rd, i.Rs1, i.Rs2)
	case KindFence, KindFencei, KindEcall, KindEbreak:
		return i.Kind.String()
	case KindCsrRw, KindCsrRs, KindCsrRc:
		return fmt.Sprintf("%s %s, 0x%03X, %s", i.Kind, i.Rd, i.CSR, i.Rs1)
	case KindCsrRwi, KindCsrRsi, KindCsrRci:
		return fmt.Sprintf("%s %s, 0x%03X, %d", i.Kind, i.Rd, i.CSR, i.Imm)
	case KindLrw:
		return fmt.Sprintf("%s %s, (%s)", i.Kind, i.Rd, i.Rs1)
	case KindScw, KindAmoSwapw, KindAmoAddw, KindAmoXorw, KindAmoAndw,
		KindAmoOrw, KindAmoMinw, KindAmoMaxw, KindAmoMinuw, KindAmoMaxuw:
		return fmt.Sprintf("%s %s, %s, (%s)", i.Kind, i.Rd, i.Rs2, i.Rs1)
	case KindInvalid:
		return fmt.Sprintf("invalid 0x%08X", i.Raw)
	}
	return "unknown"
}
