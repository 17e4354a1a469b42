package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterFileZeroRegister(t *testing.T) {
	var rf RegisterFile

	rf.Set(X0, 123)
	assert.Equal(t, uint32(0), rf.Get(X0))

	rf.Set(RegIgnore, 456)
	assert.Equal(t, uint32(0), rf.Get(X0))
	assert.Equal(t, uint32(0), rf.Get(RegIgnore))
}

func TestRegisterFileOrdinaryRegisters(t *testing.T) {
	var rf RegisterFile

	for r := X1; r <= X31; r++ {
		rf.Set(r, uint32(r)*10)
	}
	for r := X1; r <= X31; r++ {
		assert.Equal(t, uint32(r)*10, rf.Get(r), "register %v", r)
	}
	assert.Equal(t, uint32(0), rf.Get(X0))
}

func TestSafeImmediates(t *testing.T) {
	tests := []struct {
		name string
		run  func() error
		ok   bool
	}{
		{"imm i max", func() error { _, err := SafeImmI(2047); return err }, true},
		{"imm i min", func() error { _, err := SafeImmI(-2048); return err }, true},
		{"imm i over", func() error { _, err := SafeImmI(2048); return err }, false},
		{"imm b even", func() error { _, err := SafeImmB(-4096); return err }, true},
		{"imm b odd", func() error { _, err := SafeImmB(7); return err }, false},
		{"imm b over", func() error { _, err := SafeImmB(4096); return err }, false},
		{"imm j even", func() error { _, err := SafeImmJ(1048574); return err }, true},
		{"imm j odd", func() error { _, err := SafeImmJ(9); return err }, false},
		{"imm u clean", func() error { _, err := SafeImmU(-4096); return err }, true}, // 0xFFFFF000 as int32
		{"imm u dirty", func() error { _, err := SafeImmU(0x1001); return err }, false},
		{"shamt max", func() error { _, err := SafeShamt(31); return err }, true},
		{"shamt over", func() error { _, err := SafeShamt(32); return err }, false},
		{"csr max", func() error { _, err := SafeCSR(0xFFF); return err }, true},
		{"csr over", func() error { _, err := SafeCSR(0x1000); return err }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSignExtend(t *testing.T) {
	assert.Equal(t, uint32(0xFFFFFFFF), SignExtend(0xFFF, 12))
	assert.Equal(t, uint32(0x7FF), SignExtend(0x7FF, 12))
	assert.Equal(t, uint32(0xFFFFF800), SignExtend(0x800, 12))
	assert.Equal(t, uint32(1), SignExtend(1, 32))
}

func TestInstructionString(t *testing.T) {
	tests := []struct {
		inst Instruction
		want string
	}{
		{Instruction{Kind: KindAddi, Rd: X1, Rs1: X2, Imm: -5}, "addi x1, x2, -5"},
		{Instruction{Kind: KindLw, Rd: X3, Rs1: X2, Imm: 16}, "lw x3, 16(x2)"},
		{Instruction{Kind: KindSw, Rs1: X2, Rs2: X3, Imm: 16}, "sw x3, 16(x2)"},
		{Instruction{Kind: KindLui, Rd: X1, Imm: 0x1000}, "lui x1, 0x1"},
		{Instruction{Kind: KindEcall}, "ecall"},
		{Instruction{Kind: KindLrw, Rd: X1, Rs1: X2}, "lr.w x1, (x2)"},
		{Instruction{Kind: KindInvalid, Raw: 0xDEAD}, "invalid 0x0000DEAD"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.inst.String())
	}
}
