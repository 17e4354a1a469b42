package vm

// RV32I base integer execution. All arithmetic is 32-bit two's-complement
// wrapping; shift amounts use the low 5 bits of the operand. Taken control
// transfers to targets not aligned to 4 bytes raise the architectural
// instruction-address-misaligned exception.

func (h *Hart) lui(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, uint32(inst.Imm))
	return concludeNone()
}

func (h *Hart) auipc(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.PC+uint32(inst.Imm))
	return concludeNone()
}

func (h *Hart) jal(inst *Instruction) Conclusion {
	target := h.PC + uint32(inst.Imm)
	if target&3 != 0 {
		return concludeException(ExcInstructionAddressMisaligned)
	}
	h.Regs.Set(inst.Rd, h.PC+4)
	h.PC = target
	return concludeJumped()
}

func (h *Hart) jalr(inst *Instruction) Conclusion {
	target := (h.Regs.Get(inst.Rs1) + uint32(inst.Imm)) &^ 1
	if target&3 != 0 {
		return concludeException(ExcInstructionAddressMisaligned)
	}
	h.Regs.Set(inst.Rd, h.PC+4)
	h.PC = target
	return concludeJumped()
}

// branch resolves a conditional branch whose condition already evaluated.
func (h *Hart) branch(taken bool, off int32) Conclusion {
	if !taken {
		return concludeNone()
	}
	target := h.PC + uint32(off)
	if target&3 != 0 {
		return concludeException(ExcInstructionAddressMisaligned)
	}
	h.PC = target
	return concludeJumped()
}

func (h *Hart) beq(inst *Instruction) Conclusion {
	return h.branch(h.Regs.Get(inst.Rs1) == h.Regs.Get(inst.Rs2), inst.Imm)
}

func (h *Hart) bne(inst *Instruction) Conclusion {
	return h.branch(h.Regs.Get(inst.Rs1) != h.Regs.Get(inst.Rs2), inst.Imm)
}

func (h *Hart) blt(inst *Instruction) Conclusion {
	return h.branch(int32(h.Regs.Get(inst.Rs1)) < int32(h.Regs.Get(inst.Rs2)), inst.Imm)
}

func (h *Hart) bge(inst *Instruction) Conclusion {
	return h.branch(int32(h.Regs.Get(inst.Rs1)) >= int32(h.Regs.Get(inst.Rs2)), inst.Imm)
}

func (h *Hart) bltu(inst *Instruction) Conclusion {
	return h.branch(h.Regs.Get(inst.Rs1) < h.Regs.Get(inst.Rs2), inst.Imm)
}

func (h *Hart) bgeu(inst *Instruction) Conclusion {
	return h.branch(h.Regs.Get(inst.Rs1) >= h.Regs.Get(inst.Rs2), inst.Imm)
}

func (h *Hart) lb(inst *Instruction) Conclusion {
	v, err := h.mmu.LoadByte(h.Regs.Get(inst.Rs1) + uint32(inst.Imm))
	if err != nil {
		return concludeException(loadExceptionCode(err))
	}
	h.Regs.Set(inst.Rd, uint32(int32(int8(v))))
	return concludeNone()
}

func (h *Hart) lh(inst *Instruction) Conclusion {
	v, err := h.mmu.LoadHalfWord(h.Regs.Get(inst.Rs1) + uint32(inst.Imm))
	if err != nil {
		return concludeException(loadExceptionCode(err))
	}
	h.Regs.Set(inst.Rd, uint32(int32(int16(v))))
	return concludeNone()
}

func (h *Hart) lw(inst *Instruction) Conclusion {
	v, err := h.mmu.LoadWord(h.Regs.Get(inst.Rs1) + uint32(inst.Imm))
	if err != nil {
		return concludeException(loadExceptionCode(err))
	}
	h.Regs.Set(inst.Rd, v)
	return concludeNone()
}

func (h *Hart) lbu(inst *Instruction) Conclusion {
	v, err := h.mmu.LoadByte(h.Regs.Get(inst.Rs1) + uint32(inst.Imm))
	if err != nil {
		return concludeException(loadExceptionCode(err))
	}
	h.Regs.Set(inst.Rd, v)
	return concludeNone()
}

func (h *Hart) lhu(inst *Instruction) Conclusion {
	v, err := h.mmu.LoadHalfWord(h.Regs.Get(inst.Rs1) + uint32(inst.Imm))
	if err != nil {
		return concludeException(loadExceptionCode(err))
	}
	h.Regs.Set(inst.Rd, v)
	return concludeNone()
}

func (h *Hart) sb(inst *Instruction) Conclusion {
	addr := h.Regs.Get(inst.Rs1) + uint32(inst.Imm)
	if err := h.mmu.StoreByte(addr, uint8(h.Regs.Get(inst.Rs2))); err != nil {
		return concludeException(storeExceptionCode(err))
	}
	return concludeNone()
}

func (h *Hart) sh(inst *Instruction) Conclusion {
	addr := h.Regs.Get(inst.Rs1) + uint32(inst.Imm)
	if err := h.mmu.StoreHalfWord(addr, uint16(h.Regs.Get(inst.Rs2))); err != nil {
		return concludeException(storeExceptionCode(err))
	}
	return concludeNone()
}

func (h *Hart) sw(inst *Instruction) Conclusion {
	addr := h.Regs.Get(inst.Rs1) + uint32(inst.Imm)
	if err := h.mmu.StoreWord(addr, h.Regs.Get(inst.Rs2)); err != nil {
		return concludeException(storeExceptionCode(err))
	}
	return concludeNone()
}

func (h *Hart) addi(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)+uint32(inst.Imm))
	return concludeNone()
}

func (h *Hart) slti(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, boolToReg(int32(h.Regs.Get(inst.Rs1)) < inst.Imm))
	return concludeNone()
}

func (h *Hart) sltiu(inst *Instruction) Conclusion {
	// The immediate is sign-extended first, then compared unsigned.
	h.Regs.Set(inst.Rd, boolToReg(h.Regs.Get(inst.Rs1) < uint32(inst.Imm)))
	return concludeNone()
}

func (h *Hart) xori(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)^uint32(inst.Imm))
	return concludeNone()
}

func (h *Hart) ori(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)|uint32(inst.Imm))
	return concludeNone()
}

func (h *Hart) andi(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)&uint32(inst.Imm))
	return concludeNone()
}

func (h *Hart) slli(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)<<uint32(inst.Imm))
	return concludeNone()
}

func (h *Hart) srli(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)>>uint32(inst.Imm))
	return concludeNone()
}

func (h *Hart) srai(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, uint32(int32(h.Regs.Get(inst.Rs1))>>uint32(inst.Imm)))
	return concludeNone()
}

func (h *Hart) add(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)+h.Regs.Get(inst.Rs2))
	return concludeNone()
}

func (h *Hart) sub(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)-h.Regs.Get(inst.Rs2))
	return concludeNone()
}

func (h *Hart) sll(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)<<(h.Regs.Get(inst.Rs2)&0x1F))
	return concludeNone()
}

func (h *Hart) slt(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, boolToReg(int32(h.Regs.Get(inst.Rs1)) < int32(h.Regs.Get(inst.Rs2))))
	return concludeNone()
}

func (h *Hart) sltu(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, boolToReg(h.Regs.Get(inst.Rs1) < h.Regs.Get(inst.Rs2)))
	return concludeNone()
}

func (h *Hart) xor(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)^h.Regs.Get(inst.Rs2))
	return concludeNone()
}

func (h *Hart) srl(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)>>(h.Regs.Get(inst.Rs2)&0x1F))
	return concludeNone()
}

func (h *Hart) sra(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, uint32(int32(h.Regs.Get(inst.Rs1))>>(h.Regs.Get(inst.Rs2)&0x1F)))
	return concludeNone()
}

func (h *Hart) or(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)|h.Regs.Get(inst.Rs2))
	return concludeNone()
}

func (h *Hart) and(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)&h.Regs.Get(inst.Rs2))
	return concludeNone()
}

// fence is a no-op: harts execute in order and the data path is coherent
// through the frame locks.
func (h *Hart) fence(*Instruction) Conclusion {
	return concludeNone()
}

// fencei publishes this hart's pending stores and drops every cached
// decode, so modified code is refetched.
func (h *Hart) fencei(*Instruction) Conclusion {
	if err := h.mmu.FlushDataCache(); err != nil {
		return concludeException(storeExceptionCode(err))
	}
	h.mmu.InvalidateInstructionCache()
	return concludeNone()
}

func boolToReg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
