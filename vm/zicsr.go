package vm

// Zicsr execution against a flat per-hart CSR file. Trap delivery and
// privileged CSR side effects are not modeled; reads and writes move raw
// bits.

func (h *Hart) csrrw(inst *Instruction) Conclusion {
	old := h.csr[inst.CSR]
	h.csr[inst.CSR] = h.Regs.Get(inst.Rs1)
	h.Regs.Set(inst.Rd, old)
	return concludeNone()
}

func (h *Hart) csrrs(inst *Instruction) Conclusion {
	old := h.csr[inst.CSR]
	if inst.Rs1 != X0 {
		h.csr[inst.CSR] = old | h.Regs.Get(inst.Rs1)
	}
	h.Regs.Set(inst.Rd, old)
	return concludeNone()
}

func (h *Hart) csrrc(inst *Instruction) Conclusion {
	old := h.csr[inst.CSR]
	if inst.Rs1 != X0 {
		h.csr[inst.CSR] = old &^ h.Regs.Get(inst.Rs1)
	}
	h.Regs.Set(inst.Rd, old)
	return concludeNone()
}

func (h *Hart) csrrwi(inst *Instruction) Conclusion {
	old := h.csr[inst.CSR]
	h.csr[inst.CSR] = uint32(inst.Imm)
	h.Regs.Set(inst.Rd, old)
	return concludeNone()
}

func (h *Hart) csrrsi(inst *Instruction) Conclusion {
	old := h.csr[inst.CSR]
	if inst.Imm != 0 {
		h.csr[inst.CSR] = old | uint32(inst.Imm)
	}
	h.Regs.Set(inst.Rd, old)
	return concludeNone()
}

func (h *Hart) csrrci(inst *Instruction) Conclusion {
	old := h.csr[inst.CSR]
	if inst.Imm != 0 {
		h.csr[inst.CSR] = old &^ uint32(inst.Imm)
	}
	h.Regs.Set(inst.Rd, old)
	return concludeNone()
}
