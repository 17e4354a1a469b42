package vm

// A-extension execution. lr.w and sc.w go through the MMU's reservation
// protocol; the read-modify-write operations are performed atomically by
// the region that owns the address.

func (h *Hart) lrw(inst *Instruction) Conclusion {
	v, err := h.mmu.LoadReserved(h.Regs.Get(inst.Rs1))
	if err != nil {
		return concludeException(loadExceptionCode(err))
	}
	h.Regs.Set(inst.Rd, v)
	return concludeNone()
}

func (h *Hart) scw(inst *Instruction) Conclusion {
	code, err := h.mmu.StoreConditional(h.Regs.Get(inst.Rs1), h.Regs.Get(inst.Rs2))
	if err != nil {
		return concludeException(storeExceptionCode(err))
	}
	h.Regs.Set(inst.Rd, code) // 0 on success, 1 on failure
	return concludeNone()
}

func (h *Hart) amoOp(inst *Instruction, op func(addr, src uint32) (uint32, error)) Conclusion {
	old, err := op(h.Regs.Get(inst.Rs1), h.Regs.Get(inst.Rs2))
	if err != nil {
		return concludeException(storeExceptionCode(err))
	}
	h.Regs.Set(inst.Rd, old)
	return concludeNone()
}
