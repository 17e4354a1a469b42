package vm

import "math"

// M-extension execution. Host 64-bit arithmetic is used only to form the
// high halves of the multiplies; everything architectural stays 32-bit
// wrapping. Division follows the architectural corner cases: dividing by
// zero yields an all-ones quotient and the dividend as remainder, and the
// most negative value divided by minus one is a quiet identity.

func (h *Hart) mul(inst *Instruction) Conclusion {
	h.Regs.Set(inst.Rd, h.Regs.Get(inst.Rs1)*h.Regs.Get(inst.Rs2))
	return concludeNone()
}

func (h *Hart) mulh(inst *Instruction) Conclusion {
	p := int64(int32(h.Regs.Get(inst.Rs1))) * int64(int32(h.Regs.Get(inst.Rs2)))
	h.Regs.Set(inst.Rd, uint32(p>>32))
	return concludeNone()
}

func (h *Hart) mulhsu(inst *Instruction) Conclusion {
	p := int64(int32(h.Regs.Get(inst.Rs1))) * int64(h.Regs.Get(inst.Rs2))
	h.Regs.Set(inst.Rd, uint32(p>>32))
	return concludeNone()
}

func (h *Hart) mulhu(inst *Instruction) Conclusion {
	p := uint64(h.Regs.Get(inst.Rs1)) * uint64(h.Regs.Get(inst.Rs2))
	h.Regs.Set(inst.Rd, uint32(p>>32))
	return concludeNone()
}

func (h *Hart) div(inst *Instruction) Conclusion {
	dividend := int32(h.Regs.Get(inst.Rs1))
	divisor := int32(h.Regs.Get(inst.Rs2))
	switch {
	case divisor == 0:
		h.Regs.Set(inst.Rd, 0xFFFFFFFF)
	case dividend == math.MinInt32 && divisor == -1:
		h.Regs.Set(inst.Rd, uint32(dividend))
	default:
		h.Regs.Set(inst.Rd, uint32(dividend/divisor))
	}
	return concludeNone()
}

func (h *Hart) divu(inst *Instruction) Conclusion {
	dividend := h.Regs.Get(inst.Rs1)
	divisor := h.Regs.Get(inst.Rs2)
	if divisor == 0 {
		h.Regs.Set(inst.Rd, 0xFFFFFFFF)
	} else {
		h.Regs.Set(inst.Rd, dividend/divisor)
	}
	return concludeNone()
}

func (h *Hart) rem(inst *Instruction) Conclusion {
	dividend := int32(h.Regs.Get(inst.Rs1))
	divisor := int32(h.Regs.Get(inst.Rs2))
	switch {
	case divisor == 0:
		h.Regs.Set(inst.Rd, uint32(dividend))
	case dividend == math.MinInt32 && divisor == -1:
		h.Regs.Set(inst.Rd, 0)
	default:
		h.Regs.Set(inst.Rd, uint32(dividend%divisor))
	}
	return concludeNone()
}

func (h *Hart) remu(inst *Instruction) Conclusion {
	dividend := h.Regs.Get(inst.Rs1)
	divisor := h.Regs.Get(inst.Rs2)
	if divisor == 0 {
		h.Regs.Set(inst.Rd, dividend)
	} else {
		h.Regs.Set(inst.Rd, dividend%divisor)
	}
	return concludeNone()
}
