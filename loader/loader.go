package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/lookbusy1344/riscv-emulator/config"
	"github.com/lookbusy1344/riscv-emulator/memory"
	"github.com/lookbusy1344/riscv-emulator/vm"
)

// LoadImage writes a raw little-endian memory image into the bus at address
// 0 and returns the number of bytes written. Images are padded to a word
// boundary so the last instruction is fetchable.
func LoadImage(bus *memory.Bus, image []byte) (int, error) {
	if len(image) == 0 {
		return 0, fmt.Errorf("empty image")
	}
	if rem := len(image) % 4; rem != 0 {
		padded := make([]byte, len(image)+4-rem)
		copy(padded, image)
		image = padded
	}
	n, err := bus.BlockWrite(0, image)
	if err != nil {
		return 0, fmt.Errorf("failed to load image: %w", err)
	}
	return n, nil
}

// LoadWords writes a sequence of 32-bit words into the bus starting at
// addr, in instruction-word order.
func LoadWords(bus *memory.Bus, addr uint32, words []uint32) error {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	if _, err := bus.BlockWrite(addr, buf); err != nil {
		return fmt.Errorf("failed to load words at 0x%08X: %w", addr, err)
	}
	return nil
}

// LoadInstructions encodes hand-built instructions and writes them into the
// bus starting at addr.
func LoadInstructions(bus *memory.Bus, addr uint32, instructions []vm.Instruction) error {
	words := make([]uint32, len(instructions))
	for i, inst := range instructions {
		w, err := vm.Encode(inst)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		words[i] = w
	}
	return LoadWords(bus, addr, words)
}

// BuildMachine assembles a machine from its configuration and loads the
// image at address 0. Every hart starts at the entry point; hart i's stack
// pointer is placed stack_size bytes below hart i-1's.
func BuildMachine(cfg *config.Config, image []byte) (*vm.Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	entry, err := cfg.EntryPoint()
	if err != nil {
		return nil, err
	}
	stackTop, err := cfg.StackTop()
	if err != nil {
		return nil, err
	}

	bus := memory.NewBusBuilder().WithMainMemory(cfg.Machine.MainFrames).Build()

	isa := vm.ISA{
		M:        cfg.ISA.M,
		A:        cfg.ISA.A,
		Zicsr:    cfg.ISA.Zicsr,
		Zifencei: cfg.ISA.Zifencei,
	}

	machine := vm.NewMachine(bus, cfg.Machine.Harts, isa)
	machine.SetMaxSteps(cfg.Execution.MaxSteps)

	if len(image) > 0 {
		if _, err := LoadImage(bus, image); err != nil {
			return nil, err
		}
	}

	for i := 0; i < machine.HartCount(); i++ {
		h := machine.Hart(i)
		h.PC = entry
		h.Regs.Set(vm.RegSP, stackTop-uint32(i)*cfg.Machine.StackSize)
		h.Regs.Set(vm.RegA0, uint32(i)) // hart id, as firmware would pass it
	}

	return machine, nil
}
