package vm

import (
	"errors"
	"fmt"

	"github.com/lookbusy1344/riscv-emulator/memory"
)

// LoadAlignmentError reports a load from an address not aligned to the
// access width.
type LoadAlignmentError struct {
	Addr      uint32
	Alignment uint32
}

func (e *LoadAlignmentError) Error() string {
	return fmt.Sprintf("misaligned load at 0x%08X (must be %d-byte aligned)", e.Addr, e.Alignment)
}

// StoreAlignmentError reports a store to an address not aligned to the
// access width.
type StoreAlignmentError struct {
	Addr      uint32
	Alignment uint32
}

func (e *StoreAlignmentError) Error() string {
	return fmt.Sprintf("misaligned store at 0x%08X (must be %d-byte aligned)", e.Addr, e.Alignment)
}

// BusError wraps an error returned by the bus or one of its regions.
type BusError struct {
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus error: %v", e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

func wrapBus(err error) error {
	if err == nil {
		return nil
	}
	return &BusError{Err: err}
}

// Architectural exception codes, as the trap cause register would report
// them.
const (
	ExcInstructionAddressMisaligned uint8 = 0
	ExcInstructionAccessFault       uint8 = 1
	ExcIllegalInstruction           uint8 = 2
	ExcBreakpoint                   uint8 = 3
	ExcLoadAddressMisaligned        uint8 = 4
	ExcLoadAccessFault              uint8 = 5
	ExcStoreAddressMisaligned       uint8 = 6
	ExcStoreAccessFault             uint8 = 7
	ExcEnvironmentCall              uint8 = 11
)

// fetchExceptionCode maps an MMU error on instruction fetch to its
// architectural exception.
func fetchExceptionCode(err error) uint8 {
	var load *LoadAlignmentError
	if errors.As(err, &load) {
		return ExcInstructionAddressMisaligned
	}
	return ExcInstructionAccessFault
}

// loadExceptionCode maps an MMU error on a data load.
func loadExceptionCode(err error) uint8 {
	var load *LoadAlignmentError
	if errors.As(err, &load) {
		return ExcLoadAddressMisaligned
	}
	var memLoad *memory.LoadMisalignedError
	if errors.As(err, &memLoad) {
		return ExcLoadAddressMisaligned
	}
	return ExcLoadAccessFault
}

// storeExceptionCode maps an MMU error on a data store, conditional store,
// or atomic.
func storeExceptionCode(err error) uint8 {
	var store *StoreAlignmentError
	if errors.As(err, &store) {
		return ExcStoreAddressMisaligned
	}
	var memStore *memory.StoreMisalignedError
	if errors.As(err, &memStore) {
		return ExcStoreAddressMisaligned
	}
	var amoMis *memory.AmoMisalignedError
	if errors.As(err, &amoMis) {
		return ExcStoreAddressMisaligned
	}
	return ExcStoreAccessFault
}
