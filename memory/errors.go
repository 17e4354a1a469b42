package memory

import (
	"errors"
	"fmt"
)

// OutOfBoundsError reports an access beyond the frames backing a mapping.
type OutOfBoundsError struct {
	Offset uint32
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("out of bounds access at offset 0x%08X", e.Offset)
}

// LoadMisalignedError reports a load whose offset is not aligned to the
// access width.
type LoadMisalignedError struct {
	Offset    uint32
	Alignment uint32
}

func (e *LoadMisalignedError) Error() string {
	return fmt.Sprintf("misaligned load at offset 0x%08X (must be %d-byte aligned)", e.Offset, e.Alignment)
}

// StoreMisalignedError reports a store whose offset is not aligned to the
// access width.
type StoreMisalignedError struct {
	Offset    uint32
	Alignment uint32
}

func (e *StoreMisalignedError) Error() string {
	return fmt.Sprintf("misaligned store at offset 0x%08X (must be %d-byte aligned)", e.Offset, e.Alignment)
}

// AmoUnsupportedError reports an atomic operation issued to a region whose
// AMO class does not include it.
type AmoUnsupportedError struct {
	Class AmoClass
}

func (e *AmoUnsupportedError) Error() string {
	return fmt.Sprintf("atomic operation unsupported by region (class %v)", e.Class)
}

// AmoMisalignedError reports an atomic operation on a non-word-aligned offset.
type AmoMisalignedError struct {
	Offset uint32
	Class  AmoClass
}

func (e *AmoMisalignedError) Error() string {
	return fmt.Sprintf("misaligned atomic operation at offset 0x%08X (class %v)", e.Offset, e.Class)
}

// SizeUnsupportedError reports an access width the mapping cannot service.
type SizeUnsupportedError struct {
	Offset uint32
	Size   uint32
}

func (e *SizeUnsupportedError) Error() string {
	return fmt.Sprintf("unsupported access size %d at offset 0x%08X", e.Size, e.Offset)
}

// ErrBlockOperationUnsupported is returned by mappings that cannot service
// block reads or writes.
var ErrBlockOperationUnsupported = errors.New("block operations unsupported by mapping")
