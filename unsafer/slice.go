package unsafer

import (
	"unsafe"
)

// SliceToBytes interprets an arbitrary input slice as a byte slice.
//
// Note that the returned slice points to the same underlying data in memory. It
// does not make a copy.
func SliceToBytes[T any](input []T) []byte {
	if len(input) == 0 {
		return nil
	}
	size := int(unsafe.Sizeof(input[0])) * len(input)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(input))), size)
}

// StructToBytes returns the memory of the value pointed to by input as bytes.
// The returned slice aliases *input.
func StructToBytes[T any](input *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(input)), unsafe.Sizeof(*input))
}

// SliceBytesToUint32 repacks SPIR-V byte code into the words the shader module
// create info expects. Trailing bytes which do not form a full word are
// dropped.
func SliceBytesToUint32(data []byte) []uint32 {
	buf := make([]uint32, len(data)/4)
	if len(buf) == 0 {
		return buf
	}
	copy(SliceToBytes(buf), data)
	return buf
}

// PointerToBytes views size bytes starting at ptr, typically memory mapped by
// the driver.
func PointerToBytes(ptr unsafe.Pointer, size int) []byte {
	if ptr == nil || size <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(ptr), size)
}
