package unsafer

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestSliceToBytesAliases(t *testing.T) {
	words := []uint16{0x0102, 0x0304}
	b := SliceToBytes(words)

	assert.Len(t, b, 4)
	b[0] = 0xff
	assert.Equal(t, byte(0xff), byte(words[0]&0xff))

	assert.Nil(t, SliceToBytes([]float32{}))
}

func TestStructToBytes(t *testing.T) {
	v := struct {
		A uint32
		B uint32
	}{A: 1, B: 2}

	b := StructToBytes(&v)
	assert.Len(t, b, 8)
	assert.Equal(t, uint32(2), binary.NativeEndian.Uint32(b[4:]))
}

func TestSliceBytesToUint32(t *testing.T) {
	data := make([]byte, 9)
	binary.NativeEndian.PutUint32(data[0:], 0x07230203)
	binary.NativeEndian.PutUint32(data[4:], 42)

	words := SliceBytesToUint32(data)
	assert.Equal(t, []uint32{0x07230203, 42}, words)
	assert.Empty(t, SliceBytesToUint32([]byte{1, 2}))
}

func TestPointerToBytes(t *testing.T) {
	backing := []byte{1, 2, 3}
	view := PointerToBytes(unsafe.Pointer(&backing[0]), 3)
	view[1] = 9
	assert.Equal(t, []byte{1, 9, 3}, backing)
	assert.Nil(t, PointerToBytes(nil, 3))
}
