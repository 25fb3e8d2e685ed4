package arbor

import (
	"fmt"
	"math"
	"unsafe"
)

// cacheLine is the alignment applied to the buffer base and to every
// sub-array inside it.
const cacheLine = 64

// maxCapacity keeps every slot index below the noParent sentinel.
const maxCapacity = math.MaxInt32

// slotsPerWord is the number of node slots tracked by one dirty word
// (2 bits per slot).
const slotsPerWord = 16

// header is the fixed-size record at the start of every store buffer.
// All fields are raw integers.
type header struct {
	capacity uint32
	count    uint32
	group    uint32
	_        uint32
	span     dirtySpan
}

// layout holds the byte offsets of each sub-array, relative to the aligned
// base of a store buffer. Offsets depend only on capacity.
type layout struct {
	capacity int
	header   int
	locals   int
	globals  int
	parents  int
	extents  int
	dirty    int
	words    int
	size     int // aligned bytes from base to the end of the dirty words
}

func alignUp(n int) int {
	return (n + cacheLine - 1) &^ (cacheLine - 1)
}

func computeLayout(capacity int) layout {
	var l layout
	l.capacity = capacity
	l.words = capacity/slotsPerWord + 1

	off := 0
	l.header = off
	off = alignUp(off + int(unsafe.Sizeof(header{})))
	l.locals = off
	off = alignUp(off + capacity*int(unsafe.Sizeof(Transform{})))
	l.globals = off
	off = alignUp(off + capacity*int(unsafe.Sizeof(Transform{})))
	l.parents = off
	off = alignUp(off + capacity*4)
	l.extents = off
	off = alignUp(off + capacity*4)
	l.dirty = off
	off = alignUp(off + l.words*4)
	l.size = off
	return l
}

// BufferSize returns the number of bytes a caller must provide to
// NewWithBuffer for a store of the given capacity. It includes slack for
// aligning an arbitrary buffer to a 64-byte boundary. The result is a pure
// function of capacity.
func BufferSize(capacity int) int {
	if capacity <= 0 || capacity > maxCapacity {
		return 0
	}
	return computeLayout(capacity).size + cacheLine - 1
}

// alignment returns the number of bytes to skip so that buf[pad:] starts
// on a cache line.
func alignment(buf []byte) int {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	return int((cacheLine - addr%cacheLine) % cacheLine)
}

func checkCapacity(capacity int) error {
	if capacity <= 0 || capacity > maxCapacity {
		return fmt.Errorf("arbor: capacity %d: %w", capacity, ErrInvalidCapacity)
	}
	return nil
}

// carve reinterprets n elements of T starting at buf[off]. T must not
// contain pointers.
func carve[T any](buf []byte, off, n int) []T {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&buf[off])), n)
}
