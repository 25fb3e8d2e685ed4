package arbor

import (
	"math"
	"math/bits"
)

// Each slot owns two bits of a dirty word: the start flag (an interval
// opens at this slot) and the end flag (an interval closes after this slot).
const (
	startFlag = 0x2
	endFlag   = 0x1

	blockSlots = 4 // slots per byte of a dirty word
)

// dirtySpan is the coarse range of 4-slot blocks that may hold flags.
// The span is empty when lo > hi.
type dirtySpan struct {
	lo, hi uint32
}

// dirtySet tracks pending intervals of slots whose globals must be
// recomputed. Intervals are recorded only by their start and end flags; a
// forward scan with a nesting counter recovers the union.
type dirtySet struct {
	words []uint32
	span  *dirtySpan
}

func pairShift(i uint32) uint32 {
	return (i & (slotsPerWord - 1)) << 1
}

func (d *dirtySet) pair(i uint32) uint32 {
	return d.words[i/slotsPerWord] >> pairShift(i) & 0x3
}

func (d *dirtySet) startSet(i uint32) bool { return d.pair(i)&startFlag != 0 }
func (d *dirtySet) endSet(i uint32) bool   { return d.pair(i)&endFlag != 0 }

func (d *dirtySet) setStart(i uint32) {
	d.words[i/slotsPerWord] |= startFlag << pairShift(i)
}

func (d *dirtySet) setEnd(i uint32) {
	d.words[i/slotsPerWord] |= endFlag << pairShift(i)
}

func (d *dirtySet) clearStart(i uint32) {
	d.words[i/slotsPerWord] &^= startFlag << pairShift(i)
}

func (d *dirtySet) clearEnd(i uint32) {
	d.words[i/slotsPerWord] &^= endFlag << pairShift(i)
}

func (d *dirtySet) empty() bool {
	return d.span.lo > d.span.hi
}

func (d *dirtySet) widen(min, max uint32) {
	lo, hi := min/blockSlots, max/blockSlots
	if d.empty() {
		d.span.lo, d.span.hi = lo, hi
		return
	}
	if lo < d.span.lo {
		d.span.lo = lo
	}
	if hi > d.span.hi {
		d.span.hi = hi
	}
}

// mark records the interval [min, max].
func (d *dirtySet) mark(min, max uint32) {
	if min > max {
		panic("arbor: dirty interval start after end")
	}
	d.setStart(min)
	d.setEnd(max)
	d.widen(min, max)
}

// moveEnd relocates the end flag at from to to (to > from).
func (d *dirtySet) moveEnd(from, to uint32) {
	d.clearEnd(from)
	d.setEnd(to)
	d.widen(to, to)
}

// reset clears every flag inside the span and empties it.
func (d *dirtySet) reset() {
	if !d.empty() {
		clear(d.words[d.span.lo/blockSlots : d.span.hi/blockSlots+1])
	}
	d.span.lo, d.span.hi = math.MaxUint32, 0
}

// scan walks the span in slot order, calling visit for every slot below
// count that lies inside an open interval. Words and blocks without flags
// are skipped or visited wholesale depending on the nesting depth; flagged
// blocks are walked slot by slot. It returns the number of slots examined
// and leaves the set empty.
func (d *dirtySet) scan(count uint32, visit func(i uint32)) int {
	if d.empty() {
		return 0
	}
	scanned := 0
	depth := 0
	for b := d.span.lo; b <= d.span.hi; {
		word := d.words[b/blockSlots]
		if depth == 0 && b%blockSlots == 0 && word == 0 {
			b += blockSlots
			continue
		}

		flags := uint8(word >> ((b % blockSlots) * 8))
		base := b * blockSlots
		scanned += blockSlots

		if flags == 0 {
			if depth > 0 {
				for i := base; i < base+blockSlots && i < count; i++ {
					visit(i)
				}
			}
			b++
			continue
		}

		// Fast path: a block holding only start flags while already open
		// behaves like an unflagged block once the depth is raised.
		if depth > 0 && flags&0x55 == 0 {
			depth += bits.OnesCount8(flags)
			for i := base; i < base+blockSlots && i < count; i++ {
				visit(i)
			}
			b++
			continue
		}

		for k := uint32(0); k < blockSlots; k++ {
			pair := flags >> (k * 2) & 0x3
			if pair&startFlag != 0 {
				depth++
			}
			if depth > 0 && base+k < count {
				visit(base + k)
			}
			if pair&endFlag != 0 {
				depth--
			}
		}
		b++
	}
	d.reset()
	return scanned
}
