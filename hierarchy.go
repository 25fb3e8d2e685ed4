package arbor

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// Hierarchy is a flat transform hierarchy stored as a structure of arrays in
// a single buffer. Slots are appended in topological order (a parent always
// has a lower index than its children), so one forward pass over the dirty
// span recomputes every stale global with parents ahead of children.
//
// Locals are authoritative. Globals are the snapshot produced by the last
// Propagate (or by creation-time composition); writes never update them
// synchronously.
//
// A Hierarchy is not safe for concurrent use. Distinct hierarchies (for
// example the groups of a Scene) share no memory and may be driven from
// different goroutines.
type Hierarchy struct {
	buf []byte // buffer as handed over by the caller or New
	pad int    // bytes skipped to reach the aligned base

	hdr     *header
	locals  []Transform
	globals []Transform
	parents []uint32
	extents []uint32
	dirty   dirtySet

	group uint16

	debug  bool
	logger *log.Logger

	// onRecompute, when set, is called for every recomputed slot.
	onRecompute func(index uint32)
}

// New allocates a hierarchy able to hold capacity nodes. It panics if
// capacity is not positive.
func New(capacity int) *Hierarchy {
	if err := checkCapacity(capacity); err != nil {
		panic(err.Error())
	}
	h, err := NewWithBuffer(make([]byte, BufferSize(capacity)), capacity)
	if err != nil {
		panic(err.Error())
	}
	return h
}

// NewWithBuffer initializes a hierarchy inside caller-provided memory. buf
// must be at least BufferSize(capacity) bytes; its previous contents are
// overwritten. The store keeps a reference to buf until Release.
func NewWithBuffer(buf []byte, capacity int) (*Hierarchy, error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	if need := BufferSize(capacity); len(buf) < need {
		return nil, fmt.Errorf("arbor: %d bytes for capacity %d, need %d: %w",
			len(buf), capacity, need, ErrBufferTooSmall)
	}
	pad := alignment(buf)
	l := computeLayout(capacity)
	h := adopt(buf[pad:pad+l.size], l, 0)
	h.buf = buf
	h.pad = pad
	return h, nil
}

// adopt carves the sub-arrays out of region, which must start on a cache
// line and hold l.size bytes.
func adopt(region []byte, l layout, group uint16) *Hierarchy {
	clear(region)
	h := &Hierarchy{
		hdr:     &carve[header](region, l.header, 1)[0],
		locals:  carve[Transform](region, l.locals, l.capacity),
		globals: carve[Transform](region, l.globals, l.capacity),
		parents: carve[uint32](region, l.parents, l.capacity),
		extents: carve[uint32](region, l.extents, l.capacity),
		group:   group,
	}
	h.hdr.capacity = uint32(l.capacity)
	h.hdr.group = uint32(group)
	h.dirty = dirtySet{
		words: carve[uint32](region, l.dirty, l.words),
		span:  &h.hdr.span,
	}
	h.dirty.reset()
	return h
}

// Release tears the hierarchy down and returns the buffer it was built on,
// exactly as it was passed to NewWithBuffer (alignment padding included).
// Any further use of the hierarchy panics.
func (h *Hierarchy) Release() []byte {
	buf := h.buf
	h.buf = nil
	h.hdr = nil
	h.locals, h.globals = nil, nil
	h.parents, h.extents = nil, nil
	h.dirty = dirtySet{}
	return buf
}

// Released reports whether Release has been called.
func (h *Hierarchy) Released() bool {
	return h.hdr == nil
}

// Len returns the number of nodes added so far.
func (h *Hierarchy) Len() int {
	h.checkLive()
	return int(h.hdr.count)
}

// Cap returns the maximum number of nodes.
func (h *Hierarchy) Cap() int {
	h.checkLive()
	return int(h.hdr.capacity)
}

// Group returns the group number embedded in handles issued by h.
func (h *Hierarchy) Group() uint16 {
	return h.group
}

// Pending reports whether any write is waiting for Propagate.
func (h *Hierarchy) Pending() bool {
	h.checkLive()
	return !h.dirty.empty()
}

// --- Node creation ---

// Add appends a root node whose local (and global) transform is t.
func (h *Hierarchy) Add(t Transform) (Handle, error) {
	i, err := h.reserve()
	if err != nil {
		return NoHandle, err
	}
	h.locals[i] = t
	h.globals[i] = t
	h.parents[i] = noParent
	h.extents[i] = i
	return Handle{Group: h.group, Index: i}, nil
}

// AddChild appends a node with local transform t under parent. The new
// node's global is composed from the parent's current global. Every
// ancestor's subtree extent grows to include the new slot.
func (h *Hierarchy) AddChild(parent Handle, t Transform) (Handle, error) {
	h.checkLive()
	if parent.Group != h.group {
		return NoHandle, fmt.Errorf("arbor: add child of %v to group %d: %w", parent, h.group, ErrForeignGroup)
	}
	if parent.Index >= h.hdr.count {
		return NoHandle, fmt.Errorf("arbor: add child of %v: %w", parent, ErrInvalidHandle)
	}
	i, err := h.reserve()
	if err != nil {
		return NoHandle, err
	}
	p := parent.Index
	h.locals[i] = t
	h.globals[i] = Compose(t, h.globals[p])
	h.parents[i] = p
	h.extents[i] = i

	// Grow every ancestor's extent. If an ancestor is waiting for
	// propagation, its pending interval must reach the new slot too, since
	// the global composed above is relative to a stale parent.
	top, topEnd := uint32(noParent), uint32(0)
	depth := 1
	for a := p; a != noParent; a = h.parents[a] {
		if h.dirty.startSet(a) {
			top, topEnd = a, h.extents[a]
		}
		h.extents[a] = i
		depth++
	}
	if top != noParent {
		h.dirty.moveEnd(topEnd, i)
	}

	if h.debug {
		h.debugCheckChainDepth(i, depth)
	}
	return Handle{Group: h.group, Index: i}, nil
}

func (h *Hierarchy) reserve() (uint32, error) {
	h.checkLive()
	i := h.hdr.count
	if i >= h.hdr.capacity {
		return 0, fmt.Errorf("arbor: group %d holds %d nodes: %w", h.group, h.hdr.capacity, ErrCapacityExceeded)
	}
	h.hdr.count++
	if h.debug {
		h.debugCheckCapacity()
	}
	return i, nil
}

// --- Reads ---

// ReadLocal returns the node's local transform, including its own most
// recent write.
func (h *Hierarchy) ReadLocal(n Handle) Transform {
	return h.locals[h.slot(n)]
}

// ReadGlobal returns the node's world transform as of the last Propagate.
// Writes to the node or its ancestors since then are not reflected.
func (h *Hierarchy) ReadGlobal(n Handle) Transform {
	return h.globals[h.slot(n)]
}

// Parent returns the node's parent, or NoHandle for a root.
func (h *Hierarchy) Parent(n Handle) (Handle, bool) {
	p := h.parents[h.slot(n)]
	if p == noParent {
		return NoHandle, false
	}
	return Handle{Group: h.group, Index: p}, true
}

// Extent returns the highest-indexed descendant of n, or n itself for a
// leaf.
func (h *Hierarchy) Extent(n Handle) Handle {
	return Handle{Group: h.group, Index: h.extents[h.slot(n)]}
}

// --- Writes ---

// WriteLocal replaces the node's local transform and schedules the node and
// its subtree for recomputation.
func (h *Hierarchy) WriteLocal(n Handle, t Transform) {
	i := h.slot(n)
	h.locals[i] = t
	h.markDirty(i)
}

// WriteGlobal stores the local transform that places the node at t under
// its parent's current global, then schedules the node and its subtree for
// recomputation. If the parent itself has a pending write, the parent's
// stale global is used.
func (h *Hierarchy) WriteGlobal(n Handle, t Transform) {
	i := h.slot(n)
	if p := h.parents[i]; p != noParent {
		h.locals[i] = InverseCompose(t, h.globals[p])
	} else {
		h.locals[i] = t
	}
	h.markDirty(i)
}

// markDirty records the interval [i, extent(i)].
//
// The set keeps two invariants: every end flag belongs to exactly one
// pending interval, and the topmost pending node on any ancestor chain has
// its end flag at its current extent. Under them a write below a pending
// node is already covered, and an interval sharing its end with a pending
// descendant's contains it, so that descendant's start flag is dropped.
func (h *Hierarchy) markDirty(i uint32) {
	for a := i; a != noParent; a = h.parents[a] {
		if h.dirty.startSet(a) {
			return
		}
	}
	end := h.extents[i]
	if h.dirty.endSet(end) {
		top := uint32(noParent)
		for a := end; a != i; a = h.parents[a] {
			if h.dirty.startSet(a) {
				top = a
			}
		}
		if top != noParent {
			h.dirty.clearStart(top)
		}
	}
	h.dirty.mark(i, end)
}

// --- Propagation ---

// Propagate recomputes the global transform of every node written since the
// last call, together with its subtree, in a single forward pass. Parents
// are always recomputed before their children. The dirty set is empty
// afterwards.
func (h *Hierarchy) Propagate() PropagateStats {
	h.checkLive()
	var stats PropagateStats
	if h.dirty.empty() {
		return stats
	}

	var t0 time.Time
	if h.debug {
		t0 = time.Now()
	}

	stats.Scanned = h.dirty.scan(h.hdr.count, func(i uint32) {
		h.recompute(i)
		stats.Recomputed++
	})

	if h.debug {
		h.debugLogPropagate(stats, time.Since(t0))
	}
	return stats
}

func (h *Hierarchy) recompute(i uint32) {
	p := h.parents[i]
	if p == noParent {
		h.globals[i] = h.locals[i]
	} else {
		if p >= i {
			panic(fmt.Sprintf("arbor: slot %d has parent %d at or after it", i, p))
		}
		h.globals[i] = Compose(h.locals[i], h.globals[p])
	}
	if h.onRecompute != nil {
		h.onRecompute(i)
	}
}

// --- Checks ---

func (h *Hierarchy) checkLive() {
	if h.hdr == nil {
		panic("arbor: use of released hierarchy")
	}
}

// slot validates n against this store and returns its index.
func (h *Hierarchy) slot(n Handle) uint32 {
	h.checkLive()
	if n.Group != h.group {
		panic(fmt.Sprintf("arbor: handle %v used with group %d", n, h.group))
	}
	if n.Index >= h.hdr.count {
		panic(fmt.Sprintf("arbor: handle %v was never created (group holds %d nodes)", n, h.hdr.count))
	}
	return n.Index
}
