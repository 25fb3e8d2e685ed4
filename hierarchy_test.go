package arbor

import (
	"errors"
	"math/rand/v2"
	"testing"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

func mustAdd(t testing.TB, h *Hierarchy, tr Transform) Handle {
	t.Helper()
	n, err := h.Add(tr)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return n
}

func mustAddChild(t testing.TB, h *Hierarchy, parent Handle, tr Transform) Handle {
	t.Helper()
	n, err := h.AddChild(parent, tr)
	if err != nil {
		t.Fatalf("AddChild(%v): %v", parent, err)
	}
	return n
}

func assertPanics(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

// recomputeProbe counts recomputations per slot.
func recomputeProbe(h *Hierarchy) map[uint32]int {
	counts := map[uint32]int{}
	h.onRecompute = func(i uint32) { counts[i]++ }
	return counts
}

func assertRecomputed(t *testing.T, counts map[uint32]int, n int, want ...uint32) {
	t.Helper()
	in := map[uint32]bool{}
	for _, i := range want {
		in[i] = true
	}
	for i := uint32(0); i < uint32(n); i++ {
		switch {
		case in[i] && counts[i] != 1:
			t.Errorf("slot %d recomputed %d times, want 1", i, counts[i])
		case !in[i] && counts[i] != 0:
			t.Errorf("slot %d recomputed %d times, want 0", i, counts[i])
		}
	}
}

// --- Construction ---

func TestNewCapacity(t *testing.T) {
	h := New(8)
	if h.Len() != 0 {
		t.Errorf("Len = %d, want 0", h.Len())
	}
	if h.Cap() != 8 {
		t.Errorf("Cap = %d, want 8", h.Cap())
	}
	if h.Pending() {
		t.Error("new hierarchy should have nothing pending")
	}
}

func TestNewInvalidCapacityPanics(t *testing.T) {
	assertPanics(t, "New(0)", func() { New(0) })
	assertPanics(t, "New(-1)", func() { New(-1) })
}

func TestNewWithBufferTooSmall(t *testing.T) {
	buf := make([]byte, BufferSize(16)-1)
	_, err := NewWithBuffer(buf, 16)
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("err = %v, want ErrBufferTooSmall", err)
	}
}

func TestNewWithBufferInvalidCapacity(t *testing.T) {
	_, err := NewWithBuffer(make([]byte, 1024), 0)
	if !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("err = %v, want ErrInvalidCapacity", err)
	}
}

func TestNewWithBufferAlignsAndReleases(t *testing.T) {
	raw := make([]byte, BufferSize(10)+1)
	buf := raw[1:]
	h, err := NewWithBuffer(buf, 10)
	if err != nil {
		t.Fatal(err)
	}
	for name, p := range map[string]unsafe.Pointer{
		"header":  unsafe.Pointer(h.hdr),
		"locals":  unsafe.Pointer(&h.locals[0]),
		"globals": unsafe.Pointer(&h.globals[0]),
		"parents": unsafe.Pointer(&h.parents[0]),
		"extents": unsafe.Pointer(&h.extents[0]),
		"dirty":   unsafe.Pointer(&h.dirty.words[0]),
	} {
		if uintptr(p)%cacheLine != 0 {
			t.Errorf("%s not aligned to %d bytes", name, cacheLine)
		}
	}

	got := h.Release()
	if len(got) != len(buf) || &got[0] != &buf[0] {
		t.Error("Release should return the caller buffer")
	}
	if !h.Released() {
		t.Error("Released should report true")
	}
}

func TestNewWithBufferOverwritesGarbage(t *testing.T) {
	buf := make([]byte, BufferSize(32))
	for i := range buf {
		buf[i] = 0xFF
	}
	h, err := NewWithBuffer(buf, 32)
	if err != nil {
		t.Fatal(err)
	}
	if h.Len() != 0 || h.Pending() {
		t.Error("adopted buffer should start empty")
	}
	root := mustAdd(t, h, Identity())
	h.WriteLocal(root, Translation(1, 0, 0))
	if st := h.Propagate(); st.Recomputed != 1 {
		t.Errorf("recomputed = %d, want 1", st.Recomputed)
	}
}

func TestBufferSizeIsPureFunctionOfCapacity(t *testing.T) {
	if BufferSize(100) != BufferSize(100) {
		t.Fatal("BufferSize should be deterministic")
	}
	if BufferSize(100) >= BufferSize(200) {
		t.Error("BufferSize should grow with capacity")
	}
	if BufferSize(0) != 0 {
		t.Error("BufferSize(0) should be 0")
	}
}

// --- Node creation ---

func TestAddRoot(t *testing.T) {
	h := New(4)
	tr := scaled(Translation(1, 2, 3), 2)
	root := mustAdd(t, h, tr)
	if root != (Handle{Group: 0, Index: 0}) {
		t.Errorf("handle = %v, want 0:0", root)
	}
	assertTransform(t, "local", h.ReadLocal(root), tr)
	assertTransform(t, "global", h.ReadGlobal(root), tr)
	if _, ok := h.Parent(root); ok {
		t.Error("root should have no parent")
	}
	if h.Extent(root) != root {
		t.Errorf("extent = %v, want %v", h.Extent(root), root)
	}
}

func TestAddChildComposes(t *testing.T) {
	h := New(4)
	root := mustAdd(t, h, scaled(Translation(5, 0, 0), 5))
	child := mustAddChild(t, h, root, Translation(5, 0, 0))

	g := h.ReadGlobal(child)
	assertNear(t, "child.x", float64(g.Pos[0]), 30)
	assertNear(t, "child.scale", float64(g.Scale[0]), 5)

	if p, ok := h.Parent(child); !ok || p != root {
		t.Errorf("parent = %v, %v; want %v", p, ok, root)
	}
}

func TestAddChildUpdatesAncestorExtents(t *testing.T) {
	h := New(8)
	r := mustAdd(t, h, Identity())
	a := mustAddChild(t, h, r, Identity())
	other := mustAdd(t, h, Identity())
	b := mustAddChild(t, h, a, Identity())

	if h.Extent(r) != b || h.Extent(a) != b {
		t.Errorf("extents r=%v a=%v, want %v", h.Extent(r), h.Extent(a), b)
	}
	if h.Extent(other) != other {
		t.Errorf("unrelated root extent = %v, want %v", h.Extent(other), other)
	}
}

func TestAddChildErrors(t *testing.T) {
	h := New(2)
	root := mustAdd(t, h, Identity())

	if _, err := h.AddChild(Handle{Group: 0, Index: 5}, Identity()); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("unknown parent: err = %v, want ErrInvalidHandle", err)
	}
	if _, err := h.AddChild(Handle{Group: 3, Index: 0}, Identity()); !errors.Is(err, ErrForeignGroup) {
		t.Errorf("foreign parent: err = %v, want ErrForeignGroup", err)
	}
	mustAddChild(t, h, root, Identity())
	if _, err := h.AddChild(root, Identity()); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("full: err = %v, want ErrCapacityExceeded", err)
	}
	if _, err := h.Add(Identity()); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("full root: err = %v, want ErrCapacityExceeded", err)
	}
	if h.Len() != 2 {
		t.Errorf("Len = %d after failed adds, want 2", h.Len())
	}
}

// A parent must exist before its child; its slot therefore always precedes
// the child's.
func TestAddChildRejectsUncreatedParent(t *testing.T) {
	h := New(4)
	mustAdd(t, h, Identity())
	next := Handle{Group: 0, Index: uint32(h.Len())}
	if _, err := h.AddChild(next, Identity()); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("err = %v, want ErrInvalidHandle", err)
	}
}

func TestPropagatePanicsOnCorruptParent(t *testing.T) {
	h := New(4)
	r := mustAdd(t, h, Identity())
	c := mustAddChild(t, h, r, Identity())
	h.parents[c.Index] = c.Index
	h.WriteLocal(r, Translation(1, 0, 0))
	assertPanics(t, "Propagate", func() { h.Propagate() })
}

// --- Handle checks ---

func TestInvalidHandlePanics(t *testing.T) {
	h := New(4)
	mustAdd(t, h, Identity())
	missing := Handle{Group: 0, Index: 1}
	foreign := Handle{Group: 1, Index: 0}

	assertPanics(t, "ReadLocal missing", func() { h.ReadLocal(missing) })
	assertPanics(t, "ReadGlobal missing", func() { h.ReadGlobal(missing) })
	assertPanics(t, "WriteLocal missing", func() { h.WriteLocal(missing, Identity()) })
	assertPanics(t, "WriteGlobal foreign", func() { h.WriteGlobal(foreign, Identity()) })
	assertPanics(t, "ReadGlobal NoHandle", func() { h.ReadGlobal(NoHandle) })
}

func TestReleasedPanics(t *testing.T) {
	h := New(4)
	root := mustAdd(t, h, Identity())
	h.Release()
	assertPanics(t, "ReadGlobal", func() { h.ReadGlobal(root) })
	assertPanics(t, "Add", func() { h.Add(Identity()) })
	assertPanics(t, "Propagate", func() { h.Propagate() })
}

// --- Reads and writes ---

func TestAncestorWriteRipplesOnlyAfterPropagate(t *testing.T) {
	h := New(4)
	root := mustAdd(t, h, scaled(Translation(5, 0, 0), 5))
	child := mustAddChild(t, h, root, Translation(5, 0, 0))

	moved := scaled(Translation(0, 0, 0), 5)
	h.WriteLocal(root, moved)

	assertNear(t, "root.x before", float64(h.ReadGlobal(root).Pos[0]), 5)
	assertNear(t, "child.x before", float64(h.ReadGlobal(child).Pos[0]), 30)
	assertTransform(t, "root local", h.ReadLocal(root), moved)

	h.Propagate()

	assertNear(t, "root.x after", float64(h.ReadGlobal(root).Pos[0]), 0)
	assertNear(t, "child.x after", float64(h.ReadGlobal(child).Pos[0]), 25)
}

func TestGrandchildPropagation(t *testing.T) {
	h := New(4)
	rootL := Transform{Rot: AxisAngle(zAxis, 0.5), Pos: mgl32.Vec3{1, 2, 3}, Scale: mgl32.Vec3{2, 2, 2}}
	childL := Transform{Rot: AxisAngle(mgl32.Vec3{1, 0, 0}, 1), Pos: mgl32.Vec3{0, 4, 0}, Scale: mgl32.Vec3{3, 3, 3}}
	gcL := Transform{Rot: AxisAngle(mgl32.Vec3{0, 1, 0}, -0.2), Pos: mgl32.Vec3{1, 1, 1}, Scale: mgl32.Vec3{1, 1, 1}}

	root := mustAdd(t, h, Identity())
	child := mustAddChild(t, h, root, Identity())
	gc := mustAddChild(t, h, child, Identity())

	h.WriteLocal(root, rootL)
	h.WriteLocal(child, childL)
	h.WriteLocal(gc, gcL)
	h.Propagate()

	want := Compose(Compose(gcL, childL), rootL)
	assertTransform(t, "grandchild global", h.ReadGlobal(gc), want)
}

func TestWriteGlobalUnderParent(t *testing.T) {
	h := New(4)
	parentL := Transform{Rot: AxisAngle(zAxis, 1.2), Pos: mgl32.Vec3{3, -1, 0}, Scale: mgl32.Vec3{2, 2, 2}}
	root := mustAdd(t, h, parentL)
	child := mustAddChild(t, h, root, Translation(1, 0, 0))
	before := h.ReadGlobal(child)

	target := Transform{Rot: AxisAngle(mgl32.Vec3{0, 1, 0}, 0.4), Pos: mgl32.Vec3{10, 10, 10}, Scale: mgl32.Vec3{1, 1, 1}}
	h.WriteGlobal(child, target)

	assertTransform(t, "global before propagate", h.ReadGlobal(child), before)
	assertTransform(t, "derived local", h.ReadLocal(child), InverseCompose(target, parentL))

	h.Propagate()
	assertTransform(t, "global after propagate", h.ReadGlobal(child), target)
}

func TestWriteGlobalRoot(t *testing.T) {
	h := New(2)
	root := mustAdd(t, h, Identity())
	target := Translation(4, 5, 6)
	h.WriteGlobal(root, target)
	assertTransform(t, "root local", h.ReadLocal(root), target)
	h.Propagate()
	assertTransform(t, "root global", h.ReadGlobal(root), target)
}

// --- Dirty intervals ---

// buildMixedTree creates
//
//	0 r0
//	1   a1      (r0)
//	2     b2    (a1)
//	3 r3
//	4   c4      (r0)
//	5   d5      (r3)
func buildMixedTree(t *testing.T) (*Hierarchy, []Handle) {
	h := New(16)
	r0 := mustAdd(t, h, Identity())
	a1 := mustAddChild(t, h, r0, Translation(1, 0, 0))
	b2 := mustAddChild(t, h, a1, Translation(0, 1, 0))
	r3 := mustAdd(t, h, Translation(0, 0, 5))
	c4 := mustAddChild(t, h, r0, Translation(2, 0, 0))
	d5 := mustAddChild(t, h, r3, Translation(0, 2, 0))
	return h, []Handle{r0, a1, b2, r3, c4, d5}
}

func TestPropagateMinimalInterval(t *testing.T) {
	h, n := buildMixedTree(t)
	counts := recomputeProbe(h)

	h.WriteLocal(n[1], Translation(7, 0, 0))
	st := h.Propagate()
	assertRecomputed(t, counts, h.Len(), 1, 2)
	if st.Recomputed != 2 {
		t.Errorf("Recomputed = %d, want 2", st.Recomputed)
	}
	assertNear(t, "b2.y", float64(h.ReadGlobal(n[2]).Pos[1]), 1)
	assertNear(t, "b2.x", float64(h.ReadGlobal(n[2]).Pos[0]), 7)
}

func TestPropagateIntervalCoversExtentRange(t *testing.T) {
	h, n := buildMixedTree(t)
	counts := recomputeProbe(h)

	// r3's extent is d5, so the interval [3,5] includes c4 as well.
	h.WriteLocal(n[3], Translation(0, 0, 9))
	h.Propagate()
	assertRecomputed(t, counts, h.Len(), 3, 4, 5)
	assertNear(t, "d5.z", float64(h.ReadGlobal(n[5]).Pos[2]), 9)
}

func TestPropagateIdempotent(t *testing.T) {
	h, n := buildMixedTree(t)
	h.WriteLocal(n[0], Translation(1, 1, 1))
	h.Propagate()

	snapshot := make([]Transform, h.Len())
	copy(snapshot, h.globals[:h.Len()])

	counts := recomputeProbe(h)
	st := h.Propagate()
	if st != (PropagateStats{}) {
		t.Errorf("second propagate stats = %+v, want zero", st)
	}
	assertRecomputed(t, counts, h.Len())
	for i := range snapshot {
		if h.globals[i] != snapshot[i] {
			t.Errorf("global %d changed on idle propagate", i)
		}
	}
}

func TestRewriteSameNodeRecomputesOnce(t *testing.T) {
	h, n := buildMixedTree(t)
	counts := recomputeProbe(h)
	h.WriteLocal(n[1], Translation(1, 0, 0))
	h.WriteLocal(n[1], Translation(2, 0, 0))
	h.WriteGlobal(n[1], Translation(3, 0, 0))
	h.Propagate()
	assertRecomputed(t, counts, h.Len(), 1, 2)
	assertNear(t, "a1.x", float64(h.ReadGlobal(n[1]).Pos[0]), 3)
}

func TestWriteBelowPendingAncestorIsCovered(t *testing.T) {
	h, n := buildMixedTree(t)
	counts := recomputeProbe(h)
	h.WriteLocal(n[0], Translation(10, 0, 0))
	h.WriteLocal(n[2], Translation(0, 3, 0))
	h.Propagate()
	assertRecomputed(t, counts, h.Len(), 0, 1, 2, 3, 4)
	assertNear(t, "b2.x", float64(h.ReadGlobal(n[2]).Pos[0]), 11)
	assertNear(t, "b2.y", float64(h.ReadGlobal(n[2]).Pos[1]), 3)
}

// An ancestor written after a descendant with the same extent takes over the
// shared end flag; a clean node beyond that end must not be recomputed.
func TestAncestorAfterDescendantSharesEnd(t *testing.T) {
	h := New(8)
	r0 := mustAdd(t, h, Identity())
	a1 := mustAddChild(t, h, r0, Identity())
	mustAddChild(t, h, a1, Identity())
	mustAdd(t, h, Identity())
	r4 := mustAdd(t, h, Identity())
	counts := recomputeProbe(h)

	h.WriteLocal(a1, Translation(1, 0, 0))
	h.WriteLocal(r0, Translation(0, 1, 0))
	h.WriteLocal(r4, Translation(0, 0, 1))
	h.Propagate()
	assertRecomputed(t, counts, h.Len(), 0, 1, 2, 4)
	if h.Pending() {
		t.Error("nothing should be pending after propagate")
	}
}

func TestPendingDescendantNestedInAncestor(t *testing.T) {
	h := New(8)
	r0 := mustAdd(t, h, Identity())
	a1 := mustAddChild(t, h, r0, Identity())
	b2 := mustAddChild(t, h, a1, Identity())
	mustAddChild(t, h, r0, Identity()) // c3 extends r0 past a1
	r4 := mustAdd(t, h, Identity())
	counts := recomputeProbe(h)

	h.WriteLocal(b2, Translation(1, 0, 0))
	h.WriteLocal(r0, Translation(0, 1, 0))
	h.Propagate()
	assertRecomputed(t, counts, h.Len(), 0, 1, 2, 3)
	if counts[r4.Index] != 0 {
		t.Error("clean root should not be recomputed")
	}
}

func TestChildAddedUnderPendingAncestor(t *testing.T) {
	h := New(8)
	r0 := mustAdd(t, h, Identity())
	a1 := mustAddChild(t, h, r0, Translation(1, 0, 0))

	h.WriteLocal(r0, Translation(10, 0, 0))
	b2 := mustAddChild(t, h, a1, Translation(0, 1, 0))
	assertNear(t, "b2.x at creation", float64(h.ReadGlobal(b2).Pos[0]), 1)
	r3 := mustAdd(t, h, Identity())

	counts := recomputeProbe(h)
	h.Propagate()
	assertRecomputed(t, counts, h.Len(), 0, 1, 2)
	assertNear(t, "b2.x", float64(h.ReadGlobal(b2).Pos[0]), 11)
	if counts[r3.Index] != 0 {
		t.Error("root added after the write should not be recomputed")
	}
}

func TestChildAddedUnderPendingAncestorThenAncestorRewritten(t *testing.T) {
	h := New(8)
	r0 := mustAdd(t, h, Identity())
	a1 := mustAddChild(t, h, r0, Identity())
	h.WriteLocal(a1, Translation(1, 0, 0))
	b2 := mustAddChild(t, h, a1, Identity())
	h.WriteLocal(r0, Translation(0, 1, 0))
	mustAdd(t, h, Identity())

	counts := recomputeProbe(h)
	h.Propagate()
	assertRecomputed(t, counts, h.Len(), 0, 1, 2)
	g := h.ReadGlobal(b2)
	assertNear(t, "b2.x", float64(g.Pos[0]), 1)
	assertNear(t, "b2.y", float64(g.Pos[1]), 1)
}

// --- Randomized agreement with a from-scratch recompute ---

func referenceGlobals(h *Hierarchy) []Transform {
	n := h.Len()
	ref := make([]Transform, n)
	for i := 0; i < n; i++ {
		if p := h.parents[i]; p == noParent {
			ref[i] = h.locals[i]
		} else {
			ref[i] = Compose(h.locals[i], ref[p])
		}
	}
	return ref
}

func randomTransform(r *rand.Rand) Transform {
	axis := mgl32.Vec3{r.Float32() - 0.5, r.Float32() - 0.5, r.Float32() - 0.5}
	s := 0.5 + r.Float32()
	return Transform{
		Rot:   AxisAngle(axis, r.Float32()*6),
		Pos:   mgl32.Vec3{r.Float32()*4 - 2, r.Float32()*4 - 2, r.Float32()*4 - 2},
		Scale: mgl32.Vec3{s, s, s},
	}
}

func TestRandomizedPropagationMatchesReference(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	h := New(600)
	var nodes []Handle

	grow := func(k int) {
		for range k {
			if len(nodes) == 0 || r.IntN(5) == 0 {
				nodes = append(nodes, mustAdd(t, h, randomTransform(r)))
				continue
			}
			parent := nodes[r.IntN(len(nodes))]
			nodes = append(nodes, mustAddChild(t, h, parent, randomTransform(r)))
		}
	}

	grow(200)
	for round := 0; round < 20; round++ {
		counts := recomputeProbe(h)
		for range 1 + r.IntN(12) {
			n := nodes[r.IntN(len(nodes))]
			if r.IntN(2) == 0 {
				h.WriteLocal(n, randomTransform(r))
			} else {
				h.WriteGlobal(n, randomTransform(r))
			}
			if r.IntN(4) == 0 {
				grow(1 + r.IntN(5))
			}
		}
		h.Propagate()

		for i, c := range counts {
			if c > 1 {
				t.Fatalf("round %d: slot %d recomputed %d times", round, i, c)
			}
		}
		ref := referenceGlobals(h)
		for i := range ref {
			if !h.globals[i].ApproxEqual(ref[i], 1e-3) {
				t.Fatalf("round %d: slot %d global %+v, want %+v", round, i, h.globals[i], ref[i])
			}
		}
	}
}
