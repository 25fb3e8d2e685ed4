package arbor

import (
	"fmt"
	"math"

	"github.com/charmbracelet/log"
)

// Scene partitions node capacity into independent groups that share one
// backing allocation. Parent links never cross groups, so each group can be
// written and propagated without touching memory owned by another; see
// Runner for driving groups in parallel.
type Scene struct {
	buf    []byte
	groups []*Hierarchy
}

// SceneBufferSize returns the number of bytes NewSceneWithBuffer needs for
// groups groups of capacity nodes each. Every group starts on its own cache
// line.
func SceneBufferSize(groups, capacity int) int {
	if groups <= 0 || groups > math.MaxUint16 || capacity <= 0 || capacity > maxCapacity {
		return 0
	}
	return groups*computeLayout(capacity).size + cacheLine - 1
}

// NewScene allocates a scene of groups groups with capacity nodes each. It
// panics on invalid sizes.
func NewScene(groups, capacity int) *Scene {
	s, err := NewSceneWithBuffer(make([]byte, SceneBufferSize(groups, capacity)), groups, capacity)
	if err != nil {
		panic(err.Error())
	}
	return s
}

// NewSceneWithBuffer builds a scene inside caller-provided memory of at
// least SceneBufferSize(groups, capacity) bytes.
func NewSceneWithBuffer(buf []byte, groups, capacity int) (*Scene, error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	if groups <= 0 || groups > math.MaxUint16 {
		return nil, fmt.Errorf("arbor: %d groups: %w", groups, ErrInvalidCapacity)
	}
	if need := SceneBufferSize(groups, capacity); len(buf) < need {
		return nil, fmt.Errorf("arbor: %d bytes for %d groups of %d, need %d: %w",
			len(buf), groups, capacity, need, ErrBufferTooSmall)
	}

	l := computeLayout(capacity)
	base := alignment(buf)
	s := &Scene{buf: buf, groups: make([]*Hierarchy, groups)}
	for g := range s.groups {
		off := base + g*l.size
		s.groups[g] = adopt(buf[off:off+l.size], l, uint16(g))
	}
	return s, nil
}

// Release tears down every group and returns the scene's buffer.
func (s *Scene) Release() []byte {
	for _, g := range s.groups {
		g.Release()
	}
	buf := s.buf
	s.buf = nil
	return buf
}

// Groups returns the number of groups.
func (s *Scene) Groups() int {
	return len(s.groups)
}

// Group returns the store backing group g.
func (s *Scene) Group(g int) *Hierarchy {
	return s.groups[g]
}

// Len returns the total number of nodes across all groups.
func (s *Scene) Len() int {
	n := 0
	for _, g := range s.groups {
		n += g.Len()
	}
	return n
}

// SetDebugMode enables or disables debug checks and logging on every group.
func (s *Scene) SetDebugMode(enabled bool) {
	for _, g := range s.groups {
		g.SetDebugMode(enabled)
	}
}

// SetLogger sets the logger used in debug mode. Each group logs with its
// group number attached.
func (s *Scene) SetLogger(l *log.Logger) {
	for _, g := range s.groups {
		g.SetLogger(l)
	}
}

// Add appends a root node to group g.
func (s *Scene) Add(g int, t Transform) (Handle, error) {
	if g < 0 || g >= len(s.groups) {
		return NoHandle, fmt.Errorf("arbor: group %d of %d: %w", g, len(s.groups), ErrInvalidHandle)
	}
	return s.groups[g].Add(t)
}

// AddChild appends a node under parent, in parent's group.
func (s *Scene) AddChild(parent Handle, t Transform) (Handle, error) {
	if int(parent.Group) >= len(s.groups) {
		return NoHandle, fmt.Errorf("arbor: add child of %v: %w", parent, ErrInvalidHandle)
	}
	return s.groups[parent.Group].AddChild(parent, t)
}

// ReadLocal returns n's local transform.
func (s *Scene) ReadLocal(n Handle) Transform { return s.owner(n).ReadLocal(n) }

// ReadGlobal returns n's global transform as of its group's last Propagate.
func (s *Scene) ReadGlobal(n Handle) Transform { return s.owner(n).ReadGlobal(n) }

// WriteLocal replaces n's local transform.
func (s *Scene) WriteLocal(n Handle, t Transform) { s.owner(n).WriteLocal(n, t) }

// WriteGlobal places n at t in world space.
func (s *Scene) WriteGlobal(n Handle, t Transform) { s.owner(n).WriteGlobal(n, t) }

// Propagate propagates every group in turn.
func (s *Scene) Propagate() PropagateStats {
	var stats PropagateStats
	for _, g := range s.groups {
		stats.add(g.Propagate())
	}
	return stats
}

// PropagateGroup propagates group g only.
func (s *Scene) PropagateGroup(g int) PropagateStats {
	return s.groups[g].Propagate()
}

// Snapshot copies the globals of handles into dst and returns the number
// copied (the shorter of the two lengths). It must only be called once
// every group touched by handles has finished propagating.
func (s *Scene) Snapshot(handles []Handle, dst []Transform) int {
	n := min(len(handles), len(dst))
	for i, h := range handles[:n] {
		dst[i] = s.owner(h).ReadGlobal(h)
	}
	return n
}

func (s *Scene) owner(n Handle) *Hierarchy {
	if int(n.Group) >= len(s.groups) {
		panic(fmt.Sprintf("arbor: handle %v refers to a missing group (scene has %d)", n, len(s.groups)))
	}
	return s.groups[n.Group]
}
