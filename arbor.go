package arbor

import (
	"errors"
	"fmt"
	"math"
)

// Handle identifies a node slot. Handles are stable for the lifetime of the
// store that issued them: nodes never move and are never removed.
type Handle struct {
	Group uint16
	Index uint32
}

// noParent marks a slot without a parent.
const noParent = math.MaxUint32

// NoHandle is the zero-parent sentinel returned by Parent for root nodes.
var NoHandle = Handle{Group: math.MaxUint16, Index: noParent}

// IsValid reports whether h is not the NoHandle sentinel. It does not check
// that the handle was issued by any particular store.
func (h Handle) IsValid() bool {
	return h != NoHandle
}

// Less orders handles by group, then by index.
func (h Handle) Less(o Handle) bool {
	if h.Group != o.Group {
		return h.Group < o.Group
	}
	return h.Index < o.Index
}

func (h Handle) String() string {
	if !h.IsValid() {
		return "none"
	}
	return fmt.Sprintf("%d:%d", h.Group, h.Index)
}

var (
	// ErrInvalidCapacity is returned for a capacity outside (0, MaxInt32].
	ErrInvalidCapacity = errors.New("invalid capacity")
	// ErrBufferTooSmall is returned when caller memory is smaller than
	// BufferSize (or SceneBufferSize) reports.
	ErrBufferTooSmall = errors.New("buffer too small")
	// ErrCapacityExceeded is returned when a node is added to a full store.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrInvalidHandle is returned when a parent handle was never issued.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrForeignGroup is returned when a parent lives in another group.
	ErrForeignGroup = errors.New("parent belongs to another group")
	// ErrRunnerClosed is returned by Runner.Tick after Close.
	ErrRunnerClosed = errors.New("runner closed")
)

// PropagateStats reports the work done by one or more propagate passes.
type PropagateStats struct {
	Scanned    int // slots examined inside the dirty span
	Recomputed int // globals rewritten
}

func (s *PropagateStats) add(o PropagateStats) {
	s.Scanned += o.Scanned
	s.Recomputed += o.Recomputed
}
