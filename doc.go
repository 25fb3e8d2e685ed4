// Package arbor is a flat, cache-friendly transform hierarchy for games.
//
// Arbor stores every node's local transform, global transform, parent link
// and subtree extent as parallel arrays carved out of one buffer. Nodes are
// appended in topological order and never move, so world transforms are
// brought up to date by a single forward pass that touches only the nodes
// written since the previous pass.
//
// # Quick start
//
//	h := arbor.New(1024)
//	root, _ := h.Add(arbor.Translation(5, 0, 0))
//	child, _ := h.AddChild(root, arbor.Translation(0, 2, 0))
//
//	h.WriteLocal(root, arbor.Translation(0, 0, 0))
//	h.Propagate()
//	world := h.ReadGlobal(child) // (0, 2, 0)
//
// # Snapshots and propagation
//
// Reads return the state of the last [Hierarchy.Propagate]. Writing a
// node records the node and its subtree as a dirty interval; nothing is
// recomputed until the next propagate. Logic code therefore always sees a
// consistent snapshot of the previous step, whatever order it runs in.
//
// Locals are authoritative: [Hierarchy.WriteGlobal] converts the requested
// world transform into a local against the parent's current global.
//
// # Memory
//
// [BufferSize] and [NewWithBuffer] let callers place a store in their own
// memory; [Hierarchy.Release] hands the buffer back. Sub-arrays are aligned
// to 64 bytes.
//
// # Groups
//
// A [Scene] splits capacity into independent groups. Parents never cross
// groups, so a [Runner] can update and propagate every group on its own
// goroutine and meet at a barrier before globals are read for rendering.
//
// # Defects
//
// Construction failures (full store, unknown or foreign parent) are
// returned as errors. Reading or writing a handle the store never issued
// panics: indices are always checked.
//
// Tweens (via [gween]) animate locals, [Transform.GeoM] projects transforms
// for [Ebitengine], and an ECS bridge for [Donburi] lives in arbor/ecs.
//
// [gween]: https://github.com/tanema/gween
// [Ebitengine]: https://ebitengine.org
// [Donburi]: https://github.com/yohamta/donburi
package arbor
