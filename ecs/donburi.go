package ecs

import (
	"context"
	"errors"

	"github.com/phanxgames/arbor"

	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/features/events"
	"github.com/yohamta/donburi/filter"
)

// Node links an entity to a node of an arbor scene.
type Node struct {
	Handle arbor.Handle
}

// NodeComponent stores the arbor handle an entity tracks.
var NodeComponent = donburi.NewComponentType[Node]()

// GlobalComponent holds the tracked node's global transform as of the last
// sync. Systems read it instead of reaching into the scene.
var GlobalComponent = donburi.NewComponentType[arbor.Transform]()

// TickEventType is published after every TickSystem update. Subscribe to it
// to react to propagation statistics.
var TickEventType = events.NewEventType[arbor.TickStats]()

var nodeQuery = donburi.NewQuery(filter.Contains(NodeComponent, GlobalComponent))

// NewNodeEntity creates an entity tracking node n of scene. Its global
// component is filled immediately.
func NewNodeEntity(world donburi.World, scene *arbor.Scene, n arbor.Handle) donburi.Entity {
	e := world.Create(NodeComponent, GlobalComponent)
	entry := world.Entry(e)
	NodeComponent.SetValue(entry, Node{Handle: n})
	GlobalComponent.SetValue(entry, scene.ReadGlobal(n))
	return e
}

// SyncGlobals copies the current global of every tracked node into its
// entity and returns the number of entities updated. Call it only while no
// group of scene is propagating.
func SyncGlobals(world donburi.World, scene *arbor.Scene) int {
	n := 0
	nodeQuery.Each(world, func(entry *donburi.Entry) {
		node := NodeComponent.Get(entry)
		GlobalComponent.SetValue(entry, scene.ReadGlobal(node.Handle))
		n++
	})
	return n
}

// TickSystem drives an arbor Runner from an ECS update loop.
type TickSystem struct {
	scene  *arbor.Scene
	runner *arbor.Runner
}

// NewTickSystem creates a system ticking runner, which must drive scene.
func NewTickSystem(scene *arbor.Scene, runner *arbor.Runner) *TickSystem {
	return &TickSystem{scene: scene, runner: runner}
}

// Update runs one tick, syncs globals and queues a TickEventType event.
// Globals are synced even if an update function failed; its error is
// returned afterwards.
func (s *TickSystem) Update(ctx context.Context, world donburi.World) error {
	stats, err := s.runner.Tick(ctx)
	if errors.Is(err, arbor.ErrRunnerClosed) {
		return err
	}
	SyncGlobals(world, s.scene)
	TickEventType.Publish(world, stats)
	return err
}
