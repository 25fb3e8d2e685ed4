// Package ecs provides ECS adapters for arbor.
//
// Entities created with [NewNodeEntity] carry a [Node] pointing at an arbor
// handle and a [GlobalComponent] holding that node's world transform. A
// [TickSystem] advances an [arbor.Runner] once per ECS update, copies the
// fresh globals into every tracked entity and publishes a [TickEventType]
// event with the tick's statistics.
//
// Usage:
//
//	sys := ecs.NewTickSystem(scene, runner)
//	e := ecs.NewNodeEntity(world, scene, handle)
//	...
//	sys.Update(ctx, world)
//
// [Donburi]: https://github.com/yohamta/donburi
package ecs
