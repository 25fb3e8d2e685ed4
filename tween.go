package arbor

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

type tweenKind uint8

const (
	tweenPosition tweenKind = iota
	tweenScale
	tweenRotation
)

// TweenGroup animates part of a node's local transform. Create one via
// TweenPosition, TweenScale or TweenRotation and call Update(dt) each frame.
// Every update writes the node's local through WriteLocal, so the change
// reaches globals on the next Propagate. If the hierarchy has been
// released, the group stops immediately.
//
// There is no global animation manager; users call Update themselves.
type TweenGroup struct {
	tweens [3]*gween.Tween
	count  int
	kind   tweenKind

	target *Hierarchy
	node   Handle

	fromRot, toRot mgl32.Quat

	Done bool
}

// Update advances all tweens by dt seconds and writes the result to the
// node's local transform.
func (g *TweenGroup) Update(dt float32) {
	if g.Done {
		return
	}
	if g.target.Released() {
		g.Done = true
		return
	}

	local := g.target.ReadLocal(g.node)
	var vals [3]float32
	allDone := true
	for i := 0; i < g.count; i++ {
		val, finished := g.tweens[i].Update(dt)
		vals[i] = val
		if !finished {
			allDone = false
		}
	}

	switch g.kind {
	case tweenPosition:
		local.Pos = mgl32.Vec3(vals)
	case tweenScale:
		local.Scale = mgl32.Vec3(vals)
	case tweenRotation:
		local.Rot = mgl32.QuatSlerp(g.fromRot, g.toRot, vals[0])
	}
	g.target.WriteLocal(g.node, local)
	g.Done = allDone
}

// TweenPosition creates a TweenGroup that moves the node's local position
// to `to` over duration seconds using the easing function.
func TweenPosition(h *Hierarchy, node Handle, to mgl32.Vec3, duration float32, fn ease.TweenFunc) *TweenGroup {
	from := h.ReadLocal(node).Pos
	g := &TweenGroup{count: 3, kind: tweenPosition, target: h, node: node}
	for i := range 3 {
		g.tweens[i] = gween.New(from[i], to[i], duration, fn)
	}
	return g
}

// TweenScale creates a TweenGroup that animates the node's local scale.
func TweenScale(h *Hierarchy, node Handle, to mgl32.Vec3, duration float32, fn ease.TweenFunc) *TweenGroup {
	from := h.ReadLocal(node).Scale
	g := &TweenGroup{count: 3, kind: tweenScale, target: h, node: node}
	for i := range 3 {
		g.tweens[i] = gween.New(from[i], to[i], duration, fn)
	}
	return g
}

// TweenRotation creates a TweenGroup that slerps the node's local rotation
// to `to`; the easing function shapes the interpolation parameter.
func TweenRotation(h *Hierarchy, node Handle, to mgl32.Quat, duration float32, fn ease.TweenFunc) *TweenGroup {
	g := &TweenGroup{
		count:   1,
		kind:    tweenRotation,
		target:  h,
		node:    node,
		fromRot: h.ReadLocal(node).Rot,
		toRot:   to,
	}
	g.tweens[0] = gween.New(0, 1, duration, fn)
	return g
}
