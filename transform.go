package arbor

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/hajimehoshi/ebiten/v2"
)

// Transform is a rotation, translation and per-axis scale. It is a plain
// value type with no pointers so it can live in the store's packed buffer.
//
// Applied to a point p the transform yields Pos + Rot*(p*Scale).
type Transform struct {
	Rot   mgl32.Quat
	Pos   mgl32.Vec3
	Scale mgl32.Vec3
}

// Identity returns the transform that leaves every point unchanged.
func Identity() Transform {
	return Transform{
		Rot:   mgl32.QuatIdent(),
		Scale: mgl32.Vec3{1, 1, 1},
	}
}

// Translation returns an identity transform moved to (x, y, z).
func Translation(x, y, z float32) Transform {
	t := Identity()
	t.Pos = mgl32.Vec3{x, y, z}
	return t
}

// AxisAngle returns a unit quaternion rotating angle radians about axis.
// The axis is normalized; a zero axis yields the identity rotation.
func AxisAngle(axis mgl32.Vec3, angle float32) mgl32.Quat {
	if axis.Len() == 0 {
		return mgl32.QuatIdent()
	}
	return mgl32.QuatRotate(angle, axis.Normalize())
}

// Compose expresses t in the coordinate frame of by. For a node with local
// transform t whose parent's global transform is by, the result is the
// node's global transform.
//
//	rot   = by.Rot * t.Rot
//	scale = t.Scale * by.Scale
//	pos   = by.Pos + rotate(t.Pos * by.Scale, by.Rot)
func Compose(t, by Transform) Transform {
	return Transform{
		Rot:   by.Rot.Mul(t.Rot),
		Pos:   by.Pos.Add(by.Rot.Rotate(mulVec(t.Pos, by.Scale))),
		Scale: mulVec(t.Scale, by.Scale),
	}
}

// InverseCompose returns the local transform that composes with by to give
// t. A zero component in by.Scale produces Inf/NaN components; callers are
// expected to keep scales non-degenerate.
func InverseCompose(t, by Transform) Transform {
	inv := by.Rot.Conjugate()
	invScale := mgl32.Vec3{1 / by.Scale[0], 1 / by.Scale[1], 1 / by.Scale[2]}
	return Transform{
		Rot:   inv.Mul(t.Rot),
		Pos:   mulVec(inv.Rotate(t.Pos.Sub(by.Pos)), invScale),
		Scale: mulVec(t.Scale, invScale),
	}
}

// Apply transforms the point p.
func (t Transform) Apply(p mgl32.Vec3) mgl32.Vec3 {
	return t.Pos.Add(t.Rot.Rotate(mulVec(p, t.Scale)))
}

// Mat4 returns the column-major TRS matrix (translate * rotate * scale)
// suitable for instanced rendering.
func (t Transform) Mat4() mgl32.Mat4 {
	return mgl32.Translate3D(t.Pos[0], t.Pos[1], t.Pos[2]).
		Mul4(t.Rot.Mat4()).
		Mul4(mgl32.Scale3D(t.Scale[0], t.Scale[1], t.Scale[2]))
}

// GeoM projects t onto the XY plane for 2D drawing: X/Y scale, the twist
// about the Z axis, then X/Y translation. Z components are dropped.
func (t Transform) GeoM() ebiten.GeoM {
	var g ebiten.GeoM
	g.Scale(float64(t.Scale[0]), float64(t.Scale[1]))
	g.Rotate(t.twistZ())
	g.Translate(float64(t.Pos[0]), float64(t.Pos[1]))
	return g
}

// twistZ is the angle of the rotation's swing-twist decomposition about Z.
func (t Transform) twistZ() float64 {
	w, z := float64(t.Rot.W), float64(t.Rot.V[2])
	if w == 0 && z == 0 {
		return 0
	}
	return 2 * math.Atan2(z, w)
}

// ApproxEqual reports whether every component of t and o differs by at most
// eps. Quaternions q and -q describe the same rotation and compare equal.
func (t Transform) ApproxEqual(o Transform, eps float32) bool {
	if !vecNear(t.Pos, o.Pos, eps) || !vecNear(t.Scale, o.Scale, eps) {
		return false
	}
	return quatNear(t.Rot, o.Rot, eps) || quatNear(t.Rot, o.Rot.Scale(-1), eps)
}

func mulVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

func vecNear(a, b mgl32.Vec3, eps float32) bool {
	for i := range a {
		if mgl32.Abs(a[i]-b[i]) > eps {
			return false
		}
	}
	return true
}

func quatNear(a, b mgl32.Quat, eps float32) bool {
	return mgl32.Abs(a.W-b.W) <= eps && vecNear(a.V, b.V, eps)
}
