// Package bounce is a small physics workload over an arbor scene: every
// group holds one rig, a root with a lattice of children, and each child
// falls under gravity and bounces off a floor plane with a random new
// orientation. It drives both the bounce demo and arborbench.
package bounce

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/phanxgames/arbor"
)

const (
	Gravity   = -9.807
	FloorY    = -5.0
	FixedTick = 0.016
)

// Config sizes the workload.
type Config struct {
	Groups int    `toml:"groups"`
	Half   int    `toml:"half"` // lattice spans [-Half, Half) on each axis
	Seed   uint64 `toml:"seed"`

	Spacing    float32 `toml:"spacing"`
	RootScale  float32 `toml:"root_scale"`
	ChildScale float32 `toml:"child_scale"`
}

// DefaultConfig returns the settings of the full-size scene.
func DefaultConfig() Config {
	return Config{
		Groups:     5,
		Half:       30,
		Seed:       1,
		Spacing:    0.75,
		RootScale:  0.3,
		ChildScale: 0.1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Groups <= 0 || c.Groups > math.MaxUint16 {
		return fmt.Errorf("bounce: groups must be in [1, %d], got %d", math.MaxUint16, c.Groups)
	}
	if c.Half <= 0 {
		return fmt.Errorf("bounce: half must be positive, got %d", c.Half)
	}
	return nil
}

// GroupCapacity is the node capacity each group needs.
func (c Config) GroupCapacity() int {
	side := 2 * c.Half
	return side*side*side + 10
}

type body struct {
	node   arbor.Handle
	vel    mgl32.Vec3
	bounce float32
}

// World owns a scene and the per-group physics state.
type World struct {
	Scene *arbor.Scene

	roots  []arbor.Handle
	bodies [][]body
	rngs   []*rand.Rand
}

func randf(r *rand.Rand, lo, hi float32) float32 {
	return lo + r.Float32()*(hi-lo)
}

func randomRot(r *rand.Rand) mgl32.Quat {
	axis := mgl32.Vec3{randf(r, -1, 1), randf(r, -1, 1), randf(r, -1, 1)}
	return arbor.AxisAngle(axis, randf(r, 0, 2*math.Pi))
}

// New builds the scene described by cfg.
func New(cfg Config) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scene, err := arbor.NewSceneWithBuffer(
		make([]byte, arbor.SceneBufferSize(cfg.Groups, cfg.GroupCapacity())),
		cfg.Groups, cfg.GroupCapacity())
	if err != nil {
		return nil, err
	}

	w := &World{
		Scene:  scene,
		roots:  make([]arbor.Handle, cfg.Groups),
		bodies: make([][]body, cfg.Groups),
		rngs:   make([]*rand.Rand, cfg.Groups),
	}
	for g := 0; g < cfg.Groups; g++ {
		r := rand.New(rand.NewPCG(cfg.Seed, uint64(g)))
		w.rngs[g] = r

		root, err := scene.Add(g, arbor.Transform{
			Rot:   randomRot(r),
			Pos:   mgl32.Vec3{float32((g - cfg.Groups/2) * 5), randf(r, 0, 5), randf(r, 15, 25)},
			Scale: mgl32.Vec3{cfg.RootScale, cfg.RootScale, cfg.RootScale},
		})
		if err != nil {
			return nil, err
		}
		w.roots[g] = root

		bodies := make([]body, 0, cfg.GroupCapacity())
		for cx := -cfg.Half; cx < cfg.Half; cx++ {
			for cy := -cfg.Half; cy < cfg.Half; cy++ {
				for cz := -cfg.Half; cz < cfg.Half; cz++ {
					child, err := scene.AddChild(root, arbor.Transform{
						Rot:   randomRot(r),
						Pos:   mgl32.Vec3{float32(cx), float32(cy), float32(cz)}.Mul(cfg.Spacing),
						Scale: mgl32.Vec3{cfg.ChildScale, cfg.ChildScale, cfg.ChildScale},
					})
					if err != nil {
						return nil, err
					}
					bodies = append(bodies, body{node: child, bounce: randf(r, 0.95, 0.99)})
				}
			}
		}
		w.bodies[g] = bodies
	}
	return w, nil
}

// Handles returns every simulated node, group by group.
func (w *World) Handles() []arbor.Handle {
	var out []arbor.Handle
	for _, bodies := range w.bodies {
		for _, b := range bodies {
			out = append(out, b.node)
		}
	}
	return out
}

// Step advances the bodies of h's group by one fixed tick. It has the
// arbor.GroupFunc signature so a Runner can call it on every group in
// parallel; it only touches state owned by that group.
func (w *World) Step(ctx context.Context, h *arbor.Hierarchy) error {
	g := int(h.Group())
	r := w.rngs[g]
	bodies := w.bodies[g]
	for i := range bodies {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		b := &bodies[i]
		t := h.ReadGlobal(b.node)

		b.vel[1] += Gravity * FixedTick
		t.Pos = t.Pos.Add(b.vel.Mul(FixedTick))

		if t.Pos[1] < FloorY {
			b.vel[1] = -b.vel[1] * b.bounce
			t.Pos[1] = FloorY
			t.Rot = randomRot(r)
		}
		h.WriteGlobal(b.node, t)
	}
	return nil
}
