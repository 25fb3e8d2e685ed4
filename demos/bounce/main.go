// bounce drops five lattices of small cubes onto a floor plane. Every group
// is simulated and propagated on its own goroutine by an arbor.Runner; the
// render pass snapshots the globals and projects them with a perspective
// camera. No external assets are required.
package main

import (
	"context"
	"fmt"
	"image/color"
	"log"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"

	"github.com/phanxgames/arbor"
	"github.com/phanxgames/arbor/internal/bounce"
)

const (
	windowTitle = "Arbor: Bounce"
	screenW     = 1280
	screenH     = 720
	lattice     = 8 // half extent; the full scene uses 30
	pointSize   = 60.0
)

var (
	clearColor = color.RGBA{R: 15, G: 15, B: 23, A: 255}
	cubeColor  = [3]float32{1, 0.7, 0}
)

type game struct {
	world   *bounce.World
	runner  *arbor.Runner
	handles []arbor.Handle
	globals []arbor.Transform

	viewProj mgl32.Mat4
	dot      *ebiten.Image
	stats    arbor.TickStats
}

func newGame() (*game, error) {
	cfg := bounce.DefaultConfig()
	cfg.Half = lattice
	w, err := bounce.New(cfg)
	if err != nil {
		return nil, err
	}
	handles := w.Handles()

	dot := ebiten.NewImage(1, 1)
	dot.Fill(color.White)

	proj := mgl32.Perspective(mgl32.DegToRad(60), float32(screenW)/screenH, 0.1, 200)
	view := mgl32.LookAtV(mgl32.Vec3{0, 4, -12}, mgl32.Vec3{0, -2, 20}, mgl32.Vec3{0, 1, 0})

	return &game{
		world:    w,
		runner:   arbor.NewRunner(w.Scene, w.Step),
		handles:  handles,
		globals:  make([]arbor.Transform, len(handles)),
		viewProj: proj.Mul4(view),
		dot:      dot,
	}, nil
}

func (g *game) Update() error {
	stats, err := g.runner.Tick(context.Background())
	if err != nil {
		return err
	}
	g.stats = stats
	// The barrier in Tick guarantees every group is propagated here.
	g.world.Scene.Snapshot(g.handles, g.globals)
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(clearColor)

	var op ebiten.DrawImageOptions
	for _, t := range g.globals {
		clip := g.viewProj.Mul4x1(t.Pos.Vec4(1))
		if clip[3] <= 0 {
			continue
		}
		ndc := clip.Vec3().Mul(1 / clip[3])
		if math.Abs(float64(ndc[0])) > 1 || math.Abs(float64(ndc[1])) > 1 {
			continue
		}
		size := float64(pointSize * t.Scale[0] / clip[3])
		if size < 1 {
			size = 1
		}
		x := (float64(ndc[0]) + 1) * screenW / 2
		y := (1 - float64(ndc[1])) * screenH / 2

		op.GeoM.Reset()
		op.GeoM.Translate(-0.5, -0.5)
		op.GeoM.Scale(size, size)
		op.GeoM.Translate(x, y)
		op.ColorScale.Reset()
		op.ColorScale.Scale(cubeColor[0], cubeColor[1], cubeColor[2], 1)
		screen.DrawImage(g.dot, &op)
	}

	ebitenutil.DebugPrint(screen, fmt.Sprintf("FPS %.1f  nodes %d  recomputed %d  tick %v",
		ebiten.ActualFPS(), g.world.Scene.Len(), g.stats.Propagate.Recomputed, g.stats.Duration))
}

func (g *game) Layout(int, int) (int, int) {
	return screenW, screenH
}

func main() {
	g, err := newGame()
	if err != nil {
		log.Fatal(err)
	}
	defer g.runner.Close()

	ebiten.SetWindowTitle(windowTitle)
	ebiten.SetWindowSize(screenW, screenH)
	ebiten.SetTPS(int(math.Round(1 / bounce.FixedTick)))
	if err := ebiten.RunGame(g); err != nil {
		log.Fatal(err)
	}
}
