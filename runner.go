package arbor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// GroupFunc updates the nodes of one group for the current tick, typically
// through ReadGlobal/WriteGlobal. It runs on the group's worker goroutine
// and must not touch any other group.
type GroupFunc func(ctx context.Context, h *Hierarchy) error

// TickStats summarizes one Runner tick.
type TickStats struct {
	Propagate PropagateStats
	Duration  time.Duration
}

type groupResult struct {
	stats PropagateStats
	err   error
}

// Runner drives a Scene with one worker goroutine per group. Each tick every
// worker runs the update function for its group and then propagates it;
// Tick returns only when all groups are done, so globals may be read
// between ticks without further synchronization.
//
// Ticks cannot be cancelled once started. Shutdown happens between ticks.
type Runner struct {
	scene  *Scene
	update GroupFunc

	mu     sync.Mutex // serializes Tick and Close
	closed bool
	start  []chan context.Context
	done   chan groupResult
	eg     errgroup.Group
}

// NewRunner starts one worker per group of scene. update may be nil, in
// which case ticks only propagate pending writes. Call Close to stop the
// workers.
func NewRunner(scene *Scene, update GroupFunc) *Runner {
	r := &Runner{
		scene:  scene,
		update: update,
		start:  make([]chan context.Context, scene.Groups()),
		done:   make(chan groupResult, scene.Groups()),
	}
	for g := range r.start {
		r.start[g] = make(chan context.Context)
		r.eg.Go(func() error {
			r.work(g)
			return nil
		})
	}
	return r
}

func (r *Runner) work(g int) {
	h := r.scene.Group(g)
	for ctx := range r.start[g] {
		var res groupResult
		if r.update != nil {
			if err := r.update(ctx, h); err != nil {
				res.err = fmt.Errorf("group %d: %w", g, err)
			}
		}
		res.stats = h.Propagate()
		r.done <- res
	}
}

// Tick runs one update-then-propagate step on every group in parallel and
// waits for all of them. Errors from update functions are joined; groups
// are propagated even when their update failed.
func (r *Runner) Tick(ctx context.Context) (TickStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats TickStats
	if r.closed {
		return stats, ErrRunnerClosed
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	t0 := time.Now()
	for _, ch := range r.start {
		ch <- ctx
	}
	var errs []error
	for range r.start {
		res := <-r.done
		stats.Propagate.add(res.stats)
		if res.err != nil {
			errs = append(errs, res.err)
		}
	}
	stats.Duration = time.Since(t0)
	return stats, errors.Join(errs...)
}

// Close stops the workers and waits for them to exit. It is safe to call
// more than once.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, ch := range r.start {
		close(ch)
	}
	return r.eg.Wait()
}
