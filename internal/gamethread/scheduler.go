// Package gamethread is the one idiomatic-Go translation the spec's
// "single-threaded game scheduler + parallel worker pool" model (spec.md
// §5) requires. It models the host environment's implicit "game thread"
// as an explicit single-consumer actor and the "async worker" model as a
// bounded goroutine pool, grounded in the teacher's websocket.Hub: a
// dedicated loop goroutine owns all mutable state and is fed exclusively
// through channels.
package gamethread

import (
	"context"
	"time"
)

// Scheduler runs closures either on its single game-thread goroutine
// (serialized with every other game-thread closure) or on a bounded
// worker pool (for store I/O, JSON, and other non-game-state work).
//
// The zero value is not usable — create one with New and call Run in its
// own goroutine before scheduling anything.
type Scheduler struct {
	tasks   chan func()
	workers chan struct{} // semaphore bounding concurrent worker goroutines
	done    chan struct{}
}

// New creates a Scheduler with the given worker pool size. Call Run in a
// goroutine before scheduling work.
func New(workerPoolSize int) *Scheduler {
	if workerPoolSize < 1 {
		workerPoolSize = 1
	}
	return &Scheduler{
		tasks:   make(chan func(), 256),
		workers: make(chan struct{}, workerPoolSize),
		done:    make(chan struct{}),
	}
}

// Run drives the game-thread loop until ctx is cancelled. Must be called
// exactly once, in its own goroutine:
//
//	go sched.Run(ctx)
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.tasks:
			fn()
		}
	}
}

// RunOnGameThread enqueues fn to run serialized with every other
// game-thread closure (player teleport, effect application, respawn
// location set — spec.md §5). Returns once fn is queued (blocking only
// while the 256-slot queue is full) or the loop has stopped; fn runs
// asynchronously.
func (s *Scheduler) RunOnGameThread(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// RunInWorker runs fn on the bounded worker pool, for non-game-state work
// (store I/O, JSON, waiting, logging — spec.md §5). fn must never touch
// game state directly; it should call back into RunOnGameThread for that.
func (s *Scheduler) RunInWorker(fn func()) {
	s.workers <- struct{}{}
	go func() {
		defer func() { <-s.workers }()
		fn()
	}()
}

// After schedules fn to run on the game thread after d elapses. The
// movement monitor uses it for its initial sampling delay (spec.md §4.5);
// fn is posted back through RunOnGameThread rather than firing directly
// from the timer goroutine, since it observes game state.
func (s *Scheduler) After(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		s.RunOnGameThread(fn)
	})
}

// Every schedules fn to run on the game thread every d until stop is
// called or ctx is cancelled. Used by the movement monitor's 4-tick
// sampling.
func (s *Scheduler) Every(ctx context.Context, d time.Duration, fn func()) (stop func()) {
	ticker := time.NewTicker(d)
	stopped := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopped:
				return
			case <-ticker.C:
				s.RunOnGameThread(fn)
			}
		}
	}()
	var once int32
	return func() {
		if once == 0 {
			once = 1
			close(stopped)
		}
	}
}
