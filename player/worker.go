package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/swfvm/display"
)

// ErrWorkerStopped is returned by calls on a stopped Worker.
var ErrWorkerStopped = errors.New("worker stopped")

// request is a unit of work to be executed on the player goroutine.
type request struct {
	fn   func(*Player) (any, error)
	done chan result
}

// result holds the return value of a player operation.
type result struct {
	value any
	err   error
}

// Worker serializes all access to a Player through a single goroutine.
// A player is single-threaded; shells that tick from a timer and take
// host calls from elsewhere must go through the worker.
type Worker struct {
	player   *Player
	requests chan request
	quit     chan struct{}
}

// NewWorker creates a Worker and starts its goroutine.
func NewWorker(p *Player) *Worker {
	w := &Worker{
		player:   p,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the player, recovering from panics.
func (w *Worker) execute(fn func(*Player) (any, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("player %s: panic: %v", w.player.ID, r)
		}
	}()
	res.value, res.err = fn(w.player)
	return res
}

// Do submits fn for execution on the player goroutine and blocks until
// it completes. A panic in fn is returned as an error.
func (w *Worker) Do(fn func(*Player) (any, error)) (any, error) {
	req := request{fn: fn, done: make(chan result, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
}

// Tick runs one tick on the player goroutine.
func (w *Worker) Tick() (*display.Snapshot, error) {
	v, err := w.Do(func(p *Player) (any, error) { return p.Tick() })
	snap, _ := v.(*display.Snapshot)
	return snap, err
}

// Run ticks at the movie's frame rate until ctx is done, the player is
// destroyed or a tick fails. Snapshots go to the configured renderer.
func (w *Worker) Run(ctx context.Context) error {
	v, _ := w.Do(func(p *Player) (any, error) { return p.FrameRate(), nil })
	rate, _ := v.(float64)
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Tick(); err != nil {
				return err
			}
		}
	}
}

// Stop shuts down the worker goroutine. The player is left as is.
func (w *Worker) Stop() {
	close(w.quit)
}

// Player returns the underlying player, for read-only access that does
// not touch interpreter state.
func (w *Worker) Player() *Player {
	return w.player
}
