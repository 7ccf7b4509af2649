package session

import (
	"context"
	"fmt"
	"runtime/debug"
)

// request is a unit of work for the worker goroutine.
type request struct {
	fn   func() (interface{}, error)
	done chan result
}

type result struct {
	value interface{}
	err   error
}

// worker serializes all interpreter access through one goroutine. The
// interpreter is single threaded.
type worker struct {
	requests chan request
	quit     chan struct{}
	stopped  chan struct{}
}

func newWorker() *worker {
	w := &worker{
		requests: make(chan request, 16),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, turning a panic into an error.
func (w *worker) execute(fn func() (interface{}, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic on session worker", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			res = result{err: fmt.Errorf("session: panic: %v", r)}
		}
	}()
	v, err := fn()
	return result{value: v, err: err}
}

// do submits fn and blocks until it completes, the worker stops or ctx is
// done. Work already accepted by the worker runs to completion even when
// ctx is cancelled.
func (w *worker) do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := request{fn: fn, done: make(chan result, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.stopped:
		// The worker may have finished the request just before stopping.
		select {
		case res := <-req.done:
			return res.value, res.err
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stop ends the loop after the request in progress and waits for it.
func (w *worker) stop() {
	close(w.quit)
	<-w.stopped
}
