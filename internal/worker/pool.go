// Package worker runs jobs on a fixed set of goroutines and hands back
// futures, so callers can submit work in order and collect it in order.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Await when the result is not ready in time.
	ErrTimeout = errors.New("worker: await timeout")
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("worker: pool closed")
)

// Job is the unit of work executed by a pool goroutine.
type Job[T any] func() (T, error)

// Future is the pending result of a submitted job.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the job has finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the job finishes or timeout elapses. A timeout of zero
// or less waits indefinitely. On ErrTimeout the job keeps running and the
// future can be awaited again.
func (f *Future[T]) Await(timeout time.Duration) (T, error) {
	return f.AwaitContext(context.Background(), timeout)
}

// AwaitContext is Await that also gives up when ctx is done, returning
// ctx.Err(). The job is not interrupted.
func (f *Future[T]) AwaitContext(ctx context.Context, timeout time.Duration) (T, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	var zero T
	select {
	case <-f.done:
		return f.value, f.err
	case <-expired:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type task[T any] struct {
	job    Job[T]
	future *Future[T]
}

// Pool is a fixed-size group of goroutines fed from a bounded queue.
type Pool[T any] struct {
	tasks chan task[T]
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts size goroutines. The queue holds size jobs before Submit blocks.
func NewPool[T any](size int) *Pool[T] {
	if size < 1 {
		size = 1
	}

	p := &Pool[T]{tasks: make(chan task[T], size)}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				t.future.value, t.future.err = run(t.job)
				close(t.future.done)
			}
		}()
	}
	return p
}

func run[T any](job Job[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return job()
}

// PanicError reports a job that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "worker: job panicked"
}

// Submit queues job and returns its future.
func (p *Pool[T]) Submit(ctx context.Context, job Job[T]) (*Future[T], error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	f := &Future[T]{done: make(chan struct{})}
	select {
	case p.tasks <- task[T]{job: job, future: f}:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting jobs. Queued jobs still run.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.tasks)
}

// Shutdown closes the pool and waits for in-flight jobs, up to ctx.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	p.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
