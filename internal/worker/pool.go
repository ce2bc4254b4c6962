// Package worker runs purchase workflows in the background and hands back a
// handle the caller may wait on or ignore.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tixbot/internal/logger"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// Pool bounds how many jobs run at once. Jobs beyond the limit wait for a
// free slot.
type Pool struct {
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool returns a pool running at most size jobs at once.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    make(chan struct{}, size),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handle is the pending result of a submitted job.
type Handle[T any] struct {
	ID   uuid.UUID
	Name string

	done   chan struct{}
	result T
	err    error
}

// Done is closed once the job has finished.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job finishes or ctx ends. Cancelling ctx stops the
// wait, not the job.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit runs fn on p. The job's context ends when ctx does or when the pool
// is stopped. A job that returns an error or panics is logged by the pool,
// so callers that never Wait still see failures.
func Submit[T any](ctx context.Context, p *Pool, name string, fn func(ctx context.Context) (T, error)) (*Handle[T], error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolStopped
	}
	p.wg.Add(1)
	p.mu.Unlock()

	h := &Handle[T]{
		ID:   uuid.New(),
		Name: name,
		done: make(chan struct{}),
	}

	jobCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)

	go func() {
		defer p.wg.Done()
		defer close(h.done)
		defer stop()
		defer cancel()

		log := logger.Get().With(zap.String("job", name), zap.Stringer("job_id", h.ID))

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-jobCtx.Done():
			h.err = jobCtx.Err()
			log.Warn("job canceled before start", zap.Error(h.err))
			return
		}

		log.Debug("job started")
		h.result, h.err = run(jobCtx, fn)
		if h.err != nil {
			log.Error("job failed", zap.Error(h.err))
			return
		}
		log.Debug("job finished")
	}()

	return h, nil
}

func run[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Stop refuses new jobs, cancels running ones and waits for them to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Wait blocks until every submitted job has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
