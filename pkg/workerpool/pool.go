// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package workerpool bounds how many pipeline jobs run at once.
//
// A Pool is created once at process start and closed at shutdown. Jobs are
// admitted in FIFO order; each job runs under a timeout that covers both the
// wait for a slot and the execution itself.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrPoolClosed is returned by Submit after Close has been called.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrTimeout is returned when a job does not finish within its timeout.
	ErrTimeout = errors.New("job timed out")
)

// DefaultWorkers is the pool size used when New is given a non-positive size.
const DefaultWorkers = 3

// Pool runs jobs on a fixed number of workers.
type Pool struct {
	sem  *semaphore.Weighted
	size int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	queued  atomic.Int64
	running atomic.Int64
}

// New creates a pool with the given number of workers.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(workers)),
		size: workers,
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Stats reports jobs waiting for a worker and jobs running.
func (p *Pool) Stats() (queued, running int) {
	return int(p.queued.Load()), int(p.running.Load())
}

// Submit runs fn on a worker and waits for its result.
//
// The context passed to fn is cancelled when the timeout elapses or ctx is
// done. A job that ignores cancellation keeps its worker until fn returns,
// but Submit itself returns ErrTimeout as soon as the timeout elapses.
// A zero timeout means no limit beyond ctx.
func (p *Pool) Submit(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		jobCtx, cancel = context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	p.queued.Add(1)
	err := p.sem.Acquire(jobCtx, 1)
	p.queued.Add(-1)
	if err != nil {
		p.wg.Done()
		return p.contextError(jobCtx, timeout)
	}

	done := make(chan error, 1)
	p.running.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer p.running.Add(-1)
		done <- fn(jobCtx)
	}()

	select {
	case err := <-done:
		if err != nil && jobCtx.Err() != nil && errors.Is(err, jobCtx.Err()) {
			return p.contextError(jobCtx, timeout)
		}
		return err
	case <-jobCtx.Done():
		slog.Debug("Worker job abandoned", "timeout", timeout, "cause", context.Cause(jobCtx))
		return p.contextError(jobCtx, timeout)
	}
}

func (p *Pool) contextError(ctx context.Context, timeout time.Duration) error {
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return ctx.Err()
}

// Close stops admitting jobs and waits for queued and running jobs to return.
// It is safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// CloseContext is Close bounded by ctx.
func (p *Pool) CloseContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = p.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for worker pool: %w", ctx.Err())
	}
}
