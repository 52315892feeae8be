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

package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsJob(t *testing.T) {
	p := New(2)
	defer p.Close()

	var ran bool
	err := p.Submit(context.Background(), time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	boom := errors.New("boom")
	err = p.Submit(context.Background(), time.Second, func(ctx context.Context) error {
		return boom
	})
	assert.Same(t, boom, err)
}

func TestPool_DefaultSize(t *testing.T) {
	assert.Equal(t, DefaultWorkers, New(0).Size())
	assert.Equal(t, 5, New(5).Size())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(3)
	defer p.Close()

	var (
		current atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Submit(context.Background(), 5*time.Second, func(ctx context.Context) error {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, int32(3), peak.Load())
}

func TestPool_TimeoutCancelsJob(t *testing.T) {
	p := New(1)
	defer p.Close()

	observed := make(chan error, 1)
	err := p.Submit(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		observed <- ctx.Err()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.ErrorIs(t, <-observed, context.DeadlineExceeded)
}

func TestPool_TimeoutIncludesQueueing(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Submit(context.Background(), time.Second, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var ran atomic.Bool
	err := p.Submit(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	close(release)

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, ran.Load())
}

func TestPool_UncooperativeJobKeepsSlot(t *testing.T) {
	p := New(1)

	release := make(chan struct{})
	err := p.Submit(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-release
		return nil
	})
	assert.True(t, errors.Is(err, ErrTimeout))

	queued, running := p.Stats()
	assert.Equal(t, 0, queued)
	assert.Equal(t, 1, running)

	close(release)
	require.NoError(t, p.Close())

	_, running = p.Stats()
	assert.Equal(t, 0, running)
}

func TestPool_ParentCancel(t *testing.T) {
	p := New(1)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Submit(ctx, time.Second, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestPool_Close(t *testing.T) {
	p := New(2)

	finished := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Submit(context.Background(), time.Second, func(ctx context.Context) error {
			close(started)
			time.Sleep(30 * time.Millisecond)
			close(finished)
			return nil
		})
	}()
	<-started

	require.NoError(t, p.Close())
	select {
	case <-finished:
	default:
		t.Fatal("Close returned before the running job finished")
	}

	err := p.Submit(context.Background(), time.Second, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
	require.NoError(t, p.Close())
}

func TestPool_CloseContext(t *testing.T) {
	p := New(1)

	release := make(chan struct{})
	go func() {
		_ = p.Submit(context.Background(), 0, func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	require.Eventually(t, func() bool {
		_, running := p.Stats()
		return running == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, p.CloseContext(ctx))

	close(release)
	require.NoError(t, p.CloseContext(context.Background()))
}
