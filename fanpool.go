// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, chowyu08, muXxer

package stomp

import (
	"sync"

	xh "github.com/cespare/xxhash/v2"
)

// taskChan is a channel for incoming task functions.
type taskChan chan func()

// FanPool is a fixed-sized fan-style worker pool with multiple working 'columns'.
// Each column is a queue processed by a single goroutine, and every task for the
// same key lands on the same column, so MESSAGE frames for one session are written
// in the order they were routed.
// Very special thanks are given to the authors of HMQ in particular
// @chowyu08 and @muXxer for their work on the fixpool worker pool
// https://github.com/fhmq/hmq/blob/master/pool/fixpool.go
// from which this fan-pool is heavily inspired.
type FanPool struct {
	mu      sync.RWMutex // held for reading while enqueueing, and for writing on close
	queue   []taskChan
	wg      sync.WaitGroup
	perChan uint64
}

// NewFanPool returns a new instance of FanPool. fanSize controls the number of 'columns'
// of the fan, whereas queueSize controls the size of each column's queue.
func NewFanPool(fanSize, queueSize uint64) *FanPool {
	pool := &FanPool{
		perChan: queueSize,
		queue:   make([]taskChan, fanSize),
	}

	pool.fillWorkers(fanSize)

	return pool
}

// fillWorkers adds columns to the fan pool with an associated worker goroutine.
func (p *FanPool) fillWorkers(n uint64) {
	for i := uint64(0); i < n; i++ {
		p.queue[i] = make(taskChan, p.perChan)
		p.wg.Add(1)
		go p.worker(p.queue[i])
	}
}

// worker is a worker goroutine which processes tasks from a single queue.
func (p *FanPool) worker(ch taskChan) {
	defer p.wg.Done()
	for task := range ch {
		task()
	}
}

// column returns the queue for a key.
func (p *FanPool) column(key string) taskChan {
	return p.queue[xh.Sum64String(key)%uint64(len(p.queue))]
}

// Enqueue adds a new task to the queue for a key, blocking while the queue is full.
// It returns false if the pool has been closed.
func (p *FanPool) Enqueue(key string, task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.queue) == 0 {
		return false
	}

	p.column(key) <- task
	return true
}

// TryEnqueue adds a new task to the queue for a key without blocking. It returns
// false if the queue is full or the pool has been closed.
func (p *FanPool) TryEnqueue(key string, task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.queue) == 0 {
		return false
	}

	select {
	case p.column(key) <- task:
		return true
	default:
		return false
	}
}

// Wait blocks until all the workers in the pool have completed.
func (p *FanPool) Wait() {
	p.wg.Wait()
}

// Close issues a shutdown signal to the workers. Queued tasks are still processed.
func (p *FanPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, q := range p.queue {
		close(q)
	}
	p.queue = nil
}

// Size returns the current number of workers in the pool.
func (p *FanPool) Size() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return uint64(len(p.queue))
}
