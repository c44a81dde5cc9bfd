// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package mempool provides pools of reusable encode buffers for outbound frames.
package mempool

import (
	"bytes"
	"sync"
)

// DefaultMaxCap is the largest buffer the default pool keeps. Frames larger than
// this are encoded into buffers which are dropped after use.
const DefaultMaxCap = 64 * 1024

var bufPool = NewBuffer(DefaultMaxCap)

// GetBuffer takes a Buffer from the default buffer pool.
func GetBuffer() *bytes.Buffer { return bufPool.Get() }

// PutBuffer returns a Buffer to the default buffer pool.
func PutBuffer(x *bytes.Buffer) { bufPool.Put(x) }

// BufferPool is a pool of byte buffers.
type BufferPool interface {
	Get() *bytes.Buffer
	Put(x *bytes.Buffer)
}

// NewBuffer returns a buffer pool. Buffers which have grown beyond max are not
// returned to the pool; if max <= 0 every buffer is kept.
func NewBuffer(max int) BufferPool {
	if max > 0 {
		return &BufferWithCap{bp: newBuffer(), max: max}
	}

	return newBuffer()
}

// Buffer is an unbounded Buffer pool.
type Buffer struct {
	pool *sync.Pool
}

func newBuffer() *Buffer {
	return &Buffer{
		pool: &sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

// Get takes a Buffer from the pool.
func (b *Buffer) Get() *bytes.Buffer {
	return b.pool.Get().(*bytes.Buffer)
}

// Put resets a Buffer and returns it to the pool.
func (b *Buffer) Put(x *bytes.Buffer) {
	x.Reset()
	b.pool.Put(x)
}

// BufferWithCap is a Buffer pool which drops oversized buffers.
type BufferWithCap struct {
	bp  *Buffer
	max int
}

// Get takes a Buffer from the pool.
func (b *BufferWithCap) Get() *bytes.Buffer {
	return b.bp.Get()
}

// Put returns a Buffer to the pool if its capacity is within the limit.
func (b *BufferWithCap) Put(x *bytes.Buffer) {
	if x.Cap() > b.max {
		return
	}
	b.bp.Put(x)
}
