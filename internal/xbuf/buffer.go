/*
SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package xbuf implements the reference-counted, cursor-based byte buffer
// shared by the gRPC stream adapter and the TLS channel. It plays the same
// role the zero-copy RawMessage does in a server-side router: a handle onto
// someone else's backing array that many call sites can retain and release
// without an extra copy.
package xbuf

import (
	"errors"
	"io"
	"sync/atomic"
)

// ErrReleased names the condition of a buffer whose retain count has
// already reached zero. Buffer's methods do not check the count and do not
// return it.
var ErrReleased = errors.New("xbuf: buffer already released")

// Allocator produces fresh retained buffers of at least the requested size.
type Allocator interface {
	Get(size int) (*Buffer, error)
}

// pooler is implemented by allocators that want buffers returned to them
// instead of left for the garbage collector.
type pooler interface {
	put(data []byte)
}

// Buffer is a handle to a contiguous byte region with a read/write cursor
// (position/limit, mirroring java.nio.ByteBuffer) and a retain/release
// counter. The zero value is not usable; construct via an Allocator.
type Buffer struct {
	name  string
	data  []byte
	pos   int
	limit int

	refs  atomic.Int32
	alloc Allocator
}

// New wraps data as a freshly retained buffer (refcount 1) not owned by any
// allocator; Release on such a buffer simply drops the reference for GC.
func New(name string, data []byte) *Buffer {
	b := &Buffer{name: name, data: data, limit: len(data)}
	b.refs.Store(1)
	return b
}

func newFromAllocator(name string, data []byte, alloc Allocator) *Buffer {
	b := &Buffer{name: name, data: data, limit: len(data), alloc: alloc}
	b.refs.Store(1)
	return b
}

// Name identifies the buffer for diagnostics (e.g. "in-ciphertext").
func (b *Buffer) Name() string { return b.name }

// Cap returns the total backing capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Position returns the current cursor.
func (b *Buffer) Position() int { return b.pos }

// SetPosition moves the cursor; panics if out of [0, limit].
func (b *Buffer) SetPosition(p int) {
	if p < 0 || p > b.limit {
		panic("xbuf: position out of range")
	}
	b.pos = p
}

// Limit returns the current limit.
func (b *Buffer) Limit() int { return b.limit }

// SetLimit sets the limit; panics if out of [0, cap]. Clamps position down
// if position > limit, mirroring java.nio.ByteBuffer.limit(int).
func (b *Buffer) SetLimit(l int) {
	if l < 0 || l > len(b.data) {
		panic("xbuf: limit out of range")
	}
	b.limit = l
	if b.pos > l {
		b.pos = l
	}
}

// Remaining returns the number of bytes between position and limit.
func (b *Buffer) Remaining() int { return b.limit - b.pos }

// HasRemaining reports whether Remaining() > 0.
func (b *Buffer) HasRemaining() bool { return b.pos < b.limit }

// Clear resets position to 0 and limit to capacity (prepare for writing).
func (b *Buffer) Clear() {
	b.pos = 0
	b.limit = len(b.data)
}

// Flip swaps from write-mode to read-mode: limit becomes the current
// position (how much was written) and position resets to zero.
func (b *Buffer) Flip() {
	b.limit = b.pos
	b.pos = 0
}

// Compact discards [0,pos) and shifts [pos,limit) to the front, leaving
// position at the shifted end and limit at capacity (ready for more writes
// while preserving unread/unconsumed bytes).
func (b *Buffer) Compact() {
	n := copy(b.data, b.data[b.pos:b.limit])
	b.pos = n
	b.limit = len(b.data)
}

// Bytes returns the unread/unwritten window [position, limit) without
// copying. Callers must not retain the slice past the buffer's lifetime.
func (b *Buffer) Bytes() []byte { return b.data[b.pos:b.limit] }

// Backing returns the full backing array, ignoring cursors. Used by
// allocators reclaiming the buffer and by zeroing routines.
func (b *Buffer) Backing() []byte { return b.data }

// ReadFrom reads from r into the buffer's remaining window, advancing
// position by the number of bytes read. Behaves like io.ReaderFrom except
// it never grows the buffer.
func (b *Buffer) ReadFrom(r io.Reader) (int, error) {
	if !b.HasRemaining() {
		return 0, nil
	}
	n, err := r.Read(b.data[b.pos:b.limit])
	b.pos += n
	return n, err
}

// Put copies src into the buffer's remaining window (bounded by whichever
// is smaller) and advances position. Returns the number of bytes copied.
func (b *Buffer) Put(src []byte) int {
	n := copy(b.data[b.pos:b.limit], src)
	b.pos += n
	return n
}

// WriteTo writes the buffer's remaining window to w, advancing position by
// the number of bytes written.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.data[b.pos:b.limit])
	b.pos += n
	return int64(n), err
}

// Zero overwrites the full backing array with zeros. Used to scrub
// plaintext before a buffer is freed or resized away, per the TLS channel's
// "no residual plaintext" invariant.
func (b *Buffer) Zero() {
	for i := range b.data {
		b.data[i] = 0
	}
}

// ZeroRemaining overwrites only [position, limit) with zeros.
func (b *Buffer) ZeroRemaining() {
	for i := b.pos; i < b.limit; i++ {
		b.data[i] = 0
	}
}

// Retain increments the reference count and returns the buffer for chaining.
func (b *Buffer) Retain() *Buffer {
	b.refs.Add(1)
	return b
}

// Release decrements the reference count. When it reaches zero the backing
// array is returned to the owning allocator (if poolable) exactly once.
// Calling Release more times than Retain (including the initial implicit
// retain from allocation) is a programmer error and panics, mirroring the
// spec's "retain count of every buffer is exactly zero after close" — never
// negative.
func (b *Buffer) Release() {
	n := b.refs.Add(-1)
	if n < 0 {
		panic("xbuf: released a buffer more times than it was retained")
	}
	if n == 0 {
		if p, ok := b.alloc.(pooler); ok {
			p.put(b.data)
		}
	}
}

// RefCount reports the current retain count, for tests and leak assertions.
func (b *Buffer) RefCount() int32 { return b.refs.Load() }
