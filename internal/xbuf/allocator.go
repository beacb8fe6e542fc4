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

package xbuf

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// PooledAllocator hands out buffers from a size-classed sync.Pool and
// accepts them back on release, keeping a live outstanding-buffer count so
// tests can assert "no leak, no double free" the way spec.md §8 requires.
type PooledAllocator struct {
	pools       sync.Map // map[int]*sync.Pool, keyed by size class
	outstanding atomic.Int64
}

// NewPooledAllocator returns a ready-to-use pooled allocator.
func NewPooledAllocator() *PooledAllocator {
	return &PooledAllocator{}
}

// Outstanding returns the number of buffers currently retained (not yet
// released back to zero). Used by tests to assert the allocator returns to
// its pre-call count once a stream or channel closes.
func (a *PooledAllocator) Outstanding() int64 { return a.outstanding.Load() }

func sizeClass(n int) int {
	c := 256
	for c < n {
		c <<= 1
	}
	return c
}

// Get returns a fresh retained buffer of at least size bytes.
func (a *PooledAllocator) Get(size int) (*Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("xbuf: negative allocation size %d", size)
	}
	class := sizeClass(size)
	poolAny, _ := a.pools.LoadOrStore(class, &sync.Pool{
		New: func() any { return make([]byte, class) },
	})
	pool := poolAny.(*sync.Pool)

	data := pool.Get().([]byte)
	if cap(data) < size {
		data = make([]byte, class)
	}
	data = data[:size]

	a.outstanding.Add(1)
	b := newFromAllocator("pooled", data, a)
	return b, nil
}

// put returns data to its size class pool and decrements the outstanding
// count. Invoked by Buffer.Release once the refcount hits zero.
func (a *PooledAllocator) put(data []byte) {
	a.outstanding.Add(-1)
	class := cap(data)
	poolAny, ok := a.pools.Load(class)
	if !ok {
		return
	}
	pool := poolAny.(*sync.Pool)
	pool.Put(data[:cap(data)]) //nolint:staticcheck // reuse full backing array
}

// SimpleAllocator allocates a fresh slice per call; no pooling, no reuse.
// Useful for tests that want to observe exactly one backing array per
// buffer; the TLS channel and the gRPC adapter default to PooledAllocator.
type SimpleAllocator struct{}

// Get implements Allocator.
func (SimpleAllocator) Get(size int) (*Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("xbuf: negative allocation size %d", size)
	}
	return New("simple", make([]byte, size)), nil
}
