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

// Holder is a lazily-allocated, growable buffer wrapper used by the TLS
// channel for its in-ciphertext, in-plaintext and out-ciphertext slots.
// It is not itself goroutine-safe; the TLS channel's own locks (init, read,
// write) serialize access to a Holder, per spec.md's lock-ordering model.
type Holder struct {
	name                 string
	alloc                Allocator
	capacity             int
	lastSize             int
	maxSize              int
	buf                  *Buffer
	opportunisticDispose bool
}

// NewHolder returns an uninitialised holder. capacity is the initial
// allocation size used by Prepare; maxSize bounds Enlarge.
func NewHolder(name string, alloc Allocator, capacity, maxSize int, opportunisticDispose bool) *Holder {
	return &Holder{
		name:                 name,
		alloc:                alloc,
		capacity:             capacity,
		lastSize:             capacity,
		maxSize:              maxSize,
		opportunisticDispose: opportunisticDispose,
	}
}

// Live reports whether the holder currently has backing storage.
func (h *Holder) Live() bool { return h.buf != nil }

// Prepare allocates backing storage if none exists yet, then returns it. A
// fresh allocation is positioned for writing; an existing buffer is returned
// with its cursor and contents untouched.
func (h *Holder) Prepare() (*Buffer, error) {
	if h.buf == nil {
		b, err := h.alloc.Get(h.lastSize)
		if err != nil {
			return nil, err
		}
		h.buf = b
	}
	return h.buf, nil
}

// Buffer returns the current backing buffer, or nil if uninitialised.
func (h *Holder) Buffer() *Buffer { return h.buf }

// Enlarge doubles the holder's backing size up to maxSize, preserving the
// bytes written so far ([0, position) of the write-mode buffer) and zeroing
// the old backing after the copy. Returns false without error if already at
// maxSize (caller should treat this as a hard overflow).
func (h *Holder) Enlarge() (bool, error) {
	if h.lastSize >= h.maxSize {
		return false, nil
	}
	next := h.lastSize * 2
	if next > h.maxSize {
		next = h.maxSize
	}
	if err := h.resizeTo(next); err != nil {
		return false, err
	}
	return true, nil
}

// Resize sets an explicit backing size, preserving the bytes written so far.
func (h *Holder) Resize(size int) error {
	return h.resizeTo(size)
}

func (h *Holder) resizeTo(size int) error {
	old := h.buf
	next, err := h.alloc.Get(size)
	if err != nil {
		return err
	}
	h.lastSize = size
	if old != nil {
		// Preserve whatever was written, then scrub the old backing before
		// it is released: any bytes it held may have been plaintext.
		old.Flip()
		next.Put(old.Bytes())
		old.Zero()
		old.Release()
	}
	h.buf = next
	return nil
}

// Zero wipes the full backing array of the current buffer, if any.
func (h *Holder) Zero() {
	if h.buf != nil {
		h.buf.Zero()
	}
}

// ZeroRemaining wipes only the unread/unwritten window.
func (h *Holder) ZeroRemaining() {
	if h.buf != nil {
		h.buf.ZeroRemaining()
	}
}

// Release frees the backing buffer only if this holder is opportunistic
// and the buffer is fully drained (position == 0 after a Flip/Compact,
// i.e. nothing pending). No-op otherwise.
func (h *Holder) Release() {
	if h.buf == nil || !h.opportunisticDispose {
		return
	}
	if h.buf.Position() == 0 {
		h.buf.Zero()
		h.buf.Release()
		h.buf = nil
	}
}

// Dispose unconditionally frees the backing buffer, zeroing it first.
func (h *Holder) Dispose() {
	if h.buf == nil {
		return
	}
	h.buf.Zero()
	h.buf.Release()
	h.buf = nil
}
