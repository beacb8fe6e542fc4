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

package grpcstream

import "sync"

// writeState enforces at-most-one-outstanding write per stream (spec.md
// §5). Issuing a second write before the first completes is a programmer
// error and panics rather than returning a runtime error, per spec.md §8.
type writeState struct {
	mu      sync.Mutex
	closed  bool
	current *pendingWrite
}

// start registers pw as the outstanding write. It reports whether the
// caller should proceed to invoke the transport send; if the state is
// already closed it completes pw exceptionally itself and reports false.
func (ws *writeState) start(pw *pendingWrite, closedErr func() error) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.current != nil {
		panic("grpcstream: write issued while a previous write is still outstanding")
	}
	ws.current = pw
	if ws.closed {
		ws.current = nil
		pw.completeErr(closedErr())
		return false
	}
	return true
}

// clear removes pw as the outstanding write if it is still current.
func (ws *writeState) clear(pw *pendingWrite) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.current == pw {
		ws.current = nil
	}
}

// closeTail marks the state closed and completes any outstanding write
// exceptionally with err.
func (ws *writeState) closeTail(err error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.closed = true
	if ws.current != nil {
		cur := ws.current
		ws.current = nil
		cur.completeErr(err)
	}
}

// readState enforces at-most-one-outstanding read per stream and owns the
// FIFO queue of gRPC-delivered frames awaiting a reader (spec.md §3, §4.1).
type readState struct {
	mu      sync.Mutex
	closed  bool
	current *pendingRead
	queue   []*rawFrame
}

// start registers pr as the outstanding read and immediately tries to
// satisfy it from any already-queued frames.
func (rs *readState) start(pr *pendingRead, closedErr func() error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.current != nil {
		panic("grpcstream: read issued while a previous read is still outstanding")
	}
	rs.current = pr
	if rs.closed {
		rs.current = nil
		pr.completeErr(closedErr())
		return
	}
	rs.drainLocked(pr)
}

// enqueue appends a newly delivered frame and tries to satisfy the current
// pending read, if any.
func (rs *readState) enqueue(frame *rawFrame) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return
	}
	rs.queue = append(rs.queue, frame)
	if rs.current != nil {
		rs.drainLocked(rs.current)
	}
}

// drainLocked must be called with rs.mu held. It detaches pr's destination
// (excluding a concurrent completeErr from releasing it mid-copy, per
// spec.md §3 invariant (iv)), copies queued frame bytes into it until either
// it is full or the queue runs dry, then either hands it to finishOK (full)
// or reattaches it to pr for the next drain pass (partial).
func (rs *readState) drainLocked(pr *pendingRead) {
	dest := pr.detachDest()
	if dest == nil {
		// Already completed exceptionally (timeout/cancel) concurrently
		// with this frame's arrival; nothing left to fill.
		rs.current = nil
		return
	}

	for dest.HasRemaining() && len(rs.queue) > 0 {
		frame := rs.queue[0]
		n := dest.Put(frame.data[frame.pos:])
		frame.pos += n
		if frame.remaining() == 0 {
			rs.queue = rs.queue[1:]
		}
	}

	if !dest.HasRemaining() {
		rs.current = nil
		pr.finishOK(dest)
		return
	}
	pr.reattachDest(dest)
}

// clearIfCurrent removes pr as the outstanding read if it is still current
// (a timed-out or cancelled read may already have been cleared by
// closeTail or by satisfying completion).
func (rs *readState) clearIfCurrent(pr *pendingRead) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.current == pr {
		rs.current = nil
	}
}

// closeTail marks the state closed, drops any undelivered queued frames,
// and completes any outstanding read exceptionally with err.
func (rs *readState) closeTail(err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.closed = true
	rs.queue = nil
	if rs.current != nil {
		cur := rs.current
		rs.current = nil
		cur.completeErr(err)
	}
}
