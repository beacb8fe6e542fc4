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

// pendingWrite and pendingRead are the one-shot futures of spec.md §3,
// modeled after the one-shot drpcsignal.Signal pattern used by
// storj.io/drpc's Stream: a completion channel closed exactly once, with
// the result/error stashed before the close so every waiter observes a
// consistent view. pendingWrite's completion runs once under sync.Once,
// and its single one-way handoff (detach) is a mutex-guarded take of the
// buffer list; pendingRead's destination can be detached and re-attached
// repeatedly across drain passes, so its mutex guards the buffer and the
// finished decision together (see below).

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-stream-core/internal/xbuf"
	"go.mongodb.org/mongo-stream-core/internal/xtime"
	"go.mongodb.org/mongo-stream-core/streamerr"
)

// pendingWrite owns a retained buffer list until it is detached by the
// marshaller or the write completes exceptionally first.
type pendingWrite struct {
	once sync.Once
	done chan struct{}
	err  error

	mu   sync.Mutex
	bufs xbuf.List
}

// newPendingWrite adopts the caller's reference to bufs directly: Write's
// contract is that it takes ownership of the list (stream.Stream, §4.1), so
// the pending-write must not retain an extra count beyond what the caller
// already holds — detach/Release must bring the refcount back to exactly
// what it was before the call, per the §8 no-leak invariant.
func newPendingWrite(bufs xbuf.List) *pendingWrite {
	return &pendingWrite{bufs: bufs, done: make(chan struct{})}
}

// detach hands the buffer list to the marshaller exactly once. If the write
// already completed exceptionally, detach surfaces that failure instead,
// per spec.md §4.1.
func (pw *pendingWrite) detach() (xbuf.List, error) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.bufs == nil {
		select {
		case <-pw.done:
			return nil, pw.err
		default:
			return nil, fmt.Errorf("grpcstream: pending write detached twice")
		}
	}
	b := pw.bufs
	pw.bufs = nil
	return b, nil
}

func (pw *pendingWrite) completeOK() {
	pw.once.Do(func() {
		pw.mu.Lock()
		leftover := pw.bufs
		pw.bufs = nil
		pw.mu.Unlock()
		leftover.Release()
		close(pw.done)
	})
}

func (pw *pendingWrite) completeErr(err error) {
	pw.once.Do(func() {
		pw.mu.Lock()
		leftover := pw.bufs
		pw.bufs = nil
		pw.mu.Unlock()
		leftover.Release()
		pw.err = err
		close(pw.done)
	})
}

// wait blocks until the write completes or ctx is cancelled.
func (pw *pendingWrite) wait(ctx context.Context) error {
	select {
	case <-pw.done:
		return pw.err
	case <-ctx.Done():
		pw.completeErr(streamerr.Wrap(streamerr.Interrupted, "write interrupted", ctx.Err()))
		return pw.err
	}
}

// pendingRead owns an exact-size destination buffer until it is fully
// filled or the read completes exceptionally. Per spec.md §3 invariant (iv)
// and §4.1 ("the destination buffer is atomically detached from the
// pending-read so no other thread can release it concurrently"), a single
// mutex guards both the destination and the completed/not-completed
// decision together: the readState drain loop detaches the buffer before
// writing into it and either re-attaches it (partial progress) or hands it
// to finishOK (full), while completeErr claims whatever is currently
// attached in the same critical section it uses to mark the read finished.
// Folding "who gets the buffer" and "is this read already decided" into one
// lock closes the gap a split check-then-act (e.g. a separate atomic flag)
// would leave between claiming the outcome and claiming the buffer.
type pendingRead struct {
	done   chan struct{}
	result *xbuf.Buffer
	err    error

	mu       sync.Mutex
	dest     *xbuf.Buffer
	finished bool
}

func newPendingRead(dest *xbuf.Buffer) *pendingRead {
	return &pendingRead{dest: dest, done: make(chan struct{})}
}

// detachDest removes the destination for exclusive use by the readState
// drain loop. Returns nil if the read already finished (a concurrent
// completeErr got there first), in which case there is nothing left to fill.
func (pr *pendingRead) detachDest() *xbuf.Buffer {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.finished {
		return nil
	}
	d := pr.dest
	pr.dest = nil
	return d
}

// reattachDest returns a partially-filled destination after a drain pass
// that did not finish it. If the read finished exceptionally while the
// buffer was detached, it is released here instead of being reattached.
func (pr *pendingRead) reattachDest(d *xbuf.Buffer) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.finished {
		d.Release()
		return
	}
	pr.dest = d
}

// finishOK completes the read normally with a fully drained destination
// buffer already detached from pr via detachDest. If the read had already
// finished exceptionally in the meantime, filled is released here instead
// of being leaked.
func (pr *pendingRead) finishOK(filled *xbuf.Buffer) {
	pr.mu.Lock()
	if pr.finished {
		pr.mu.Unlock()
		filled.Release()
		return
	}
	pr.finished = true
	filled.Flip()
	pr.result = filled
	pr.mu.Unlock()
	close(pr.done)
}

func (pr *pendingRead) completeErr(err error) {
	pr.mu.Lock()
	if pr.finished {
		pr.mu.Unlock()
		return
	}
	pr.finished = true
	d := pr.dest
	pr.dest = nil
	pr.err = err
	pr.mu.Unlock()
	if d != nil {
		d.Release()
	}
	close(pr.done)
}

// wait blocks until the read completes, ctx is cancelled, or timeout
// expires, whichever comes first. When this call's own completeErr loses
// the race to a concurrent finishOK/completeErr (e.g. a frame satisfied the
// read just as the deadline fired), completeErr returns immediately without
// touching pr.result/pr.err — so wait blocks on <-pr.done afterwards rather
// than reading those fields directly, since only the channel close gives a
// happens-before guarantee against whichever goroutine actually won.
func (pr *pendingRead) wait(ctx context.Context, timeout xtime.Timeout) (*xbuf.Buffer, error) {
	var timerC <-chan time.Time
	if !timeout.IsInfinite() {
		timer := time.NewTimer(timeout.Remaining())
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case <-pr.done:
	case <-ctx.Done():
		pr.completeErr(streamerr.Wrap(streamerr.Interrupted, "read interrupted", ctx.Err()))
		<-pr.done
	case <-timerC:
		pr.completeErr(streamerr.New(streamerr.SocketReadTimeout, "read timed out"))
		<-pr.done
	}
	return pr.result, pr.err
}
