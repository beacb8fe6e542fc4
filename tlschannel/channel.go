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

package tlschannel

import (
	"io"
	"sync"

	"github.com/jonboulle/clockwork"

	"go.mongodb.org/mongo-stream-core/internal/xbuf"
	"go.mongodb.org/mongo-stream-core/metrics"
	"go.mongodb.org/mongo-stream-core/streamerr"
)

// MaxTLSPacketSize bounds a single TLS record plus framing overhead.
const MaxTLSPacketSize = 17408

// initialBufferSize is the starting allocation for every holder; Enlarge
// doubles it up to MaxTLSPacketSize.
const initialBufferSize = 4096

// Transport is the lower plain readable/writable byte channel the TLS
// channel encrypts over.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Options configures a Channel.
type Options struct {
	Transport Transport
	Engine    Engine

	// PlaintextAllocator and CiphertextAllocator back the three buffer
	// holders. Both default to xbuf.NewPooledAllocator() when nil.
	PlaintextAllocator  xbuf.Allocator
	CiphertextAllocator xbuf.Allocator

	// OnSessionReady is invoked once, after the handshake completes, with
	// the negotiated session. A panic or error from it surfaces as
	// streamerr.TlsCallback.
	OnSessionReady func(Session) error

	// WaitForCloseConfirmation makes Close run a second shutdown pass to
	// drain the peer's close_notify when the first pass didn't observe it.
	WaitForCloseConfirmation bool

	// RunTasks executes delegated tasks returned by the engine. Defaults to
	// running them synchronously on the calling goroutine.
	RunTasks func(task func() error) error

	// Metrics, when set, receives handshake outcome/latency observations.
	Metrics *metrics.Collectors

	// Clock backs handshake latency measurement; defaults to the real clock.
	Clock clockwork.Clock
}

// Channel implements a synchronous encrypted read/write byte channel over a
// stateful Engine and a Transport, per the TLS engine driver in this
// module's design: three buffer holders, three locks taken only in the
// order init → read → write, and a shutdown dance conforming to TLS
// close_notify semantics.
type Channel struct {
	transport Transport
	engine    Engine

	inCipher  *xbuf.Holder
	inPlain   *xbuf.Holder
	outCipher *xbuf.Holder

	initMu  sync.Mutex
	readMu  sync.Mutex
	writeMu sync.Mutex

	handshakeStarted   bool
	handshakeCompleted bool
	invalid            bool
	shutdownSent       bool
	shutdownReceived   bool

	// suppliedInPlain and bytesToReturn are transient, valid only during a
	// single Read call; they let the unwrap sub-loop and the outer loop
	// communicate without extra allocations.
	suppliedInPlain *xbuf.Set
	bytesToReturn   int

	onSessionReady           func(Session) error
	waitForCloseConfirmation bool
	runTask                  func(func() error) error
	metrics                  *metrics.Collectors
	clock                    clockwork.Clock

	// dummyOut is a permanent empty buffer-set input for wrap calls that
	// must produce ciphertext (handshake, close_notify) without consuming
	// plaintext; some engines require a non-nil source even then.
	dummyOut *xbuf.Set
}

// New constructs a Channel. The handshake does not run until Handshake (or
// an implicit call from Read/Write) is invoked.
func New(opts Options) *Channel {
	plainAlloc := opts.PlaintextAllocator
	if plainAlloc == nil {
		plainAlloc = xbuf.NewPooledAllocator()
	}
	cipherAlloc := opts.CiphertextAllocator
	if cipherAlloc == nil {
		cipherAlloc = xbuf.NewPooledAllocator()
	}
	runTask := opts.RunTasks
	if runTask == nil {
		runTask = func(task func() error) error { return task() }
	}

	dummy, _ := xbuf.SimpleAllocator{}.Get(0)
	dummy.SetLimit(0)

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Channel{
		transport:                opts.Transport,
		engine:                   opts.Engine,
		inCipher:                 xbuf.NewHolder("in-ciphertext", cipherAlloc, initialBufferSize, MaxTLSPacketSize, false),
		inPlain:                  xbuf.NewHolder("in-plaintext", plainAlloc, initialBufferSize, MaxTLSPacketSize, true),
		outCipher:                xbuf.NewHolder("out-ciphertext", cipherAlloc, initialBufferSize, MaxTLSPacketSize, true),
		onSessionReady:           opts.OnSessionReady,
		waitForCloseConfirmation: opts.WaitForCloseConfirmation,
		runTask:                  runTask,
		dummyOut:                 xbuf.NewSet(dummy),
		metrics:                  opts.Metrics,
		clock:                    clock,
	}
}

// Engine returns the underlying TLS engine, for session inspection.
func (c *Channel) Engine() Engine { return c.engine }

func (c *Channel) closedErr() error {
	return streamerr.New(streamerr.ClosedChannel, "tls channel is invalid or shut down")
}

// checkOpen returns the closed error if the channel cannot perform I/O.
func (c *Channel) checkOpen() error {
	if c.invalid || c.shutdownSent {
		return c.closedErr()
	}
	return nil
}

func (c *Channel) fail(err error) error {
	c.invalid = true
	return err
}

// Read implements the read algorithm of §4.2: ensure handshake, then loop
// dispatching on the engine's handshake status until either plaintext is
// produced, EOF is observed, or an unsupported stage is hit.
func (c *Channel) Read(dst *xbuf.Set) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	// Handshake is driven before taking readMu: it may itself need both
	// locks (order read then write), and Channel never holds readMu here
	// yet, so Handshake acquiring init→read→write on its own is safe.
	if err := c.Handshake(); err != nil {
		return 0, err
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	c.suppliedInPlain = dst
	c.bytesToReturn = 0
	if c.inPlain.Live() {
		p := c.inPlain.Buffer()
		p.Flip()
		c.bytesToReturn = p.Remaining()
		p.Compact()
	}
	defer func() {
		c.suppliedInPlain = nil
		c.bytesToReturn = 0
	}()

	for {
		if c.bytesToReturn > 0 {
			return c.transferPendingPlaintext(dst)
		}
		if c.shutdownReceived {
			return -1, nil
		}

		switch status := c.engine.GetHandshakeStatus(); status {
		case NeedWrap, NeedUnwrap:
			n, err := c.writeAndHandshake()
			if err != nil {
				return 0, c.fail(err)
			}
			if n > 0 {
				return n, nil
			}
		case NotHandshaking, Finished:
			n, done, err := c.readAndUnwrap(dst)
			if err != nil {
				if err == io.EOF {
					return -1, nil
				}
				return 0, c.fail(err)
			}
			// done with n==0 means readAndUnwrap only observed a
			// state transition (shutdown received, or an incidental
			// handshake-finished signal) and produced no plaintext;
			// loop back to the top so the shutdownReceived check can
			// report -1 instead of a bogus zero-byte "read".
			if done && n > 0 {
				return n, nil
			}
		case NeedTask:
			if err := c.runDelegatedTask(); err != nil {
				return 0, c.fail(err)
			}
		default:
			return 0, c.fail(streamerr.New(streamerr.TlsProtocol, "unsupported handshake stage in read: "+status.String()))
		}
	}
}

// transferPendingPlaintext moves bytes already produced into in-plaintext
// (or directly observed in the caller's destination) out to the caller,
// per the "transfer of pending plaintext" rule in §4.2.
func (c *Channel) transferPendingPlaintext(dst *xbuf.Set) (int, error) {
	if !c.inPlain.Live() {
		// The engine wrote straight into the caller's buffers; nothing more
		// to copy here.
		n := c.bytesToReturn
		c.bytesToReturn = 0
		return n, nil
	}
	p := c.inPlain.Buffer()
	p.Flip()
	n := dst.CopyFrom(p)
	p.Compact()
	if p.Position() == 0 {
		c.inPlain.Release()
	} else {
		p.ZeroRemaining()
	}
	c.bytesToReturn = 0
	return n, nil
}

// readAndUnwrap reads more ciphertext if needed and runs the unwrap
// sub-loop, reporting whether the read call should return to its caller.
func (c *Channel) readAndUnwrap(dst *xbuf.Set) (int, bool, error) {
	in, err := c.inCipher.Prepare()
	if err != nil {
		return 0, false, err
	}
	// in is in write mode: [0, position) holds ciphertext left over from an
	// earlier pass, which is unwrapped before anything more is read. Only an
	// empty buffer is refilled from the transport here.
	if in.Position() == 0 {
		in.Clear()
		n, rerr := in.ReadFrom(c.transport)
		if n == 0 && rerr != nil {
			return 0, false, rerr
		}
		if n == 0 {
			return 0, false, streamerr.New(streamerr.NeedsRead, "no ciphertext available")
		}
	}
	in.Flip()

	intoInPlain := false
	for {
		result, uerr := c.engine.Unwrap(in, dst)
		if uerr != nil {
			return 0, false, uerr
		}
		in.Compact()

		switch result.Status {
		case StatusClosed:
			c.shutdownReceived = true
			return 0, true, nil
		case StatusBufferOverflow:
			if err := c.overflowIntoInPlain(dst); err != nil {
				return 0, false, err
			}
			dst = xbuf.NewSet(c.inPlain.Buffer())
			intoInPlain = true
			in.Flip()
			continue
		case StatusBufferUnderflow:
			// A partial record: grow the buffer if it is full, then read more
			// ciphertext behind the leftover bytes and unwrap again.
			if !in.HasRemaining() {
				if _, err := c.inCipher.Enlarge(); err != nil {
					return 0, false, err
				}
				in = c.inCipher.Buffer()
			}
			n, rerr := in.ReadFrom(c.transport)
			if n == 0 && rerr != nil {
				return 0, false, rerr
			}
			if n == 0 {
				return 0, false, streamerr.New(streamerr.NeedsRead, "no ciphertext available")
			}
			in.Flip()
			continue
		}

		if result.BytesProduced > 0 {
			if intoInPlain {
				// Plaintext landed in inPlain; Read copies it out on its next pass.
				c.bytesToReturn += result.BytesProduced
				return 0, false, nil
			}
			return result.BytesProduced, true, nil
		}
		switch result.Handshake {
		case NeedWrap, NeedTask:
			return 0, false, nil
		case Finished:
			return 0, true, nil
		case NeedUnwrapAgain:
			return 0, false, streamerr.New(streamerr.TlsProtocol, "unsupported handshake stage in unwrap: NEED_UNWRAP_AGAIN")
		default:
			return 0, false, nil
		}
	}
}

// overflowIntoInPlain prepares the internal in-plaintext buffer for an unwrap
// whose destination overflowed, enlarging it past the destination's remaining
// capacity first. readAndUnwrap then retries the unwrap into that buffer.
func (c *Channel) overflowIntoInPlain(dst *xbuf.Set) error {
	needed := dst.Remaining() + 1
	p, err := c.inPlain.Prepare()
	if err != nil {
		return err
	}
	for p.Cap() <= needed {
		grew, err := c.inPlain.Enlarge()
		if err != nil {
			return err
		}
		if !grew {
			break
		}
		p = c.inPlain.Buffer()
	}
	return nil
}

// runDelegatedTask runs (or surfaces) the engine's pending delegated task.
func (c *Channel) runDelegatedTask() error {
	task := c.engine.GetDelegatedTask()
	if task == nil {
		return nil
	}
	return c.runTask(task)
}

// Write implements the write algorithm of §4.2: flush pending ciphertext,
// then wrap source plaintext, looping until the source is exhausted.
func (c *Channel) Write(src *xbuf.Set) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if err := c.Handshake(); err != nil {
		return 0, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	total := 0
	for {
		if err := c.flushOutCipher(); err != nil {
			return total, c.fail(err)
		}
		if !src.HasRemaining() {
			return total, nil
		}

		out, err := c.outCipher.Prepare()
		if err != nil {
			return total, c.fail(err)
		}
		result, err := c.engine.Wrap(src, out)
		if err != nil {
			return total, c.fail(err)
		}
		switch result.Status {
		case StatusClosed:
			return total, nil
		case StatusBufferOverflow:
			if result.BytesConsumed != 0 {
				return total, c.fail(streamerr.New(streamerr.TlsProtocol, "engine reported bytesConsumed!=0 on overflow"))
			}
			if _, err := c.outCipher.Enlarge(); err != nil {
				return total, c.fail(err)
			}
		case StatusOK, StatusBufferUnderflow:
			total += result.BytesConsumed
		}
	}
}

// flushOutCipher drains any pending ciphertext in the out-ciphertext holder
// to the transport.
func (c *Channel) flushOutCipher() error {
	if !c.outCipher.Live() {
		return nil
	}
	out := c.outCipher.Buffer()
	out.Flip()
	for out.HasRemaining() {
		n, err := out.WriteTo(c.transport)
		if n == 0 && err != nil {
			return err
		}
		if n == 0 {
			return streamerr.New(streamerr.NeedsWrite, "transport made no progress flushing ciphertext")
		}
	}
	out.Clear()
	c.outCipher.Release()
	return nil
}
