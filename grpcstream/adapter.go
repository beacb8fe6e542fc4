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

// Package grpcstream adapts a bidirectional gRPC stream to the stream.Stream
// boundary (spec.md §4.1). It is the client-side counterpart of the
// session/tunnel plumbing in the router this module started from: the same
// zero-copy codec, the same CAS-guarded idempotent close, the same
// errgroup-fed receive pump, redirected at a single outbound call instead of
// a fan of inbound tunnels.
package grpcstream

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"go.mongodb.org/mongo-stream-core/internal/xbuf"
	"go.mongodb.org/mongo-stream-core/internal/xtime"
	"go.mongodb.org/mongo-stream-core/metrics"
	"go.mongodb.org/mongo-stream-core/streamerr"
)

// Metadata header names the server uses to identify and version the client,
// mirroring the router's tunnel metadata keys.
const (
	headerClientID       = "mongodb-clientId"
	headerClientMetadata = "mongodb-client"
	headerWireVersion    = "mongodb-wireVersion"

	// WireVersion is the adapter's wire protocol version, sent on every
	// stream open. The source layer negotiates its own application-level
	// wire version independently; this is the transport framing version.
	WireVersion = "18"

	serviceName  = "mongodb.CommandService"
	methodStream = "/" + serviceName + "/UnauthenticatedCommandStream"
)

// streamClient is the minimal subset of grpc.ClientConnInterface the
// adapter needs, narrowed so tests can fake it without a real channel.
type streamClient interface {
	NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error)
}

// Options configures an Adapter.
type Options struct {
	// Conn is the shared gRPC channel the stream is opened on. Callers
	// typically obtain this from a ChannelCache.
	Conn streamClient

	// Address is reported by Stream.Address; it does not affect dialing.
	Address net.Addr

	// ClientID and ClientMetadata are sent as request headers.
	ClientID       string
	ClientMetadata string

	// Allocator supplies buffers for GetBuffer and for received frames.
	// Defaults to xbuf.NewPooledAllocator() when nil.
	Allocator xbuf.Allocator

	// ReadTimeout is the per-socket read timeout combined with a caller's
	// additional timeout per spec.md's deadline rule. Zero means infinite.
	ReadTimeout time.Duration

	// Clock backs the read deadline; defaults to the real clock.
	Clock clockwork.Clock

	Logger *slog.Logger

	// Metrics, when set, receives open/close counts. Nil disables metrics.
	Metrics *metrics.Collectors
}

// Adapter implements stream.Stream over a single bidirectional gRPC call.
type Adapter struct {
	opts Options
	log  *slog.Logger

	alloc xbuf.Allocator

	closed atomic.Bool
	cancel context.CancelFunc

	call grpc.ClientStream

	writeState writeState
	readState  readState

	group *errgroup.Group
}

// New constructs an Adapter. Open must be called before Write or Read.
func New(opts Options) *Adapter {
	alloc := opts.Allocator
	if alloc == nil {
		alloc = xbuf.NewPooledAllocator()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{opts: opts, log: logger, alloc: alloc}
}

// GetBuffer implements stream.Stream.
func (a *Adapter) GetBuffer(size int) (*xbuf.Buffer, error) {
	return a.alloc.Get(size)
}

// Address implements stream.Stream.
func (a *Adapter) Address() net.Addr { return a.opts.Address }

// SupportsAdditionalTimeout implements stream.Stream.
func (a *Adapter) SupportsAdditionalTimeout() bool { return true }

// IsClosed implements stream.Stream.
func (a *Adapter) IsClosed() bool { return a.closed.Load() }

func (a *Adapter) closedErr() error {
	return streamerr.New(streamerr.SocketClosed, "grpc stream is closed")
}

// Open implements stream.Stream. It issues the single bidirectional call
// and starts the receive pump, grounded on the router's per-session
// errgroup.WithContext fan-out in server.go.
func (a *Adapter) Open(ctx context.Context) error {
	if a.closed.Load() {
		return a.closedErr()
	}

	ctx = metadata.AppendToOutgoingContext(ctx,
		headerClientID, a.opts.ClientID,
		headerClientMetadata, a.opts.ClientMetadata,
		headerWireVersion, WireVersion,
	)
	callCtx, cancel := context.WithCancel(ctx)

	call, err := a.opts.Conn.NewStream(callCtx, &grpc.StreamDesc{
		StreamName:    "UnauthenticatedCommandStream",
		ServerStreams: true,
		ClientStreams: true,
	}, methodStream, grpc.ForceCodec(newRawListCodec()))
	if err != nil {
		cancel()
		return streamerr.Wrap(streamerr.SocketWrite, "opening grpc stream", err)
	}

	a.cancel = cancel
	a.call = call

	group, gctx := errgroup.WithContext(callCtx)
	a.group = group
	group.Go(func() error {
		a.recvPump(gctx)
		return nil
	})

	if a.opts.Metrics != nil {
		a.opts.Metrics.OnStreamOpened()
	}
	return nil
}

// Write implements stream.Stream.
func (a *Adapter) Write(ctx context.Context, buffers xbuf.List) error {
	if a.closed.Load() {
		buffers.Release()
		return a.closedErr()
	}

	n := buffers.Remaining()
	pw := newPendingWrite(buffers)
	if !a.writeState.start(pw, a.closedErr) {
		return pw.wait(ctx)
	}

	go func() {
		err := a.call.SendMsg(pw)
		a.writeState.clear(pw)
		if err != nil {
			pw.completeErr(streamerr.Wrap(streamerr.SocketWrite, "sending stream message", err))
			return
		}
		pw.completeOK()
	}()

	err := pw.wait(ctx)
	if err == nil && a.opts.Metrics != nil {
		a.opts.Metrics.BytesOut.Add(float64(n))
	}
	return err
}

// Read implements stream.Stream.
func (a *Adapter) Read(ctx context.Context, n int, additional time.Duration) (*xbuf.Buffer, error) {
	if a.closed.Load() {
		return nil, a.closedErr()
	}

	dest, err := a.alloc.Get(n)
	if err != nil {
		return nil, err
	}
	dest.SetLimit(n)

	pr := newPendingRead(dest)
	a.readState.start(pr, a.closedErr)

	clock := a.opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timeout := xtime.Combine(clock, a.opts.ReadTimeout, additional)

	buf, waitErr := pr.wait(ctx, timeout)
	a.readState.clearIfCurrent(pr)
	if waitErr == nil && a.opts.Metrics != nil {
		a.opts.Metrics.BytesIn.Add(float64(n))
	}
	return buf, waitErr
}

// Close implements stream.Stream. Whichever of Close or a listener-observed
// transport failure wins the CAS executes the close tail exactly once,
// mirroring the router's close arbitration between a local Close and a
// peer-initiated teardown.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := a.closedErr()
	a.writeState.closeTail(err)
	a.readState.closeTail(err)
	if a.cancel != nil {
		a.cancel()
	}
	if a.group != nil {
		_ = a.group.Wait()
	}
	if a.opts.Metrics != nil {
		a.opts.Metrics.OnStreamClosed("local")
	}
	return nil
}

// onClose runs the close tail triggered by a transport failure observed by
// the receive pump, rather than by a local caller.
func (a *Adapter) onClose(cause error) {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	wrapped := streamerr.Wrap(streamerr.SocketClosed, "grpc stream closed by peer", cause)
	a.writeState.closeTail(wrapped)
	a.readState.closeTail(wrapped)
	if a.opts.Metrics != nil {
		a.opts.Metrics.OnStreamClosed("peer")
	}
}

// recvPump repeatedly receives frames from the call and feeds them to
// readState until the call ends, mirroring the router's per-tunnel receive
// loop in server.go.
func (a *Adapter) recvPump(ctx context.Context) {
	for {
		frame := &rawFrame{}
		err := a.call.RecvMsg(frame)
		if err != nil {
			if err == io.EOF {
				a.onClose(nil)
			} else if status.Code(err) == codes.Canceled {
				a.onClose(ctx.Err())
			} else {
				a.onClose(err)
			}
			return
		}
		a.onMessage(frame)
	}
}

// onMessage delivers one received frame to readState.
func (a *Adapter) onMessage(frame *rawFrame) {
	a.readState.enqueue(frame)
}

