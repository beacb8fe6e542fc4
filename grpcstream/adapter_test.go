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

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.mongodb.org/mongo-stream-core/internal/xbuf"
)

// fakeClientStream is a hand-rolled grpc.ClientStream double; it only
// implements what the adapter calls (SendMsg/RecvMsg/Context).
type fakeClientStream struct {
	grpc.ClientStream
	ctx context.Context

	sendErr  error
	sent     [][]byte
	recvSeq  [][]byte
	recvErr  error
	recvIdx  int
	sendHook func([]byte)
}

func (f *fakeClientStream) Context() context.Context { return f.ctx }

func (f *fakeClientStream) SendMsg(m any) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	pw := m.(*pendingWrite)
	bufs, err := pw.detach()
	if err != nil {
		return err
	}
	data, _ := io.ReadAll(xbuf.NewListReader(bufs))
	bufs.Release()
	f.sent = append(f.sent, data)
	if f.sendHook != nil {
		f.sendHook(data)
	}
	return nil
}

func (f *fakeClientStream) RecvMsg(m any) error {
	if f.recvIdx >= len(f.recvSeq) {
		if f.recvErr != nil {
			return f.recvErr
		}
		// An idle server: block until the call is cancelled, as grpc-go does.
		<-f.ctx.Done()
		return status.Error(codes.Canceled, f.ctx.Err().Error())
	}
	data := f.recvSeq[f.recvIdx]
	f.recvIdx++
	frame := m.(*rawFrame)
	frame.data = data
	frame.pos = 0
	return nil
}

// fakeConn records NewStream calls and returns a pre-built fakeClientStream.
type fakeConn struct {
	stream *fakeClientStream
}

func (c *fakeConn) NewStream(ctx context.Context, _ *grpc.StreamDesc, _ string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
	c.stream.ctx = ctx
	return c.stream, nil
}

func newTestAdapter(t *testing.T, stream *fakeClientStream) *Adapter {
	t.Helper()
	return New(Options{
		Conn:        &fakeConn{stream: stream},
		ClientID:    "test-client",
		ReadTimeout: 0,
		Clock:       clockwork.NewRealClock(),
	})
}

// Scenario 1: happy write+read (spec.md §8.1).
func TestAdapterHappyWriteRead(t *testing.T) {
	payload := make([]byte, 48)
	for i := range payload {
		payload[i] = byte(i)
	}
	stream := &fakeClientStream{recvSeq: [][]byte{payload}}
	alloc := xbuf.NewPooledAllocator()
	a := New(Options{
		Conn:      &fakeConn{stream: stream},
		ClientID:  "test-client",
		Allocator: alloc,
		Clock:     clockwork.NewRealClock(),
	})

	ctx := context.Background()
	if err := a.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	before := alloc.Outstanding()
	buf, err := a.GetBuffer(48)
	if err != nil {
		t.Fatalf("GetBuffer: %v", err)
	}
	buf.Put(payload)
	buf.Flip()

	// Write takes ownership of buf (stream.Stream's contract): once it
	// returns, the allocator must have the reference back — spec.md §8's
	// "retain count of every buffer is exactly zero after the stream is
	// closed" invariant, checked below after Read releases its own buffer.
	if err := a.Write(ctx, xbuf.List{buf}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if alloc.Outstanding() != before {
		t.Fatalf("buffer leaked on write: outstanding went from %d to %d", before, alloc.Outstanding())
	}

	got, err := a.Read(ctx, 48, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.Remaining() != 48 {
		t.Fatalf("expected 48 bytes, got %d", got.Remaining())
	}
	if string(got.Bytes()) != string(payload) {
		t.Fatalf("payload mismatch")
	}
	if a.IsClosed() {
		t.Fatalf("adapter should not be closed")
	}
	got.Release()
	_ = a.Close()

	if alloc.Outstanding() != before {
		t.Fatalf("buffer leaked overall: outstanding went from %d to %d", before, alloc.Outstanding())
	}
}

// Scenario 2: listener-initiated failure (spec.md §8.2).
func TestAdapterListenerInitiatedFailure(t *testing.T) {
	stream := &fakeClientStream{recvErr: status.Error(codes.Internal, "boom")}
	a := newTestAdapter(t, stream)

	ctx := context.Background()
	if err := a.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// recvPump immediately observes the Internal status since recvSeq is
	// empty; give it a moment to run before a subsequent read.
	time.Sleep(20 * time.Millisecond)

	if _, err := a.Read(ctx, 1, 0); err == nil {
		t.Fatalf("expected closed error after listener failure")
	}
	if !a.IsClosed() {
		t.Fatalf("adapter should be closed after listener failure")
	}
}

// Scenario 3: read timeout (spec.md §8.3).
func TestAdapterReadTimeout(t *testing.T) {
	stream := &fakeClientStream{}
	alloc := xbuf.NewPooledAllocator()
	a := New(Options{
		Conn:        &fakeConn{stream: stream},
		ReadTimeout: 50 * time.Millisecond,
		Allocator:   alloc,
		Clock:       clockwork.NewRealClock(),
	})

	ctx := context.Background()
	if err := a.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	before := alloc.Outstanding()
	start := time.Now()
	_, err := a.Read(ctx, 4, 0)
	elapsed := time.Since(start)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if elapsed < 50*time.Millisecond {
		t.Fatalf("read returned before the configured timeout: %v", elapsed)
	}
	if alloc.Outstanding() != before {
		t.Fatalf("buffer leaked: outstanding went from %d to %d", before, alloc.Outstanding())
	}
	_ = a.Close()
}

func TestAdapterCloseIsIdempotent(t *testing.T) {
	stream := &fakeClientStream{}
	a := newTestAdapter(t, stream)
	ctx := context.Background()
	if err := a.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestAdapterSecondConcurrentWritePanics(t *testing.T) {
	stream := &fakeClientStream{}
	stream.sendHook = func([]byte) { time.Sleep(20 * time.Millisecond) }
	a := newTestAdapter(t, stream)
	ctx := context.Background()
	if err := a.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	b1, _ := a.GetBuffer(1)
	b1.Put([]byte{1})
	b1.Flip()
	b2, _ := a.GetBuffer(1)
	b2.Put([]byte{2})
	b2.Flip()

	done := make(chan struct{})
	go func() {
		_ = a.Write(ctx, xbuf.List{b1})
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected a panic issuing a second concurrent write")
		}
		<-done
	}()
	_ = a.Write(ctx, xbuf.List{b2})
}
