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

// Package stream declares the boundary API both the gRPC stream adapter and
// the TLS channel implement (spec.md §6): allocate a buffer, open, write
// exactly one framed message, read exactly N bytes, close, and report
// state. Async variants are deliberately not part of this interface; the
// source marks them unimplemented, and context.Context cancellation is the
// idiomatic Go substitute for a callback-based async read/write.
package stream

import (
	"context"
	"net"
	"time"

	"go.mongodb.org/mongo-stream-core/internal/xbuf"
)

// Stream is the capability both adapters expose to the driver.
type Stream interface {
	// GetBuffer returns a fresh retained buffer of at least size bytes.
	GetBuffer(size int) (*xbuf.Buffer, error)

	// Open starts the stream. It fails only if the stream is already closed.
	Open(ctx context.Context) error

	// Write blocks until the transport has consumed buffers as a single
	// wire-protocol message, or a failure is surfaced. buffers must contain
	// exactly one wire-protocol message; Write retains them until they are
	// fully consumed or the write fails.
	Write(ctx context.Context, buffers xbuf.List) error

	// Read blocks until exactly n bytes have been copied into a freshly
	// allocated exact-size buffer, or the deadline elapses. additional is an
	// extra timeout layered on top of the stream's configured read timeout;
	// pass 0 for none.
	Read(ctx context.Context, n int, additional time.Duration) (*xbuf.Buffer, error)

	// SupportsAdditionalTimeout reports whether Read's additional parameter
	// is honoured by this implementation.
	SupportsAdditionalTimeout() bool

	// Address returns the remote peer address, if known.
	Address() net.Addr

	// Close is idempotent; it cancels in-flight operations and unblocks any
	// pending Read/Write with a closed-stream error.
	Close() error

	// IsClosed reports the close flag.
	IsClosed() bool
}
