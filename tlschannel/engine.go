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

// Package tlschannel drives a stateful TLS engine's handshake, encrypted-read
// and encrypted-write loops over a plain byte transport, the same way the
// router drove session tunnels over gRPC: dynamic buffer growth, locks taken
// in a fixed order, and exception-safe release on every path.
package tlschannel

import "go.mongodb.org/mongo-stream-core/internal/xbuf"

// Status is the outcome of a single Engine.Wrap/Unwrap call.
type Status int

const (
	StatusOK Status = iota
	StatusBufferOverflow
	StatusBufferUnderflow
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBufferOverflow:
		return "BUFFER_OVERFLOW"
	case StatusBufferUnderflow:
		return "BUFFER_UNDERFLOW"
	case StatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// HandshakeStatus is the engine's view of what the next TLS step requires.
type HandshakeStatus int

const (
	NotHandshaking HandshakeStatus = iota
	Finished
	NeedWrap
	NeedUnwrap
	NeedTask
	// NeedUnwrapAgain is a rare stage some engines report after a session
	// renegotiation message is consumed without producing plaintext. The
	// source treated this as terminal in reads and illegal in handshakes;
	// here it surfaces as a distinct streamerr.TlsProtocol error instead of
	// silently returning -1, per the redesign direction on this point.
	NeedUnwrapAgain
)

func (s HandshakeStatus) String() string {
	switch s {
	case NotHandshaking:
		return "NOT_HANDSHAKING"
	case Finished:
		return "FINISHED"
	case NeedWrap:
		return "NEED_WRAP"
	case NeedUnwrap:
		return "NEED_UNWRAP"
	case NeedTask:
		return "NEED_TASK"
	case NeedUnwrapAgain:
		return "NEED_UNWRAP_AGAIN"
	default:
		return "UNKNOWN"
	}
}

// Result is the tagged outcome of one Wrap or Unwrap call.
type Result struct {
	Status        Status
	Handshake     HandshakeStatus
	BytesConsumed int
	BytesProduced int
}

// Session exposes the negotiated TLS session for inspection after the
// handshake completes.
type Session interface {
	// Protocol reports the negotiated protocol version, e.g. "TLSv1.3".
	Protocol() string
}

// Engine is the stateful TLS engine collaborator the channel drives. It
// mirrors javax.net.ssl.SSLEngine's wrap/unwrap state machine, the
// decoupled-from-the-socket abstraction the Go standard library's
// crypto/tls does not expose directly; cryptotlsengine adapts a real
// *tls.Conn to this shape over an in-process pipe.
type Engine interface {
	// Wrap encrypts plain into outCipher, producing zero or more ciphertext
	// bytes. plain may be read-only (no remaining bytes) when the caller
	// only wants the engine to flush handshake or close_notify records.
	Wrap(plain *xbuf.Set, outCipher *xbuf.Buffer) (Result, error)

	// Unwrap decrypts inCipher into plain.
	Unwrap(inCipher *xbuf.Buffer, plain *xbuf.Set) (Result, error)

	// BeginHandshake starts (or restarts, for renegotiation) the handshake.
	BeginHandshake() error

	// CloseOutbound signals that no more plaintext will be wrapped; the next
	// Wrap call produces the close_notify record.
	CloseOutbound() error

	// GetHandshakeStatus reports what the engine needs next.
	GetHandshakeStatus() HandshakeStatus

	// GetDelegatedTask returns a task the caller must run before the engine
	// can make further progress, or nil if none is pending.
	GetDelegatedTask() func() error

	// GetSession returns the negotiated session, valid once the handshake
	// has finished.
	GetSession() Session

	// Protocol reports the negotiated or offered protocol version string,
	// used to refuse renegotiation on TLS 1.3+.
	Protocol() string
}
