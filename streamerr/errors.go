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

// Package streamerr defines the domain-level error taxonomy shared by the
// gRPC stream adapter and the TLS channel (spec.md §7).
package streamerr

import "fmt"

// Kind classifies a stream-adapter error independent of its transport.
type Kind int

const (
	// SocketWrite indicates a write-side transport failure.
	SocketWrite Kind = iota
	// SocketRead indicates a read-side transport failure.
	SocketRead
	// SocketReadTimeout indicates a read deadline elapsed.
	SocketReadTimeout
	// SocketClosed indicates an operation was issued on an already-closed stream.
	SocketClosed
	// Interrupted indicates a blocking wait was cancelled/interrupted.
	Interrupted
	// ClosedChannel indicates the TLS channel is invalid, shut down, or the
	// underlying channel closed.
	ClosedChannel
	// NeedsRead is the non-blocking control-flow signal: arrange a read and retry.
	NeedsRead
	// NeedsWrite is the non-blocking control-flow signal: arrange a write and retry.
	NeedsWrite
	// NeedsTask is the non-blocking control-flow signal: run a delegated task and retry.
	NeedsTask
	// TlsCallback indicates a session-init callback threw.
	TlsCallback
	// TlsProtocol indicates a handshake-phase or record-parsing violation.
	TlsProtocol
)

func (k Kind) String() string {
	switch k {
	case SocketWrite:
		return "SocketWrite"
	case SocketRead:
		return "SocketRead"
	case SocketReadTimeout:
		return "SocketReadTimeout"
	case SocketClosed:
		return "SocketClosed"
	case Interrupted:
		return "Interrupted"
	case ClosedChannel:
		return "ClosedChannel"
	case NeedsRead:
		return "NeedsRead"
	case NeedsWrite:
		return "NeedsWrite"
	case NeedsTask:
		return "NeedsTask"
	case TlsCallback:
		return "TlsCallback"
	case TlsProtocol:
		return "TlsProtocol"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type raised by both packages. It always
// carries a Kind so callers can branch with errors.As plus a Kind switch.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, streamerr.New(streamerr.SocketClosed, "")) works as a kind
// test without comparing messages.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// IsKind reports whether err is a *streamerr.Error of the given kind.
func IsKind(err error, kind Kind) bool {
	se, ok := err.(*Error)
	return ok && se.Kind == kind
}
