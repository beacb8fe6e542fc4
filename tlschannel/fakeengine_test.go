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

import "go.mongodb.org/mongo-stream-core/internal/xbuf"

// fakeEngine is a minimal Engine whose "encryption" is the identity
// transform over application bytes, with two single-byte markers standing
// in for a handshake flight and a close_notify record. It exists to drive
// Channel's locking and buffer bookkeeping without depending on a real
// crypto/tls round trip.
const (
	fakeHandshakeMarker byte = 0x01
	fakeCloseMarker     byte = 0x02
)

type fakeEngine struct {
	isClient bool

	sentHandshake bool
	recvHandshake bool
	closeRequested bool
	closeSent      bool
	closeRecv      bool
}

// newFakeEngine builds an engine that still needs one handshake flight each
// way. skipHandshake builds one that already considers the handshake done,
// useful for tests that only want to exercise the post-handshake read/write
// path.
func newFakeEngine(isClient, skipHandshake bool) *fakeEngine {
	e := &fakeEngine{isClient: isClient}
	if skipHandshake {
		e.sentHandshake = true
		e.recvHandshake = true
	}
	return e
}

func (e *fakeEngine) handshaking() bool { return !(e.sentHandshake && e.recvHandshake) }

func (e *fakeEngine) BeginHandshake() error { return nil }

func (e *fakeEngine) GetHandshakeStatus() HandshakeStatus {
	if !e.handshaking() {
		return NotHandshaking
	}
	if e.isClient {
		if !e.sentHandshake {
			return NeedWrap
		}
		return NeedUnwrap
	}
	if !e.recvHandshake {
		return NeedUnwrap
	}
	return NeedWrap
}

func (e *fakeEngine) GetDelegatedTask() func() error { return nil }

func (e *fakeEngine) GetSession() Session { return fakeSession{} }

func (e *fakeEngine) Protocol() string { return "TLSv1.3-fake" }

func (e *fakeEngine) CloseOutbound() error {
	e.closeRequested = true
	return nil
}

func (e *fakeEngine) Wrap(plain *xbuf.Set, outCipher *xbuf.Buffer) (Result, error) {
	if e.handshaking() {
		if e.GetHandshakeStatus() != NeedWrap {
			return Result{Status: StatusOK, Handshake: e.GetHandshakeStatus()}, nil
		}
		if outCipher.Remaining() == 0 {
			return Result{Status: StatusBufferOverflow, Handshake: e.GetHandshakeStatus()}, nil
		}
		outCipher.Put([]byte{fakeHandshakeMarker})
		e.sentHandshake = true
		return Result{Status: StatusOK, Handshake: e.GetHandshakeStatus(), BytesProduced: 1}, nil
	}

	if e.closeRequested && !e.closeSent {
		if outCipher.Remaining() == 0 {
			return Result{Status: StatusBufferOverflow, Handshake: NotHandshaking}, nil
		}
		outCipher.Put([]byte{fakeCloseMarker})
		e.closeSent = true
		return Result{Status: StatusOK, Handshake: NotHandshaking, BytesProduced: 1}, nil
	}

	if plain == nil || !plain.HasRemaining() {
		return Result{Status: StatusOK, Handshake: NotHandshaking}, nil
	}
	n := plain.CopyInto(outCipher)
	if n == 0 {
		return Result{Status: StatusBufferOverflow, Handshake: NotHandshaking}, nil
	}
	return Result{Status: StatusOK, Handshake: NotHandshaking, BytesConsumed: n, BytesProduced: n}, nil
}

func (e *fakeEngine) Unwrap(inCipher *xbuf.Buffer, plain *xbuf.Set) (Result, error) {
	if !inCipher.HasRemaining() {
		return Result{Status: StatusBufferUnderflow, Handshake: e.GetHandshakeStatus()}, nil
	}

	marker := inCipher.Bytes()[0]
	switch marker {
	case fakeHandshakeMarker:
		inCipher.SetPosition(inCipher.Position() + 1)
		e.recvHandshake = true
		return Result{Status: StatusOK, Handshake: e.GetHandshakeStatus(), BytesConsumed: 1}, nil
	case fakeCloseMarker:
		inCipher.SetPosition(inCipher.Position() + 1)
		e.closeRecv = true
		return Result{Status: StatusClosed, Handshake: NotHandshaking, BytesConsumed: 1}, nil
	default:
		n := plain.CopyFrom(inCipher)
		if n == 0 {
			return Result{Status: StatusBufferOverflow, Handshake: NotHandshaking}, nil
		}
		return Result{Status: StatusOK, Handshake: NotHandshaking, BytesConsumed: n, BytesProduced: n}, nil
	}
}

type fakeSession struct{}

func (fakeSession) Protocol() string { return "TLSv1.3-fake" }
