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

// Package cryptotlsengine adapts a real crypto/tls connection to the
// tlschannel.Engine wrap/unwrap contract. The standard library has no
// SSLEngine-equivalent API decoupled from net.Conn, so this bridges a
// *tls.Conn running over one end of an in-process net.Pipe to the other
// end, which this engine drives directly with ciphertext handed to it by
// the channel. All TLS record-layer and cryptographic correctness is
// delegated entirely to crypto/tls; this file only shuttles bytes.
package cryptotlsengine

import (
	"crypto/tls"
	"io"
	"net"
	"time"

	"go.mongodb.org/mongo-stream-core/internal/xbuf"
	"go.mongodb.org/mongo-stream-core/streamerr"
	"go.mongodb.org/mongo-stream-core/tlschannel"
)

// grantWindow bounds how long Wrap/Unwrap wait for the background pump to
// surface bytes that a pipe handoff has already logically produced. It is a
// pragmatic concession to crypto/tls exposing no incremental, SSLEngine-like
// partial-record state: a real implementer should replace this with direct
// access to the engine's internal buffers in a fork, or accept the bound as
// this module's documented unwrap latency ceiling.
const grantWindow = 50 * time.Millisecond

// Engine drives one *tls.Conn over an internal net.Pipe, translating its
// blocking Read/Write calls into Wrap/Unwrap outcomes.
type Engine struct {
	conn    *tls.Conn
	appSide net.Conn

	handshakeDone chan struct{}
	handshakeErr  error

	cipherOut chan []byte // ciphertext read from appSide, awaiting Wrap
	plainIn   chan []byte // plaintext decrypted by conn.Read, awaiting Unwrap

	pumpErr chan error

	started bool
}

// NewClient constructs an Engine that performs the client side of the
// handshake using cfg.
func NewClient(cfg *tls.Config) *Engine { return newEngine(cfg, true) }

// NewServer constructs an Engine that performs the server side of the
// handshake using cfg.
func NewServer(cfg *tls.Config) *Engine { return newEngine(cfg, false) }

func newEngine(cfg *tls.Config, isClient bool) *Engine {
	tlsSide, appSide := net.Pipe()
	var conn *tls.Conn
	if isClient {
		conn = tls.Client(tlsSide, cfg)
	} else {
		conn = tls.Server(tlsSide, cfg)
	}
	return &Engine{
		conn:          conn,
		appSide:       appSide,
		handshakeDone: make(chan struct{}),
		cipherOut:     make(chan []byte, 64),
		plainIn:       make(chan []byte, 64),
		pumpErr:       make(chan error, 2),
	}
}

// BeginHandshake starts the handshake and the background pumps that keep
// the internal pipe flowing for the lifetime of the engine.
func (e *Engine) BeginHandshake() error {
	if e.started {
		return nil
	}
	e.started = true

	go e.cipherOutPump()
	go e.connDriver()
	return nil
}

// cipherOutPump continuously drains ciphertext produced by conn's writes
// (handshake flights and application records alike) from appSide.
func (e *Engine) cipherOutPump() {
	buf := make([]byte, 16*1024)
	for {
		n, err := e.appSide.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.cipherOut <- chunk
		}
		if err != nil {
			return
		}
	}
}

// connDriver runs the handshake once, then continuously pulls decrypted
// application data out of conn.Read.
func (e *Engine) connDriver() {
	err := e.conn.Handshake()
	e.handshakeErr = err
	close(e.handshakeDone)
	if err != nil {
		return
	}

	buf := make([]byte, 16*1024)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.plainIn <- chunk
		}
		if err != nil {
			e.pumpErr <- err
			return
		}
	}
}

func (e *Engine) handshakeFinished() bool {
	select {
	case <-e.handshakeDone:
		return true
	default:
		return false
	}
}

// GetHandshakeStatus reports NOT_HANDSHAKING before BeginHandshake and once
// the background handshake goroutine has completed; otherwise NEED_WRAP
// while ciphertext is queued and must be flushed, and NEED_UNWRAP (more
// ciphertext needed from the peer) when nothing is queued.
func (e *Engine) GetHandshakeStatus() tlschannel.HandshakeStatus {
	if !e.started {
		return tlschannel.NotHandshaking
	}
	if e.handshakeFinished() {
		return tlschannel.NotHandshaking
	}
	// len only inspects the queue, so queued chunks keep their order.
	if len(e.cipherOut) > 0 {
		return tlschannel.NeedWrap
	}
	return tlschannel.NeedUnwrap
}

// GetDelegatedTask always returns nil: this engine runs crypto/tls's own
// goroutines rather than surfacing delegated tasks to the caller.
func (e *Engine) GetDelegatedTask() func() error { return nil }

// CloseOutbound signals end-of-application-data; conn.CloseWrite writes the
// close_notify alert, which the cipherOutPump surfaces like any other
// ciphertext.
func (e *Engine) CloseOutbound() error {
	return e.conn.CloseWrite()
}

// GetSession returns the negotiated connection state once available.
func (e *Engine) GetSession() tlschannel.Session {
	return session{e.conn.ConnectionState()}
}

// Protocol reports the negotiated TLS version string.
func (e *Engine) Protocol() string {
	return versionString(e.conn.ConnectionState().Version)
}

// Wrap encrypts plain (if non-empty) via conn.Write, then drains whatever
// ciphertext the pump has queued (handshake flight or application record)
// into outCipher.
func (e *Engine) Wrap(plain *xbuf.Set, outCipher *xbuf.Buffer) (tlschannel.Result, error) {
	var consumed int
	if plain != nil && plain.HasRemaining() {
		tmp := make([]byte, plain.Remaining())
		n := plain.CopyInto(xbuf.New("wrap-scratch", tmp))
		written, err := e.conn.Write(tmp[:n])
		if err != nil {
			return tlschannel.Result{}, streamerr.Wrap(streamerr.TlsProtocol, "tls wrap", err)
		}
		consumed = written
	}

	produced := e.drainCipherInto(outCipher)
	status := tlschannel.StatusOK
	if produced == 0 && outCipher.Remaining() == 0 {
		status = tlschannel.StatusBufferOverflow
	}
	return tlschannel.Result{
		Status:        status,
		Handshake:     e.GetHandshakeStatus(),
		BytesConsumed: consumed,
		BytesProduced: produced,
	}, nil
}

func (e *Engine) drainCipherInto(dst *xbuf.Buffer) int {
	total := 0
	for dst.HasRemaining() {
		select {
		case chunk := <-e.cipherOut:
			n := dst.Put(chunk)
			total += n
			if n < len(chunk) {
				// dst was smaller than the chunk; requeue the remainder.
				e.cipherOut <- chunk[n:]
				return total
			}
		default:
			return total
		}
	}
	return total
}

// Unwrap feeds inCipher's remaining ciphertext into the pipe so the
// background handshake/read driver can consume it, then harvests whatever
// plaintext (or handshake progress) results within grantWindow.
func (e *Engine) Unwrap(inCipher *xbuf.Buffer, plain *xbuf.Set) (tlschannel.Result, error) {
	consumed := 0
	if inCipher.HasRemaining() {
		data := make([]byte, inCipher.Remaining())
		copy(data, inCipher.Bytes())
		n, err := e.appSide.Write(data)
		consumed = n
		inCipher.SetPosition(inCipher.Position() + n)
		if err != nil && err != io.ErrClosedPipe {
			return tlschannel.Result{}, streamerr.Wrap(streamerr.TlsProtocol, "tls unwrap", err)
		}
	}

	if !e.handshakeFinished() {
		select {
		case <-e.handshakeDone:
		case <-time.After(grantWindow):
		}
		if e.handshakeFinished() && e.handshakeErr != nil {
			return tlschannel.Result{}, streamerr.Wrap(streamerr.TlsProtocol, "tls handshake failed", e.handshakeErr)
		}
		return tlschannel.Result{
			Status:        tlschannel.StatusOK,
			Handshake:     e.GetHandshakeStatus(),
			BytesConsumed: consumed,
			BytesProduced: 0,
		}, nil
	}

	produced := 0
	select {
	case chunk := <-e.plainIn:
		produced = plain.CopyFrom(xbuf.New("unwrap-scratch", chunk))
	case err := <-e.pumpErr:
		if err == io.EOF {
			return tlschannel.Result{Status: tlschannel.StatusClosed, Handshake: tlschannel.NotHandshaking, BytesConsumed: consumed}, nil
		}
		return tlschannel.Result{}, streamerr.Wrap(streamerr.TlsProtocol, "tls read", err)
	case <-time.After(grantWindow):
	}

	status := tlschannel.StatusOK
	if produced == 0 && consumed == 0 {
		status = tlschannel.StatusBufferUnderflow
	}
	return tlschannel.Result{
		Status:        status,
		Handshake:     tlschannel.NotHandshaking,
		BytesConsumed: consumed,
		BytesProduced: produced,
	}, nil
}

type session struct{ state tls.ConnectionState }

func (s session) Protocol() string { return versionString(s.state.Version) }

func versionString(v uint16) string {
	switch v {
	case tls.VersionTLS13:
		return "TLSv1.3"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS10:
		return "TLSv1.0"
	default:
		return "unknown"
	}
}
