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
	"strings"
	"time"

	"go.mongodb.org/mongo-stream-core/internal/xbuf"
	"go.mongodb.org/mongo-stream-core/streamerr"
)

// Handshake is idempotent once the handshake has completed, unless called
// via Renegotiate. It takes the locks in the canonical init→read→write
// order, since driving the handshake loop may need to flush ciphertext
// (write) and consume ciphertext (read) interchangeably.
func (c *Channel) Handshake() error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.handshakeCompleted {
		return nil
	}
	return c.runHandshake(false)
}

// Renegotiate forces a fresh handshake. Refused on TLS 1.3+, where
// renegotiation was removed from the protocol.
func (c *Channel) Renegotiate() error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if isTLS13OrLater(c.engine.Protocol()) {
		return streamerr.New(streamerr.TlsProtocol, "renegotiation refused on TLS 1.3+")
	}
	return c.runHandshake(true)
}

func isTLS13OrLater(protocol string) bool {
	switch {
	case strings.Contains(protocol, "1.3"):
		return true
	case strings.Contains(protocol, "1.2"), strings.Contains(protocol, "1.1"), strings.Contains(protocol, "1.0"):
		return false
	default:
		// Unknown/empty protocol (handshake not yet run): permissive, the
		// engine itself will reject an actual 1.3 renegotiation attempt.
		return false
	}
}

// runHandshake must be called with initMu held.
func (c *Channel) runHandshake(force bool) error {
	start := c.clock.Now()
	if !c.handshakeStarted || force {
		if err := c.engine.BeginHandshake(); err != nil {
			c.recordHandshake("error", start)
			return streamerr.Wrap(streamerr.TlsProtocol, "beginning tls handshake", err)
		}
		c.handshakeStarted = true
	}

	c.readMu.Lock()
	c.writeMu.Lock()
	n, err := c.writeAndHandshakeLoop()
	c.writeMu.Unlock()
	c.readMu.Unlock()
	if err != nil {
		c.recordHandshake("error", start)
		return c.fail(err)
	}
	_ = n

	c.handshakeCompleted = true
	if c.onSessionReady != nil {
		if cbErr := c.invokeSessionCallback(); cbErr != nil {
			c.recordHandshake("callback_error", start)
			return cbErr
		}
	}
	c.recordHandshake("ok", start)
	return nil
}

func (c *Channel) recordHandshake(outcome string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.OnHandshake(outcome, c.clock.Now().Sub(start).Seconds())
}

func (c *Channel) invokeSessionCallback() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = streamerr.New(streamerr.TlsCallback, "session-ready callback panicked")
		}
	}()
	if cbErr := c.onSessionReady(c.engine.GetSession()); cbErr != nil {
		return streamerr.Wrap(streamerr.TlsCallback, "session-ready callback failed", cbErr)
	}
	return nil
}

// writeAndHandshake is the entry point used by Read's dispatch loop, which
// already holds readMu; it takes writeMu itself (order read then write,
// consistent with runHandshake's direct init→read→write acquisition).
func (c *Channel) writeAndHandshake() (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeAndHandshakeLoop()
}

// writeAndHandshakeLoop must be called with both readMu and writeMu held.
// It prepares out-ciphertext, flushes it, drives the handshake dispatch
// loop to NOT_HANDSHAKING, and releases out-ciphertext. Returns bytes of
// plaintext produced by an incidental unwrap (so a caller mid-Read can
// consume it instead of re-reading the transport).
func (c *Channel) writeAndHandshakeLoop() (int, error) {
	if _, err := c.outCipher.Prepare(); err != nil {
		return 0, err
	}
	if err := c.flushOutCipher(); err != nil {
		return 0, err
	}

	for {
		switch status := c.engine.GetHandshakeStatus(); status {
		case NeedWrap:
			if c.outCipher.Live() && c.outCipher.Buffer().Position() != 0 {
				return 0, streamerr.New(streamerr.TlsProtocol, "out-ciphertext not empty before NEED_WRAP")
			}
			out, err := c.outCipher.Prepare()
			if err != nil {
				return 0, err
			}
			if _, err := c.engine.Wrap(c.dummyOut, out); err != nil {
				return 0, err
			}
			if err := c.flushOutCipher(); err != nil {
				return 0, err
			}
		case NeedUnwrap:
			dst := c.suppliedInPlain
			if dst == nil {
				dst = xbuf.NewSet()
			}
			n, done, err := c.readAndUnwrap(dst)
			if err != nil {
				return 0, err
			}
			if done && n > 0 {
				return n, nil
			}
		case NotHandshaking, Finished:
			return 0, nil
		case NeedTask:
			if err := c.runDelegatedTask(); err != nil {
				return 0, err
			}
		default:
			return 0, streamerr.New(streamerr.TlsProtocol, "unsupported handshake stage: "+status.String())
		}
	}
}
