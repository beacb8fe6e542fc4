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

	"github.com/hashicorp/go-multierror"

	"go.mongodb.org/mongo-stream-core/internal/xbuf"
)

// Shutdown sends close_notify if not already sent and reports whether the
// peer's close_notify has already been observed. Idempotent: calling it
// again after a full close-confirmed exchange returns true without
// resending anything. A repeated call after the first unconfirmed pass is
// the caller's own signal that it wants to wait for the peer's
// close_notify (spec.md §4.2: "return false to let the caller decide
// whether to wait"), so it drives one more unwrap pass over the transport
// before reporting shutdownReceived.
func (c *Channel) Shutdown() (bool, error) {
	c.readMu.Lock()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	defer c.readMu.Unlock()
	return c.shutdownLocked()
}

// shutdownLocked must be called with both readMu and writeMu held.
func (c *Channel) shutdownLocked() (bool, error) {
	if !c.shutdownSent {
		c.shutdownSent = true
		if _, err := c.outCipher.Prepare(); err != nil {
			return false, err
		}
		if err := c.flushOutCipher(); err != nil {
			return false, err
		}
		if err := c.engine.CloseOutbound(); err != nil {
			return false, err
		}
		out, err := c.outCipher.Prepare()
		if err != nil {
			return false, err
		}
		if _, err := c.engine.Wrap(c.dummyOut, out); err != nil {
			return false, err
		}
		if err := c.flushOutCipher(); err != nil {
			return false, err
		}
		return c.shutdownReceived, nil
	}
	if !c.shutdownReceived {
		if err := c.drainCloseNotifyLocked(); err != nil {
			return false, err
		}
	}
	return c.shutdownReceived, nil
}

// drainCloseNotifyLocked must be called with both readMu and writeMu held,
// after our own close_notify has already been sent. It runs the unwrap
// loop directly (bypassing checkOpen, which would otherwise refuse any
// read once shutdownSent is true) so a second Shutdown call can observe
// the peer's close_notify record without the caller needing a separate
// Read.
func (c *Channel) drainCloseNotifyLocked() error {
	scratch := xbuf.NewSet()
	for !c.shutdownReceived {
		_, done, err := c.readAndUnwrap(scratch)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

// Close tries Shutdown without blocking indefinitely against a concurrent
// I/O path (best-effort only — Go's sync.Mutex has no TryLock-with-timeout
// semantics beyond the stdlib TryLock, which this uses), closes the
// underlying transport, then forcibly releases every buffer. If
// WaitForCloseConfirmation is set and the first shutdown pass did not
// observe the peer's close_notify, Close runs Shutdown a second time to
// drain it.
func (c *Channel) Close() error {
	var result *multierror.Error

	if c.readMu.TryLock() {
		if c.writeMu.TryLock() {
			confirmed, err := c.shutdownLocked()
			if err != nil {
				result = multierror.Append(result, err)
			} else if c.waitForCloseConfirmation && !confirmed {
				if _, err := c.shutdownLocked(); err != nil {
					result = multierror.Append(result, err)
				}
			}
			c.writeMu.Unlock()
		}
		c.readMu.Unlock()
	}

	if err := c.transport.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	c.readMu.Lock()
	c.writeMu.Lock()
	c.invalid = true
	c.inCipher.Dispose()
	c.inPlain.Dispose()
	c.outCipher.Dispose()
	c.writeMu.Unlock()
	c.readMu.Unlock()

	return result.ErrorOrNil()
}

// IsClosed reports whether the channel can no longer perform I/O.
func (c *Channel) IsClosed() bool {
	return c.invalid || c.shutdownSent
}
