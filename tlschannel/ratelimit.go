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

	"github.com/conduitio/bwlimit"
)

// RateLimitedTransport wraps a Transport so the encrypted byte stream below
// the TLS channel is throttled to the given read/write rates, useful for
// exercising the channel's NeedsRead/NeedsWrite paths and for demos that
// simulate a constrained link without a real network.
type RateLimitedTransport struct {
	Transport
	r io.Reader
	w io.Writer
}

// NewRateLimitedTransport throttles t's Read side to readBytesPerSec and its
// Write side to writeBytesPerSec. A zero limit leaves that direction
// unthrottled.
func NewRateLimitedTransport(t Transport, readBytesPerSec, writeBytesPerSec bwlimit.Byte) *RateLimitedTransport {
	rt := &RateLimitedTransport{Transport: t, r: t, w: t}
	if readBytesPerSec > 0 {
		rt.r = bwlimit.NewReader(t, readBytesPerSec)
	}
	if writeBytesPerSec > 0 {
		rt.w = bwlimit.NewWriter(t, writeBytesPerSec)
	}
	return rt
}

// Read implements Transport, routed through the throttled reader.
func (rt *RateLimitedTransport) Read(p []byte) (int, error) { return rt.r.Read(p) }

// Write implements Transport, routed through the throttled writer.
func (rt *RateLimitedTransport) Write(p []byte) (int, error) { return rt.w.Write(p) }
