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

package xbuf

import "io"

// List is an ordered group of buffers that together form a single logical
// wire-protocol message. Retaining or releasing a List retains/releases
// every member exactly once.
type List []*Buffer

// Retain retains every buffer in the list and returns it for chaining.
func (l List) Retain() List {
	for _, b := range l {
		b.Retain()
	}
	return l
}

// Release releases every buffer in the list exactly once.
func (l List) Release() {
	for _, b := range l {
		b.Release()
	}
}

// Remaining sums Remaining() across every member.
func (l List) Remaining() int {
	n := 0
	for _, b := range l {
		n += b.Remaining()
	}
	return n
}

// listReader drains a List in order via io.Reader, used by the gRPC
// marshaller to stream bytes out of a pending-write's buffer list.
type listReader struct {
	bufs []*Buffer
	idx  int
}

// NewListReader returns an io.Reader that drains l front-to-back. It does
// not retain or release l; the caller owns that lifecycle.
func NewListReader(l List) io.Reader {
	return &listReader{bufs: []*Buffer(l)}
}

func (r *listReader) Read(p []byte) (int, error) {
	for r.idx < len(r.bufs) {
		cur := r.bufs[r.idx]
		if !cur.HasRemaining() {
			r.idx++
			continue
		}
		n := copy(p, cur.Bytes())
		cur.SetPosition(cur.Position() + n)
		return n, nil
	}
	return 0, io.EOF
}
