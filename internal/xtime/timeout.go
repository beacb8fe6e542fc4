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

// Package xtime implements the monotonic Timeout/TimePoint primitive behind
// the gRPC stream adapter's pending-read deadline. It is built on clockwork.Clock so deadline math
// is deterministically testable with a fake clock instead of real sleeps.
package xtime

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timeout is either infinite, not-yet-expired, or expired. The zero value is
// infinite (mirrors spec.md: "a read-timeout of zero means infinite").
type Timeout struct {
	clock    clockwork.Clock
	deadline time.Time // zero value means infinite
}

// Infinite returns a Timeout that never expires.
func Infinite() Timeout { return Timeout{} }

// New constructs a Timeout expiring after d, using the real clock. A
// negative or zero d means infinite, per spec.md §3.
func New(d time.Duration) Timeout {
	return NewWithClock(clockwork.NewRealClock(), d)
}

// NewWithClock is New but against an explicit clock, for tests.
func NewWithClock(clock clockwork.Clock, d time.Duration) Timeout {
	if d <= 0 {
		return Timeout{clock: clock}
	}
	return Timeout{clock: clock, deadline: clock.Now().Add(d)}
}

// IsInfinite reports whether the timeout never expires.
func (t Timeout) IsInfinite() bool { return t.deadline.IsZero() }

// Remaining returns the time left before expiry. For an infinite timeout it
// returns the largest representable duration.
func (t Timeout) Remaining() time.Duration {
	if t.IsInfinite() {
		return time.Duration(1<<63 - 1)
	}
	clock := t.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	d := t.deadline.Sub(clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Expired reports whether the deadline has passed.
func (t Timeout) Expired() bool {
	return !t.IsInfinite() && t.Remaining() <= 0
}

// Shortened returns a new Timeout whose deadline is the earlier of this
// timeout's deadline and now+d. An infinite receiver shortened by d simply
// becomes a new timeout of d.
func (t Timeout) Shortened(d time.Duration) Timeout {
	other := NewWithClock(t.clockOrReal(), d)
	if t.IsInfinite() {
		return other
	}
	if other.IsInfinite() || t.deadline.Before(other.deadline) {
		return t
	}
	return other
}

func (t Timeout) clockOrReal() clockwork.Clock {
	if t.clock != nil {
		return t.clock
	}
	return clockwork.NewRealClock()
}

// Deadline exposes the absolute deadline and whether one exists, matching
// the shape expected by context.WithDeadline for callers that need to plumb
// a Timeout into a context.Context.
func (t Timeout) Deadline() (time.Time, bool) {
	if t.IsInfinite() {
		return time.Time{}, false
	}
	return t.deadline, true
}
